/*
Copyright © 2025 the BlueCarbon authors.
This file is part of BlueCarbon.

BlueCarbon is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

BlueCarbon is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with BlueCarbon.  If not, see <http://www.gnu.org/licenses/>.
*/

package bluecarbon

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/tealeg/xlsx"
)

// Entries in the transition matrix. Preprocess writes accumulation,
// disturbance, and unchanged; before a model run every disturbance entry
// must be replaced by one of the three impact levels.
const (
	TransitionAccumulation = "accumulation"
	TransitionDisturbance  = "disturbance"
	TransitionUnchanged    = "unchanged"
	TransitionNCC          = "ncc" // synonym for unchanged
	TransitionLowImpact    = "low-impact-disturb"
	TransitionMedImpact    = "med-impact-disturb"
	TransitionHighImpact   = "high-impact-disturb"
)

// A LandCoverClass describes one land cover class from the class table.
type LandCoverClass struct {
	Code    int32
	Name    string
	Habitat bool // whether the class is a coastal blue carbon habitat
}

// parseHabitatFlag interprets the is_coastal_blue_carbon_habitat column.
// Only the listed tokens are accepted; the flag is data, never code.
func parseHabitatFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("bluecarbon: invalid habitat flag %q; use true/false, yes/no, or 1/0", s)
}

// An InitialStock holds the baseline carbon stocks of one land cover
// class, in Mg CO2e/ha.
type InitialStock struct {
	Biomass, Soil, Litter float64
}

// PoolParams holds the transient response parameters of one carbon pool
// for one land cover class.
type PoolParams struct {
	HalfLife                                              float64 // years
	LowImpactDisturb, MedImpactDisturb, HighImpactDisturb float64 // stock fractions
	YearlyAccumulation                                    float64 // Mg CO2e/ha/yr
}

// TransientParams holds the transient response parameters of one land
// cover class.
type TransientParams struct {
	Biomass, Soil PoolParams
}

// A TransitionMatrix holds the raw land cover change classifications
// from the transition table: Cells[src][dst] is the entry for a change
// from class src to class dst. Class names are lower-case.
type TransitionMatrix struct {
	Cells map[string]map[string]string
}

// ReadClassTable reads the land cover class table, which must have
// columns code, lulc-class, and is_coastal_blue_carbon_habitat.
func ReadClassTable(r io.Reader) (map[int32]*LandCoverClass, error) {
	rows, err := csvRows(r)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading class table: %v", err)
	}
	return classTableFromRows(rows)
}

// ReadClassTableFile reads the land cover class table from a CSV file or
// an Excel workbook.
func ReadClassTableFile(fname string) (map[int32]*LandCoverClass, error) {
	rows, err := tableRows(fname)
	if err != nil {
		return nil, err
	}
	return classTableFromRows(rows)
}

func classTableFromRows(rows [][]string) (map[int32]*LandCoverClass, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("bluecarbon: class table is empty")
	}
	cols, err := tableColumns(rows[0], "code", "lulc-class", "is_coastal_blue_carbon_habitat")
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: class table: %v", err)
	}
	classes := make(map[int32]*LandCoverClass)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		codeStr := cell(row, cols, "code")
		code64, err := strconv.ParseInt(codeStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bluecarbon: class table: invalid land cover code %q", codeStr)
		}
		code := int32(code64)
		if _, ok := classes[code]; ok {
			return nil, fmt.Errorf("bluecarbon: class table: land cover code %d appears more than once", code)
		}
		habitat, err := parseHabitatFlag(cell(row, cols, "is_coastal_blue_carbon_habitat"))
		if err != nil {
			return nil, err
		}
		classes[code] = &LandCoverClass{
			Code:    code,
			Name:    strings.ToLower(cell(row, cols, "lulc-class")),
			Habitat: habitat,
		}
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("bluecarbon: class table has no classes")
	}
	return classes, nil
}

// ReadInitialStockTable reads the baseline carbon stock table, which
// must have columns lulc-class, biomass, soil, and litter. The result is
// keyed by lower-case class name.
func ReadInitialStockTable(r io.Reader) (map[string]*InitialStock, error) {
	rows, err := csvRows(r)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading initial stock table: %v", err)
	}
	return initialStockFromRows(rows)
}

// ReadInitialStockTableFile reads the baseline carbon stock table from a
// CSV file or an Excel workbook.
func ReadInitialStockTableFile(fname string) (map[string]*InitialStock, error) {
	rows, err := tableRows(fname)
	if err != nil {
		return nil, err
	}
	return initialStockFromRows(rows)
}

func initialStockFromRows(rows [][]string) (map[string]*InitialStock, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("bluecarbon: initial stock table is empty")
	}
	cols, err := tableColumns(rows[0], "lulc-class", "biomass", "soil", "litter")
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: initial stock table: %v", err)
	}
	stocks := make(map[string]*InitialStock)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		name := strings.ToLower(cell(row, cols, "lulc-class"))
		s := new(InitialStock)
		if s.Biomass, err = tableFloat(cell(row, cols, "biomass")); err != nil {
			return nil, fmt.Errorf("bluecarbon: initial stock table, class %s: %v", name, err)
		}
		if s.Soil, err = tableFloat(cell(row, cols, "soil")); err != nil {
			return nil, fmt.Errorf("bluecarbon: initial stock table, class %s: %v", name, err)
		}
		if s.Litter, err = tableFloat(cell(row, cols, "litter")); err != nil {
			return nil, fmt.Errorf("bluecarbon: initial stock table, class %s: %v", name, err)
		}
		stocks[name] = s
	}
	return stocks, nil
}

// ReadTransientTable reads the transient response table, which must have
// a lulc-class column plus half-life, low/med/high-impact-disturb, and
// yearly-accumulation columns for the biomass and soil pools. The result
// is keyed by lower-case class name.
func ReadTransientTable(r io.Reader) (map[string]*TransientParams, error) {
	rows, err := csvRows(r)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading transient table: %v", err)
	}
	return transientFromRows(rows)
}

// ReadTransientTableFile reads the transient response table from a CSV
// file or an Excel workbook.
func ReadTransientTableFile(fname string) (map[string]*TransientParams, error) {
	rows, err := tableRows(fname)
	if err != nil {
		return nil, err
	}
	return transientFromRows(rows)
}

func transientFromRows(rows [][]string) (map[string]*TransientParams, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("bluecarbon: transient table is empty")
	}
	poolCols := []string{"half-life", "low-impact-disturb", "med-impact-disturb", "high-impact-disturb", "yearly-accumulation"}
	required := []string{"lulc-class"}
	for _, pool := range []string{"biomass", "soil"} {
		for _, c := range poolCols {
			required = append(required, pool+"-"+c)
		}
	}
	cols, err := tableColumns(rows[0], required...)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: transient table: %v", err)
	}
	params := make(map[string]*TransientParams)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		name := strings.ToLower(cell(row, cols, "lulc-class"))
		p := new(TransientParams)
		for _, pool := range []struct {
			prefix string
			params *PoolParams
		}{
			{"biomass", &p.Biomass},
			{"soil", &p.Soil},
		} {
			vals := make([]float64, len(poolCols))
			for i, c := range poolCols {
				if vals[i], err = tableFloat(cell(row, cols, pool.prefix+"-"+c)); err != nil {
					return nil, fmt.Errorf("bluecarbon: transient table, class %s: %v", name, err)
				}
			}
			pool.params.HalfLife = vals[0]
			pool.params.LowImpactDisturb = vals[1]
			pool.params.MedImpactDisturb = vals[2]
			pool.params.HighImpactDisturb = vals[3]
			pool.params.YearlyAccumulation = vals[4]
		}
		params[name] = p
	}
	return params, nil
}

// ReadTransitionMatrix reads the transition table written by Preprocess
// and refined by the user. The first column must be named lulc-classes
// and hold source class names; the remaining header cells name the
// destination classes.
func ReadTransitionMatrix(r io.Reader) (*TransitionMatrix, error) {
	rows, err := csvRows(r)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading transition matrix: %v", err)
	}
	return transitionMatrixFromRows(rows)
}

// ReadTransitionMatrixFile reads the transition table from a CSV file or
// an Excel workbook.
func ReadTransitionMatrixFile(fname string) (*TransitionMatrix, error) {
	rows, err := tableRows(fname)
	if err != nil {
		return nil, err
	}
	return transitionMatrixFromRows(rows)
}

func transitionMatrixFromRows(rows [][]string) (*TransitionMatrix, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("bluecarbon: transition matrix is empty")
	}
	header := rows[0]
	if len(header) < 2 || strings.ToLower(strings.TrimSpace(header[0])) != "lulc-classes" {
		return nil, fmt.Errorf("bluecarbon: transition matrix must have lulc-classes as its first column")
	}
	dests := make([]string, len(header)-1)
	for i, h := range header[1:] {
		dests[i] = strings.ToLower(strings.TrimSpace(h))
	}
	m := &TransitionMatrix{Cells: make(map[string]map[string]string)}
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		src := strings.ToLower(strings.TrimSpace(row[0]))
		if _, ok := m.Cells[src]; ok {
			return nil, fmt.Errorf("bluecarbon: transition matrix row %q appears more than once", src)
		}
		cells := make(map[string]string, len(dests))
		for i, dst := range dests {
			if i+1 < len(row) {
				cells[dst] = strings.TrimSpace(row[i+1])
			}
		}
		m.Cells[src] = cells
	}
	return m, nil
}

// ReadPriceTable reads a table of per-year carbon prices with columns
// year and price.
func ReadPriceTable(r io.Reader) (map[int]float64, error) {
	rows, err := csvRows(r)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading price table: %v", err)
	}
	return priceTableFromRows(rows)
}

// ReadPriceTableFile reads a per-year carbon price table from a CSV file
// or an Excel workbook.
func ReadPriceTableFile(fname string) (map[int]float64, error) {
	rows, err := tableRows(fname)
	if err != nil {
		return nil, err
	}
	return priceTableFromRows(rows)
}

func priceTableFromRows(rows [][]string) (map[int]float64, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("bluecarbon: price table is empty")
	}
	cols, err := tableColumns(rows[0], "year", "price")
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: price table: %v", err)
	}
	prices := make(map[int]float64)
	for _, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		yearStr := cell(row, cols, "year")
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return nil, fmt.Errorf("bluecarbon: price table: invalid year %q", yearStr)
		}
		if _, ok := prices[year]; ok {
			return nil, fmt.Errorf("bluecarbon: price table: year %d appears more than once", year)
		}
		if prices[year], err = tableFloat(cell(row, cols, "price")); err != nil {
			return nil, fmt.Errorf("bluecarbon: price table, year %d: %v", year, err)
		}
	}
	return prices, nil
}

// A CarbonLookup holds the reclassification lookups assembled from the
// model's input tables. Codes belonging to classes that are absent from
// a table have no entry in the corresponding lookup and come out of
// reclassification as missing.
type CarbonLookup struct {
	Classes map[int32]*LandCoverClass

	InitialBiomass, InitialSoil, InitialLitter *CodeLookup
	AccumBiomass, AccumSoil                    *CodeLookup
	HalfLifeBiomass, HalfLifeSoil              *CodeLookup
	DisturbBiomass, DisturbSoil                *PairLookup
}

// NewCarbonLookup assembles the per-code and per-code-pair lookups for a
// model run from the parsed input tables. Transition matrix entries
// control disturbance fractions only: the fraction comes from the source
// class's transient parameters at the entry's impact level, and
// accumulation and unchanged entries carry a fraction of zero.
// Accumulation rates always key on the destination class alone.
func NewCarbonLookup(classes map[int32]*LandCoverClass, initial map[string]*InitialStock,
	transient map[string]*TransientParams, matrix *TransitionMatrix) (*CarbonLookup, error) {

	nameToCode := make(map[string]int32, len(classes))
	for code, class := range classes {
		if other, ok := nameToCode[class.Name]; ok {
			return nil, fmt.Errorf("bluecarbon: land cover class name %q is used by codes %d and %d",
				class.Name, other, code)
		}
		nameToCode[class.Name] = code
	}

	initBiomass := make(map[int32]float64)
	initSoil := make(map[int32]float64)
	initLitter := make(map[int32]float64)
	for name, s := range initial {
		code, ok := nameToCode[name]
		if !ok {
			return nil, fmt.Errorf("bluecarbon: initial stock table row %q does not match any land cover class", name)
		}
		initBiomass[code] = s.Biomass
		initSoil[code] = s.Soil
		initLitter[code] = s.Litter
	}

	accumBiomass := make(map[int32]float64)
	accumSoil := make(map[int32]float64)
	halfBiomass := make(map[int32]float64)
	halfSoil := make(map[int32]float64)
	for name, p := range transient {
		code, ok := nameToCode[name]
		if !ok {
			return nil, fmt.Errorf("bluecarbon: transient table row %q does not match any land cover class", name)
		}
		accumBiomass[code] = p.Biomass.YearlyAccumulation
		accumSoil[code] = p.Soil.YearlyAccumulation
		halfBiomass[code] = p.Biomass.HalfLife
		halfSoil[code] = p.Soil.HalfLife
	}

	disturbBiomass := make(map[CodePair]float64)
	disturbSoil := make(map[CodePair]float64)
	for src, row := range matrix.Cells {
		srcCode, ok := nameToCode[src]
		if !ok {
			return nil, fmt.Errorf("bluecarbon: transition matrix row %q does not match any land cover class", src)
		}
		for dst, entry := range row {
			if entry == "" {
				continue
			}
			dstCode, ok := nameToCode[dst]
			if !ok {
				return nil, fmt.Errorf("bluecarbon: transition matrix column %q does not match any land cover class", dst)
			}
			pair := CodePair{From: srcCode, To: dstCode}
			var fb, fs float64
			switch strings.ToLower(entry) {
			case TransitionAccumulation, "accum", TransitionUnchanged, TransitionNCC:
				// no carbon is disturbed
			case TransitionLowImpact, TransitionMedImpact, TransitionHighImpact:
				p, ok := transient[src]
				if !ok {
					return nil, fmt.Errorf("bluecarbon: transition matrix entry %s→%s needs transient parameters for class %q",
						src, dst, src)
				}
				switch strings.ToLower(entry) {
				case TransitionLowImpact:
					fb, fs = p.Biomass.LowImpactDisturb, p.Soil.LowImpactDisturb
				case TransitionMedImpact:
					fb, fs = p.Biomass.MedImpactDisturb, p.Soil.MedImpactDisturb
				case TransitionHighImpact:
					fb, fs = p.Biomass.HighImpactDisturb, p.Soil.HighImpactDisturb
				}
			case TransitionDisturbance:
				return nil, fmt.Errorf("bluecarbon: transition matrix entry %s→%s is %q; replace it with %s, %s, or %s before running the model",
					src, dst, TransitionDisturbance, TransitionLowImpact, TransitionMedImpact, TransitionHighImpact)
			default:
				return nil, fmt.Errorf("bluecarbon: unrecognized transition matrix entry %q for %s→%s", entry, src, dst)
			}
			disturbBiomass[pair] = fb
			disturbSoil[pair] = fs
		}
	}

	return &CarbonLookup{
		Classes:         classes,
		InitialBiomass:  NewCodeLookup("initial biomass stock", initBiomass),
		InitialSoil:     NewCodeLookup("initial soil stock", initSoil),
		InitialLitter:   NewCodeLookup("initial litter stock", initLitter),
		AccumBiomass:    NewCodeLookup("biomass accumulation rate", accumBiomass),
		AccumSoil:       NewCodeLookup("soil accumulation rate", accumSoil),
		HalfLifeBiomass: NewCodeLookup("biomass half-life", halfBiomass),
		HalfLifeSoil:    NewCodeLookup("soil half-life", halfSoil),
		DisturbBiomass:  NewPairLookup("biomass disturbance fraction", disturbBiomass),
		DisturbSoil:     NewPairLookup("soil disturbance fraction", disturbSoil),
	}, nil
}

// HasPair reports whether the assembled lookups cover a change from code
// pair.From to pair.To.
func (cl *CarbonLookup) HasPair(pair CodePair) bool {
	_, ok := cl.DisturbBiomass.values[pair]
	return ok
}

// Entry returns the raw transition matrix entry for a change from class
// src to class dst, or the empty string if there is none.
func (m *TransitionMatrix) Entry(src, dst string) string {
	return m.Cells[strings.ToLower(src)][strings.ToLower(dst)]
}

func csvRows(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

var (
	excelCache     *requestcache.Cache
	excelCacheOnce sync.Once
)

// excelRows reads the first sheet of an Excel workbook. Open workbooks
// are cached because several tables often share one file.
func excelRows(fname string) ([][]string, error) {
	excelCacheOnce.Do(func() {
		excelCache = requestcache.NewCache(func(ctx context.Context, req interface{}) (interface{}, error) {
			return xlsx.OpenFile(req.(string))
		}, runtime.GOMAXPROCS(-1), requestcache.Memory(100))
	})
	req := excelCache.NewRequest(context.Background(), fname, fname)
	result, err := req.Result()
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: opening workbook %s: %v", fname, err)
	}
	f := result.(*xlsx.File)
	if len(f.Sheets) == 0 {
		return nil, fmt.Errorf("bluecarbon: workbook %s has no sheets", fname)
	}
	s := f.Sheets[0]
	rows := make([][]string, s.MaxRow)
	for i := 0; i < s.MaxRow; i++ {
		rows[i] = make([]string, s.MaxCol)
		for j := 0; j < s.MaxCol; j++ {
			rows[i][j] = s.Cell(i, j).Value
		}
	}
	return rows, nil
}

func tableRows(fname string) ([][]string, error) {
	if strings.HasSuffix(strings.ToLower(fname), ".xlsx") {
		return excelRows(fname)
	}
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: opening table: %v", err)
	}
	defer f.Close()
	rows, err := csvRows(f)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading table %s: %v", fname, err)
	}
	return rows, nil
}

// tableColumns indexes a header row by lower-case column name and
// checks that the required columns are present.
func tableColumns(header []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}

func cell(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// tableFloat parses a numeric table cell. Blank cells count as zero.
func tableFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "..." {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
