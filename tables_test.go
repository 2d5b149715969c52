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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tealeg/xlsx"
)

const testClassTable = `lulc-class,code,is_coastal_blue_carbon_habitat
Mangrove,1,TRUE
Salt Marsh,2,yes
Developed,3,false
,,
`

const testInitialTable = `lulc-class,biomass,soil,litter
Mangrove,110,460,1.5
Salt Marsh,80,920,0.8
Developed,0,0,
`

const testTransientTable = `lulc-class,biomass-half-life,biomass-low-impact-disturb,biomass-med-impact-disturb,biomass-high-impact-disturb,biomass-yearly-accumulation,soil-half-life,soil-low-impact-disturb,soil-med-impact-disturb,soil-high-impact-disturb,soil-yearly-accumulation
Mangrove,7.5,0.3,0.5,0.9,3.1,36,0.1,0.5,1,2.2
Salt Marsh,1,0.2,0.4,0.8,1.7,36,0.1,0.3,0.7,1.1
`

const testMatrixTable = `lulc-classes,mangrove,salt marsh,developed
Mangrove,accumulation,,high-impact-disturb
salt marsh,accumulation,unchanged,med-impact-disturb
developed,accum,,ncc
`

func TestReadClassTable(t *testing.T) {
	classes, err := ReadClassTable(strings.NewReader(testClassTable))
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 3 {
		t.Fatalf("got %d classes, want 3", len(classes))
	}
	for _, want := range []LandCoverClass{
		{Code: 1, Name: "mangrove", Habitat: true},
		{Code: 2, Name: "salt marsh", Habitat: true},
		{Code: 3, Name: "developed", Habitat: false},
	} {
		got, ok := classes[want.Code]
		if !ok {
			t.Fatalf("class %d is missing", want.Code)
		}
		if *got != want {
			t.Errorf("class %d: got %+v, want %+v", want.Code, got, want)
		}
	}
}

func TestReadClassTableErrors(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{"empty", ""},
		{"missing column", "code,lulc-class\n1,mangrove\n"},
		{"bad code", "code,lulc-class,is_coastal_blue_carbon_habitat\nx,mangrove,true\n"},
		{"duplicate code", "code,lulc-class,is_coastal_blue_carbon_habitat\n1,mangrove,true\n1,marsh,true\n"},
		{"bad habitat flag", "code,lulc-class,is_coastal_blue_carbon_habitat\n1,mangrove,maybe\n"},
		{"no classes", "code,lulc-class,is_coastal_blue_carbon_habitat\n"},
	}
	for _, test := range tests {
		if _, err := ReadClassTable(strings.NewReader(test.table)); err == nil {
			t.Errorf("%s: expected an error", test.name)
		}
	}
}

func TestParseHabitatFlag(t *testing.T) {
	tests := []struct {
		token string
		want  bool
		ok    bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"Yes", true, true},
		{"1", true, true},
		{"false", false, true},
		{"No", false, true},
		{"0", false, true},
		{" true ", true, true},
		{"maybe", false, false},
		{"", false, false},
	}
	for _, test := range tests {
		got, err := parseHabitatFlag(test.token)
		if test.ok && err != nil {
			t.Errorf("%q: unexpected error %v", test.token, err)
		} else if !test.ok && err == nil {
			t.Errorf("%q: expected an error", test.token)
		} else if got != test.want {
			t.Errorf("%q: got %v, want %v", test.token, got, test.want)
		}
	}
}

func TestReadInitialStockTable(t *testing.T) {
	stocks, err := ReadInitialStockTable(strings.NewReader(testInitialTable))
	if err != nil {
		t.Fatal(err)
	}
	if len(stocks) != 3 {
		t.Fatalf("got %d rows, want 3", len(stocks))
	}
	if got := stocks["mangrove"]; *got != (InitialStock{Biomass: 110, Soil: 460, Litter: 1.5}) {
		t.Errorf("mangrove: got %+v", got)
	}
	// A blank cell counts as zero.
	if got := stocks["developed"]; *got != (InitialStock{}) {
		t.Errorf("developed: got %+v, want zeros", got)
	}

	bad := "lulc-class,biomass,soil,litter\nmarsh,ten,0,0\n"
	if _, err := ReadInitialStockTable(strings.NewReader(bad)); err == nil {
		t.Error("expected an error for a non-numeric stock")
	}
}

func TestReadTransientTable(t *testing.T) {
	params, err := ReadTransientTable(strings.NewReader(testTransientTable))
	if err != nil {
		t.Fatal(err)
	}
	got, ok := params["mangrove"]
	if !ok {
		t.Fatal("mangrove row is missing")
	}
	wantBiomass := PoolParams{HalfLife: 7.5, LowImpactDisturb: 0.3, MedImpactDisturb: 0.5, HighImpactDisturb: 0.9, YearlyAccumulation: 3.1}
	wantSoil := PoolParams{HalfLife: 36, LowImpactDisturb: 0.1, MedImpactDisturb: 0.5, HighImpactDisturb: 1, YearlyAccumulation: 2.2}
	if got.Biomass != wantBiomass {
		t.Errorf("biomass: got %+v, want %+v", got.Biomass, wantBiomass)
	}
	if got.Soil != wantSoil {
		t.Errorf("soil: got %+v, want %+v", got.Soil, wantSoil)
	}

	bad := "lulc-class,biomass-half-life\nmangrove,1\n"
	if _, err := ReadTransientTable(strings.NewReader(bad)); err == nil {
		t.Error("expected an error for missing pool columns")
	}
}

func TestReadTransitionMatrix(t *testing.T) {
	m, err := ReadTransitionMatrix(strings.NewReader(testMatrixTable))
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Entry("Mangrove", "Developed"); got != TransitionHighImpact {
		t.Errorf("mangrove→developed: got %q, want %q", got, TransitionHighImpact)
	}
	if got := m.Entry("mangrove", "salt marsh"); got != "" {
		t.Errorf("mangrove→salt marsh: got %q, want empty", got)
	}
	if got := m.Entry("developed", "developed"); got != TransitionNCC {
		t.Errorf("developed→developed: got %q, want %q", got, TransitionNCC)
	}

	tests := []struct {
		name  string
		table string
	}{
		{"empty", ""},
		{"wrong first column", "classes,mangrove\nmangrove,accumulation\n"},
		{"duplicate row", "lulc-classes,mangrove\nmangrove,accumulation\nMangrove,unchanged\n"},
	}
	for _, test := range tests {
		if _, err := ReadTransitionMatrix(strings.NewReader(test.table)); err == nil {
			t.Errorf("%s: expected an error", test.name)
		}
	}
}

func TestReadPriceTable(t *testing.T) {
	table := "year,price\n2000,10\n2001,10.5\n"
	prices, err := ReadPriceTable(strings.NewReader(table))
	if err != nil {
		t.Fatal(err)
	}
	if prices[2000] != 10 || prices[2001] != 10.5 {
		t.Errorf("got %v", prices)
	}
	for _, bad := range []string{
		"year,price\n2000,10\n2000,11\n",
		"year,price\nnever,10\n",
		"year,price\n2000,lots\n",
	} {
		if _, err := ReadPriceTable(strings.NewReader(bad)); err == nil {
			t.Errorf("expected an error for table %q", bad)
		}
	}
}

func TestTableFloat(t *testing.T) {
	for _, test := range []struct {
		cell string
		want float64
		ok   bool
	}{
		{"1.5", 1.5, true},
		{" 2 ", 2, true},
		{"", 0, true},
		{"...", 0, true},
		{"ten", 0, false},
	} {
		got, err := tableFloat(test.cell)
		if test.ok && (err != nil || got != test.want) {
			t.Errorf("%q: got %g, %v; want %g", test.cell, got, err, test.want)
		} else if !test.ok && err == nil {
			t.Errorf("%q: expected an error", test.cell)
		}
	}
}

func testLookupInputs(t *testing.T) (map[int32]*LandCoverClass, map[string]*InitialStock, map[string]*TransientParams, *TransitionMatrix) {
	t.Helper()
	classes, err := ReadClassTable(strings.NewReader(testClassTable))
	if err != nil {
		t.Fatal(err)
	}
	initial, err := ReadInitialStockTable(strings.NewReader(testInitialTable))
	if err != nil {
		t.Fatal(err)
	}
	transient, err := ReadTransientTable(strings.NewReader(testTransientTable))
	if err != nil {
		t.Fatal(err)
	}
	matrix, err := ReadTransitionMatrix(strings.NewReader(testMatrixTable))
	if err != nil {
		t.Fatal(err)
	}
	return classes, initial, transient, matrix
}

func TestNewCarbonLookup(t *testing.T) {
	classes, initial, transient, matrix := testLookupInputs(t)
	lookup, err := NewCarbonLookup(classes, initial, transient, matrix)
	if err != nil {
		t.Fatal(err)
	}

	b := &CodeBlock{Codes: []int32{1, 2, 3}, Shape: []int{1, 3}}
	stock := lookup.InitialBiomass.Reclass(b, nil)
	for i, want := range []float64{110, 80, 0} {
		if stock.Elements[i] != want {
			t.Errorf("initial biomass cell %d: got %g, want %g", i, stock.Elements[i], want)
		}
	}
	accum := lookup.AccumBiomass.Reclass(b, nil)
	for i, want := range []float64{3.1, 1.7, missingCode} {
		if accum.Elements[i] != want {
			t.Errorf("biomass accumulation cell %d: got %g, want %g", i, accum.Elements[i], want)
		}
	}

	// Disturbance fractions come from the source class's transient
	// parameters at the matrix entry's impact level.
	from := &CodeBlock{Codes: []int32{1, 2, 3, 1}, Shape: []int{1, 4}}
	to := &CodeBlock{Codes: []int32{3, 3, 3, 1}, Shape: []int{1, 4}}
	disturb, err := lookup.DisturbBiomass.Reclass(from, to, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{0.9, 0.4, 0, 0} {
		if disturb.Elements[i] != want {
			t.Errorf("biomass disturbance cell %d: got %g, want %g", i, disturb.Elements[i], want)
		}
	}
	disturb, err = lookup.DisturbSoil.Reclass(from, to, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []float64{1, 0.3, 0, 0} {
		if disturb.Elements[i] != want {
			t.Errorf("soil disturbance cell %d: got %g, want %g", i, disturb.Elements[i], want)
		}
	}

	if !lookup.HasPair(CodePair{From: 1, To: 3}) {
		t.Error("the mangrove→developed transition should be covered")
	}
	if lookup.HasPair(CodePair{From: 1, To: 2}) {
		t.Error("the blank mangrove→salt marsh cell should not be covered")
	}
}

func TestNewCarbonLookupErrors(t *testing.T) {
	tests := []struct {
		name    string
		matrix  string
		errText string
	}{
		{
			"unreplaced disturbance",
			"lulc-classes,mangrove,developed\nmangrove,,disturbance\n",
			"replace it with",
		},
		{
			"unknown entry",
			"lulc-classes,mangrove,developed\nmangrove,,catastrophe\n",
			"unrecognized",
		},
		{
			"unknown row class",
			"lulc-classes,mangrove\nwetland,accumulation\n",
			"does not match any land cover class",
		},
		{
			"unknown column class",
			"lulc-classes,wetland\nmangrove,accumulation\n",
			"does not match any land cover class",
		},
		{
			"impact level without transient parameters",
			"lulc-classes,mangrove,developed\ndeveloped,high-impact-disturb,\n",
			"needs transient parameters",
		},
	}
	for _, test := range tests {
		classes, initial, transient, _ := testLookupInputs(t)
		matrix, err := ReadTransitionMatrix(strings.NewReader(test.matrix))
		if err != nil {
			t.Fatal(err)
		}
		_, err = NewCarbonLookup(classes, initial, transient, matrix)
		if err == nil {
			t.Errorf("%s: expected an error", test.name)
		} else if !strings.Contains(err.Error(), test.errText) {
			t.Errorf("%s: error %q should mention %q", test.name, err, test.errText)
		}
	}

	// Rows of the other tables must also match a class.
	classes, initial, transient, matrix := testLookupInputs(t)
	initial["wetland"] = &InitialStock{}
	if _, err := NewCarbonLookup(classes, initial, transient, matrix); err == nil {
		t.Error("expected an error for an initial stock row with no class")
	}
	classes, _, transient, matrix = testLookupInputs(t)
	transient["wetland"] = &TransientParams{}
	if _, err := NewCarbonLookup(classes, nil, transient, matrix); err == nil {
		t.Error("expected an error for a transient row with no class")
	}

	// Class names must be unique across codes.
	classes, initial, transient, matrix = testLookupInputs(t)
	classes[4] = &LandCoverClass{Code: 4, Name: "mangrove", Habitat: true}
	if _, err := NewCarbonLookup(classes, initial, transient, matrix); err == nil {
		t.Error("expected an error for a class name shared by two codes")
	}
}

func TestReadClassTableFileExcel(t *testing.T) {
	dir, err := ioutil.TempDir("", "bluecarbon")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fname := filepath.Join(dir, "classes.xlsx")

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("classes")
	if err != nil {
		t.Fatal(err)
	}
	for _, rowData := range [][]string{
		{"code", "lulc-class", "is_coastal_blue_carbon_habitat"},
		{"1", "Mangrove", "true"},
		{"2", "Developed", "false"},
	} {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	if err := f.Save(fname); err != nil {
		t.Fatal(err)
	}

	classes, err := ReadClassTableFile(fname)
	if err != nil {
		t.Fatal(err)
	}
	if len(classes) != 2 {
		t.Fatalf("got %d classes, want 2", len(classes))
	}
	if got := classes[1]; got.Name != "mangrove" || !got.Habitat {
		t.Errorf("class 1: got %+v", got)
	}
	if got := classes[2]; got.Name != "developed" || got.Habitat {
		t.Errorf("class 2: got %+v", got)
	}
}
