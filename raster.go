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
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/ctessum/cdf"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"
)

// NodataFloat marks missing data in the rasters this model writes.
const NodataFloat = -16777216.

// A GridSpec describes the georeferencing shared by all rasters in a
// model run: the coordinates of the grid origin, the cell size, the
// number of columns and rows, and optionally a projection specification.
type GridSpec struct {
	X0, Y0 float64
	Dx, Dy float64
	Nx, Ny int
	Proj   string
}

// Equal reports whether g and o cover the same cells: origin, cell size,
// and dimensions all match.
func (g *GridSpec) Equal(o *GridSpec) bool {
	return g.X0 == o.X0 && g.Y0 == o.Y0 &&
		g.Dx == o.Dx && g.Dy == o.Dy &&
		g.Nx == o.Nx && g.Ny == o.Ny
}

// CellArea returns the area of one grid cell in square projection units.
func (g *GridSpec) CellArea() float64 { return math.Abs(g.Dx * g.Dy) }

// SpatialRef parses the grid's projection specification.
func (g *GridSpec) SpatialRef() (*proj.SR, error) {
	if g.Proj == "" {
		return nil, fmt.Errorf("bluecarbon: grid has no projection specification")
	}
	sr, err := proj.Parse(g.Proj)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: parsing grid projection: %v", err)
	}
	return sr, nil
}

// A Block is a horizontal strip of whole raster rows. Rasters are stored
// row-major, so strips are the unit of contiguous I/O; the model
// processes one Block at a time.
type Block struct {
	Row0  int // index of the first row in the strip
	NRows int // number of rows in the strip
}

// Blocks splits the grid into strips of at most rowsPerBlock rows. If
// rowsPerBlock is not positive the whole grid becomes a single block.
func (g *GridSpec) Blocks(rowsPerBlock int) []Block {
	if rowsPerBlock <= 0 {
		rowsPerBlock = g.Ny
	}
	var blocks []Block
	for row := 0; row < g.Ny; row += rowsPerBlock {
		n := rowsPerBlock
		if row+n > g.Ny {
			n = g.Ny - row
		}
		blocks = append(blocks, Block{Row0: row, NRows: n})
	}
	return blocks
}

func (g *GridSpec) addToHeader(h *cdf.Header) {
	h.AddAttribute("", "x0", []float64{g.X0})
	h.AddAttribute("", "y0", []float64{g.Y0})
	h.AddAttribute("", "dx", []float64{g.Dx})
	h.AddAttribute("", "dy", []float64{g.Dy})
	h.AddAttribute("", "nx", []int32{int32(g.Nx)})
	h.AddAttribute("", "ny", []int32{int32(g.Ny)})
	if g.Proj != "" {
		h.AddAttribute("", "proj", g.Proj)
	}
}

func gridFromHeader(h *cdf.Header) (*GridSpec, error) {
	g := new(GridSpec)
	var err error
	if g.X0, err = headerFloat(h, "x0"); err != nil {
		return nil, err
	}
	if g.Y0, err = headerFloat(h, "y0"); err != nil {
		return nil, err
	}
	if g.Dx, err = headerFloat(h, "dx"); err != nil {
		return nil, err
	}
	if g.Dy, err = headerFloat(h, "dy"); err != nil {
		return nil, err
	}
	if g.Nx, err = headerInt(h, "nx"); err != nil {
		return nil, err
	}
	if g.Ny, err = headerInt(h, "ny"); err != nil {
		return nil, err
	}
	if p, ok := h.GetAttribute("", "proj").(string); ok {
		g.Proj = p
	}
	return g, nil
}

func headerFloat(h *cdf.Header, name string) (float64, error) {
	v, ok := h.GetAttribute("", name).([]float64)
	if !ok || len(v) == 0 {
		return 0, fmt.Errorf("bluecarbon: raster attribute %s is missing or not a float", name)
	}
	return v[0], nil
}

func headerInt(h *cdf.Header, name string) (int, error) {
	v, ok := h.GetAttribute("", name).([]int32)
	if !ok || len(v) == 0 {
		return 0, fmt.Errorf("bluecarbon: raster attribute %s is missing or not an integer", name)
	}
	return int(v[0]), nil
}

// WriteLandCover writes a land cover raster to fname: one int32 variable
// named lulc with the grid carried as global attributes and nodata
// marking cells outside the study area.
func WriteLandCover(fname string, g *GridSpec, codes []int32, nodata int32) error {
	if len(codes) != g.Nx*g.Ny {
		return fmt.Errorf("bluecarbon: land cover has %d cells but the grid is %d×%d", len(codes), g.Nx, g.Ny)
	}
	h := cdf.NewHeader([]string{"y", "x"}, []int{g.Ny, g.Nx})
	g.addToHeader(h)
	h.AddVariable("lulc", []string{"y", "x"}, []int32{0})
	h.AddAttribute("lulc", "description", "land use and land cover code")
	h.AddAttribute("lulc", "nodata", []int32{nodata})
	h.Define()
	w, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("bluecarbon: creating land cover raster: %v", err)
	}
	f, err := cdf.Create(w, h)
	if err != nil {
		w.Close()
		return fmt.Errorf("bluecarbon: creating land cover raster %s: %v", fname, err)
	}
	// cdf writers return io.EOF on a successful write that exactly fills
	// the variable's extent; only other errors indicate failure.
	if _, err := f.Writer("lulc", nil, nil).Write(codes); err != nil && err != io.EOF {
		w.Close()
		return fmt.Errorf("bluecarbon: writing land cover raster %s: %v", fname, err)
	}
	if err := cdf.UpdateNumRecs(w); err != nil {
		w.Close()
		return fmt.Errorf("bluecarbon: writing land cover raster %s: %v", fname, err)
	}
	return w.Close()
}

// A RasterDef describes one output raster variable.
type RasterDef struct {
	Name        string
	Description string
	Units       string
}

// A RasterWriter writes the model's output rasters to a single NetCDF
// file, one float32 variable per raster. Blocks are written at disjoint
// file offsets; a mutex serializes the underlying writes so a writer may
// be shared. NaN values become NodataFloat on disk.
type RasterWriter struct {
	mx   sync.Mutex
	f    *cdf.File
	w    *os.File
	grid *GridSpec
}

// CreateRasters creates fname holding one variable for each def,
// georeferenced by g. Variables are stored in name order.
func CreateRasters(fname string, g *GridSpec, defs []RasterDef) (*RasterWriter, error) {
	sorted := make([]RasterDef, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := cdf.NewHeader([]string{"y", "x"}, []int{g.Ny, g.Nx})
	h.AddAttribute("", "model_version", Version)
	g.addToHeader(h)
	for _, def := range sorted {
		h.AddVariable(def.Name, []string{"y", "x"}, []float32{0})
		h.AddAttribute(def.Name, "description", def.Description)
		h.AddAttribute(def.Name, "units", def.Units)
		h.AddAttribute(def.Name, "nodata", []float32{NodataFloat})
	}
	h.Define()
	w, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: creating output rasters: %v", err)
	}
	f, err := cdf.Create(w, h)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("bluecarbon: creating output rasters %s: %v", fname, err)
	}
	return &RasterWriter{f: f, w: w, grid: g}, nil
}

// WriteBlock writes data, which must be shaped [b.NRows, nx], to the
// block b of the variable named name.
func (rw *RasterWriter) WriteBlock(name string, b Block, data *sparse.DenseArray) error {
	if len(data.Shape) != 2 || data.Shape[0] != b.NRows || data.Shape[1] != rw.grid.Nx {
		return fmt.Errorf("bluecarbon: raster %s: block data shape %v does not match %d rows × %d columns",
			name, data.Shape, b.NRows, rw.grid.Nx)
	}
	buf := make([]float32, len(data.Elements))
	for i, v := range data.Elements {
		if math.IsNaN(v) {
			buf[i] = NodataFloat
		} else {
			buf[i] = float32(v)
		}
	}
	rw.mx.Lock()
	defer rw.mx.Unlock()
	ww := rw.f.Writer(name, []int{b.Row0, 0}, []int{b.Row0 + b.NRows - 1, rw.grid.Nx - 1})
	// cdf writers return io.EOF on a successful write that exactly fills
	// the requested extent; only other errors indicate failure.
	if _, err := ww.Write(buf); err != nil && err != io.EOF {
		return fmt.Errorf("bluecarbon: writing raster %s rows %d–%d: %v", name, b.Row0, b.Row0+b.NRows-1, err)
	}
	return nil
}

// Close finalizes the file header and closes the underlying file.
func (rw *RasterWriter) Close() error {
	rw.mx.Lock()
	defer rw.mx.Unlock()
	if err := cdf.UpdateNumRecs(rw.w); err != nil {
		rw.w.Close()
		return fmt.Errorf("bluecarbon: finalizing output rasters: %v", err)
	}
	return rw.w.Close()
}

// ReadRaster reads the float32 variable named varName from the NetCDF
// file fname, along with the grid it is georeferenced by. Values equal
// to the variable's nodata attribute are returned as NaN.
func ReadRaster(fname, varName string) (*GridSpec, *sparse.DenseArray, error) {
	r, err := os.Open(fname)
	if err != nil {
		return nil, nil, fmt.Errorf("bluecarbon: opening raster file: %v", err)
	}
	defer r.Close()
	f, err := cdf.Open(r)
	if err != nil {
		return nil, nil, fmt.Errorf("bluecarbon: opening raster file %s: %v", fname, err)
	}
	g, err := gridFromHeader(f.Header)
	if err != nil {
		return nil, nil, err
	}
	dims := f.Header.Lengths(varName)
	if len(dims) != 2 {
		return nil, nil, fmt.Errorf("bluecarbon: raster file %s has no 2-d variable %s", fname, varName)
	}
	nodata, hasNodata := float32(0), false
	if nd, ok := f.Header.GetAttribute(varName, "nodata").([]float32); ok && len(nd) > 0 {
		nodata, hasNodata = nd[0], true
	}
	buf := make([]float32, dims[0]*dims[1])
	if _, err := f.Reader(varName, nil, nil).Read(buf); err != nil {
		return nil, nil, fmt.Errorf("bluecarbon: reading raster %s from %s: %v", varName, fname, err)
	}
	out := sparse.ZerosDense(dims...)
	for i, v := range buf {
		if hasNodata && v == nodata {
			out.Elements[i] = math.NaN()
		} else {
			out.Elements[i] = float64(v)
		}
	}
	return g, out, nil
}
