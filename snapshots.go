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
	"fmt"
	"os"
	"runtime"

	"github.com/ctessum/cdf"
	"github.com/ctessum/requestcache"
)

// A CodeBlock holds the land cover codes for one Block of one snapshot.
type CodeBlock struct {
	Codes     []int32
	Shape     []int // [rows, columns]
	Nodata    int32
	HasNodata bool
}

// LandCover is the ordered stack of land cover snapshots for a model
// run: the baseline map followed by one map per transition. Block reads
// are cached, so the validation pass and the model run share I/O.
type LandCover struct {
	Grid *GridSpec

	files     []string
	nodata    int32
	hasNodata bool
	cache     *requestcache.Cache
}

// OpenLandCover opens the baseline land cover raster and the transition
// rasters and checks that they are all aligned on the same grid. The
// timeline tl determines how many snapshots are expected; if it holds
// one more snapshot than there are maps (an analysis-year extension),
// the final map also serves as the extra snapshot. The nodata mask of
// the baseline raster applies to the whole stack.
func OpenLandCover(tl *Timeline, baselineFile string, transitionFiles []string) (*LandCover, error) {
	files := make([]string, 0, len(tl.SnapshotYears))
	files = append(files, baselineFile)
	files = append(files, transitionFiles...)
	switch len(tl.SnapshotYears) - len(files) {
	case 0:
	case 1:
		files = append(files, files[len(files)-1])
	default:
		return nil, fmt.Errorf("bluecarbon: %d land cover maps cannot cover %d snapshot years",
			len(files), len(tl.SnapshotYears))
	}
	return openLandCoverFiles(files)
}

// openLandCoverFiles opens an ordered series of land cover rasters, one
// per snapshot, using the first as the alignment and nodata reference.
func openLandCoverFiles(files []string) (*LandCover, error) {
	lc := &LandCover{files: files}
	var err error
	if lc.Grid, lc.nodata, lc.hasNodata, err = readLandCoverInfo(files[0]); err != nil {
		return nil, err
	}
	for _, fname := range files[1:] {
		g, _, _, err := readLandCoverInfo(fname)
		if err != nil {
			return nil, err
		}
		if !g.Equal(lc.Grid) {
			return nil, fmt.Errorf("bluecarbon: land cover raster %s is not aligned with the baseline raster %s",
				fname, files[0])
		}
	}
	lc.cache = requestcache.NewCache(lc.readBlock, runtime.GOMAXPROCS(-1),
		requestcache.Deduplicate(), requestcache.Memory(1000))
	return lc, nil
}

// Snapshots returns the number of land cover snapshots in the stack.
func (lc *LandCover) Snapshots() int { return len(lc.files) }

// Codes returns the land cover codes of snapshot i within block b.
func (lc *LandCover) Codes(ctx context.Context, i int, b Block) (*CodeBlock, error) {
	if i < 0 || i >= len(lc.files) {
		return nil, fmt.Errorf("bluecarbon: no land cover snapshot %d in a stack of %d", i, len(lc.files))
	}
	req := lc.cache.NewRequest(ctx, blockRequest{file: lc.files[i], block: b},
		fmt.Sprintf("%s_%d_%d", lc.files[i], b.Row0, b.NRows))
	result, err := req.Result()
	if err != nil {
		return nil, fmt.Errorf("bluecarbon: reading land cover %s rows %d–%d: %v",
			lc.files[i], b.Row0, b.Row0+b.NRows-1, err)
	}
	return &CodeBlock{
		Codes:     result.([]int32),
		Shape:     []int{b.NRows, lc.Grid.Nx},
		Nodata:    lc.nodata,
		HasNodata: lc.hasNodata,
	}, nil
}

type blockRequest struct {
	file  string
	block Block
}

func (lc *LandCover) readBlock(ctx context.Context, req interface{}) (interface{}, error) {
	rq := req.(blockRequest)
	r, err := os.Open(rq.file)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	f, err := cdf.Open(r)
	if err != nil {
		return nil, err
	}
	buf := make([]int32, rq.block.NRows*lc.Grid.Nx)
	rr := f.Reader("lulc", []int{rq.block.Row0, 0}, []int{rq.block.Row0 + rq.block.NRows - 1, lc.Grid.Nx - 1})
	if _, err := rr.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readLandCoverInfo(fname string) (*GridSpec, int32, bool, error) {
	r, err := os.Open(fname)
	if err != nil {
		return nil, 0, false, fmt.Errorf("bluecarbon: opening land cover raster: %v", err)
	}
	defer r.Close()
	f, err := cdf.Open(r)
	if err != nil {
		return nil, 0, false, fmt.Errorf("bluecarbon: opening land cover raster %s: %v", fname, err)
	}
	g, err := gridFromHeader(f.Header)
	if err != nil {
		return nil, 0, false, fmt.Errorf("bluecarbon: land cover raster %s: %v", fname, err)
	}
	dims := f.Header.Lengths("lulc")
	if len(dims) != 2 || dims[0] != g.Ny || dims[1] != g.Nx {
		return nil, 0, false, fmt.Errorf("bluecarbon: land cover raster %s has no lulc variable matching its %d×%d grid",
			fname, g.Ny, g.Nx)
	}
	var nodata int32
	var hasNodata bool
	if nd, ok := f.Header.GetAttribute("lulc", "nodata").([]int32); ok && len(nd) > 0 {
		nodata, hasNodata = nd[0], true
	}
	return g, nodata, hasNodata, nil
}
