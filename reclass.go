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
	"math"
	"sort"

	"github.com/ctessum/sparse"
)

// missingCode marks pixels whose land cover code has no entry in a
// lookup table. It is the most negative single-precision value, so it
// stays recognizable through arithmetic and cannot be mistaken for a
// carbon quantity. Pixels that are nodata in the input raster become
// NaN instead; the two cases stay distinct through the whole pipeline.
const missingCode = -math.MaxFloat32

// A CodeLookup translates land cover codes to per-pixel coefficient
// values. Codes without a table entry translate to the missingCode
// sentinel and are reported once per distinct code on each use.
type CodeLookup struct {
	name   string
	values map[int32]float64
}

// NewCodeLookup creates a lookup named name (the name appears in gap
// reports) from values. The map is copied; the caller's map is never
// modified or retained.
func NewCodeLookup(name string, values map[int32]float64) *CodeLookup {
	v := make(map[int32]float64, len(values))
	for code, val := range values {
		v[code] = val
	}
	return &CodeLookup{name: name, values: v}
}

// Reclass translates the codes in b to values. Nodata pixels become NaN.
// Codes missing from the lookup become the missingCode sentinel, and the
// set of missing codes is reported to msgLog, which may be nil.
func (l *CodeLookup) Reclass(b *CodeBlock, msgLog chan string) *sparse.DenseArray {
	out := sparse.ZerosDense(b.Shape...)
	var missing map[int32]struct{}
	for i, code := range b.Codes {
		if b.HasNodata && code == b.Nodata {
			out.Elements[i] = math.NaN()
			continue
		}
		v, ok := l.values[code]
		if !ok {
			if missing == nil {
				missing = make(map[int32]struct{})
			}
			missing[code] = struct{}{}
			out.Elements[i] = missingCode
			continue
		}
		out.Elements[i] = v
	}
	if len(missing) > 0 && msgLog != nil {
		msgLog <- fmt.Sprintf("no %s value for land cover codes %v; marking those pixels missing", l.name, sortedCodes(missing))
	}
	return out
}

// A CodePair identifies a land cover change from one code to another.
type CodePair struct {
	From, To int32
}

// A PairLookup translates consecutive-snapshot code pairs to per-pixel
// coefficient values. Pairs without a table entry translate to NaN:
// unlike a missing single code, a missing pair carries no information
// about what happened on the pixel, so it is masked outright.
type PairLookup struct {
	name   string
	values map[CodePair]float64
}

// NewPairLookup creates a pair lookup named name from values. The map is
// copied; the caller's map is never modified or retained.
func NewPairLookup(name string, values map[CodePair]float64) *PairLookup {
	v := make(map[CodePair]float64, len(values))
	for pair, val := range values {
		v[pair] = val
	}
	return &PairLookup{name: name, values: v}
}

// Reclass translates the code change from each pixel of from to the same
// pixel of to. Pixels that are nodata in either block become NaN, as do
// pairs missing from the lookup; missing pairs are reported to msgLog,
// which may be nil.
func (l *PairLookup) Reclass(from, to *CodeBlock, msgLog chan string) (*sparse.DenseArray, error) {
	if len(from.Codes) != len(to.Codes) {
		return nil, fmt.Errorf("bluecarbon: mismatched block shapes %v and %v", from.Shape, to.Shape)
	}
	out := sparse.ZerosDense(from.Shape...)
	var missing map[CodePair]struct{}
	for i := range from.Codes {
		if (from.HasNodata && from.Codes[i] == from.Nodata) ||
			(to.HasNodata && to.Codes[i] == to.Nodata) {
			out.Elements[i] = math.NaN()
			continue
		}
		pair := CodePair{From: from.Codes[i], To: to.Codes[i]}
		v, ok := l.values[pair]
		if !ok {
			if missing == nil {
				missing = make(map[CodePair]struct{})
			}
			missing[pair] = struct{}{}
			out.Elements[i] = math.NaN()
			continue
		}
		out.Elements[i] = v
	}
	if len(missing) > 0 && msgLog != nil {
		msgLog <- fmt.Sprintf("no %s value for land cover transitions %v; masking those pixels", l.name, sortedPairs(missing))
	}
	return out, nil
}

func sortedCodes(set map[int32]struct{}) []int32 {
	codes := make([]int32, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func sortedPairs(set map[CodePair]struct{}) []CodePair {
	pairs := make([]CodePair, 0, len(set))
	for p := range set {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})
	return pairs
}
