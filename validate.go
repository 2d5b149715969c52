/*
Copyright © 2026 the BlueCarbon authors.
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
	"strings"
)

// ScanCodes streams every snapshot of lc block by block and returns the
// set of distinct land cover codes and the set of consecutive-snapshot
// code pairs observed anywhere on the grid. Nodata pixels and pairs
// touching them are skipped. Block reads are cached, so a model run
// after a scan does not read the rasters twice.
func ScanCodes(ctx context.Context, lc *LandCover, rowsPerBlock int) (map[int32]struct{}, map[CodePair]struct{}, error) {
	codes := make(map[int32]struct{})
	pairs := make(map[CodePair]struct{})
	for _, b := range lc.Grid.Blocks(rowsPerBlock) {
		blocks := make([]*CodeBlock, lc.Snapshots())
		for i := range blocks {
			var err error
			if blocks[i], err = lc.Codes(ctx, i, b); err != nil {
				return nil, nil, err
			}
		}
		for _, cb := range blocks {
			for _, code := range cb.Codes {
				if cb.HasNodata && code == cb.Nodata {
					continue
				}
				codes[code] = struct{}{}
			}
		}
		for i := 0; i+1 < len(blocks); i++ {
			from, to := blocks[i], blocks[i+1]
			for j := range from.Codes {
				if (from.HasNodata && from.Codes[j] == from.Nodata) ||
					(to.HasNodata && to.Codes[j] == to.Nodata) {
					continue
				}
				pairs[CodePair{From: from.Codes[j], To: to.Codes[j]}] = struct{}{}
			}
		}
	}
	return codes, pairs, nil
}

// ValidateInputs checks a run's land cover stack against its lookups
// before any output is written: every code on the grid must be in the
// class table, and every land cover change observed between consecutive
// snapshots must have a transition matrix entry. Raster alignment and
// snapshot-year ordering are checked when the land cover stack and the
// timeline are created.
func ValidateInputs(ctx context.Context, lc *LandCover, lookup *CarbonLookup, tl *Timeline, rowsPerBlock int) error {
	if lc.Snapshots() != tl.Transitions()+1 {
		return fmt.Errorf("bluecarbon: %d land cover snapshots cannot serve %d transitions",
			lc.Snapshots(), tl.Transitions())
	}
	codes, pairs, err := ScanCodes(ctx, lc, rowsPerBlock)
	if err != nil {
		return err
	}

	if unknown := unknownCodes(codes, lookup.Classes); len(unknown) > 0 {
		return fmt.Errorf("bluecarbon: land cover codes %v are not in the class table", unknown)
	}

	var uncovered map[CodePair]struct{}
	for pair := range pairs {
		if !lookup.HasPair(pair) {
			if uncovered == nil {
				uncovered = make(map[CodePair]struct{})
			}
			uncovered[pair] = struct{}{}
		}
	}
	if len(uncovered) > 0 {
		descs := make([]string, 0, len(uncovered))
		for _, pair := range sortedPairs(uncovered) {
			descs = append(descs, fmt.Sprintf("%s (%d) to %s (%d)",
				lookup.Classes[pair.From].Name, pair.From,
				lookup.Classes[pair.To].Name, pair.To))
		}
		return fmt.Errorf("bluecarbon: the transition matrix has no entry for observed land cover changes: %s",
			strings.Join(descs, "; "))
	}
	return nil
}

// unknownCodes returns the sorted land cover codes in codes that have no
// entry in classes, or nil if all codes are known.
func unknownCodes(codes map[int32]struct{}, classes map[int32]*LandCoverClass) []int32 {
	var unknown map[int32]struct{}
	for code := range codes {
		if _, ok := classes[code]; !ok {
			if unknown == nil {
				unknown = make(map[int32]struct{})
			}
			unknown[code] = struct{}{}
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return sortedCodes(unknown)
}
