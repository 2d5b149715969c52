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
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

// Preprocess scans an ordered series of land cover maps and writes a
// transition matrix template to w, ready to be reviewed and filled in
// with impact levels. Every land cover change observed between
// consecutive maps is classified from the habitat flags in classes:
// a change that ends in habitat accumulates carbon, a change from
// habitat to non-habitat is a disturbance, and a change between
// non-habitat classes leaves carbon unchanged. Cells for changes that
// never occur on the grid are left blank. Every code on the maps must
// appear in classes.
func Preprocess(ctx context.Context, classes map[int32]*LandCoverClass, baselineFile string, transitionFiles []string, w io.Writer, rowsPerBlock int) error {
	if len(transitionFiles) == 0 {
		return fmt.Errorf("bluecarbon: preprocessing requires a baseline map and at least one transition map")
	}
	files := make([]string, 0, len(transitionFiles)+1)
	files = append(files, baselineFile)
	files = append(files, transitionFiles...)
	lc, err := openLandCoverFiles(files)
	if err != nil {
		return err
	}
	codes, pairs, err := ScanCodes(ctx, lc, rowsPerBlock)
	if err != nil {
		return err
	}
	if unknown := unknownCodes(codes, classes); len(unknown) > 0 {
		return fmt.Errorf("bluecarbon: land cover codes %v are not in the class table", unknown)
	}
	return writeTransitionTemplate(w, classes, pairs)
}

// classifyTransition returns the transition matrix template entry for a
// land cover change. Gaining or keeping habitat accumulates carbon,
// losing habitat disturbs the stored carbon, and a change between
// non-habitat classes leaves it unchanged. The impact level of a
// disturbance cannot be read off a map, so disturbances are marked with
// a placeholder the user must replace.
func classifyTransition(from, to *LandCoverClass) string {
	switch {
	case to.Habitat:
		return TransitionAccumulation
	case from.Habitat:
		return TransitionDisturbance
	default:
		return TransitionUnchanged
	}
}

// writeTransitionTemplate writes a transition matrix in the format read
// by ReadTransitionMatrix, with one row and one column per class in
// code order and entries only for the observed code pairs.
func writeTransitionTemplate(w io.Writer, classes map[int32]*LandCoverClass, observed map[CodePair]struct{}) error {
	ordered := make([]*LandCoverClass, 0, len(classes))
	for _, c := range classes {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Code < ordered[j].Code })

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(ordered)+1)
	header = append(header, "lulc-classes")
	for _, c := range ordered {
		header = append(header, c.Name)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("bluecarbon: writing transition matrix template: %v", err)
	}
	row := make([]string, len(ordered)+1)
	for _, from := range ordered {
		row[0] = from.Name
		for i, to := range ordered {
			if _, ok := observed[CodePair{From: from.Code, To: to.Code}]; ok {
				row[i+1] = classifyTransition(from, to)
			} else {
				row[i+1] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("bluecarbon: writing transition matrix template: %v", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("bluecarbon: writing transition matrix template: %v", err)
	}
	return nil
}
