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

import "fmt"

// A Timeline relates the calendar years of the land cover snapshots to
// the annual timesteps of a simulation. Timestep 0 is the baseline year;
// the simulation runs through timestep Timesteps()-1, one step per year.
// Transition i covers the interval between snapshots i and i+1.
type Timeline struct {
	// SnapshotYears holds the calendar year of each land cover snapshot
	// in strictly increasing order, starting with the baseline year. If
	// an analysis year is specified it is the last element.
	SnapshotYears []int
}

// NewTimeline creates a Timeline from the baseline year and the years of
// the land cover transition maps. If analysisYear is nonzero, the modeled
// period is extended to it, holding the final land cover constant.
func NewTimeline(baselineYear int, transitionYears []int, analysisYear int) (*Timeline, error) {
	years := make([]int, 0, len(transitionYears)+2)
	years = append(years, baselineYear)
	years = append(years, transitionYears...)
	if len(years) < 2 {
		return nil, fmt.Errorf("bluecarbon: a timeline requires at least one transition year after the baseline year %d", baselineYear)
	}
	for i := 1; i < len(years); i++ {
		if years[i] <= years[i-1] {
			return nil, fmt.Errorf("bluecarbon: snapshot years must be strictly increasing; %d does not follow %d", years[i], years[i-1])
		}
	}
	if analysisYear != 0 {
		if analysisYear <= years[len(years)-1] {
			return nil, fmt.Errorf("bluecarbon: analysis year %d must be after the final snapshot year %d", analysisYear, years[len(years)-1])
		}
		years = append(years, analysisYear)
	}
	return &Timeline{SnapshotYears: years}, nil
}

// Transitions returns the number of land cover transitions, which is one
// less than the number of snapshots.
func (tl *Timeline) Transitions() int { return len(tl.SnapshotYears) - 1 }

// Timesteps returns the number of annual timesteps in the modeled period.
func (tl *Timeline) Timesteps() int {
	return tl.SnapshotYears[len(tl.SnapshotYears)-1] - tl.SnapshotYears[0]
}

// TransitionForTimestep returns the index of the transition that governs
// timestep step: the smallest i for which step falls before snapshot i+1.
// The result never decreases as step increases. An error is returned if
// step is outside the modeled period.
func (tl *Timeline) TransitionForTimestep(step int) (int, error) {
	if step >= 0 {
		for i := 0; i < tl.Transitions(); i++ {
			if step < tl.SnapshotYears[i+1]-tl.SnapshotYears[0] {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("bluecarbon: timestep %d is outside the %d-timestep modeled period beginning in %d",
		step, tl.Timesteps(), tl.SnapshotYears[0])
}

// IsTransitionBoundary reports whether a new land cover transition takes
// effect at timestep step. The baseline timestep is never a boundary.
func (tl *Timeline) IsTransitionBoundary(step int) bool {
	if step <= 0 {
		return false
	}
	cur, err := tl.TransitionForTimestep(step)
	if err != nil || cur == 0 {
		return false
	}
	prev, err := tl.TransitionForTimestep(step - 1)
	if err != nil {
		return false
	}
	return cur != prev
}

// SnapshotToTimestep returns the timestep at which snapshot i occurs.
func (tl *Timeline) SnapshotToTimestep(i int) int {
	return tl.SnapshotYears[i] - tl.SnapshotYears[0]
}

// Year returns the calendar year of timestep step.
func (tl *Timeline) Year(step int) int { return tl.SnapshotYears[0] + step }
