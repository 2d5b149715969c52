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
	"reflect"
	"testing"
)

func TestNewTimeline(t *testing.T) {
	tests := []struct {
		baseline        int
		transitionYears []int
		analysisYear    int
		want            []int
		err             bool
	}{
		{2000, []int{2005, 2010}, 0, []int{2000, 2005, 2010}, false},
		{2000, []int{2005, 2010}, 2050, []int{2000, 2005, 2010, 2050}, false},
		{2000, []int{2010}, 0, []int{2000, 2010}, false},
		// no transitions
		{2000, nil, 0, nil, true},
		// repeated year
		{2000, []int{2000}, 0, nil, true},
		// out of order
		{2000, []int{2010, 2005}, 0, nil, true},
		// analysis year not after the final snapshot
		{2000, []int{2005, 2010}, 2010, nil, true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d_%v_%d", test.baseline, test.transitionYears, test.analysisYear), func(t *testing.T) {
			tl, err := NewTimeline(test.baseline, test.transitionYears, test.analysisYear)
			if test.err {
				if err == nil {
					t.Fatalf("expected error but got years %v", tl.SnapshotYears)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(tl.SnapshotYears, test.want) {
				t.Errorf("years: %v, want %v", tl.SnapshotYears, test.want)
			}
		})
	}
}

func TestTransitionForTimestep(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005, 2010}, 2020)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		step int
		want int
		err  bool
	}{
		{-1, 0, true},
		{0, 0, false},
		{4, 0, false},
		{5, 1, false},
		{9, 1, false},
		{10, 2, false},
		{19, 2, false},
		{20, 0, true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprint(test.step), func(t *testing.T) {
			tr, err := tl.TransitionForTimestep(test.step)
			if test.err {
				if err == nil {
					t.Fatalf("expected error but got transition %d", tr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tr != test.want {
				t.Errorf("transition %d, want %d", tr, test.want)
			}
		})
	}

	// The resolver must never decrease as timesteps advance and must end
	// on the final transition.
	prev := 0
	for step := 0; step < tl.Timesteps(); step++ {
		tr, err := tl.TransitionForTimestep(step)
		if err != nil {
			t.Fatal(err)
		}
		if tr < prev {
			t.Errorf("timestep %d: transition decreased from %d to %d", step, prev, tr)
		}
		prev = tr
	}
	if want := tl.Transitions() - 1; prev != want {
		t.Errorf("final transition: %d, want %d", prev, want)
	}

	// Without an analysis year the final timestep still resolves to the
	// final transition.
	noExt, err := NewTimeline(2000, []int{2005, 2010}, 0)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := noExt.TransitionForTimestep(noExt.Timesteps() - 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := noExt.Transitions() - 1; tr != want {
		t.Errorf("final timestep without extension: transition %d, want %d", tr, want)
	}
}

func TestIsTransitionBoundary(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005, 2010}, 2020)
	if err != nil {
		t.Fatal(err)
	}
	var boundaries []int
	for step := 0; step < tl.Timesteps(); step++ {
		if tl.IsTransitionBoundary(step) {
			boundaries = append(boundaries, step)
		}
	}
	if want := []int{5, 10}; !reflect.DeepEqual(boundaries, want) {
		t.Errorf("boundaries at %v, want %v", boundaries, want)
	}
	// Exactly one boundary per transition after the first, and never at
	// the baseline timestep.
	if len(boundaries) != tl.Transitions()-1 {
		t.Errorf("%d boundaries, want %d", len(boundaries), tl.Transitions()-1)
	}
	if tl.IsTransitionBoundary(0) {
		t.Error("baseline timestep must not be a boundary")
	}
}

func ExampleTimeline() {
	tl, err := NewTimeline(2000, []int{2005, 2010}, 2030)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%d transitions over %d timesteps\n", tl.Transitions(), tl.Timesteps())
	tr, err := tl.TransitionForTimestep(7)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("timestep 7 (year %d) falls in transition %d\n", tl.Year(7), tr)
	// Output:
	// 3 transitions over 30 timesteps
	// timestep 7 (year 2007) falls in transition 1
}

func TestSnapshotToTimestep(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005, 2010}, 2020)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 5, 10, 20}
	for i, w := range want {
		if got := tl.SnapshotToTimestep(i); got != w {
			t.Errorf("snapshot %d: timestep %d, want %d", i, got, w)
		}
	}
	if got := tl.Year(7); got != 2007 {
		t.Errorf("year at timestep 7: %d, want 2007", got)
	}
}
