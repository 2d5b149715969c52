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
	"math"
	"testing"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
)

const testTolerance = 1.e-10

// newTestState builds a block state with nPixels pixels and all-zero
// stocks and coefficient layers, the way DeriveBlockState would for a
// landscape with no carbon.
func newTestState(tl *Timeline, nPixels int) *BlockState {
	s := &BlockState{
		Block:   Block{Row0: 0, NRows: 1},
		Biomass: newPoolHistory(tl.Timesteps(), tl.Transitions()),
		Soil:    newPoolHistory(tl.Timesteps(), tl.Transitions()),
		Total:   make([]*sparse.DenseArray, tl.Timesteps()+1),
	}
	shape := []int{1, nPixels}
	s.Biomass.Stock[0] = sparse.ZerosDense(shape...)
	s.Soil.Stock[0] = sparse.ZerosDense(shape...)
	s.Litter = sparse.ZerosDense(shape...)
	for tr := 0; tr < tl.Transitions(); tr++ {
		for _, p := range []*PoolHistory{&s.Biomass, &s.Soil} {
			p.AccumRate[tr] = sparse.ZerosDense(shape...)
			p.DisturbFrac[tr] = sparse.ZerosDense(shape...)
			p.HalfLife[tr] = sparse.ZerosDense(shape...)
		}
	}
	return s
}

// commitBaseline commits the baseline disturbance and total the way
// DeriveBlockState does after deriving the coefficient layers.
func commitBaseline(s *BlockState) {
	s.Biomass.freeze(0, 0)
	s.Soil.freeze(0, 0)
	s.Total[0] = s.totalStock(0)
}

func TestDecayFraction(t *testing.T) {
	for _, test := range []struct {
		age  int
		want float64
	}{
		{0, 0.5},
		{1, 0.25},
		{2, 0.125},
		{3, 0.0625},
	} {
		if got := decayFraction(test.age); math.Abs(got-test.want) > testTolerance {
			t.Errorf("age %d: got %g, want %g", test.age, got, test.want)
		}
	}
	// Nearly all of a committed stock is released within ten years.
	var sum float64
	for age := 0; age < 10; age++ {
		sum += decayFraction(age)
	}
	if sum < 0.999 {
		t.Errorf("ten-year cumulative release is %g; want at least 0.999", sum)
	}
}

func TestPropagateAccumulation(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2010}, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestState(tl, 1)
	s.Biomass.Stock[0].Elements[0] = 10
	s.Soil.Stock[0].Elements[0] = 20
	s.Litter.Elements[0] = 1
	s.Biomass.AccumRate[0].Elements[0] = 1
	s.Soil.AccumRate[0].Elements[0] = 0.5
	commitBaseline(s)

	if err := s.Propagate(tl, nil); err != nil {
		t.Fatal(err)
	}

	if got := s.Total[0].Elements[0]; got != 31 {
		t.Errorf("baseline total: got %g, want 31", got)
	}
	for step := 0; step < tl.Timesteps(); step++ {
		if got := s.Biomass.Net[step].Elements[0]; got != 1 {
			t.Errorf("step %d: biomass net %g, want 1", step, got)
		}
		if got := s.Biomass.Emit[step].Elements[0]; got != 0 {
			t.Errorf("step %d: biomass emission %g, want 0", step, got)
		}
		want := 31 + 1.5*float64(step+1)
		if got := s.Total[step+1].Elements[0]; math.Abs(got-want) > testTolerance {
			t.Errorf("step %d: total %g, want %g", step, got, want)
		}
	}
	if got := s.Biomass.Stock[10].Elements[0]; got != 20 {
		t.Errorf("final biomass stock: got %g, want 20", got)
	}
	if got := s.Soil.Stock[10].Elements[0]; got != 25 {
		t.Errorf("final soil stock: got %g, want 25", got)
	}
}

// A pixel with no accumulation and no disturbance at any transition
// keeps its baseline stocks through the whole simulation.
func TestPropagateInertPixel(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2004, 2009}, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestState(tl, 1)
	s.Biomass.Stock[0].Elements[0] = 12
	s.Soil.Stock[0].Elements[0] = 34
	s.Litter.Elements[0] = 5
	commitBaseline(s)

	if err := s.Propagate(tl, nil); err != nil {
		t.Fatal(err)
	}
	for step := 0; step <= tl.Timesteps(); step++ {
		if got := s.Biomass.Stock[step].Elements[0]; got != 12 {
			t.Errorf("step %d: biomass stock %g, want 12", step, got)
		}
		if got := s.Soil.Stock[step].Elements[0]; got != 34 {
			t.Errorf("step %d: soil stock %g, want 34", step, got)
		}
		if got := s.Total[step].Elements[0]; got != 51 {
			t.Errorf("step %d: total %g, want 51", step, got)
		}
	}
	for step := 0; step < tl.Timesteps(); step++ {
		if s.Biomass.Net[step].Elements[0] != 0 || s.Soil.Net[step].Elements[0] != 0 {
			t.Errorf("step %d: expected zero net flux", step)
		}
	}
}

func TestPropagateDisturbance(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005, 2010}, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestState(tl, 1)
	s.Biomass.Stock[0].Elements[0] = 100
	s.Biomass.DisturbFrac[1].Elements[0] = 1
	commitBaseline(s)

	if err := s.Propagate(tl, nil); err != nil {
		t.Fatal(err)
	}

	// No emissions before the disturbance takes effect in 2005.
	for step := 0; step < 5; step++ {
		if got := s.Biomass.Emit[step].Elements[0]; got != 0 {
			t.Errorf("step %d: emission %g, want 0", step, got)
		}
	}
	// Half of the remaining committed stock is released each year.
	for step, want := range map[int]float64{5: 50, 6: 25, 7: 12.5, 8: 6.25, 9: 3.125} {
		if got := s.Biomass.Emit[step].Elements[0]; math.Abs(got-want) > testTolerance {
			t.Errorf("step %d: emission %g, want %g", step, got, want)
		}
	}
	if got, want := s.Biomass.Stock[10].Elements[0], 100*math.Pow(0.5, 5); math.Abs(got-want) > testTolerance {
		t.Errorf("final stock: got %g, want %g", got, want)
	}

	// The emission series decays exponentially with a one-year half-life.
	x := make([]float64, 0, 5)
	y := make([]float64, 0, 5)
	for step := 5; step < 10; step++ {
		x = append(x, float64(step))
		y = append(y, math.Log(s.Biomass.Emit[step].Elements[0]))
	}
	slope, _, rsquared, _, _, _ := stats.LinearRegression(x, y)
	if math.Abs(slope-math.Log(0.5)) > 1.e-9 {
		t.Errorf("emission decay slope: got %g, want %g", slope, math.Log(0.5))
	}
	if math.Abs(rsquared-1) > 1.e-9 {
		t.Errorf("emission decay r²: got %g, want 1", rsquared)
	}
}

// A land cover change between the baseline map and the first transition
// map commits its disturbance in the baseline year.
func TestPropagateBaselineDisturbance(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005}, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := newTestState(tl, 1)
	s.Biomass.Stock[0].Elements[0] = 100
	s.Biomass.DisturbFrac[0].Elements[0] = 0.5
	commitBaseline(s)

	if err := s.Propagate(tl, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.Biomass.Emit[0].Elements[0]; got != 25 {
		t.Errorf("first-year emission: got %g, want 25", got)
	}
	want := 100 - 50*(1-math.Pow(0.5, 5))
	if got := s.Biomass.Stock[5].Elements[0]; math.Abs(got-want) > testTolerance {
		t.Errorf("final stock: got %g, want %g", got, want)
	}
}

// The release curve has a fixed one-year half-life, so the half-life
// coefficient layers must not influence the simulated fluxes.
func TestPropagateHalfLifeInvariance(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005, 2012}, 0)
	if err != nil {
		t.Fatal(err)
	}
	build := func(halfLife float64) *BlockState {
		s := newTestState(tl, 1)
		s.Biomass.Stock[0].Elements[0] = 80
		s.Soil.Stock[0].Elements[0] = 40
		s.Biomass.AccumRate[0].Elements[0] = 0.25
		s.Biomass.DisturbFrac[1].Elements[0] = 0.66
		s.Soil.DisturbFrac[0].Elements[0] = 0.1
		for tr := 0; tr < tl.Transitions(); tr++ {
			s.Biomass.HalfLife[tr].Elements[0] = halfLife
			s.Soil.HalfLife[tr].Elements[0] = halfLife
		}
		commitBaseline(s)
		if err := s.Propagate(tl, nil); err != nil {
			t.Fatal(err)
		}
		return s
	}
	a, b := build(3), build(11)
	for step := 0; step < tl.Timesteps(); step++ {
		if a.Biomass.Emit[step].Elements[0] != b.Biomass.Emit[step].Elements[0] ||
			a.Soil.Emit[step].Elements[0] != b.Soil.Emit[step].Elements[0] {
			t.Errorf("step %d: emissions differ between half-life layers", step)
		}
		if a.Total[step+1].Elements[0] != b.Total[step+1].Elements[0] {
			t.Errorf("step %d: totals differ between half-life layers", step)
		}
	}
}

func TestPropagateValuation(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2005}, 0)
	if err != nil {
		t.Fatal(err)
	}
	build := func() *BlockState {
		s := newTestState(tl, 1)
		s.Biomass.AccumRate[0].Elements[0] = 2
		s.Soil.Stock[0].Elements[0] = 100
		s.Soil.DisturbFrac[0].Elements[0] = 0.5
		commitBaseline(s)
		return s
	}

	prices, err := NewPriceSchedule(tl, 1, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	s := build()
	if err := s.Propagate(tl, prices); err != nil {
		t.Fatal(err)
	}
	// The value of every timestep combines that timestep's biomass flux
	// with the baseline-timestep soil flux.
	for step := 0; step < tl.Timesteps(); step++ {
		if got, want := s.Value[step].Elements[0], 2.-25.; math.Abs(got-want) > testTolerance {
			t.Errorf("step %d: value %g, want %g", step, got, want)
		}
	}

	// A 100% discount rate halves each successive year's value.
	prices, err = NewPriceSchedule(tl, 10, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	s = build()
	if err := s.Propagate(tl, prices); err != nil {
		t.Fatal(err)
	}
	for step := 0; step < tl.Timesteps(); step++ {
		want := (2. - 25.) * 10 / math.Pow(2, float64(step))
		if got := s.Value[step].Elements[0]; math.Abs(got-want) > testTolerance {
			t.Errorf("step %d: discounted value %g, want %g", step, got, want)
		}
	}
}

// The change in standing stock over the whole simulation must equal the
// sum of the per-timestep net fluxes.
func TestPropagateConservation(t *testing.T) {
	tl, err := NewTimeline(2000, []int{2003, 2008}, 2015)
	if err != nil {
		t.Fatal(err)
	}
	const nPixels = 3
	s := newTestState(tl, nPixels)
	for i := 0; i < nPixels; i++ {
		s.Biomass.Stock[0].Elements[i] = 10 * float64(i+1)
		s.Soil.Stock[0].Elements[i] = 100 - float64(i)
		s.Litter.Elements[i] = float64(i)
		s.Biomass.AccumRate[0].Elements[i] = 0.3 * float64(i)
		s.Biomass.AccumRate[2].Elements[i] = 1.1
		s.Soil.AccumRate[1].Elements[i] = 0.7
		s.Biomass.DisturbFrac[1].Elements[i] = 0.25
		s.Soil.DisturbFrac[2].Elements[i] = 0.8
	}
	commitBaseline(s)
	if err := s.Propagate(tl, nil); err != nil {
		t.Fatal(err)
	}

	T := tl.Timesteps()
	for i := 0; i < nPixels; i++ {
		for _, p := range []*PoolHistory{&s.Biomass, &s.Soil} {
			var net float64
			for step := 0; step < T; step++ {
				net += p.Net[step].Elements[i]
			}
			if diff := p.Stock[T].Elements[i] - p.Stock[0].Elements[i] - net; math.Abs(diff) > testTolerance {
				t.Errorf("pixel %d: stock change and net flux differ by %g", i, diff)
			}
		}
		diff := s.Total[T].Elements[i] - s.Total[0].Elements[i]
		var net float64
		for step := 0; step < T; step++ {
			net += s.Biomass.Net[step].Elements[i] + s.Soil.Net[step].Elements[i]
		}
		if math.Abs(diff-net) > testTolerance {
			t.Errorf("pixel %d: total stock change %g does not match net flux %g", i, diff, net)
		}
	}
}
