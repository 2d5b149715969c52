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
	"math"

	"github.com/ctessum/sparse"
)

// A PoolHistory holds the simulated time series of one carbon pool
// within one block. Quantities are per-pixel carbon densities in
// Mg CO2e/ha; per-timestep series have one entry per timestep and stock
// series have one additional entry for the state after the final step.
type PoolHistory struct {
	// Stock[t] is the standing stock at the beginning of timestep t.
	Stock []*sparse.DenseArray
	// Accum, Emit, and Net hold the accumulation, emission, and net
	// sequestration fluxes during each timestep.
	Accum, Emit, Net []*sparse.DenseArray

	// AccumRate, DisturbFrac, and HalfLife are coefficient layers
	// derived once per transition from the land cover maps and the
	// input tables.
	AccumRate, DisturbFrac, HalfLife []*sparse.DenseArray

	// Disturbed[tr] is the stock committed to release when transition
	// tr took effect; it decays over the following timesteps.
	Disturbed []*sparse.DenseArray
}

// A BlockState holds the full simulation state of one block.
type BlockState struct {
	Block         Block
	Biomass, Soil PoolHistory

	// Litter is the litter stock, which is carried at its baseline
	// value through the whole modeled period.
	Litter *sparse.DenseArray

	// Total[t] is the total standing stock (biomass + soil + litter) at
	// the beginning of timestep t.
	Total []*sparse.DenseArray

	// Value[t] is the monetary value of timestep t's net sequestration.
	// It is only populated when the simulation runs with a price
	// schedule.
	Value []*sparse.DenseArray
}

func newPoolHistory(timesteps, transitions int) PoolHistory {
	return PoolHistory{
		Stock:       make([]*sparse.DenseArray, timesteps+1),
		Accum:       make([]*sparse.DenseArray, timesteps),
		Emit:        make([]*sparse.DenseArray, timesteps),
		Net:         make([]*sparse.DenseArray, timesteps),
		AccumRate:   make([]*sparse.DenseArray, transitions),
		DisturbFrac: make([]*sparse.DenseArray, transitions),
		HalfLife:    make([]*sparse.DenseArray, transitions),
		Disturbed:   make([]*sparse.DenseArray, transitions),
	}
}

// DeriveBlockState reads the land cover snapshots covering block b and
// builds the simulation state for the block: baseline stocks from the
// initial stock lookups and, for each transition, the coefficient layers
// from the transient lookups. Accumulation rates come from the land
// cover after the transition; half-lives and the stock committed by a
// disturbance come from the land cover before it.
func DeriveBlockState(ctx context.Context, lc *LandCover, lookup *CarbonLookup, tl *Timeline, b Block, msgLog chan string) (*BlockState, error) {
	timesteps := tl.Timesteps()
	transitions := tl.Transitions()
	if lc.Snapshots() != transitions+1 {
		return nil, fmt.Errorf("bluecarbon: %d land cover snapshots cannot serve %d transitions", lc.Snapshots(), transitions)
	}

	codes := make([]*CodeBlock, lc.Snapshots())
	for i := range codes {
		var err error
		if codes[i], err = lc.Codes(ctx, i, b); err != nil {
			return nil, err
		}
	}

	s := &BlockState{
		Block:   b,
		Biomass: newPoolHistory(timesteps, transitions),
		Soil:    newPoolHistory(timesteps, transitions),
		Total:   make([]*sparse.DenseArray, timesteps+1),
	}
	s.Biomass.Stock[0] = lookup.InitialBiomass.Reclass(codes[0], msgLog)
	s.Soil.Stock[0] = lookup.InitialSoil.Reclass(codes[0], msgLog)
	s.Litter = lookup.InitialLitter.Reclass(codes[0], msgLog)

	for tr := 0; tr < transitions; tr++ {
		from, to := codes[tr], codes[tr+1]
		var err error
		if s.Biomass.DisturbFrac[tr], err = lookup.DisturbBiomass.Reclass(from, to, msgLog); err != nil {
			return nil, err
		}
		if s.Soil.DisturbFrac[tr], err = lookup.DisturbSoil.Reclass(from, to, msgLog); err != nil {
			return nil, err
		}
		s.Biomass.AccumRate[tr] = lookup.AccumBiomass.Reclass(to, msgLog)
		s.Soil.AccumRate[tr] = lookup.AccumSoil.Reclass(to, msgLog)
		s.Biomass.HalfLife[tr] = lookup.HalfLifeBiomass.Reclass(from, msgLog)
		s.Soil.HalfLife[tr] = lookup.HalfLifeSoil.Reclass(from, msgLog)
	}

	// The baseline land cover commits its disturbable stock at once;
	// transitions after the baseline commit theirs when they take effect.
	s.Biomass.freeze(0, 0)
	s.Soil.freeze(0, 0)

	s.Total[0] = s.totalStock(0)
	return s, nil
}

// freeze commits the stock that transition tr disturbs, evaluated
// against the stock standing at timestep t.
func (p *PoolHistory) freeze(tr, t int) {
	r := sparse.ZerosDense(p.Stock[t].Shape...)
	for i := range r.Elements {
		r.Elements[i] = p.DisturbFrac[tr].Elements[i] * p.Stock[t].Elements[i]
	}
	p.Disturbed[tr] = r
}

// emit returns the emission flux during timestep t: every transition up
// to and including tr releases part of its committed stock, following
// the decay curve anchored at the timestep the transition began.
func (p *PoolHistory) emit(tl *Timeline, t, tr int) *sparse.DenseArray {
	e := sparse.ZerosDense(p.Stock[0].Shape...)
	for k := 0; k <= tr; k++ {
		frac := decayFraction(t - tl.SnapshotToTimestep(k))
		for i, r := range p.Disturbed[k].Elements {
			e.Elements[i] += r * frac
		}
	}
	return e
}

// decayFraction returns the fraction of a committed stock that is
// released during the year beginning age years after its transition.
// The remaining stock halves every year.
func decayFraction(age int) float64 {
	return math.Pow(0.5, float64(age)) - math.Pow(0.5, float64(age+1))
}

// Propagate advances the block through every timestep of the timeline.
// For each timestep it computes the accumulation, emission, and net
// sequestration fluxes of both pools and the resulting stocks, and, when
// prices is non-nil, the monetary value of the timestep's sequestration.
// DeriveBlockState must have been used to create s.
func (s *BlockState) Propagate(tl *Timeline, prices *PriceSchedule) error {
	timesteps := tl.Timesteps()
	if prices != nil {
		s.Value = make([]*sparse.DenseArray, timesteps)
	}
	pools := []*PoolHistory{&s.Biomass, &s.Soil}
	for t := 0; t < timesteps; t++ {
		tr, err := tl.TransitionForTimestep(t)
		if err != nil {
			return err
		}
		boundary := tl.IsTransitionBoundary(t)
		for _, p := range pools {
			if boundary {
				p.freeze(tr, t)
			}
			p.Accum[t] = p.AccumRate[tr]
			p.Emit[t] = p.emit(tl, t, tr)
			net := sparse.ZerosDense(p.Stock[t].Shape...)
			stock := sparse.ZerosDense(p.Stock[t].Shape...)
			for i := range net.Elements {
				net.Elements[i] = p.Accum[t].Elements[i] - p.Emit[t].Elements[i]
				stock.Elements[i] = p.Stock[t].Elements[i] + net.Elements[i]
			}
			p.Net[t] = net
			p.Stock[t+1] = stock
		}
		s.Total[t+1] = s.totalStock(t + 1)
		if prices != nil {
			// Value follows the biomass flux of the current timestep
			// plus the baseline-timestep soil flux.
			price := prices.Price(t)
			v := sparse.ZerosDense(s.Biomass.Net[t].Shape...)
			for i := range v.Elements {
				v.Elements[i] = (s.Biomass.Net[t].Elements[i] + s.Soil.Net[0].Elements[i]) * price
			}
			s.Value[t] = v
		}
	}
	return nil
}

func (s *BlockState) totalStock(t int) *sparse.DenseArray {
	total := sparse.ZerosDense(s.Litter.Shape...)
	for i := range total.Elements {
		total.Elements[i] = s.Biomass.Stock[t].Elements[i] + s.Soil.Stock[t].Elements[i] + s.Litter.Elements[i]
	}
	return total
}
