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

// Package bluecarbon implements a timeseries model of the carbon stored
// in coastal habitats. Starting from mapped carbon stocks, the model
// accumulates carbon in biomass and soil year by year, releases the
// carbon disturbed by land cover transitions along exponential decay
// curves, and optionally assigns a monetary value to the resulting net
// sequestration.
package bluecarbon

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ctessum/unit"
)

// Version gives the model version number.
const Version = "1.1.0"

// SimulationManipulator is a class of functions that operate on a
// simulation, either once at the beginning or end of a run or once for
// every block of grid rows while it runs.
type SimulationManipulator func(s *Simulation) error

// Simulation holds the current state of a model run. The grid is
// processed in blocks of rows so that the memory used by a run is set
// by the block size rather than the grid size; one call to the RunFuncs
// processes one block.
type Simulation struct {
	InitFuncs    []SimulationManipulator // Functions to be run in the given order at initialization.
	RunFuncs     []SimulationManipulator // Functions to be run in the given order for each block.
	CleanupFuncs []SimulationManipulator // Functions to be run in the given order at shutdown.

	// LandCover is the stack of land cover snapshots being simulated.
	LandCover *LandCover

	// Lookup translates land cover codes into carbon parameters.
	Lookup *CarbonLookup

	// Timeline lays out the snapshot years of the run.
	Timeline *Timeline

	// Prices holds the carbon price for each timestep. If it is nil, no
	// net present value is calculated.
	Prices *PriceSchedule

	// RowsPerBlock sets how many grid rows are processed at a time.
	// Zero or less means the whole grid at once.
	RowsPerBlock int

	// Done specifies whether the simulation is finished.
	Done bool

	blocks []Block
	index  int
	state  *BlockState
}

// Init initializes the simulation by running the InitFuncs.
func (s *Simulation) Init() error {
	for _, f := range s.InitFuncs {
		if err := f(s); err != nil {
			return err
		}
	}
	return nil
}

// Run carries out the simulation by running the RunFuncs until the Done
// flag is set.
func (s *Simulation) Run() error {
	for !s.Done {
		for _, f := range s.RunFuncs {
			if err := f(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cleanup finishes the simulation by running the CleanupFuncs.
func (s *Simulation) Cleanup() error {
	for _, f := range s.CleanupFuncs {
		if err := f(s); err != nil {
			return err
		}
	}
	return nil
}

// CheckInputs checks the land cover stack against the lookup tables and
// the timeline before any output is written.
func CheckInputs(ctx context.Context) SimulationManipulator {
	return func(s *Simulation) error {
		return ValidateInputs(ctx, s.LandCover, s.Lookup, s.Timeline, s.RowsPerBlock)
	}
}

// SplitGrid divides the simulation grid into blocks of RowsPerBlock
// rows for processing.
func SplitGrid() SimulationManipulator {
	return func(s *Simulation) error {
		if s.LandCover.Snapshots() != s.Timeline.Transitions()+1 {
			return fmt.Errorf("bluecarbon: %d land cover snapshots cannot serve %d transitions",
				s.LandCover.Snapshots(), s.Timeline.Transitions())
		}
		s.blocks = s.LandCover.Grid.Blocks(s.RowsPerBlock)
		s.index = 0
		s.Done = len(s.blocks) == 0
		return nil
	}
}

// SimulateBlock reads the land cover codes for the current block,
// derives the carbon parameter layers from them, and runs the stock and
// flux recurrence over every timestep of the run. Messages about pixels
// with missing parameters are sent to msgLog if it is not nil.
func SimulateBlock(ctx context.Context, msgLog chan string) SimulationManipulator {
	return func(s *Simulation) error {
		if s.index >= len(s.blocks) {
			return fmt.Errorf("bluecarbon: the grid has not been split into blocks")
		}
		state, err := DeriveBlockState(ctx, s.LandCover, s.Lookup, s.Timeline, s.blocks[s.index], msgLog)
		if err != nil {
			return err
		}
		if err := state.Propagate(s.Timeline, s.Prices); err != nil {
			return err
		}
		s.state = state
		return nil
	}
}

// NextBlock advances the simulation to the next block of grid rows,
// setting the Done flag after the last one.
func NextBlock() SimulationManipulator {
	return func(s *Simulation) error {
		s.index++
		if s.index >= len(s.blocks) {
			s.Done = true
		}
		return nil
	}
}

// BlockStatus holds information about the progress of a simulation.
type BlockStatus struct {
	Block

	// Index is the 1-based number of the block being worked on, out of
	// NBlocks in the whole grid.
	Index, NBlocks int

	// Walltime is the time elapsed since the simulation started.
	Walltime time.Duration
}

func (b *BlockStatus) String() string {
	return fmt.Sprintf("Block %d of %d (rows %d-%d): walltime %.3gs",
		b.Index, b.NBlocks, b.Row0, b.Row0+b.NRows-1, b.Walltime.Seconds())
}

// Log sends a status report for each block to c. If c is nil the
// reports are dropped; otherwise the receiver must keep draining c for
// the simulation to make progress.
func Log(c chan *BlockStatus) SimulationManipulator {
	startTime := time.Now()
	return func(s *Simulation) error {
		if c == nil || s.index >= len(s.blocks) {
			return nil
		}
		c <- &BlockStatus{
			Block:    s.blocks[s.index],
			Index:    s.index + 1,
			NBlocks:  len(s.blocks),
			Walltime: time.Since(startTime),
		}
		return nil
	}
}

// Totals accumulates grid-wide totals over the blocks of a simulation
// run, converting the per-hectare rasters to whole-cell masses.
type Totals struct {
	// Sequestration is the total mass of carbon dioxide equivalent
	// sequestered across the grid between the baseline year and the end
	// of the run [kg].
	Sequestration *unit.Unit

	// NetPresentValue is the discounted value of the sequestration, in
	// the currency units of the price schedule. It is nil when the run
	// does not include valuation.
	NetPresentValue *unit.Unit
}

// Accumulate adds the current block's sequestration and value to the
// running totals. Pixels that are masked as nodata or that are missing
// a carbon parameter are skipped.
func (t *Totals) Accumulate() SimulationManipulator {
	const m2PerHectare = 1.e4
	const kgPerMegagram = 1.e3
	return func(s *Simulation) error {
		if s.state == nil {
			return fmt.Errorf("bluecarbon: no block state to total")
		}
		cellHectares := s.LandCover.Grid.CellArea() / m2PerHectare
		seq := sumPools(s.state.Biomass.Net, s.state.Soil.Net, 0, s.Timeline.Timesteps())
		var sum float64
		for _, v := range seq.Elements {
			if math.IsNaN(v) || math.Abs(v) >= -missingCode/2 {
				continue
			}
			sum += v
		}
		if t.Sequestration == nil {
			t.Sequestration = unit.New(0, unit.Kilogram)
		}
		t.Sequestration.Add(unit.New(sum*cellHectares*kgPerMegagram, unit.Kilogram))

		if s.state.Value == nil {
			return nil
		}
		npv := sumSeries(s.state.Value, 0, s.Timeline.Timesteps())
		sum = 0
		for _, v := range npv.Elements {
			if math.IsNaN(v) || math.Abs(v) >= -missingCode/2 {
				continue
			}
			sum += v
		}
		if t.NetPresentValue == nil {
			t.NetPresentValue = unit.New(0, unit.Dimless)
		}
		t.NetPresentValue.Add(unit.New(sum*cellHectares, unit.Dimless))
		return nil
	}
}

// Report sends the accumulated totals to msgLog.
func (t *Totals) Report(msgLog chan string) SimulationManipulator {
	return func(s *Simulation) error {
		if msgLog == nil {
			return nil
		}
		if t.Sequestration != nil {
			msgLog <- fmt.Sprintf("Total net carbon sequestration: %.6g Mg CO2e",
				t.Sequestration.Value()/1.e3)
		}
		if t.NetPresentValue != nil {
			msgLog <- fmt.Sprintf("Net present value: %.6g currency units",
				t.NetPresentValue.Value())
		}
		return nil
	}
}
