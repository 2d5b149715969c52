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

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// An Outputter aggregates block states into the model's output rasters
// and writes them to a single NetCDF file, one variable per raster.
// Besides the standard outputs, users may define extra rasters as
// expressions over the standard output names.
type Outputter struct {
	fileName  string
	grid      *GridSpec
	tl        *Timeline
	valuation bool

	derived      map[string]*govaluate.EvaluableExpression
	derivedNames []string

	rw *RasterWriter
}

// outputFunctions are the functions available to user-defined output
// expressions.
var outputFunctions = map[string]govaluate.ExpressionFunction{
	"exp": func(arg ...interface{}) (interface{}, error) {
		v, err := argFloats("exp", 1, arg)
		if err != nil {
			return nil, err
		}
		return math.Exp(v[0]), nil
	},
	"log": func(arg ...interface{}) (interface{}, error) {
		v, err := argFloats("log", 1, arg)
		if err != nil {
			return nil, err
		}
		return math.Log(v[0]), nil
	},
	"min": func(arg ...interface{}) (interface{}, error) {
		v, err := argFloats("min", 2, arg)
		if err != nil {
			return nil, err
		}
		return math.Min(v[0], v[1]), nil
	},
	"max": func(arg ...interface{}) (interface{}, error) {
		v, err := argFloats("max", 2, arg)
		if err != nil {
			return nil, err
		}
		return math.Max(v[0], v[1]), nil
	},
}

func argFloats(name string, want int, args []interface{}) ([]float64, error) {
	if len(args) != want {
		return nil, fmt.Errorf("bluecarbon: got %d arguments for function %s but need %d", len(args), name, want)
	}
	out := make([]float64, len(args))
	for i, a := range args {
		v, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("bluecarbon: argument %d to function %s is not a number", i+1, name)
		}
		out[i] = v
	}
	return out, nil
}

// NewOutputter creates an Outputter writing to fileName for a run on
// grid over the timeline tl. When valuation is true a net present value
// raster is included. derivedOutputs maps extra raster names to
// expressions over the standard output names; expressions are parsed and
// checked here so problems surface before any output is written.
func NewOutputter(fileName string, grid *GridSpec, tl *Timeline, valuation bool, derivedOutputs map[string]string) (*Outputter, error) {
	o := &Outputter{
		fileName:  fileName,
		grid:      grid,
		tl:        tl,
		valuation: valuation,
		derived:   make(map[string]*govaluate.EvaluableExpression),
	}
	standard := make(map[string]struct{})
	for _, def := range o.standardDefs() {
		standard[def.Name] = struct{}{}
	}
	for name, exprStr := range derivedOutputs {
		if _, ok := standard[name]; ok {
			return nil, fmt.Errorf("bluecarbon: output %s is already a standard output and cannot be redefined", name)
		}
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(exprStr, outputFunctions)
		if err != nil {
			return nil, fmt.Errorf("bluecarbon: parsing expression for output %s: %v", name, err)
		}
		for _, v := range expr.Vars() {
			if _, ok := standard[v]; !ok {
				return nil, fmt.Errorf("bluecarbon: expression for output %s references unknown output %s", name, v)
			}
		}
		o.derived[name] = expr
		o.derivedNames = append(o.derivedNames, name)
	}
	sort.Strings(o.derivedNames)
	return o, nil
}

func (o *Outputter) standardDefs() []RasterDef {
	years := o.tl.SnapshotYears
	var defs []RasterDef
	for _, y := range years {
		defs = append(defs, RasterDef{
			Name:        fmt.Sprintf("carbon_stock_at_%d", y),
			Description: fmt.Sprintf("standing carbon stock in %d", y),
			Units:       "Mg CO2e/ha",
		})
	}
	for i := 0; i+1 < len(years); i++ {
		span := fmt.Sprintf("between_%d_and_%d", years[i], years[i+1])
		defs = append(defs,
			RasterDef{
				Name:        "carbon_accumulation_" + span,
				Description: fmt.Sprintf("carbon accumulated between %d and %d", years[i], years[i+1]),
				Units:       "Mg CO2e/ha",
			},
			RasterDef{
				Name:        "carbon_emissions_" + span,
				Description: fmt.Sprintf("carbon emitted between %d and %d", years[i], years[i+1]),
				Units:       "Mg CO2e/ha",
			},
			RasterDef{
				Name:        "net_carbon_sequestration_" + span,
				Description: fmt.Sprintf("net carbon sequestered between %d and %d", years[i], years[i+1]),
				Units:       "Mg CO2e/ha",
			})
	}
	defs = append(defs, RasterDef{
		Name:        "total_net_carbon_sequestration",
		Description: "net carbon sequestered over the whole modeled period",
		Units:       "Mg CO2e/ha",
	})
	if o.valuation {
		defs = append(defs, RasterDef{
			Name:        "net_present_value",
			Description: "net present value of carbon sequestered over the whole modeled period",
			Units:       "currency/ha",
		})
	}
	return defs
}

// Defs returns the definitions of every raster the Outputter writes.
func (o *Outputter) Defs() []RasterDef {
	defs := o.standardDefs()
	for _, name := range o.derivedNames {
		defs = append(defs, RasterDef{Name: name, Description: "user-defined output"})
	}
	return defs
}

// Create creates the output raster file. It must be called before the
// first WriteBlock.
func (o *Outputter) Create() error {
	rw, err := CreateRasters(o.fileName, o.grid, o.Defs())
	if err != nil {
		return err
	}
	o.rw = rw
	return nil
}

// blockOutputs aggregates the standard output rasters for one block.
func (o *Outputter) blockOutputs(s *BlockState) map[string]*sparse.DenseArray {
	out := make(map[string]*sparse.DenseArray)
	years := o.tl.SnapshotYears
	for i, y := range years {
		out[fmt.Sprintf("carbon_stock_at_%d", y)] = s.Total[o.tl.SnapshotToTimestep(i)]
	}
	for i := 0; i+1 < len(years); i++ {
		span := fmt.Sprintf("between_%d_and_%d", years[i], years[i+1])
		from, to := o.tl.SnapshotToTimestep(i), o.tl.SnapshotToTimestep(i+1)
		out["carbon_accumulation_"+span] = sumPools(s.Biomass.Accum, s.Soil.Accum, from, to)
		out["carbon_emissions_"+span] = sumPools(s.Biomass.Emit, s.Soil.Emit, from, to)
		out["net_carbon_sequestration_"+span] = sumPools(s.Biomass.Net, s.Soil.Net, from, to)
	}
	out["total_net_carbon_sequestration"] = sumPools(s.Biomass.Net, s.Soil.Net, 0, o.tl.Timesteps())
	if o.valuation && s.Value != nil {
		out["net_present_value"] = sumSeries(s.Value, 0, len(s.Value))
	}
	return out
}

// WriteBlock aggregates the outputs for block state s, evaluates any
// user-defined outputs, and writes everything to the block's rows of the
// output file.
func (o *Outputter) WriteBlock(s *BlockState) error {
	if o.rw == nil {
		return fmt.Errorf("bluecarbon: the output file has not been created")
	}
	outputs := o.blockOutputs(s)
	for _, name := range o.derivedNames {
		expr := o.derived[name]
		vars := expr.Vars()
		arr := sparse.ZerosDense(s.Total[0].Shape...)
		params := make(map[string]interface{}, len(vars))
		for i := range arr.Elements {
			for _, v := range vars {
				params[v] = outputs[v].Elements[i]
			}
			result, err := expr.Evaluate(params)
			if err != nil {
				return fmt.Errorf("bluecarbon: evaluating output %s: %v", name, err)
			}
			v, ok := result.(float64)
			if !ok {
				return fmt.Errorf("bluecarbon: expression for output %s yields %v, which is not a number", name, result)
			}
			arr.Elements[i] = v
		}
		outputs[name] = arr
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := o.rw.WriteBlock(name, s.Block, outputs[name]); err != nil {
			return err
		}
	}
	return nil
}

// Close finalizes the output file.
func (o *Outputter) Close() error {
	if o.rw == nil {
		return nil
	}
	return o.rw.Close()
}

// CreateOutputs creates the output raster file.
func (o *Outputter) CreateOutputs() SimulationManipulator {
	return func(s *Simulation) error {
		return o.Create()
	}
}

// OutputBlock writes the outputs for the block that was just simulated.
func (o *Outputter) OutputBlock() SimulationManipulator {
	return func(s *Simulation) error {
		if s.state == nil {
			return fmt.Errorf("bluecarbon: no block state to output")
		}
		return o.WriteBlock(s.state)
	}
}

// CloseOutputs finalizes the output raster file.
func (o *Outputter) CloseOutputs() SimulationManipulator {
	return func(s *Simulation) error {
		return o.Close()
	}
}

// sumPools sums two per-timestep flux series over timesteps [from, to).
func sumPools(a, b []*sparse.DenseArray, from, to int) *sparse.DenseArray {
	out := sparse.ZerosDense(a[0].Shape...)
	for t := from; t < to; t++ {
		floats.Add(out.Elements, a[t].Elements)
		floats.Add(out.Elements, b[t].Elements)
	}
	return out
}

// sumSeries sums one per-timestep series over timesteps [from, to).
func sumSeries(a []*sparse.DenseArray, from, to int) *sparse.DenseArray {
	out := sparse.ZerosDense(a[0].Shape...)
	for t := from; t < to; t++ {
		floats.Add(out.Elements, a[t].Elements)
	}
	return out
}
