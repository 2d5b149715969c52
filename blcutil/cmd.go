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

// Package blcutil glues together the pieces of the BlueCarbon model to
// make a command-line interface.
package blcutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/bluecarbon"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to BlueCarbon.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "LandCoverFile",
			usage: `
              LandCoverFile is the path to the land cover raster for the
              baseline year.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags(), preprocCmd.Flags()},
		},
		{
			name: "TransitionFiles",
			usage: `
              TransitionFiles is a list of paths to the land cover rasters
              for the transition years, in the same order as TransitionYears.
              All of the rasters must be on the same grid as LandCoverFile.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags(), preprocCmd.Flags()},
		},
		{
			name: "BaselineYear",
			usage: `
              BaselineYear is the year that the LandCoverFile raster
              represents. The simulation starts in this year.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "TransitionYears",
			usage: `
              TransitionYears is the list of years represented by the
              TransitionFiles rasters, in increasing order. Land cover is
              held constant between consecutive years in the list.`,
			defaultVal: []int{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "AnalysisYear",
			usage: `
              AnalysisYear optionally extends the simulation beyond the
              final transition year, holding the final land cover map
              constant. It must be later than the final transition year;
              zero means no extension.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "ClassTable",
			usage: `
              ClassTable is the path to a table (CSV or XLSX) listing the
              land cover classes with columns 'lulc-class', 'code', and
              'is_coastal_blue_carbon_habitat'.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags(), preprocCmd.Flags()},
		},
		{
			name: "InitialStockTable",
			usage: `
              InitialStockTable is the path to a table giving the carbon
              stored in the biomass, soil, and litter pools of each land
              cover class in the baseline year [Mg CO2e/ha].`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "TransientTable",
			usage: `
              TransientTable is the path to a table giving, for the biomass
              and soil pools of each land cover class, the yearly carbon
              accumulation rate [Mg CO2e/ha/yr], the half-life of disturbed
              carbon [yr], and the fractions of stored carbon released by
              low, medium, and high impact disturbances.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "TransitionMatrix",
			usage: `
              TransitionMatrix is the path to a table with one row and one
              column per land cover class stating the carbon fate of each
              land cover change: 'accumulation', one of 'low-', 'med-', or
              'high-impact-disturb', or 'unchanged'. The preproc command
              generates a template for this table.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile is the path where the NetCDF raster of model
              results will be written.`,
			defaultVal: "bluecarbon_output.nc",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "LogFile",
			usage: `
              LogFile is the path to the desired logfile location. If
              LogFile is left blank, the logfile will be saved in the same
              location as OutputFile.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "RowsPerBlock",
			usage: `
              RowsPerBlock sets how many rows of the raster grid are held
              in memory and simulated at a time. Zero means the whole grid
              at once.`,
			defaultVal: 256,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), validateCmd.Flags(), preprocCmd.Flags()},
		},
		{
			name: "OutputVariables",
			usage: `
              OutputVariables specifies additional output rasters to be
              calculated from the standard ones, as a mapping from new
              raster names to expressions, for example
              {"seq_per_price": "total_net_carbon_sequestration / 30"}.
              Expressions may use the functions exp, log, min, and max.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Valuation.Enabled",
			usage: `
              Valuation.Enabled specifies whether to calculate the net
              present value of carbon sequestration.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Valuation.UsePriceTable",
			usage: `
              Valuation.UsePriceTable specifies whether carbon prices come
              from the Valuation.PriceTable file instead of being derived
              from Valuation.Price and Valuation.InterestRate.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Valuation.Price",
			usage: `
              Valuation.Price is the price of carbon in the baseline year
              [currency/Mg CO2e].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Valuation.InterestRate",
			usage: `
              Valuation.InterestRate is the yearly rate of carbon price
              increase [percent].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Valuation.DiscountRate",
			usage: `
              Valuation.DiscountRate is the yearly discount rate applied to
              future value [percent].`,
			defaultVal: 0.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Valuation.PriceTable",
			usage: `
              Valuation.PriceTable is the path to a table with columns
              'year' and 'price' covering every year of the simulation. It
              is only used if Valuation.UsePriceTable is true.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "TransitionTemplate",
			usage: `
              TransitionTemplate is the path where the preproc command
              writes the transition matrix template.`,
			defaultVal: "transitions.csv",
			flagsets:   []*pflag.FlagSet{preprocCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("BLUECARBON")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(validateCmd)
	Root.AddCommand(preprocCmd)
}

// outChan returns a channel that logs the messages sent to it.
func outChan() chan string {
	outChan := make(chan string)
	go func() {
		for {
			msg := <-outChan
			Log.Info(msg)
		}
	}()
	return outChan
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("bluecarbon: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "bluecarbon",
	Short: "A carbon storage model for coastal habitats.",
	Long: `BlueCarbon models the carbon stored in coastal habitats such as salt
marshes, mangroves, and seagrass meadows, and how that storage changes as the
land cover changes over time. Use the subcommands specified below to access
the model functionality.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using command-line
arguments, or by setting environment variables in the format 'BLUECARBON_var'
where 'var' is the name of the variable to be set. Many configuration variables
are additionally allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of BlueCarbon.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("BlueCarbon v%s\n", bluecarbon.Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the model.",
	Long: `run simulates the carbon stored in each grid cell of the study area over
every year between the baseline year and the end of the simulation and writes
the resulting carbon stock, accumulation, emission, and net sequestration
rasters to OutputFile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.TODO()
		outChan := outChan()

		tl, err := timelineFromConfig(Cfg)
		if err != nil {
			return err
		}
		outputFile, err := checkOutputFile(ctx, Cfg.GetString("OutputFile"))
		if err != nil {
			return err
		}
		derived, err := checkDerivedOutputs(GetStringMapString("OutputVariables", Cfg))
		if err != nil {
			return err
		}
		prices, err := priceSchedule(ctx, Cfg, tl, outChan)
		if err != nil {
			return err
		}
		transitionFiles := expandStringSlice(Cfg.GetStringSlice("TransitionFiles"))
		for i := range transitionFiles {
			transitionFiles[i] = maybeDownload(ctx, transitionFiles[i], outChan)
		}

		return Run(
			cmd,
			checkLogFile(Cfg.GetString("LogFile"), outputFile),
			outputFile,
			derived,
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("LandCoverFile")), outChan),
			transitionFiles,
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("ClassTable")), outChan),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("InitialStockTable")), outChan),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("TransientTable")), outChan),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("TransitionMatrix")), outChan),
			tl,
			prices,
			Cfg.GetInt("RowsPerBlock"))
	},
	DisableAutoGenTag: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the model inputs.",
	Long: `validate checks that the configured rasters and tables are consistent with
each other without running the model: the rasters must share one grid, every
land cover code on the rasters must be in the class table, and every observed
land cover change must have a transition matrix entry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.TODO()
		outChan := outChan()

		tl, err := timelineFromConfig(Cfg)
		if err != nil {
			return err
		}
		transitionFiles := expandStringSlice(Cfg.GetStringSlice("TransitionFiles"))
		for i := range transitionFiles {
			transitionFiles[i] = maybeDownload(ctx, transitionFiles[i], outChan)
		}

		return Validate(
			cmd,
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("LandCoverFile")), outChan),
			transitionFiles,
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("ClassTable")), outChan),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("InitialStockTable")), outChan),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("TransientTable")), outChan),
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("TransitionMatrix")), outChan),
			tl,
			Cfg.GetInt("RowsPerBlock"))
	},
	DisableAutoGenTag: true,
}

var preprocCmd = &cobra.Command{
	Use:   "preproc",
	Short: "Generate a transition matrix template.",
	Long: `preproc scans the configured land cover rasters for land cover changes and
writes a transition matrix template to TransitionTemplate, classifying each
observed change from the habitat flags in the class table. Disturbances are
marked with a placeholder that must be replaced with an impact level before
the template can be used in a model run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.TODO()
		outChan := outChan()

		transitionFiles := expandStringSlice(Cfg.GetStringSlice("TransitionFiles"))
		for i := range transitionFiles {
			transitionFiles[i] = maybeDownload(ctx, transitionFiles[i], outChan)
		}

		return Preproc(
			cmd,
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("LandCoverFile")), outChan),
			transitionFiles,
			maybeDownload(ctx, os.ExpandEnv(Cfg.GetString("ClassTable")), outChan),
			os.ExpandEnv(Cfg.GetString("TransitionTemplate")),
			Cfg.GetInt("RowsPerBlock"))
	},
	DisableAutoGenTag: true,
}
