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

package blcutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/bluecarbon"
	"github.com/spf13/cast"
)

// timelineFromConfig builds the snapshot-year timeline from the
// BaselineYear, TransitionYears, and AnalysisYear configuration
// variables.
func timelineFromConfig(cfg *viper.Viper) (*bluecarbon.Timeline, error) {
	transitionYears, err := toIntSliceE(cfg.Get("TransitionYears"))
	if err != nil {
		return nil, fmt.Errorf("blcutil: parsing config variable TransitionYears: %v", err)
	}
	return bluecarbon.NewTimeline(cfg.GetInt("BaselineYear"), transitionYears, cfg.GetInt("AnalysisYear"))
}

// priceSchedule builds the per-timestep carbon price schedule from the
// Valuation configuration variables. It returns nil if valuation is
// not enabled.
func priceSchedule(ctx context.Context, cfg *viper.Viper, tl *bluecarbon.Timeline, c chan string) (*bluecarbon.PriceSchedule, error) {
	if !cfg.GetBool("Valuation.Enabled") {
		return nil, nil
	}
	if cfg.GetBool("Valuation.UsePriceTable") {
		fname := os.ExpandEnv(cfg.GetString("Valuation.PriceTable"))
		if fname == "" {
			return nil, fmt.Errorf("blcutil: Valuation.UsePriceTable is set but Valuation.PriceTable is not")
		}
		table, err := bluecarbon.ReadPriceTableFile(maybeDownload(ctx, fname, c))
		if err != nil {
			return nil, err
		}
		return bluecarbon.NewPriceTableSchedule(tl, table, cfg.GetFloat64("Valuation.DiscountRate"))
	}
	return bluecarbon.NewPriceSchedule(tl, cfg.GetFloat64("Valuation.Price"),
		cfg.GetFloat64("Valuation.InterestRate"), cfg.GetFloat64("Valuation.DiscountRate"))
}

// checkDerivedOutputs removes end lines and expands environment
// variables in the user-defined output expressions.
func checkDerivedOutputs(vars map[string]string) (map[string]string, error) {
	for k, v := range vars {
		v = strings.Replace(v, "\r\n", " ", -1)
		v = strings.Replace(v, "\n", " ", -1)
		vars[os.ExpandEnv(k)] = os.ExpandEnv(v)
	}
	return vars, nil
}

// expandStringSlice expands the environment variables in a slice of strings.
func expandStringSlice(s []string) []string {
	for i := 0; i < len(s); i++ {
		s[i] = os.ExpandEnv(s[i])
	}
	return s
}

// checkOutputFile makes sure that the output file is specified and that its
// directory or blob storage bucket exists, and expands any environment
// variables.
func checkOutputFile(ctx context.Context, f string) (string, error) {
	if f == "" {
		return "", fmt.Errorf(`you need to specify an output file configuration variable (for example: OutputFile="bluecarbon_output.nc")`)
	}
	f = os.ExpandEnv(f)
	if IsBlob(f) {
		url, err := url.Parse(f)
		if err != nil {
			return f, err
		}
		if _, err := OpenBucket(ctx, url.Scheme+"://"+url.Host); err != nil {
			return f, fmt.Errorf("blcutil: error when checking OutputFile location: %v", err)
		}
		return f, nil
	}
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("blcutil: the OutputFile directory doesn't exist: %v", err)
	}
	return f, nil
}

// checkLogFile fills in a default value for the log file path if one isn't
// specified.
func checkLogFile(logFile, outputFile string) string {
	if logFile == "" {
		logFile = strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".log"
	}
	return logFile
}

func toIntSliceE(s interface{}) ([]int, error) {
	if v, ok := s.([]int); ok {
		return v, nil
	}
	if v, ok := s.([]interface{}); ok {
		o := make([]int, len(v))
		for i, val := range v {
			iv, err := cast.ToIntE(val)
			if err != nil {
				return nil, err
			}
			o[i] = iv
		}
		return o, nil
	}
	var o []int
	if err := json.Unmarshal([]byte(s.(string)), &o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func GetStringMapString(varName string, cfg *viper.Viper) map[string]string {
	i := cfg.Get(varName)
	switch i.(type) {
	case map[string]string:
		return i.(map[string]string)
	case map[string]interface{}:
		return cast.ToStringMapString(i)
	case string:
		b := bytes.NewBuffer(([]byte)(i.(string)))
		d := json.NewDecoder(b)
		o := make(map[string]string)
		if err := d.Decode(&o); err != nil {
			panic(err)
		}
		return o
	default:
		panic(fmt.Errorf("invalid type for GetStringMapString variable %s: %#v", varName, i))
	}
}
