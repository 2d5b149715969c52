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
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/bluecarbon"
	"github.com/spf13/cobra"
)

// Log is the logger used by the blcutil commands.
var Log logrus.FieldLogger = logrus.StandardLogger()

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Run runs a carbon simulation.
//
// CobraCommand is the cobra.Command instance where Run is called from.
//
// LogFile is the path to the desired logfile location.
//
// OutputFile is the path to the desired output NetCDF raster location.
// It can be a local path or a blob storage location.
//
// DerivedOutputs specifies extra output rasters to calculate from the
// standard ones, as a mapping from raster names to arithmetic
// expressions.
//
// BaselineFile is the path to the baseline land cover raster and
// TransitionFiles are the paths to the transition-year rasters, in the
// same order as the timeline years.
//
// ClassFile, InitialFile, TransientFile, and MatrixFile are the paths
// to the tables describing the land cover classes, their baseline
// carbon stocks, their carbon dynamics, and the carbon fate of each
// land cover change, respectively.
//
// tl lays out the snapshot years of the simulation.
//
// prices holds the carbon price for each timestep; if it is nil, no net
// present value is calculated.
//
// rowsPerBlock sets how many grid rows are simulated at a time.
func Run(CobraCommand *cobra.Command, LogFile, OutputFile string, DerivedOutputs map[string]string,
	BaselineFile string, TransitionFiles []string,
	ClassFile, InitialFile, TransientFile, MatrixFile string,
	tl *bluecarbon.Timeline, prices *bluecarbon.PriceSchedule, rowsPerBlock int) error {

	startTime := time.Now()
	ctx := context.TODO()

	var upload uploader

	// Start functions to receive and print log messages.
	logfile, err := os.Create(upload.maybeUpload(LogFile))
	if err != nil {
		return fmt.Errorf("blcutil: problem creating log file: %v", err)
	}
	mw := io.MultiWriter(CobraCommand.OutOrStdout(), logfile)
	logrus.SetOutput(mw)
	cLog := make(chan *bluecarbon.BlockStatus)
	cLogTick := time.Tick(2 * time.Second)
	msgLog := make(chan string)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		for msg := range cLog {
			select {
			case <-cLogTick:
				Log.Info(msg.String())
			default:
				runtime.Gosched()
			}
		}
		wg.Done()
	}()
	go func() {
		for msg := range msgLog {
			Log.Info(msg)
		}
		wg.Done()
	}()

	defer func() { // Wait for the logging to finish.
		close(cLog)
		close(msgLog)
		wg.Wait()
		logfile.Close()
	}()

	Log.Info("Reading input tables...")
	classes, err := bluecarbon.ReadClassTableFile(ClassFile)
	if err != nil {
		return err
	}
	initial, err := bluecarbon.ReadInitialStockTableFile(InitialFile)
	if err != nil {
		return err
	}
	transient, err := bluecarbon.ReadTransientTableFile(TransientFile)
	if err != nil {
		return err
	}
	matrix, err := bluecarbon.ReadTransitionMatrixFile(MatrixFile)
	if err != nil {
		return err
	}
	lookup, err := bluecarbon.NewCarbonLookup(classes, initial, transient, matrix)
	if err != nil {
		return err
	}

	Log.Info("Opening land cover rasters...")
	lc, err := bluecarbon.OpenLandCover(tl, BaselineFile, TransitionFiles)
	if err != nil {
		return err
	}

	o, err := bluecarbon.NewOutputter(upload.maybeUpload(OutputFile), lc.Grid, tl, prices != nil, DerivedOutputs)
	if err != nil {
		return err
	}

	if upload.err != nil {
		return upload.err
	}

	var totals bluecarbon.Totals
	s := &bluecarbon.Simulation{
		LandCover:    lc,
		Lookup:       lookup,
		Timeline:     tl,
		Prices:       prices,
		RowsPerBlock: rowsPerBlock,
		InitFuncs: []bluecarbon.SimulationManipulator{
			bluecarbon.CheckInputs(ctx),
			bluecarbon.SplitGrid(),
			o.CreateOutputs(),
		},
		RunFuncs: []bluecarbon.SimulationManipulator{
			bluecarbon.Log(cLog),
			bluecarbon.SimulateBlock(ctx, msgLog),
			o.OutputBlock(),
			totals.Accumulate(),
			bluecarbon.NextBlock(),
		},
		CleanupFuncs: []bluecarbon.SimulationManipulator{
			o.CloseOutputs(),
			totals.Report(msgLog),
			upload.uploadOutput,
		},
	}

	Log.Info("Initializing model...")
	if err := s.Init(); err != nil {
		return fmt.Errorf("blcutil: problem initializing model: %v", err)
	}

	Log.Info("Simulating carbon stocks...")
	if err := s.Run(); err != nil {
		return fmt.Errorf("blcutil: problem running simulation: %v", err)
	}

	if err := s.Cleanup(); err != nil {
		return fmt.Errorf("blcutil: problem shutting down model: %v", err)
	}

	Log.Infof("Elapsed time: %.3g minutes", time.Since(startTime).Minutes())
	return nil
}

// Validate checks that the model inputs are consistent with each other
// without running the model. The parameters have the same meanings as
// for Run.
func Validate(CobraCommand *cobra.Command, BaselineFile string, TransitionFiles []string,
	ClassFile, InitialFile, TransientFile, MatrixFile string,
	tl *bluecarbon.Timeline, rowsPerBlock int) error {

	ctx := context.TODO()

	classes, err := bluecarbon.ReadClassTableFile(ClassFile)
	if err != nil {
		return err
	}
	initial, err := bluecarbon.ReadInitialStockTableFile(InitialFile)
	if err != nil {
		return err
	}
	transient, err := bluecarbon.ReadTransientTableFile(TransientFile)
	if err != nil {
		return err
	}
	matrix, err := bluecarbon.ReadTransitionMatrixFile(MatrixFile)
	if err != nil {
		return err
	}
	lookup, err := bluecarbon.NewCarbonLookup(classes, initial, transient, matrix)
	if err != nil {
		return err
	}
	lc, err := bluecarbon.OpenLandCover(tl, BaselineFile, TransitionFiles)
	if err != nil {
		return err
	}
	if err := bluecarbon.ValidateInputs(ctx, lc, lookup, tl, rowsPerBlock); err != nil {
		return err
	}
	CobraCommand.Println("The model inputs are valid.")
	return nil
}

// Preproc scans the land cover rasters for land cover changes and
// writes a transition matrix template to TemplateFile. The other
// parameters have the same meanings as for Run.
func Preproc(CobraCommand *cobra.Command, BaselineFile string, TransitionFiles []string,
	ClassFile, TemplateFile string, rowsPerBlock int) error {

	ctx := context.TODO()

	var upload uploader

	classes, err := bluecarbon.ReadClassTableFile(ClassFile)
	if err != nil {
		return err
	}
	w, err := os.Create(upload.maybeUpload(TemplateFile))
	if err != nil {
		return fmt.Errorf("blcutil: problem creating transition matrix template: %v", err)
	}
	if upload.err != nil {
		return upload.err
	}
	if err := bluecarbon.Preprocess(ctx, classes, BaselineFile, TransitionFiles, w, rowsPerBlock); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("blcutil: problem writing transition matrix template: %v", err)
	}
	if err := upload.uploadOutput(nil); err != nil {
		return err
	}
	Log.Infof("Wrote transition matrix template to %s", TemplateFile)
	return nil
}
