// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

// physioseq trains a sequence classifier on ECG tracings.
//
// It expects the tracings in an HDF5 archive and the condition labels in a
// CSV table. Hyperparameters are set with -set, e.g.:
//
//	physioseq -tracings ecg.hdf5 -labels labels.csv -set "core=cnn;num_blocks=2"
package main

import (
	"flag"
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/physioseq/physioseq/harness"

	_ "github.com/gomlx/gomlx/backends/default"
	_ "github.com/physioseq/physioseq/scores/segmentation"
)

var (
	flagTracings   = flag.String("tracings", "", "HDF5 file with the ECG tracings.")
	flagGroup      = flag.String("group", "tracings", "Name of the HDF5 dataset holding the tracings.")
	flagLabels     = flag.String("labels", "", "CSV file with the condition labels.")
	flagDataDir    = flag.String("data", "~/tmp/physioseq", "Directory for generated files; relative checkpoint paths are anchored here.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from. If left empty, no checkpoints are created.")
	flagHistory    = flag.String("history", "", "CSV file to write the per-epoch metric history to. If left empty, no history is written.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	ctx := harness.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	if *flagTracings == "" || *flagLabels == "" {
		klog.Exit("Both -tracings and -labels are required.")
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	err := exceptions.TryCatch[error](func() {
		history := harness.MustRun(ctx, harness.Config{
			TracingsPath:   *flagTracings,
			GroupPath:      *flagGroup,
			LabelsPath:     *flagLabels,
			DataDir:        *flagDataDir,
			CheckpointPath: *flagCheckpoint,
			HistoryCSVPath: *flagHistory,
			ParamsSet:      paramsSet,
			Verbosity:      *flagVerbosity,
		})
		fmt.Printf("Trained %d epochs.\n", len(history.Records))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
