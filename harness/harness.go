// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

// Package harness orchestrates training and evaluation of the sequence
// classifier: it loads the exams, builds the trainer around the configured
// loss and metrics from the scores registry, runs epochs with per-epoch
// evaluation (including the host-side scores), tracks the metric history and
// keeps a checkpoint of the best model.
package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/physioseq/physioseq/ecg"
	"github.com/physioseq/physioseq/model"
	"github.com/physioseq/physioseq/scores"
)

// ParamsExcludedFromLoading are hyperparameters never restored from a
// checkpoint, so they can be changed between sessions.
var ParamsExcludedFromLoading = []string{
	"epochs", "num_checkpoints", "best_metric",
}

// CreateDefaultContext returns a context with the default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"epochs":          10,
		"batch_size":      32,
		"eval_batch_size": 256,
		"num_checkpoints": 3,

		// Loss and metrics, by registry name (see scores.Names()).
		"loss":          "binary_cross_entropy",
		"pos_weight":    6.0, // Positive-class weight for the binary cross-entropy; <= 1 disables weighting.
		"train_metrics": "binary_accuracy",
		"eval_metrics":  "eval_loss,binary_accuracy,recall_multilabel,precision_multilabel,specificity_multilabel",
		// Host-side scores, evaluated once per epoch over the whole validation set.
		"host_metrics": "",

		// Metric (from eval_metrics/host_metrics) used to pick the best epoch.
		"best_metric": "binary_accuracy",

		// Validation split.
		"val_fraction": 0.2,
		"split_seed":   42,

		// Model.
		model.ParamCore:            "lstm",
		model.ParamDModel:          64,
		model.ParamNumBlocks:       4,
		model.ParamPrenorm:         true,
		model.ParamNumConditions:   6,
		model.ParamNormalizeInputs: true,
		model.ParamKernelSize:      7,

		layers.ParamNormalization:       "layer",
		layers.ParamDropoutRate:         0.1,
		activations.ParamActivation:     "",
		optimizers.ParamOptimizer:       "adamw",
		optimizers.ParamLearningRate:    1e-3,
		cosineschedule.ParamPeriodSteps: 0,
	})
	return ctx
}

// Config carries the file-system side of a run; hyperparameters live in the
// context.
type Config struct {
	// TracingsPath is the HDF5 archive, GroupPath the dataset within it.
	TracingsPath string
	GroupPath    string
	// LabelsPath is the CSV label table.
	LabelsPath string
	// DataDir anchors relative checkpoint paths; CheckpointPath enables
	// checkpointing when non-empty.
	DataDir        string
	CheckpointPath string
	// HistoryCSVPath, when non-empty, receives the per-epoch metric table.
	HistoryCSVPath string
	// ParamsSet lists hyperparameters set on the command line, excluded from
	// checkpoint loading.
	ParamsSet []string
	Verbosity int
}

// Run trains the classifier according to ctx and config and returns the
// per-epoch metric history.
func Run(ctx *context.Context, config Config) (*History, error) {
	backend := backends.MustNew()
	if config.Verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}

	data, err := ecg.Load(config.TracingsPath, config.GroupPath, config.LabelsPath)
	if err != nil {
		return nil, err
	}
	valFraction := context.GetParamOr(ctx, "val_fraction", 0.2)
	splitSeed := context.GetParamOr(ctx, "split_seed", 42)
	trainData, valData, err := data.Split(valFraction, int64(splitSeed))
	if err != nil {
		return nil, err
	}

	batchSize := context.GetParamOr(ctx, "batch_size", 0)
	if batchSize <= 0 {
		return nil, errors.Errorf("batch_size must be > 0, got %d", batchSize)
	}
	evalBatchSize := context.GetParamOr(ctx, "eval_batch_size", 0)
	if evalBatchSize <= 0 {
		evalBatchSize = batchSize
	}

	trainBase, err := ecg.InMemoryDataset(backend, "train", trainData)
	if err != nil {
		return nil, err
	}
	valBase, err := ecg.InMemoryDataset(backend, "validation", valData)
	if err != nil {
		return nil, err
	}
	trainDS := trainBase.Copy().BatchSize(batchSize, true).Shuffle()
	trainEvalDS := trainBase.Copy().SetName("train-eval").BatchSize(evalBatchSize, false)
	valEvalDS := valBase.Copy().SetName("validation-eval").BatchSize(evalBatchSize, false)

	// Loss and metrics from the registry.
	lossName := context.GetParamOr(ctx, "loss", "binary_cross_entropy")
	baseLoss, err := ResolveLoss(lossName)
	if err != nil {
		return nil, err
	}
	if posWeight := context.GetParamOr(ctx, "pos_weight", 0.0); posWeight > 1 {
		if lossName != "binary_cross_entropy" {
			return nil, errors.Errorf("pos_weight is only supported with the binary_cross_entropy loss, got %q", lossName)
		}
		baseLoss = scores.WeightedBinaryCrossEntropy(posWeight)
	}
	trainMetrics, trainHost, err := ResolveMetrics(paramList(ctx, "train_metrics"), baseLoss)
	if err != nil {
		return nil, err
	}
	if len(trainHost) > 0 {
		return nil, errors.Errorf("host scores cannot run per train step, move them to host_metrics")
	}
	evalMetrics, evalHost, err := ResolveMetrics(paramList(ctx, "eval_metrics"), baseLoss)
	if err != nil {
		return nil, err
	}
	_, hostOnly, err := ResolveMetrics(paramList(ctx, "host_metrics"), baseLoss)
	if err != nil {
		return nil, err
	}
	hostMetrics := append(evalHost, hostOnly...)

	// Checkpoints.
	var checkpoint *checkpoints.Handler
	if config.CheckpointPath != "" {
		dataDir := fsutil.MustReplaceTildeInDir(config.DataDir)
		numCheckpoints := context.GetParamOr(ctx, "num_checkpoints", 3)
		checkpoint, err = checkpoints.Build(ctx).
			DirFromBase(config.CheckpointPath, dataDir).
			Keep(numCheckpoints).
			ExcludeParams(append(config.ParamsSet, ParamsExcludedFromLoading...)...).
			Done()
		if err != nil {
			return nil, err
		}
		if config.Verbosity >= 1 {
			fmt.Printf("Checkpoint: %q\n", checkpoint.Dir())
		}
	}
	if config.Verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}

	modelCtx := ctx.In("model")
	trainer := train.NewTrainer(backend, modelCtx, model.ClassifierGraph,
		train.LossFn(baseLoss),
		optimizers.FromContext(modelCtx),
		trainMetrics,
		evalMetrics)

	loop := train.NewLoop(trainer)
	if config.Verbosity >= 0 {
		commandline.AttachProgressBar(loop)
	}
	if checkpoint != nil {
		train.PeriodicCallback(loop, 3*time.Minute, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	var hostEvaluator *HostEvaluator
	if len(hostMetrics) > 0 {
		hostEvaluator = NewHostEvaluator(backend, modelCtx, model.ClassifierGraph, hostMetrics)
	}
	bestMetric := context.GetParamOr(ctx, "best_metric", "")
	// Losses go down, everything else up.
	bestHigherIsBetter := !strings.Contains(bestMetric, "loss")

	history := &History{}
	numEpochs := context.GetParamOr(ctx, "epochs", 0)
	if numEpochs <= 0 {
		return nil, errors.Errorf("epochs must be > 0, got %d", numEpochs)
	}
	for epoch := 0; epoch < numEpochs; epoch++ {
		if _, err := loop.RunEpochs(trainDS, 1); err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch)
		}

		values := make(map[string]float64)
		if err := evalInto(trainer, trainEvalDS, "train_", values); err != nil {
			return nil, err
		}
		if err := evalInto(trainer, valEvalDS, "val_", values); err != nil {
			return nil, err
		}
		if hostEvaluator != nil {
			hostValues, err := hostEvaluator.Eval(valEvalDS)
			if err != nil {
				return nil, err
			}
			for name, v := range hostValues {
				values["val_"+name] = v
			}
		}
		history.Append(epoch, values)
		if config.Verbosity >= 1 {
			reportEpoch(epoch, values)
		}

		// Keep the checkpoint of the best epoch.
		if checkpoint != nil && bestMetric != "" {
			best, bestEpoch, found := history.Best("val_"+bestMetric, bestHigherIsBetter)
			if found && bestEpoch == epoch {
				klog.V(1).Infof("epoch %d: new best val_%s=%g, saving checkpoint",
					epoch, bestMetric, best)
				if err := checkpoint.Save(); err != nil {
					return nil, errors.WithMessagef(err, "saving checkpoint at epoch %d", epoch)
				}
			}
		}
	}

	if config.Verbosity >= 1 {
		if err := commandline.ReportEval(trainer, trainEvalDS, valEvalDS); err != nil {
			return nil, errors.WithMessage(err, "final evaluation")
		}
	}
	if config.HistoryCSVPath != "" {
		if err := history.SaveCSV(config.HistoryCSVPath); err != nil {
			return nil, err
		}
		if config.Verbosity >= 1 {
			fmt.Printf("History: %q\n", config.HistoryCSVPath)
		}
	}
	return history, nil
}

// evalInto runs the trainer's eval metrics over ds and stores them in values
// with the given prefix.
func evalInto(trainer *train.Trainer, ds train.Dataset, prefix string, values map[string]float64) error {
	ds.Reset()
	results, err := trainer.Eval(ds)
	if err != nil {
		return errors.WithMessagef(err, "evaluating dataset %q", ds.Name())
	}
	for i, metric := range trainer.EvalMetrics() {
		values[prefix+metric.Name()] = shapes.ConvertTo[float64](results[i].Value())
	}
	return nil
}

func reportEpoch(epoch int, values map[string]float64) {
	fmt.Printf("Epoch %d:\n", epoch)
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("\t%s: %.4f\n", name, values[name])
	}
}

// paramList splits a comma-separated hyperparameter into names, dropping
// empties.
func paramList(ctx *context.Context, param string) []string {
	var names []string
	for _, name := range strings.Split(context.GetParamOr(ctx, param, ""), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// MustRun is Run, panicking on error. Convenient for command-line wrappers
// that handle panics with exceptions.TryCatch.
func MustRun(ctx *context.Context, config Config) *History {
	history, err := Run(ctx, config)
	if err != nil {
		exceptions.Panicf("training run failed: %+v", err)
	}
	return history
}
