// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

// Package scores is a registry of interchangeable scoring functions for
// training and evaluating sequence models on physiological time-series:
// likelihood losses with constrained output heads, classification and
// regression scores, confusion-matrix ratios, and scores derived from the
// active training loss.
//
// Every score is looked up by name through Get, so model configurations can
// select losses and evaluation metrics as plain strings. Scores come in three
// kinds:
//
//   - Graph scores build their computation into the accelerator graph and
//     compose with autodiff, so they can serve as a training loss.
//   - Host scores (F1, ROC-AUC) run on materialized tensors on the host.
//     They force a device synchronization, so they belong in periodic
//     evaluation rather than the per-step hot path.
//   - Loss-derived scores (bits-per-byte, perplexity) are parameterized by
//     the base loss and are bound to it at setup time.
//
// Optional score families live in sub-packages that register themselves on
// import: a blank import of scores/segmentation adds the segmentation
// entries, and builds that skip the import simply don't have those names.
package scores

import (
	"sort"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// GraphFunc computes a scalar score inside the computation graph.
//
// labels[0] is the target tensor; some scores read extra tensors from the
// tail of labels (e.g. per-example valid lengths). outputs are the model's
// predictions, outputs[0] being the main head. Shape mismatches panic with
// an informative message, since they are bugs in the model wiring.
type GraphFunc func(labels, outputs []*Node) *Node

// HostFunc computes a score from materialized target and output tensors on
// the host. Used for scores with data-dependent control flow (sorting,
// thresholds sweeps) that don't fit the graph.
type HostFunc func(target, output *tensors.Tensor) (float64, error)

// FromLossFunc computes a score as a transformation of the configured base
// loss. The loss argument is supplied when the score is bound to a training
// setup.
type FromLossFunc func(labels, outputs []*Node, loss GraphFunc) *Node

// Metric is one registry entry. Exactly one of Graph, Host or FromLoss is
// set; the populated field determines where and when the score can run.
type Metric struct {
	Name     string
	Graph    GraphFunc
	Host     HostFunc
	FromLoss FromLossFunc
}

// OnHost reports whether the metric runs on materialized host tensors.
func (m Metric) OnHost() bool { return m.Host != nil }

// NeedsLoss reports whether the metric must be bound to a base loss before
// it can be evaluated.
func (m Metric) NeedsLoss() bool { return m.FromLoss != nil }

var registry = make(map[string]Metric)

// Register adds a metric to the registry. It is meant to be called from
// package init functions; registering a duplicate name or a metric without
// exactly one function set panics.
func Register(m Metric) {
	if m.Name == "" {
		Panicf("scores.Register: metric has no name")
	}
	numSet := 0
	for _, set := range []bool{m.Graph != nil, m.Host != nil, m.FromLoss != nil} {
		if set {
			numSet++
		}
	}
	if numSet != 1 {
		Panicf("scores.Register(%q): exactly one of Graph, Host or FromLoss must be set, got %d", m.Name, numSet)
	}
	if _, found := registry[m.Name]; found {
		Panicf("scores.Register(%q): name already registered", m.Name)
	}
	registry[m.Name] = m
}

// Get returns the metric registered under name.
func Get(name string) (Metric, error) {
	m, found := registry[name]
	if !found {
		return Metric{}, errors.Errorf("no score registered under %q -- registered names: %v", name, Names())
	}
	return m, nil
}

// Names returns the sorted names of all registered metrics.
func Names() []string {
	names := maps.Keys(registry)
	sort.Strings(names)
	return names
}

func init() {
	for _, m := range []Metric{
		// Likelihood losses with constrained output heads.
		{Name: "student_t", Graph: StudentT},
		{Name: "gaussian_ll", Graph: GaussianLogLikelihood},

		// Classification.
		{Name: "cross_entropy", Graph: CrossEntropy},
		{Name: "soft_cross_entropy", Graph: SoftCrossEntropy},
		{Name: "binary_cross_entropy", Graph: BinaryCrossEntropy},
		{Name: "binary_accuracy", Graph: BinaryAccuracy},
		{Name: "accuracy", Graph: Accuracy},
		{Name: "accuracy@1", Graph: AccuracyAtK(1)},
		{Name: "accuracy@3", Graph: AccuracyAtK(3)},
		{Name: "accuracy@5", Graph: AccuracyAtK(5)},
		{Name: "accuracy@10", Graph: AccuracyAtK(10)},

		// Regression.
		{Name: "mse", Graph: MeanSquaredError},
		{Name: "mae", Graph: MeanAbsoluteError},
		{Name: "forecast_rmse", Graph: ForecastRMSE},

		// Confusion-matrix ratios over thresholded logits.
		{Name: "recall_binary", Graph: RecallBinary},
		{Name: "precision_binary", Graph: PrecisionBinary},
		{Name: "specificity_binary", Graph: SpecificityBinary},
		{Name: "recall_multilabel", Graph: RecallMultilabel},
		{Name: "precision_multilabel", Graph: PrecisionMultilabel},
		{Name: "specificity_multilabel", Graph: SpecificityMultilabel},

		// Host-side scores.
		{Name: "f1_binary", Host: F1Binary},
		{Name: "f1_macro", Host: F1Macro},
		{Name: "f1_micro", Host: F1Micro},
		{Name: "roc_auc_macro", Host: ROCAUCMacro},
		{Name: "roc_auc_micro", Host: ROCAUCMicro},

		// Scores derived from the configured base loss.
		{Name: "loss", FromLoss: Loss},
		{Name: "eval_loss", FromLoss: Loss},
		{Name: "bpb", FromLoss: BitsPerByte},
		{Name: "ppl", FromLoss: Perplexity},
	} {
		Register(m)
	}
}
