// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

// Package model builds the sequence-classifier graph: a linear encoder lifts
// the raw leads to the model dimension, a stack of residual blocks with a
// pluggable sequence core (lstm or cnn) processes the timesteps, mean
// pooling over time collapses the sequence, and a feedforward head emits one
// logit per condition.
package model

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/layers/lstm"

	"github.com/physioseq/physioseq/ecg"
)

// Context hyperparameter names; see CreateDefaultContext in the harness
// package for the defaults.
const (
	ParamCore            = "core"
	ParamDModel          = "d_model"
	ParamNumBlocks       = "num_blocks"
	ParamPrenorm         = "prenorm"
	ParamNormalization   = "normalization"
	ParamNumConditions   = "num_conditions"
	ParamNormalizeInputs = "normalize_inputs"
	ParamKernelSize      = "kernel_size"
)

// CoreFn transforms a [batch, steps, dModel] sequence into another sequence
// of the same shape.
type CoreFn func(ctx *context.Context, x *Node) *Node

// ValidCores maps the supported values of the "core" hyperparameter.
var ValidCores = map[string]CoreFn{
	"lstm": lstmCore,
	"cnn":  cnnCore,
}

func lstmCore(ctx *context.Context, x *Node) *Node {
	dModel := x.Shape().Dimensions[x.Rank()-1]
	allHiddenStates, _, _ := lstm.New(ctx, x, dModel).Done()
	return allHiddenStates
}

func cnnCore(ctx *context.Context, x *Node) *Node {
	dModel := x.Shape().Dimensions[x.Rank()-1]
	kernelSize := context.GetParamOr(ctx, ParamKernelSize, 7)
	x = layers.Convolution(ctx, x).KernelSize(kernelSize).Channels(dModel).Strides(1).PadSame().Done()
	return activations.ApplyFromContext(ctx, x)
}

// normalizeSequence applies the normalization selected by the
// "normalization" hyperparameter to a rank-3 sequence.
func normalizeSequence(ctx *context.Context, x *Node) *Node {
	x.AssertRank(3)
	switch norm := context.GetParamOr(ctx, ParamNormalization, "layer"); norm {
	case "layer":
		return layers.LayerNormalization(ctx, x, -1).Done()
	case "batch":
		return batchnorm.New(ctx, x, -1).Done()
	case "none", "":
		return x
	default:
		Panicf("invalid %q hyperparameter %q -- valid values are \"layer\", \"batch\", \"none\" or \"\"", ParamNormalization, norm)
	}
	return nil
}

// ClassifierGraph builds the classifier for a [batch, numSamples, numLeads]
// batch of exams and returns the [batch, numConditions] logits. It follows
// the train.ModelFn signature.
func ClassifierGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	exams := inputs[0]
	if exams.Rank() != 3 {
		Panicf("classifier expects [batch, numSamples, numLeads] input, got shape %s", exams.Shape())
	}
	g := exams.Graph()
	if context.GetParamOr(ctx, ParamNormalizeInputs, true) {
		exams = ecg.MinMaxNormalize(exams)
	}

	dModel := context.GetParamOr(ctx, ParamDModel, 64)
	x := layers.DenseWithBias(ctx.In("encoder"), exams, dModel)

	coreName := context.GetParamOr(ctx, ParamCore, "lstm")
	coreFn, found := ValidCores[coreName]
	if !found {
		Panicf("invalid %q hyperparameter %q -- valid values are \"lstm\" or \"cnn\"", ParamCore, coreName)
	}

	var dropoutNode *Node
	if rate := context.GetParamOr(ctx, layers.ParamDropoutRate, 0.0); rate > 0 {
		dropoutNode = Scalar(g, exams.DType(), rate)
	}

	prenorm := context.GetParamOr(ctx, ParamPrenorm, true)
	numBlocks := context.GetParamOr(ctx, ParamNumBlocks, 4)
	for blockIdx := range numBlocks {
		ctx := ctx.Inf("%03d_block", blockIdx)
		residual := x
		if prenorm {
			x = normalizeSequence(ctx, x)
		}
		x = coreFn(ctx.In("core"), x)
		if dropoutNode != nil {
			x = layers.Dropout(ctx, x, dropoutNode)
		}
		if residual.Shape().Equal(x.Shape()) {
			x = Add(x, residual)
		}
		if !prenorm {
			x = normalizeSequence(ctx, x)
		}
	}

	// [batch, steps, dModel] -> [batch, dModel].
	x = ReduceMean(x, 1)

	numConditions := context.GetParamOr(ctx, ParamNumConditions, 6)
	logits := fnn.New(ctx.In("decoder"), x, numConditions).Done()
	return []*Node{logits}
}
