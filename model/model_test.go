// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
)

func examsBatch(batch, steps, leads int) *tensors.Tensor {
	flat := make([]float32, batch*steps*leads)
	for i := range flat {
		flat[i] = float32(math.Sin(float64(i) * 0.37))
	}
	return tensors.FromFlatDataAndDimensions(flat, batch, steps, leads)
}

func runClassifier(t *testing.T, ctx *context.Context, batch, steps, leads int) *tensors.Tensor {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return ClassifierGraph(ctx, nil, []*Node{x})[0]
	})
	return exec.MustExec1(examsBatch(batch, steps, leads))
}

func TestClassifierGraphShapes(t *testing.T) {
	for _, core := range []string{"lstm", "cnn"} {
		t.Run(core, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParam(ParamCore, core)
			ctx.SetParam(ParamDModel, 8)
			ctx.SetParam(ParamNumBlocks, 2)
			ctx.SetParam(ParamNumConditions, 6)
			logits := runClassifier(t, ctx, 3, 16, 12)
			require.Equal(t, []int{3, 6}, logits.Shape().Dimensions)
		})
	}
}

func TestClassifierGraphPostnorm(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamCore, "cnn")
	ctx.SetParam(ParamDModel, 8)
	ctx.SetParam(ParamNumBlocks, 1)
	ctx.SetParam(ParamPrenorm, false)
	ctx.SetParam(ParamNumConditions, 2)
	logits := runClassifier(t, ctx, 2, 8, 4)
	require.Equal(t, []int{2, 2}, logits.Shape().Dimensions)
}

func TestClassifierGraphNormalizationModes(t *testing.T) {
	for _, norm := range []string{"layer", "batch", "none"} {
		t.Run(norm, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParam(ParamCore, "cnn")
			ctx.SetParam(ParamDModel, 4)
			ctx.SetParam(ParamNumBlocks, 1)
			ctx.SetParam(ParamNormalization, norm)
			ctx.SetParam(ParamNumConditions, 3)
			logits := runClassifier(t, ctx, 2, 8, 4)
			require.Equal(t, []int{2, 3}, logits.Shape().Dimensions)
		})
	}
}

func TestClassifierGraphRejectsBadConfig(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamCore, "transformer")
	require.Panics(t, func() {
		runClassifier(t, ctx, 2, 8, 4)
	})

	require.Panics(t, func() {
		badNorm := context.New()
		badNorm.SetParam(ParamNormalization, "instance")
		runClassifier(t, badNorm, 2, 8, 4)
	})
}
