// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// logitPair builds two-column logits whose softmax positive-class probability
// is p.
func logitPair(p float64) []float32 {
	return []float32{0, float32(math.Log(p / (1 - p)))}
}

func binaryTensors(labels []int32, positiveProbs []float64) (target, output *tensors.Tensor) {
	logits := make([]float32, 0, 2*len(positiveProbs))
	for _, p := range positiveProbs {
		logits = append(logits, logitPair(p)...)
	}
	target = tensors.FromFlatDataAndDimensions(labels, len(labels))
	output = tensors.FromFlatDataAndDimensions(logits, len(labels), 2)
	return
}

func TestF1Binary(t *testing.T) {
	// Predictions {1,0,1,0} against labels {1,1,0,0}: tp=1, fp=1, fn=1.
	target, output := binaryTensors(
		[]int32{1, 1, 0, 0},
		[]float64{0.9, 0.2, 0.8, 0.1})
	got, err := F1Binary(target, output)
	require.NoError(t, err)
	require.InDelta(t, 0.5, got, 1e-9)
}

func TestF1MacroMicro(t *testing.T) {
	// 3 classes, predictions {0,2,1,2} against labels {0,1,2,2}.
	logits := []float32{
		5, 0, 0,
		0, 1, 3,
		0, 4, 1,
		0, 1, 6,
	}
	target := tensors.FromFlatDataAndDimensions([]int32{0, 1, 2, 2}, 4)
	output := tensors.FromFlatDataAndDimensions(logits, 4, 3)

	// Per class F1: class 0 = 1, class 1 = 0, class 2 = 0.5.
	macro, err := F1Macro(target, output)
	require.NoError(t, err)
	require.InDelta(t, (1.0+0+0.5)/3, macro, 1e-9)

	// Pooled: tp=2, fp=2, fn=2.
	micro, err := F1Micro(target, output)
	require.NoError(t, err)
	require.InDelta(t, 0.5, micro, 1e-9)
}

// Distribution targets reduce by arg-max, matching hard labels.
func TestHostScoresWithDistributionTargets(t *testing.T) {
	_, output := binaryTensors(
		[]int32{1, 1, 0, 0},
		[]float64{0.9, 0.2, 0.8, 0.1})
	distributions := tensors.FromFlatDataAndDimensions([]float32{
		0.1, 0.9,
		0.3, 0.7,
		0.8, 0.2,
		0.6, 0.4,
	}, 4, 2)
	got, err := F1Binary(distributions, output)
	require.NoError(t, err)
	require.InDelta(t, 0.5, got, 1e-9)
}

func TestROCAUC(t *testing.T) {
	// Perfectly separated scores.
	target, output := binaryTensors(
		[]int32{0, 0, 1, 1},
		[]float64{0.1, 0.2, 0.8, 0.9})
	got, err := ROCAUCMacro(target, output)
	require.NoError(t, err)
	require.InDelta(t, 1.0, got, 1e-9)

	// Half the negative/positive pairs are ordered correctly.
	target, output = binaryTensors(
		[]int32{0, 1, 1, 0},
		[]float64{0.1, 0.4, 0.35, 0.8})
	got, err = ROCAUCMicro(target, output)
	require.NoError(t, err)
	require.InDelta(t, 0.5, got, 1e-9)
}

// snapshotBytes copies a tensor's raw contents, so later comparisons see any
// mutation done by a score.
func snapshotBytes(t *testing.T, tensor *tensors.Tensor) []byte {
	var snapshot []byte
	require.NoError(t, tensor.ConstBytes(func(data []byte) {
		snapshot = append([]byte(nil), data...)
	}))
	return snapshot
}

// Host scores read their inputs but never write them, and repeated calls on
// the same tensors return the same value.
func TestHostScoresLeaveInputsIntact(t *testing.T) {
	target, output := binaryTensors(
		[]int32{1, 1, 0, 0},
		[]float64{0.9, 0.2, 0.8, 0.1})
	targetBefore := snapshotBytes(t, target)
	outputBefore := snapshotBytes(t, output)

	for _, score := range []struct {
		name string
		fn   HostFunc
	}{
		{"f1_binary", F1Binary},
		{"roc_auc_macro", ROCAUCMacro},
	} {
		first, err := score.fn(target, output)
		require.NoError(t, err, score.name)
		second, err := score.fn(target, output)
		require.NoError(t, err, score.name)
		require.Equal(t, first, second, "%s changed between identical calls", score.name)
	}

	require.Equal(t, targetBefore, snapshotBytes(t, target), "target mutated")
	require.Equal(t, outputBefore, snapshotBytes(t, output), "output mutated")
}

func TestHostScoreErrors(t *testing.T) {
	// f1_binary and roc_auc require exactly two classes.
	target := tensors.FromFlatDataAndDimensions([]int32{0, 1, 2}, 3)
	output := tensors.FromFlatDataAndDimensions(make([]float32, 9), 3, 3)
	_, err := F1Binary(target, output)
	require.Error(t, err)
	_, err = ROCAUCMacro(target, output)
	require.Error(t, err)

	// Logits without a class axis are rejected.
	flat := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	_, err = F1Macro(target, flat)
	require.Error(t, err)
}
