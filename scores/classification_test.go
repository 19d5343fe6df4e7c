// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/stretchr/testify/require"
)

func TestCrossEntropy(t *testing.T) {
	// Each row puts logit 2 on the true class: ce = log(1+exp(-2)) per row.
	testScore(t, "CrossEntropy", CrossEntropy, func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, [][]float64{{2, 0}, {0, 2}})
		return []*Node{Const(g, []int32{0, 1})}, []*Node{logits}
	}, math.Log(1+math.Exp(-2)))
}

// Blended per-class distribution targets reduce by arg-max to the same value
// as hard class indices.
func TestCrossEntropyBlendedTargets(t *testing.T) {
	logitRows := [][]float64{{2, 0}, {0, 2}}
	hard := runScore(t, "CrossEntropyHard", CrossEntropy, func(g *Graph) (labels, outputs []*Node) {
		return []*Node{Const(g, []int32{0, 1})}, []*Node{Const(g, logitRows)}
	})
	blended := runScore(t, "CrossEntropyBlended", CrossEntropy, func(g *Graph) (labels, outputs []*Node) {
		distributions := Const(g, [][]float64{{0.9, 0.1}, {0.2, 0.8}})
		return []*Node{distributions}, []*Node{Const(g, logitRows)}
	})
	require.InDelta(t, hard, blended, 1e-6)
}

func TestSoftCrossEntropy(t *testing.T) {
	// Uniform target over 2 classes with logits {2, 0}:
	// ce = -(0.5*logsoftmax[0] + 0.5*logsoftmax[1]).
	logSumExp := math.Log(math.Exp(2) + 1)
	want := -(0.5*(2-logSumExp) + 0.5*(0-logSumExp))
	testScore(t, "SoftCrossEntropy", SoftCrossEntropy, func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, [][]float64{{2, 0}, {2, 0}})
		target := Const(g, [][]float64{{0.5, 0.5}, {0.5, 0.5}})
		return []*Node{target}, []*Node{logits}
	}, want)
}

func TestBinaryCrossEntropy(t *testing.T) {
	// Zero logits cost ln(2); saturated correct logits cost ~0.
	testScore(t, "BinaryCrossEntropy", BinaryCrossEntropy, func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, []float64{0, 0, 100, -100})
		target := Const(g, []float64{1, 0, 1, 0})
		return []*Node{target}, []*Node{logits}
	}, (math.Ln2+math.Ln2+0+0)/4)
}

func TestWeightedBinaryCrossEntropy(t *testing.T) {
	buildFn := func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, []float64{0.7, -1.3, 2.0, -0.2})
		target := Const(g, []float64{1, 0, 0, 1})
		return []*Node{target}, []*Node{logits}
	}
	// posWeight of 1 reduces to the plain binary cross-entropy.
	unweighted := runScore(t, "BCEReference", BinaryCrossEntropy, buildFn)
	weighted := runScore(t, "WeightedBCEUnit", WeightedBinaryCrossEntropy(1), buildFn)
	require.InDelta(t, unweighted, weighted, 1e-6)

	// With posWeight=2 a zero logit costs 2*ln(2) on positives, ln(2) on negatives.
	testScore(t, "WeightedBCE", WeightedBinaryCrossEntropy(2), func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, []float64{0, 0})
		target := Const(g, []float64{1, 0})
		return []*Node{target}, []*Node{logits}
	}, (2*math.Ln2+math.Ln2)/2)
}

func TestBinaryAccuracy(t *testing.T) {
	testScore(t, "BinaryAccuracy", BinaryAccuracy, func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, []float64{3, -1, 0.5, -2})
		target := Const(g, []float64{1, 0, 0, 1})
		return []*Node{target}, []*Node{logits}
	}, 0.5)

	// A trailing channel axis of dimension 1 is accepted.
	testScore(t, "BinaryAccuracyWithChannel", BinaryAccuracy, func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, [][]float64{{3}, {-1}, {0.5}, {-2}})
		target := Const(g, []float64{1, 0, 0, 1})
		return []*Node{target}, []*Node{logits}
	}, 0.5)
}

func TestAccuracy(t *testing.T) {
	testScore(t, "Accuracy", Accuracy, func(g *Graph) (labels, outputs []*Node) {
		logits := Const(g, [][]float64{
			{3, 1, 0},
			{0, 2, 1},
			{1, 0, 4},
			{2, 5, 0},
		})
		return []*Node{Const(g, []int32{0, 1, 2, 0})}, []*Node{logits}
	}, 0.75)
}

func TestAccuracyAtK(t *testing.T) {
	logitRows := [][]float64{
		{3, 1, 0, 2},
		{0, 2, 1, 3},
		{1, 0, 4, 2},
	}
	buildFn := func(g *Graph) (labels, outputs []*Node) {
		return []*Node{Const(g, []int32{3, 1, 0})}, []*Node{Const(g, logitRows)}
	}
	// True classes rank 2nd, 2nd and 3rd.
	testScore(t, "AccuracyAt1", AccuracyAtK(1), buildFn, 0.0)
	testScore(t, "AccuracyAt2", AccuracyAtK(2), buildFn, 2.0/3)
	testScore(t, "AccuracyAt3", AccuracyAtK(3), buildFn, 1.0)
	// k equal to the number of classes always scores 1.
	testScore(t, "AccuracyAtNumClasses", AccuracyAtK(4), buildFn, 1.0)
}
