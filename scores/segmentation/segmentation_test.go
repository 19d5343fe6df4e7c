// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package segmentation

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/stretchr/testify/require"

	"github.com/physioseq/physioseq/scores"
)

// Importing this package registers the segmentation entries.
func TestRegistration(t *testing.T) {
	for _, name := range []string{"iou", "iou_with_logits", "focal_loss"} {
		m, err := scores.Get(name)
		require.NoErrorf(t, err, "Get(%q)", name)
		require.NotNilf(t, m.Graph, "%q must be a graph score", name)
	}
}

func runScore(t *testing.T, name string, fn scores.GraphFunc, buildFn func(g *Graph) (labels, outputs []*Node)) float64 {
	t.Helper()
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, name)
	labels, outputs := buildFn(g)
	g.Compile(fn(labels, outputs))
	return shapes.ConvertTo[float64](g.Run()[0].Value())
}

func TestIoU(t *testing.T) {
	// Thresholded predictions {1,0,1,0} against masks {1,1,0,0}:
	// intersection 1, union 3.
	got := runScore(t, "IoU", IoU, func(g *Graph) (labels, outputs []*Node) {
		masks := Const(g, []float64{1, 1, 0, 0})
		probabilities := Const(g, []float64{0.9, 0.2, 0.8, 0.1})
		return []*Node{masks}, []*Node{probabilities}
	})
	require.InDelta(t, 1.0/3, got, 1e-3)

	// Same predictions from logits through a sigmoid.
	got = runScore(t, "IoUWithLogits", IoUWithLogits, func(g *Graph) (labels, outputs []*Node) {
		masks := Const(g, []float64{1, 1, 0, 0})
		logits := Const(g, []float64{2, -2, 2, -2})
		return []*Node{masks}, []*Node{logits}
	})
	require.InDelta(t, 1.0/3, got, 1e-3)
}

func TestFocalLoss(t *testing.T) {
	// Zero logits: bce=ln2, pt=0.5, modulation 0.25; alpha weights 0.25 and
	// 0.75 for the positive and negative element.
	got := runScore(t, "FocalLoss", FocalLoss, func(g *Graph) (labels, outputs []*Node) {
		masks := Const(g, []float64{1, 0})
		logits := Const(g, []float64{0, 0})
		return []*Node{masks}, []*Node{logits}
	})
	want := (0.25*0.25*math.Ln2 + 0.75*0.25*math.Ln2) / 2
	require.InDelta(t, want, got, 1e-6)

	// Confident correct predictions contribute almost nothing.
	got = runScore(t, "FocalLossEasy", FocalLoss, func(g *Graph) (labels, outputs []*Node) {
		masks := Const(g, []float64{1, 0})
		logits := Const(g, []float64{12, -12})
		return []*Node{masks}, []*Node{logits}
	})
	require.Less(t, got, 1e-6)
}
