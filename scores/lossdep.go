// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// scalarize reduces a non-scalar loss value to its mean, so loss-derived
// scores always report a single number.
func scalarize(value *Node) *Node {
	if value.Shape().IsScalar() {
		return value
	}
	return ReduceAllMean(value)
}

// Loss reports the bound base loss unchanged. Registered as both "loss" and
// "eval_loss": the latter gives evaluation runs a stable name for the task
// loss even when training adds regularization terms on top.
func Loss(labels, outputs []*Node, loss GraphFunc) *Node {
	return scalarize(loss(labels, outputs))
}

// BitsPerByte rescales a natural-log loss to base-2 bits.
func BitsPerByte(labels, outputs []*Node, loss GraphFunc) *Node {
	return DivScalar(scalarize(loss(labels, outputs)), math.Ln2)
}

// Perplexity is the exponential of the base loss.
func Perplexity(labels, outputs []*Node, loss GraphFunc) *Node {
	return Exp(scalarize(loss(labels, outputs)))
}
