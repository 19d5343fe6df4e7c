// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package ecg

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// MinMaxNormalize rescales each exam's readings to [0, 1], using the minimum
// and maximum over all timesteps and leads of that exam. Exams with a
// constant signal (dead leads included) map to zeros.
func MinMaxNormalize(x *Node) *Node {
	if x.Rank() != 3 {
		Panicf("MinMaxNormalize expects [batch, numSamples, numLeads] input, got shape %s", x.Shape())
	}
	minPerExam := InsertAxes(ReduceMin(x, 1, 2), -1, -1)
	maxPerExam := InsertAxes(ReduceMax(x, 1, 2), -1, -1)
	span := Sub(maxPerExam, minPerExam)
	// Constant exams have zero span; dividing by 1 keeps their output at zero
	// since x-min is zero everywhere.
	safeSpan := Where(Equal(span, ZerosLike(span)), OnesLike(span), span)
	return Div(Sub(x, minPerExam), safeSpan)
}
