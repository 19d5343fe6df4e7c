// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

const confusionEpsilon = 1e-7

// thresholdedPredictions converts logits to hard 0/1 predictions, positive
// when the logit is >= 0 (probability >= 0.5 after sigmoid). The trailing
// axis is squeezed when it has dimension 1 so predictions line up with the
// target.
func thresholdedPredictions(logits, target *Node) (predicted, targetF *Node) {
	logits = squeezeTrailingUnit(logits)
	if target.Shape().Size() != logits.Shape().Size() {
		Panicf("confusion score: target shape %s does not match logits shape %s", target.Shape(), logits.Shape())
	}
	targetF = ConvertDType(Reshape(target, logits.Shape().Dimensions...), logits.DType())
	predicted = ConvertDType(GreaterOrEqual(logits, ZerosLike(logits)), logits.DType())
	return
}

// RecallBinary is tp/(tp+fn) over the whole batch. With no positive targets
// both terms are zero and the result is NaN, surfacing the degenerate batch
// instead of hiding it.
func RecallBinary(labels, outputs []*Node) *Node {
	predicted, target := thresholdedPredictions(outputs[0], labels[0])
	tp := ReduceAllSum(Mul(predicted, target))
	fn := ReduceAllSum(Mul(OneMinus(predicted), target))
	return Div(tp, Add(tp, fn))
}

// PrecisionBinary is tp/(tp+fp) over the whole batch. NaN when nothing is
// predicted positive.
func PrecisionBinary(labels, outputs []*Node) *Node {
	predicted, target := thresholdedPredictions(outputs[0], labels[0])
	tp := ReduceAllSum(Mul(predicted, target))
	fp := ReduceAllSum(Mul(predicted, OneMinus(target)))
	return Div(tp, Add(tp, fp))
}

// SpecificityBinary is tn/(tn+fp) over the whole batch. NaN when there are no
// negative targets.
func SpecificityBinary(labels, outputs []*Node) *Node {
	predicted, target := thresholdedPredictions(outputs[0], labels[0])
	tn := ReduceAllSum(Mul(OneMinus(predicted), OneMinus(target)))
	fp := ReduceAllSum(Mul(predicted, OneMinus(target)))
	return Div(tn, Add(tn, fp))
}

// RecallMultilabel pools true-positive and false-positive counts across all
// labels before forming the ratio, with an epsilon in the denominator so
// empty batches score zero rather than NaN. Targets and logits are
// [batch, numLabels].
func RecallMultilabel(labels, outputs []*Node) *Node {
	predicted, target := thresholdedPredictions(outputs[0], labels[0])
	tp := ReduceAllSum(Mul(predicted, target))
	fp := ReduceAllSum(Mul(predicted, OneMinus(target)))
	return Div(tp, AddScalar(Add(tp, fp), confusionEpsilon))
}

// PrecisionMultilabel pools true-positive and false-negative counts across
// all labels before forming the ratio, with an epsilon in the denominator so
// empty batches score zero rather than NaN.
func PrecisionMultilabel(labels, outputs []*Node) *Node {
	predicted, target := thresholdedPredictions(outputs[0], labels[0])
	tp := ReduceAllSum(Mul(predicted, target))
	fn := ReduceAllSum(Mul(OneMinus(predicted), target))
	return Div(tp, AddScalar(Add(tp, fn), confusionEpsilon))
}

// SpecificityMultilabel computes tn/(tn+fp) per label (reducing over the
// batch axis), zeroes labels with no negatives instead of letting their NaN
// poison the aggregate, and returns the mean over labels.
func SpecificityMultilabel(labels, outputs []*Node) *Node {
	predicted, target := thresholdedPredictions(outputs[0], labels[0])
	if predicted.Rank() != 2 {
		Panicf("specificity_multilabel expects [batch, numLabels] logits, got shape %s", predicted.Shape())
	}
	tn := ReduceSum(Mul(OneMinus(predicted), OneMinus(target)), 0)
	fp := ReduceSum(Mul(predicted, OneMinus(target)), 0)
	perLabel := Div(tn, Add(tn, fp))
	perLabel = Where(IsFinite(perLabel), perLabel, ZerosLike(perLabel))
	return ReduceAllMean(perLabel)
}
