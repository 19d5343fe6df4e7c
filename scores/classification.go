// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// flattenLogits reshapes logits to rank-2 [numExamples, numClasses], folding
// any leading batch/time axes together and keeping the class axis last.
func flattenLogits(logits *Node) *Node {
	shape := logits.Shape()
	if shape.Rank() < 2 {
		Panicf("classification scores require logits with a trailing class axis, got shape %s", shape)
	}
	numClasses := shape.Dimensions[shape.Rank()-1]
	return Reshape(logits, shape.Size()/numClasses, numClasses)
}

// hardLabels flattens the target to a rank-1 vector of class indices, one per
// logits row. Targets with more elements than logits rows are taken to be
// per-class distributions (one-hot or mixup-blended) and are reduced to the
// dominant class by arg-max.
func hardLabels(target *Node, rows, numClasses int) *Node {
	if target.Shape().Size() > rows {
		if target.Shape().Size() != rows*numClasses {
			Panicf("target shape %s matches neither [%d] class indices nor [%d, %d] class distributions",
				target.Shape(), rows, rows, numClasses)
		}
		return ArgMax(Reshape(target, rows, numClasses), -1)
	}
	if target.Shape().Size() != rows {
		Panicf("target shape %s does not provide one label per logits row (%d rows)", target.Shape(), rows)
	}
	target = Reshape(target, rows)
	if !target.DType().IsInt() {
		Panicf("class-index targets must be an integer dtype, got %s", target.DType())
	}
	return target
}

// CrossEntropy is the mean categorical cross-entropy between flattened logits
// and hard class labels. Per-class distribution targets are reduced by
// arg-max first.
func CrossEntropy(labels, outputs []*Node) *Node {
	logits := flattenLogits(outputs[0])
	dims := logits.Shape().Dimensions
	target := hardLabels(labels[0], dims[0], dims[1])
	oneHot := OneHot(target, dims[1], logits.DType())
	crossEntropy := Neg(ReduceSum(Mul(oneHot, LogSoftmax(logits)), -1))
	return ReduceAllMean(crossEntropy)
}

// SoftCrossEntropy is the mean cross-entropy between flattened logits and
// target distributions over classes. The target keeps its class axis and must
// match the flattened logits element for element.
func SoftCrossEntropy(labels, outputs []*Node) *Node {
	logits := flattenLogits(outputs[0])
	target := labels[0]
	if target.Shape().Size() != logits.Shape().Size() {
		Panicf("soft_cross_entropy: target shape %s does not match logits shape %s", target.Shape(), logits.Shape())
	}
	target = ConvertDType(Reshape(target, logits.Shape().Dimensions...), logits.DType())
	crossEntropy := Neg(ReduceSum(Mul(target, LogSoftmax(logits)), -1))
	return ReduceAllMean(crossEntropy)
}

// BinaryCrossEntropy is the mean binary cross-entropy computed directly from
// logits, using the numerically stable formulation
// max(l, 0) - l*y + log(1 + exp(-|l|)).
func BinaryCrossEntropy(labels, outputs []*Node) *Node {
	logits := outputs[0]
	target := labels[0]
	if target.Shape().Size() != logits.Shape().Size() {
		Panicf("binary_cross_entropy: target shape %s does not match logits shape %s", target.Shape(), logits.Shape())
	}
	target = ConvertDType(Reshape(target, logits.Shape().Dimensions...), logits.DType())
	bce := Add(
		Sub(Max(logits, ZerosLike(logits)), Mul(logits, target)),
		Log1p(Exp(Neg(Abs(logits)))))
	return ReduceAllMean(bce)
}

// WeightedBinaryCrossEntropy returns a binary cross-entropy from logits with
// positive examples weighted by posWeight, to counter class imbalance:
// loss = (1-y)*l + (1 + (posWeight-1)*y) * softplus(-l), mean-reduced.
// It is a factory, not a registry entry; training setups construct it when a
// positive-class weight is configured.
func WeightedBinaryCrossEntropy(posWeight float64) GraphFunc {
	if posWeight <= 0 {
		Panicf("WeightedBinaryCrossEntropy: posWeight must be positive, got %g", posWeight)
	}
	return func(labels, outputs []*Node) *Node {
		logits := outputs[0]
		target := labels[0]
		if target.Shape().Size() != logits.Shape().Size() {
			Panicf("weighted binary cross-entropy: target shape %s does not match logits shape %s",
				target.Shape(), logits.Shape())
		}
		target = ConvertDType(Reshape(target, logits.Shape().Dimensions...), logits.DType())
		weight := OnePlus(MulScalar(target, posWeight-1))
		bce := Add(
			Mul(OneMinus(target), logits),
			Mul(weight, Softplus(Neg(logits))))
		return ReduceAllMean(bce)
	}
}

// BinaryAccuracy is the fraction of examples whose logit, thresholded at
// zero, matches the binary target.
func BinaryAccuracy(labels, outputs []*Node) *Node {
	logits := squeezeTrailingUnit(outputs[0])
	target := labels[0]
	if target.Shape().Size() != logits.Shape().Size() {
		Panicf("binary_accuracy: target shape %s does not match logits shape %s", target.Shape(), logits.Shape())
	}
	target = ConvertDType(Reshape(target, logits.Shape().Dimensions...), logits.DType())
	predicted := ConvertDType(GreaterOrEqual(logits, ZerosLike(logits)), logits.DType())
	return ReduceAllMean(ConvertDType(Equal(predicted, target), logits.DType()))
}

// Accuracy is the fraction of flattened logits rows whose arg-max matches the
// class label. Per-class distribution targets are reduced by arg-max first.
func Accuracy(labels, outputs []*Node) *Node {
	logits := flattenLogits(outputs[0])
	dims := logits.Shape().Dimensions
	target := hardLabels(labels[0], dims[0], dims[1])
	predicted := ArgMax(logits, -1)
	target = ConvertDType(target, predicted.DType())
	return ReduceAllMean(ConvertDType(Equal(predicted, target), logits.DType()))
}

// AccuracyAtK returns a score counting a prediction as correct when the true
// class is among the k highest-scoring classes. With k equal to the number of
// classes every prediction is correct.
func AccuracyAtK(k int) GraphFunc {
	if k < 1 {
		Panicf("AccuracyAtK: k must be >= 1, got %d", k)
	}
	return func(labels, outputs []*Node) *Node {
		logits := flattenLogits(outputs[0])
		dims := logits.Shape().Dimensions
		if k > dims[1] {
			Panicf("accuracy@%d: only %d classes available", k, dims[1])
		}
		target := hardLabels(labels[0], dims[0], dims[1])
		_, topIndices := TopK(logits, k, -1)
		target = ConvertDType(target, topIndices.DType())
		hits := ConvertDType(Equal(topIndices, InsertAxes(target, -1)), logits.DType())
		return ReduceAllMean(ReduceMax(hits, -1))
	}
}
