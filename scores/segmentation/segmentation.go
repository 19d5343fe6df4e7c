// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

// Package segmentation adds segmentation scores to the scores registry:
// intersection-over-union on probabilities ("iou") and logits
// ("iou_with_logits"), and a focal loss ("focal_loss"). The entries are
// registered on import, so a blank import is enough:
//
//	import _ "github.com/physioseq/physioseq/scores/segmentation"
//
// Builds that skip the import simply don't have these names in the registry.
package segmentation

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"

	"github.com/physioseq/physioseq/scores"
)

const (
	iouEpsilon   = 1e-7
	iouThreshold = 0.5

	focalGamma = 2.0
	focalAlpha = 0.25
)

func iou(target, output *Node) *Node {
	if target.Shape().Size() != output.Shape().Size() {
		Panicf("iou: target shape %s does not match output shape %s", target.Shape(), output.Shape())
	}
	dtype := output.DType()
	target = ConvertDType(Reshape(target, output.Shape().Dimensions...), dtype)
	predicted := ConvertDType(GreaterThan(output, Scalar(output.Graph(), dtype, iouThreshold)), dtype)
	intersection := ReduceAllSum(Mul(target, predicted))
	union := Sub(Add(ReduceAllSum(target), ReduceAllSum(predicted)), intersection)
	return Div(intersection, AddScalar(union, iouEpsilon))
}

// IoU scores predicted masks against binary ground-truth masks as
// intersection over union, thresholding the predicted probabilities at 0.5.
func IoU(labels, outputs []*Node) *Node {
	return iou(labels[0], outputs[0])
}

// IoUWithLogits is IoU over raw logits, applying a sigmoid before
// thresholding.
func IoUWithLogits(labels, outputs []*Node) *Node {
	return iou(labels[0], Sigmoid(outputs[0]))
}

// FocalLoss is the binary focal loss computed from logits: per-element binary
// cross-entropy modulated by (1-pt)^gamma and an alpha class weight, so easy
// examples contribute little and training concentrates on the hard ones.
func FocalLoss(labels, outputs []*Node) *Node {
	logits := outputs[0]
	target := labels[0]
	if target.Shape().Size() != logits.Shape().Size() {
		Panicf("focal_loss: target shape %s does not match logits shape %s", target.Shape(), logits.Shape())
	}
	target = ConvertDType(Reshape(target, logits.Shape().Dimensions...), logits.DType())
	bce := Add(
		Sub(Max(logits, ZerosLike(logits)), Mul(logits, target)),
		Log1p(Exp(Neg(Abs(logits)))))
	pt := Exp(Neg(bce))
	modulation := PowScalar(OneMinus(pt), focalGamma)
	alphaWeight := Add(MulScalar(target, focalAlpha), MulScalar(OneMinus(target), 1-focalAlpha))
	return ReduceAllMean(Mul(alphaWeight, Mul(modulation, bce)))
}

func init() {
	scores.Register(scores.Metric{Name: "iou", Graph: IoU})
	scores.Register(scores.Metric{Name: "iou_with_logits", Graph: IoUWithLogits})
	scores.Register(scores.Metric{Name: "focal_loss", Graph: FocalLoss})
}
