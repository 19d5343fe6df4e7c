// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// alignRegressionOutput drops the trailing size-1 channel axis of output when
// the target has one fewer axis, then checks the shapes match.
func alignRegressionOutput(output, target *Node) *Node {
	if target.Rank() == output.Rank()-1 {
		lastDim := output.Shape().Dimensions[output.Rank()-1]
		if lastDim != 1 {
			Panicf("output shape %s has rank %d vs target rank %d, but its trailing axis has dimension %d != 1, refusing to squeeze",
				output.Shape(), output.Rank(), target.Rank(), lastDim)
		}
		output = Squeeze(output, -1)
	}
	if !output.Shape().Equal(target.Shape()) {
		Panicf("regression score: output shape %s does not match target shape %s", output.Shape(), target.Shape())
	}
	return output
}

// lengthsFromLabels returns the optional per-example valid-length vector
// passed as labels[1], or nil when absent.
func lengthsFromLabels(labels []*Node) *Node {
	if len(labels) < 2 {
		return nil
	}
	lengths := labels[1]
	if lengths.Rank() != 1 || !lengths.DType().IsInt() {
		Panicf("per-example lengths must be a rank-1 integer tensor, got shape %s", lengths.Shape())
	}
	return lengths
}

// lengthMask builds a boolean mask shaped like x marking, for example i, the
// first lengths[i] steps of the time axis (axis 1) as valid.
func lengthMask(x, lengths *Node) *Node {
	g := x.Graph()
	shape := x.Shape()
	if shape.Rank() < 2 {
		Panicf("length-masked reduction requires a time axis (rank >= 2), got shape %s", shape)
	}
	if lengths.Shape().Dimensions[0] != shape.Dimensions[0] {
		Panicf("lengths shape %s does not match batch dimension of %s", lengths.Shape(), shape)
	}
	lengths = ConvertDType(lengths, dtypes.Int32)
	steps := Iota(g, shapes.Make(dtypes.Int32, shape.Dimensions...), 1)
	for axis := 1; axis < shape.Rank(); axis++ {
		lengths = InsertAxes(lengths, -1)
	}
	return LessThan(steps, lengths)
}

// meanOrMaskedMean reduces x to its mean; when labels carries per-example
// lengths it averages only the valid timesteps of each example.
func meanOrMaskedMean(x *Node, labels []*Node) *Node {
	if lengths := lengthsFromLabels(labels); lengths != nil {
		return MaskedReduceAllMean(x, lengthMask(x, lengths))
	}
	return ReduceAllMean(x)
}

// MeanSquaredError is the mean squared error between output and target,
// restricted to the valid timesteps when per-example lengths are given as
// labels[1].
func MeanSquaredError(labels, outputs []*Node) *Node {
	target := labels[0]
	output := alignRegressionOutput(outputs[0], target)
	return meanOrMaskedMean(Square(Sub(output, target)), labels)
}

// MeanAbsoluteError is the mean absolute error between output and target,
// restricted to the valid timesteps when per-example lengths are given as
// labels[1].
func MeanAbsoluteError(labels, outputs []*Node) *Node {
	target := labels[0]
	output := alignRegressionOutput(outputs[0], target)
	return meanOrMaskedMean(Abs(Sub(output, target)), labels)
}

// ForecastRMSE computes, per series, the root of the mean squared error over
// the horizon (axis 1), then averages the per-series roots. Averaging after
// the root weights every series equally, unlike a global RMSE which favors
// series with small errors.
func ForecastRMSE(labels, outputs []*Node) *Node {
	target := labels[0]
	output := alignRegressionOutput(outputs[0], target)
	if output.Rank() < 2 {
		Panicf("forecast_rmse requires a horizon axis (rank >= 2), got shape %s", output.Shape())
	}
	perSeries := Sqrt(ReduceMean(Square(Sub(output, target)), 1))
	return ReduceAllMean(perSeries)
}
