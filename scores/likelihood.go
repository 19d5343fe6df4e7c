// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// channel returns output[..., idx] with the channel axis removed.
func channel(output *Node, idx int) *Node {
	return Squeeze(SliceAxis(output, -1, AxisElem(idx)), -1)
}

// squeezeTrailingUnit removes the last axis if it has dimension 1, otherwise
// returns x unchanged.
func squeezeTrailingUnit(x *Node) *Node {
	shape := x.Shape()
	if shape.Rank() > 0 && shape.Dimensions[shape.Rank()-1] == 1 {
		return Squeeze(x, -1)
	}
	return x
}

// Lanczos approximation coefficients, g=7, n=9.
var lanczosCoefficients = []float64{
	0.99999999999980993,
	676.5203681218851,
	-1259.1392167224028,
	771.32342877765313,
	-176.61502916214059,
	12.507343278686905,
	-0.13857109526572012,
	9.9843695780195716e-6,
	1.5056327351493116e-7,
}

// logGamma computes log(Gamma(x)) with the Lanczos approximation, composed
// from graph primitives. Accurate for x > 0.5; the degrees-of-freedom
// normalizer guarantees every argument used here is > 1.
func logGamma(x *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	series := Scalar(g, dtype, lanczosCoefficients[0])
	for i, c := range lanczosCoefficients[1:] {
		series = Add(series, Div(Scalar(g, dtype, c), AddScalar(x, float64(i))))
	}
	t := AddScalar(x, 6.5)
	halfLog2Pi := Scalar(g, dtype, 0.5*math.Log(2*math.Pi))
	return Add(halfLog2Pi,
		Add(Sub(Mul(AddScalar(x, -0.5), Log(t)), t), Log(series)))
}

// studentTHead splits the last axis of output into the three parameters of a
// Student-t distribution: location (raw), scale (softplus) and
// degrees-of-freedom (2+softplus).
func studentTHead(output *Node) (mu, sigma, nu *Node) {
	lastDim := output.Shape().Dimensions[output.Rank()-1]
	if lastDim != 3 {
		Panicf("student_t expects 3 output channels (mu, sigma, nu) in the last axis, got shape %s", output.Shape())
	}
	mu = squeezeTrailingUnit(channel(output, 0))
	sigma = PositiveScale(squeezeTrailingUnit(channel(output, 1)))
	nu = DegreesOfFreedom(squeezeTrailingUnit(channel(output, 2)))
	return
}

// StudentT returns the mean negative log-likelihood of the targets under a
// Student-t distribution parameterized by the last three output channels.
// Heavier tails than a gaussian make it robust to artifact spikes in
// physiological recordings.
func StudentT(labels, outputs []*Node) *Node {
	output := outputs[0]
	mu, sigma, nu := studentTHead(output)
	target := squeezeTrailingUnit(labels[0])
	if !target.Shape().Equal(mu.Shape()) {
		Panicf("student_t: target shape %s does not match location shape %s (output shape %s)",
			target.Shape(), mu.Shape(), output.Shape())
	}

	halfNuPlus1 := DivScalar(OnePlus(nu), 2)
	normalized := Div(Sub(target, mu), sigma)
	logZ := Sub(
		Sub(logGamma(halfNuPlus1), logGamma(DivScalar(nu, 2))),
		Add(MulScalar(Log(MulScalar(nu, math.Pi)), 0.5), Log(sigma)))
	logLikelihood := Sub(logZ, Mul(halfNuPlus1, Log1p(Div(Square(normalized), nu))))
	return Neg(ReduceAllMean(logLikelihood))
}

// GaussianLogLikelihood returns the mean negative log-likelihood of the
// targets under a gaussian whose mean and scale are read from the last two
// output channels (scale constrained by softplus).
func GaussianLogLikelihood(labels, outputs []*Node) *Node {
	output := outputs[0]
	lastDim := output.Shape().Dimensions[output.Rank()-1]
	if lastDim != 2 {
		Panicf("gaussian_ll expects 2 output channels (mu, sigma) in the last axis, got shape %s", output.Shape())
	}
	mu := squeezeTrailingUnit(channel(output, 0))
	sigma := PositiveScale(squeezeTrailingUnit(channel(output, 1)))
	target := squeezeTrailingUnit(labels[0])
	if !target.Shape().Equal(mu.Shape()) {
		Panicf("gaussian_ll: target shape %s does not match location shape %s (output shape %s)",
			target.Shape(), mu.Shape(), output.Shape())
	}

	normalized := Div(Sub(target, mu), sigma)
	nll := Add(Log(sigma),
		AddScalar(MulScalar(Square(normalized), 0.5), 0.5*math.Log(2*math.Pi)))
	return ReduceAllMean(nll)
}
