// Copyright 2026 The PhysioSeq Authors. SPDX-License-Identifier: Apache-2.0

package scores

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// PositiveScale maps an unconstrained raw output channel onto a strictly
// positive scale parameter, using softplus. Unlike Exp it grows linearly for
// large raw values, which keeps gradients bounded.
func PositiveScale(raw *Node) *Node {
	return Softplus(raw)
}

// DegreesOfFreedom maps an unconstrained raw output channel onto the
// degrees-of-freedom parameter of a Student-t distribution, as 2+softplus(raw).
// The offset keeps nu > 2, so the distribution always has finite variance.
func DegreesOfFreedom(raw *Node) *Node {
	return AddScalar(Softplus(raw), 2)
}
