// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package vergence finds where two gaze rays come closest to each other.
package vergence

import (
	"math"

	"github.com/relabs-tech/phoria/internal/gaze"
)

const (
	// parallelEpsilon bounds |a·c − b²| below which the rays are treated as
	// parallel.
	parallelEpsilon = 1e-6

	// MaxDistance is the largest ray parameter accepted (world units).
	// Solutions behind the eyes or further out are clamped.
	MaxDistance = 15.0
)

// Parameters returns the ray parameters t (left) and s (right) of the
// closest-approach points. For near-parallel rays the origins of the other
// ray are projected instead and parallel is true.
func Parameters(left, right gaze.Ray) (t, s float64, parallel bool) {
	w0 := left.Origin.Sub(right.Origin)
	a := left.Direction.Dot(left.Direction)
	b := left.Direction.Dot(right.Direction)
	c := right.Direction.Dot(right.Direction)
	d := left.Direction.Dot(w0)
	e := right.Direction.Dot(w0)

	denom := a*c - b*b
	if math.Abs(denom) < parallelEpsilon {
		if a > 0 {
			t = d / a
		}
		if c > 0 {
			s = e / c
		}
		return t, s, true
	}

	t = gaze.Clamp((b*e-c*d)/denom, 0, MaxDistance)
	s = gaze.Clamp((a*e-b*d)/denom, 0, MaxDistance)
	return t, s, false
}

// Solve returns the midpoint of the closest-approach segment between the
// two gaze rays. It never fails; callers judge plausibility by distance.
func Solve(left, right gaze.Ray) gaze.Vec3 {
	t, s, _ := Parameters(left, right)
	return left.At(t).Midpoint(right.At(s))
}
