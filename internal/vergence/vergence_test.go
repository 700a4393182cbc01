// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vergence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/phoria/internal/gaze"
)

func eyesOn(target gaze.Vec3) (gaze.Ray, gaze.Ray) {
	l := gaze.Vec3{X: -0.032}
	r := gaze.Vec3{X: 0.032}
	return gaze.Ray{Origin: l, Direction: target.Sub(l).Normalize()},
		gaze.Ray{Origin: r, Direction: target.Sub(r).Normalize()}
}

func TestSolveConvergingRays(t *testing.T) {
	target := gaze.Vec3{X: 0.1, Y: -0.05, Z: 1.2}
	left, right := eyesOn(target)

	p := Solve(left, right)
	assert.InDelta(t, target.X, p.X, 1e-9)
	assert.InDelta(t, target.Y, p.Y, 1e-9)
	assert.InDelta(t, target.Z, p.Z, 1e-9)
}

func TestParametersClamped(t *testing.T) {
	tests := []struct {
		name        string
		left, right gaze.Ray
	}{
		{
			name:  "diverging rays meet behind the eyes",
			left:  gaze.Ray{Origin: gaze.Vec3{X: -0.03}, Direction: gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(-5))},
			right: gaze.Ray{Origin: gaze.Vec3{X: 0.03}, Direction: gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(5))},
		},
		{
			name:  "almost parallel rays meet far away",
			left:  gaze.Ray{Origin: gaze.Vec3{X: -0.03}, Direction: gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(0.05))},
			right: gaze.Ray{Origin: gaze.Vec3{X: 0.03}, Direction: gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(-0.05))},
		},
		{
			name:  "skew rays",
			left:  gaze.Ray{Origin: gaze.Vec3{X: -0.03, Y: 0.01}, Direction: gaze.Vec3{X: 0.2, Y: 0.1, Z: 1}.Normalize()},
			right: gaze.Ray{Origin: gaze.Vec3{X: 0.03}, Direction: gaze.Vec3{X: -0.3, Y: -0.1, Z: 1}.Normalize()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ss, parallel := Parameters(tt.left, tt.right)
			assert.False(t, parallel)
			assert.GreaterOrEqual(t, ts, 0.0)
			assert.LessOrEqual(t, ts, MaxDistance)
			assert.GreaterOrEqual(t, ss, 0.0)
			assert.LessOrEqual(t, ss, MaxDistance)
		})
	}
}

func TestSolveNearParallel(t *testing.T) {
	dir := gaze.Vec3{Z: 1}
	left := gaze.Ray{Origin: gaze.Vec3{X: -0.03}, Direction: dir}
	right := gaze.Ray{Origin: gaze.Vec3{X: 0.03}, Direction: gaze.Vec3{X: 5e-5, Z: 1}.Normalize()}

	_, _, parallel := Parameters(left, right)
	assert.True(t, parallel)

	p := Solve(left, right)
	assert.True(t, p.IsFinite())
	// Each origin lies on the perpendicular through the other, so both
	// projections sit near the eye plane.
	assert.InDelta(t, 0, p.X, 1e-3)
	assert.InDelta(t, 0, p.Z, 1e-3)
}
