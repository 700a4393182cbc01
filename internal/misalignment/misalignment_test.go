// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package misalignment

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/gaze"
)

var (
	leftEye  = gaze.Vec3{X: -0.032}
	rightEye = gaze.Vec3{X: 0.032}
	target   = gaze.Vec3{Z: 1.5}
)

func TestEvaluateAligned(t *testing.T) {
	m, err := Evaluate(
		leftEye, target.Sub(leftEye).Normalize(),
		rightEye, target.Sub(rightEye).Normalize(),
		target,
	)
	require.NoError(t, err)

	assert.InDelta(t, 0, m.LeftPhoria, 1e-6)
	assert.InDelta(t, 0, m.RightPhoria, 1e-6)
	assert.InDelta(t, 0, m.LeftTropia, 1e-6)
	assert.InDelta(t, 0, m.RightTropia, 1e-6)
	assert.Equal(t, 0.0, m.OverallPhoria)
	assert.False(t, m.Significant)
	assert.Equal(t, None, m.Type)
}

func TestEvaluateDeviatedRightEye(t *testing.T) {
	// Turned inward so the rays still cross in front of the face.
	rightDir := gaze.RotateYaw(target.Sub(rightEye).Normalize(), gaze.Rad(-3))
	m, err := Evaluate(leftEye, target.Sub(leftEye).Normalize(), rightEye, rightDir, target)
	require.NoError(t, err)

	assert.InDelta(t, gaze.Rad(3), m.RightAngularError, 1e-9)
	assert.InDelta(t, math.Tan(gaze.Rad(3)), m.RightPhoria, 1e-9)
	assert.InDelta(t, m.RightPhoria, m.RightTropia, 1e-12)
	assert.InDelta(t, (m.LeftTropia+m.RightTropia)/2, m.OverallTropia, 1e-12)
	assert.Equal(t, Mixed, m.Type)
}

func TestEvaluateSignificance(t *testing.T) {
	// Both eyes swing far left and still converge well in front of the
	// face; beyond 45° tan(error) exceeds one diopter.
	leftDir := gaze.RotateYaw(target.Sub(leftEye).Normalize(), gaze.Rad(-50))
	rightDir := gaze.RotateYaw(target.Sub(rightEye).Normalize(), gaze.Rad(-48))
	m, err := Evaluate(leftEye, leftDir, rightEye, rightDir, target)
	require.NoError(t, err)

	assert.True(t, m.Significant)
	assert.Equal(t, Exotropia, m.Type)
}

func TestEvaluateDegenerate(t *testing.T) {
	tests := []struct {
		name     string
		leftDir  gaze.Vec3
		rightDir gaze.Vec3
		target   gaze.Vec3
	}{
		{
			name:     "target at the left eye",
			leftDir:  gaze.Vec3{Z: 1},
			rightDir: gaze.Vec3{Z: 1},
			target:   gaze.Vec3{X: -0.03, Z: 0.01},
		},
		{
			name:     "right eye turned outward diverges",
			leftDir:  target.Sub(leftEye).Normalize(),
			rightDir: gaze.RotateYaw(target.Sub(rightEye).Normalize(), gaze.Rad(3)),
			target:   target,
		},
		{
			name:     "gaze diverges so vergence collapses onto the eyes",
			leftDir:  gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(-10)),
			rightDir: gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(10)),
			target:   target,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(leftEye, tt.leftDir, rightEye, tt.rightDir, tt.target)
			assert.True(t, errors.Is(err, ErrDegenerateGeometry))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		lt, rt float64
		lp, rp float64
		want   Type
	}{
		{"nothing", 0, 0, 0, 0, None},
		{"exotropia", 0.5, 0.4, 0, 0, Exotropia},
		{"esotropia", -0.5, -0.4, 0, 0, Esotropia},
		{"hypertropia", 0.5, -0.4, 0, 0, Hypertropia},
		{"hypotropia", -0.5, 0.4, 0, 0, Hypotropia},
		{"tropia overrides phoria", 0.5, 0.4, -1, -1, Exotropia},
		{"exophoria", 0, 0, 0.2, 0.3, Exophoria},
		{"esophoria", 0, 0, -0.2, -0.3, Esophoria},
		{"hyperphoria", 0, 0, 0.2, -0.3, Hyperphoria},
		{"hypophoria", 0, 0, -0.2, 0.3, Hypophoria},
		{"one eye only", 0, 0.3, 0, 0.3, Mixed},
		{"rounding noise", 1e-9, 1e-9, 1e-9, 0, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.lt, tt.rt, tt.lp, tt.rp))
		})
	}
}
