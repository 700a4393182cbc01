// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package misalignment turns a pair of gaze rays and a fixation point into
// clinical phoria/tropia metrics.
package misalignment

import (
	"errors"
	"math"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/vergence"
)

// ErrDegenerateGeometry is returned when the target or the vergence point
// sits too close to the eyes for the angles to mean anything. Callers must
// skip the sample rather than read it as zero misalignment.
var ErrDegenerateGeometry = errors.New("misalignment: degenerate geometry")

const (
	// MinDistance is the smallest eye-to-target and eye-to-vergence
	// distance accepted (world units).
	MinDistance = 0.05

	// SignificantDiopters is the clinical threshold above which a
	// deviation is flagged.
	SignificantDiopters = 1.0

	// signTolerance absorbs acos rounding so perfectly aligned eyes do not
	// classify as deviating.
	signTolerance = 1e-6
)

// Type classifies the deviation pattern.
type Type string

const (
	None        Type = "none"
	Exophoria   Type = "exophoria"
	Esophoria   Type = "esophoria"
	Hyperphoria Type = "hyperphoria"
	Hypophoria  Type = "hypophoria"
	Exotropia   Type = "exotropia"
	Esotropia   Type = "esotropia"
	Hypertropia Type = "hypertropia"
	Hypotropia  Type = "hypotropia"
	Mixed       Type = "mixed"
)

// Metrics is the result of one evaluation. Angular errors are radians,
// phoria and tropia are prism diopters (tangent approximation).
type Metrics struct {
	LeftAngularError  float64 `json:"left_angular_error"`
	RightAngularError float64 `json:"right_angular_error"`

	LeftPhoria    float64 `json:"left_phoria"`
	RightPhoria   float64 `json:"right_phoria"`
	OverallPhoria float64 `json:"overall_phoria"`

	LeftTropia    float64 `json:"left_tropia"`
	RightTropia   float64 `json:"right_tropia"`
	OverallTropia float64 `json:"overall_tropia"`

	Significant bool `json:"significant"`
	Type        Type `json:"type"`
}

// Evaluate computes the misalignment of both eyes relative to target.
func Evaluate(leftPos, leftDir, rightPos, rightDir, target gaze.Vec3) (Metrics, error) {
	left := gaze.Ray{Origin: leftPos, Direction: leftDir}
	right := gaze.Ray{Origin: rightPos, Direction: rightDir}

	vp := vergence.Solve(left, right)

	if leftPos.Dist(target) < MinDistance || rightPos.Dist(target) < MinDistance {
		return Metrics{}, ErrDegenerateGeometry
	}
	if leftPos.Midpoint(rightPos).Dist(vp) < MinDistance {
		return Metrics{}, ErrDegenerateGeometry
	}

	leftTarget := target.Sub(leftPos).Normalize()
	rightTarget := target.Sub(rightPos).Normalize()

	var m Metrics
	m.LeftAngularError = math.Acos(gaze.Clamp(leftDir.Normalize().Dot(leftTarget), -1, 1))
	m.RightAngularError = math.Acos(gaze.Clamp(rightDir.Normalize().Dot(rightTarget), -1, 1))

	m.LeftPhoria = math.Tan(m.LeftAngularError)
	m.RightPhoria = math.Tan(m.RightAngularError)
	// Overall phoria is not derived from the per-eye values yet.
	m.OverallPhoria = 0

	m.LeftTropia = math.Tan(gaze.AngleBetween(leftDir, leftTarget))
	m.RightTropia = math.Tan(gaze.AngleBetween(rightDir, rightTarget))
	m.OverallTropia = (m.LeftTropia + m.RightTropia) / 2

	m.Significant = math.Abs(m.OverallPhoria) > SignificantDiopters ||
		math.Abs(m.LeftPhoria) > SignificantDiopters ||
		math.Abs(m.RightPhoria) > SignificantDiopters ||
		m.LeftTropia > SignificantDiopters ||
		m.RightTropia > SignificantDiopters ||
		m.OverallTropia > SignificantDiopters

	m.Type = Classify(m.LeftTropia, m.RightTropia, m.LeftPhoria, m.RightPhoria)
	return m, nil
}

// Classify maps signed per-eye tropia and phoria to a deviation type.
// Manifest (tropia) patterns win over latent (phoria) ones.
func Classify(leftTropia, rightTropia, leftPhoria, rightPhoria float64) Type {
	lt, rt := sign(leftTropia), sign(rightTropia)
	lp, rp := sign(leftPhoria), sign(rightPhoria)

	switch {
	case lt > 0 && rt > 0:
		return Exotropia
	case lt < 0 && rt < 0:
		return Esotropia
	case lt > 0 && rt < 0:
		return Hypertropia
	case lt < 0 && rt > 0:
		return Hypotropia
	}

	switch {
	case lp > 0 && rp > 0:
		return Exophoria
	case lp < 0 && rp < 0:
		return Esophoria
	case lp > 0 && rp < 0:
		return Hyperphoria
	case lp < 0 && rp > 0:
		return Hypophoria
	}

	// One eye deviates while the other does not.
	if lt != 0 || rt != 0 || lp != 0 || rp != 0 {
		return Mixed
	}
	return None
}

func sign(x float64) int {
	switch {
	case x > signTolerance:
		return 1
	case x < -signTolerance:
		return -1
	}
	return 0
}
