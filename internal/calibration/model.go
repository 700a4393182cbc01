// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/phoria/internal/gaze"
)

const (
	// MinFitSamples is the fewest raw/true pairs a fit accepts.
	MinFitSamples = 4

	// singularDet is the |det| of the normal-equation matrix below which
	// the fit is considered singular.
	singularDet = 1e-7
)

// AffineModel maps raw (yaw, pitch) to corrected (yaw, pitch), radians:
//
//	corrected = A·raw + B
type AffineModel struct {
	A [2][2]float64 `json:"a"`
	B [2]float64    `json:"b"`
}

// Identity returns the no-correction model.
func Identity() AffineModel {
	return AffineModel{A: [2][2]float64{{1, 0}, {0, 1}}}
}

// IsIdentity reports whether m applies no correction.
func (m AffineModel) IsIdentity() bool { return m == Identity() }

// Apply maps raw angles to corrected angles.
func (m AffineModel) Apply(yaw, pitch float64) (float64, float64) {
	return m.A[0][0]*yaw + m.A[0][1]*pitch + m.B[0],
		m.A[1][0]*yaw + m.A[1][1]*pitch + m.B[1]
}

// CorrectRay returns the ray with its direction corrected; the origin is kept.
func (m AffineModel) CorrectRay(r gaze.Ray) gaze.Ray {
	yaw, pitch := gaze.ToYawPitch(r.Direction)
	cy, cp := m.Apply(yaw, pitch)
	return gaze.Ray{Origin: r.Origin, Direction: gaze.FromYawPitch(cy, cp)}
}

// Pair is one raw gaze measurement taken while the true angle was known.
type Pair struct {
	RawYaw    float64 `json:"raw_yaw"`
	RawPitch  float64 `json:"raw_pitch"`
	TrueYaw   float64 `json:"true_yaw"`
	TruePitch float64 `json:"true_pitch"`
}

// FitStatus tells whether a fit produced a real correction.
type FitStatus int

const (
	FitOK FitStatus = iota
	FitInsufficientSamples
	FitSingular
)

func (s FitStatus) String() string {
	switch s {
	case FitInsufficientSamples:
		return "insufficient_samples"
	case FitSingular:
		return "singular_fit"
	}
	return "ok"
}

func (s FitStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *FitStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "insufficient_samples":
		*s = FitInsufficientSamples
	case "singular_fit":
		*s = FitSingular
	default:
		*s = FitOK
	}
	return nil
}

// Fit solves the least-squares affine map from raw to true angles using the
// closed-form normal equations. It never fails: with fewer than
// MinFitSamples pairs or a near-singular moment matrix it returns the
// identity model and a non-OK status.
func Fit(pairs []Pair) (AffineModel, FitStatus) {
	if len(pairs) < MinFitSamples {
		return Identity(), FitInsufficientSamples
	}

	var sx, sy, sxx, syy, sxy float64
	var sty, stp, sxty, sxtp, syty, sytp float64
	for _, p := range pairs {
		x, y := p.RawYaw, p.RawPitch
		sx += x
		sy += y
		sxx += x * x
		syy += y * y
		sxy += x * y

		sty += p.TrueYaw
		stp += p.TruePitch
		sxty += x * p.TrueYaw
		sxtp += x * p.TruePitch
		syty += y * p.TrueYaw
		sytp += y * p.TruePitch
	}
	n := float64(len(pairs))

	moments := mat.NewDense(3, 3, []float64{
		sxx, sxy, sx,
		sxy, syy, sy,
		sx, sy, n,
	})
	if math.Abs(mat.Det(moments)) < singularDet {
		return Identity(), FitSingular
	}

	// One column per output angle: yaw, pitch.
	cross := mat.NewDense(3, 2, []float64{
		sxty, sxtp,
		syty, sytp,
		sty, stp,
	})

	var coef mat.Dense
	if err := coef.Solve(moments, cross); err != nil {
		return Identity(), FitSingular
	}

	m := AffineModel{
		A: [2][2]float64{
			{coef.At(0, 0), coef.At(1, 0)},
			{coef.At(0, 1), coef.At(1, 1)},
		},
		B: [2]float64{coef.At(2, 0), coef.At(2, 1)},
	}
	for _, row := range m.A {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Identity(), FitSingular
			}
		}
	}
	return m, FitOK
}
