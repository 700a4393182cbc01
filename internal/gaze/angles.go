// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gaze

import "math"

// Deg converts radians to degrees.
func Deg(rad float64) float64 { return rad * 180.0 / math.Pi }

// Rad converts degrees to radians.
func Rad(deg float64) float64 { return deg * math.Pi / 180.0 }

// ToYawPitch converts a direction to (yaw, pitch) in radians:
//
//	yaw   = atan2(x, z)
//	pitch = asin(y)
//
// The direction is normalized first; y is clamped before asin.
func ToYawPitch(dir Vec3) (yaw, pitch float64) {
	d := dir.Normalize()
	return math.Atan2(d.X, d.Z), math.Asin(Clamp(d.Y, -1, 1))
}

// FromYawPitch is the inverse of ToYawPitch and returns a unit direction.
func FromYawPitch(yaw, pitch float64) Vec3 {
	cp := math.Cos(pitch)
	return Vec3{
		X: math.Sin(yaw) * cp,
		Y: math.Sin(pitch),
		Z: math.Cos(yaw) * cp,
	}
}

// RotateYaw rotates dir about the vertical axis by rad (positive turns
// toward +X).
func RotateYaw(dir Vec3, rad float64) Vec3 {
	s, c := math.Sin(rad), math.Cos(rad)
	return Vec3{
		X: dir.X*c + dir.Z*s,
		Y: dir.Y,
		Z: -dir.X*s + dir.Z*c,
	}
}

// RotatePitch rotates dir about the horizontal X axis by rad (positive
// turns toward +Y).
func RotatePitch(dir Vec3, rad float64) Vec3 {
	s, c := math.Sin(rad), math.Cos(rad)
	return Vec3{
		X: dir.X,
		Y: dir.Y*c + dir.Z*s,
		Z: -dir.Y*s + dir.Z*c,
	}
}

// PlanarDeviation measures how far `to` has turned away from `from`, in
// degrees, separately in the horizontal and vertical planes.
//
// Horizontal: both vectors projected onto the horizontal (XZ) plane; the
// unsigned angle between the projections takes its sign from the Y
// component of from×to. Vertical: both projected onto the vertical (YZ)
// plane; sign from the X component of from×to.
func PlanarDeviation(from, to Vec3) (horizontalDeg, verticalDeg float64) {
	cross := from.Cross(to)

	fh := Vec3{X: from.X, Z: from.Z}
	th := Vec3{X: to.X, Z: to.Z}
	h := Deg(AngleBetween(fh, th))
	if cross.Y < 0 {
		h = -h
	}

	fv := Vec3{Y: from.Y, Z: from.Z}
	tv := Vec3{Y: to.Y, Z: to.Z}
	v := Deg(AngleBetween(fv, tv))
	if cross.X < 0 {
		v = -v
	}
	return h, v
}

// Offset is an angular stimulus displacement in degrees.
type Offset struct {
	Horizontal float64 `json:"horizontal_deg"`
	Vertical   float64 `json:"vertical_deg"`
}

// Add returns the component-wise sum.
func (o Offset) Add(d Offset) Offset {
	return Offset{Horizontal: o.Horizontal + d.Horizontal, Vertical: o.Vertical + d.Vertical}
}

// Neg returns the opposite offset.
func (o Offset) Neg() Offset { return Offset{Horizontal: -o.Horizontal, Vertical: -o.Vertical} }

// IsFinite reports whether both components are finite.
func (o Offset) IsFinite() bool {
	return !math.IsNaN(o.Horizontal) && !math.IsInf(o.Horizontal, 0) &&
		!math.IsNaN(o.Vertical) && !math.IsInf(o.Vertical, 0)
}

// Within reports whether both components are within ±limit.
func (o Offset) Within(limit float64) bool {
	return math.Abs(o.Horizontal) <= limit && math.Abs(o.Vertical) <= limit
}

// Deviate turns dir by o so that PlanarDeviation(dir, Deviate(dir, o)) is
// approximately o. Vertical is applied first.
func Deviate(dir Vec3, o Offset) Vec3 {
	return RotateYaw(RotatePitch(dir, -Rad(o.Vertical)), Rad(o.Horizontal))
}
