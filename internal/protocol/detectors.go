// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"time"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// DriftBetween returns how far the covered eye turned between the baseline
// and the dissociated pose, in degrees.
func DriftBetween(baseline, dissociated gaze.Vec3) (horizontalDeg, verticalDeg float64) {
	return gaze.PlanarDeviation(baseline, dissociated)
}

// angularVelocity is the rotation speed from prev to cur in deg/s. ok is
// false when dt is not positive.
func angularVelocity(prev, cur gaze.Vec3, dt time.Duration) (degPerSec float64, ok bool) {
	if dt <= 0 {
		return 0, false
	}
	return gaze.Deg(gaze.AngleBetween(prev, cur)) / dt.Seconds(), true
}

// settleTimer accumulates time while a condition holds and drops to zero on
// any violation.
type settleTimer struct {
	elapsed time.Duration
}

func (t *settleTimer) observe(ok bool, dt time.Duration) {
	if !ok {
		t.elapsed = 0
		return
	}
	t.elapsed += dt
}

func (t *settleTimer) reached(d time.Duration) bool { return t.elapsed >= d }

func (t *settleTimer) reset() { t.elapsed = 0 }

type windowEntry struct {
	dir gaze.Vec3
	vel float64
}

// driftWindow keeps the last size directions and velocities of one eye.
type driftWindow struct {
	size    int
	entries []windowEntry
}

func newDriftWindow(size int) *driftWindow {
	if size < 1 {
		size = 1
	}
	return &driftWindow{size: size, entries: make([]windowEntry, 0, size)}
}

func (w *driftWindow) push(dir gaze.Vec3, vel float64) {
	if len(w.entries) == w.size {
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:w.size-1]
	}
	w.entries = append(w.entries, windowEntry{dir: dir, vel: vel})
}

func (w *driftWindow) full() bool { return len(w.entries) == w.size }

// maxVelocity returns the largest velocity in the window.
func (w *driftWindow) maxVelocity() float64 {
	m := 0.0
	for _, e := range w.entries {
		if e.vel > m {
			m = e.vel
		}
	}
	return m
}

// spreadDeg returns the largest pairwise angle between directions in the
// window.
func (w *driftWindow) spreadDeg() float64 {
	m := 0.0
	for i := range w.entries {
		for j := i + 1; j < len(w.entries); j++ {
			if a := gaze.AngleBetween(w.entries[i].dir, w.entries[j].dir); a > m {
				m = a
			}
		}
	}
	return gaze.Deg(m)
}

// stable reports whether the window is full, every sample is below maxVel
// and the positions stay within maxSpread.
func (w *driftWindow) stable(maxVel, maxSpreadDeg float64) bool {
	return w.full() && w.maxVelocity() < maxVel && w.spreadDeg() < maxSpreadDeg
}

func (w *driftWindow) reset() { w.entries = w.entries[:0] }

// dotSampler averages one eye's direction while a monocular dot is shown.
type dotSampler struct {
	eye    gaze.Eye
	timer  time.Duration
	sum    gaze.Vec3
	n      int
	origin gaze.Vec3
}

func (d *dotSampler) begin(eye gaze.Eye) {
	*d = dotSampler{eye: eye}
}

// observe accumulates s and reports whether the dot has been held long
// enough.
func (d *dotSampler) observe(s gaze.Sample, dt, leadIn, hold time.Duration) bool {
	d.timer += dt
	if d.timer >= leadIn {
		d.sum = d.sum.Add(s.Direction(d.eye).Normalize())
		d.n++
		d.origin = s.Position(d.eye)
	}
	return d.n > 0 && d.timer >= leadIn+hold
}

func (d *dotSampler) ray() gaze.Ray {
	return gaze.Ray{Origin: d.origin, Direction: d.sum.Normalize()}
}
