// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"math/rand/v2"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// Target is one fixation point shown during calibration.
type Target struct {
	Index         int       `json:"index"`
	Yaw           float64   `json:"yaw"`   // radians, relative to the head
	Pitch         float64   `json:"pitch"` // radians, relative to the head
	Direction     gaze.Vec3 `json:"direction"`
	WorldPosition gaze.Vec3 `json:"world_position"`

	// raw/true pairs collected while this target was shown, per eye
	Left  []Pair `json:"-"`
	Right []Pair `json:"-"`
}

// Collected returns the number of ticks sampled for this target.
func (t *Target) Collected() int { return len(t.Left) }

// GenerateTargets places cfg.TargetCount targets at cfg.TargetDepth from
// head. Azimuth and elevation are uniform within the configured ranges;
// a candidate closer than cfg.MinSeparationDeg to an accepted target is
// rejected and redrawn up to cfg.MaxAttempts times, after which the last
// candidate is accepted anyway.
func GenerateTargets(cfg Config, head gaze.Vec3, rng *rand.Rand) []Target {
	targets := make([]Target, 0, cfg.TargetCount)
	minSep := gaze.Rad(cfg.MinSeparationDeg)

	for i := 0; i < cfg.TargetCount; i++ {
		var yaw, pitch float64
		var dir gaze.Vec3
		for attempt := 0; attempt < max(cfg.MaxAttempts, 1); attempt++ {
			yaw = gaze.Rad(uniform(rng, cfg.AzimuthRangeDeg))
			pitch = gaze.Rad(uniform(rng, cfg.ElevationRangeDeg))
			dir = gaze.FromYawPitch(yaw, pitch)
			if separated(dir, targets, minSep) {
				break
			}
		}

		targets = append(targets, Target{
			Index:         i,
			Yaw:           yaw,
			Pitch:         pitch,
			Direction:     dir,
			WorldPosition: head.Add(dir.Scale(cfg.TargetDepth)),
		})
	}
	return targets
}

// uniform draws from [-halfRange, halfRange].
func uniform(rng *rand.Rand, halfRange float64) float64 {
	return (rng.Float64()*2 - 1) * halfRange
}

func separated(dir gaze.Vec3, accepted []Target, minSep float64) bool {
	for _, t := range accepted {
		if gaze.AngleBetween(dir, t.Direction) < minSep {
			return false
		}
	}
	return true
}
