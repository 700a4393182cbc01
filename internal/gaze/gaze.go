// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gaze

import (
	"fmt"
	"time"
)

// DefaultIPD is the interpupillary distance used by synthetic sources.
const DefaultIPD = 0.063

// Eye identifies one side of the binocular pair.
type Eye int

const (
	Left Eye = iota
	Right
)

func (e Eye) String() string {
	if e == Right {
		return "right"
	}
	return "left"
}

// Other returns the opposite eye.
func (e Eye) Other() Eye {
	if e == Right {
		return Left
	}
	return Right
}

// ParseEye accepts "left"/"l" and "right"/"r" (any case).
func ParseEye(s string) (Eye, error) {
	switch s {
	case "left", "LEFT", "Left", "l", "L":
		return Left, nil
	case "right", "RIGHT", "Right", "r", "R":
		return Right, nil
	}
	return Left, fmt.Errorf("unknown eye %q", s)
}

func (e Eye) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Eye) UnmarshalText(b []byte) error {
	v, err := ParseEye(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Sample is one tick of binocular gaze from the eye tracker.
type Sample struct {
	LeftPosition   Vec3      `json:"left_position"`
	LeftDirection  Vec3      `json:"left_direction"`
	RightPosition  Vec3      `json:"right_position"`
	RightDirection Vec3      `json:"right_direction"`
	Timestamp      time.Time `json:"timestamp"`
}

// Ray returns the gaze ray of one eye.
func (s Sample) Ray(e Eye) Ray {
	if e == Right {
		return Ray{Origin: s.RightPosition, Direction: s.RightDirection}
	}
	return Ray{Origin: s.LeftPosition, Direction: s.LeftDirection}
}

// Direction returns the gaze direction of one eye.
func (s Sample) Direction(e Eye) Vec3 {
	if e == Right {
		return s.RightDirection
	}
	return s.LeftDirection
}

// Head returns the midpoint between both eye origins.
func (s Sample) Head() Vec3 { return s.LeftPosition.Midpoint(s.RightPosition) }

// WithRays returns a copy of s with both rays replaced.
func (s Sample) WithRays(left, right Ray) Sample {
	s.LeftPosition, s.LeftDirection = left.Origin, left.Direction
	s.RightPosition, s.RightDirection = right.Origin, right.Direction
	return s
}

// Frame is what the tracker feed delivers per tick. When TrackingEnabled is
// false the Sample carries no data and consumers must skip the tick.
type Frame struct {
	Sample          Sample `json:"sample"`
	TrackingEnabled bool   `json:"tracking_enabled"`
}

// Source is anything that can provide gaze frames over time: the simulated
// subject, the MQTT feed, the serial tracker bridge.
type Source interface {
	Next() (Frame, error)
}

// Position returns the eye origin of one eye.
func (s Sample) Position(e Eye) Vec3 {
	if e == Right {
		return s.RightPosition
	}
	return s.LeftPosition
}
