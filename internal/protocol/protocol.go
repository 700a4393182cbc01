// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol runs the dissociation test that measures latent eye
// misalignment and neutralizes it with an angular stimulus offset.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/misalignment"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

var (
	// ErrPersistence wraps a failure of the LogStore at Complete.
	ErrPersistence = errors.New("protocol: log persistence failed")
	// ErrNotRunning is returned by Tick when no session is active.
	ErrNotRunning = errors.New("protocol: no active session")
	// ErrNonFiniteOffset is returned when a measured drift cannot be applied.
	ErrNonFiniteOffset = errors.New("protocol: non-finite offset")
)

// Stage of a test session.
type Stage int

const (
	Idle Stage = iota
	AlignBaseline
	Dissociate
	MeasureDrift
	ReAlignPeripheral
	FineCheckIterate
	Complete
	Error
)

var stageNames = [...]string{
	Idle:              "idle",
	AlignBaseline:     "align_baseline",
	Dissociate:        "dissociate",
	MeasureDrift:      "measure_drift",
	ReAlignPeripheral: "realign_peripheral",
	FineCheckIterate:  "fine_check_iterate",
	Complete:          "complete",
	Error:             "error",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether a session in this stage consumes ticks.
func (s Stage) Active() bool { return s > Idle && s < Complete }

// Config holds the detector thresholds and the test layout.
type Config struct {
	SettleVelDegPerSec float64
	SettleDuration     time.Duration
	DriftStopWindow    int // samples
	DriftStopThreshDeg float64
	DriftVelDegPerSec  float64
	RealignHold        time.Duration
	MaxIterations      int
	ResidualCutoffDeg  float64
	FineDotLeadIn      time.Duration // not averaged, lets the eye land on the dot
	FineDotDuration    time.Duration
	DominantEye        gaze.Eye
	FixationPoint      gaze.Vec3
}

// DefaultConfig returns clinical defaults for a fixation point 2 units ahead.
func DefaultConfig() Config {
	return Config{
		SettleVelDegPerSec: 30,
		SettleDuration:     time.Second,
		DriftStopWindow:    30,
		DriftStopThreshDeg: 0.5,
		DriftVelDegPerSec:  10,
		RealignHold:        time.Second,
		MaxIterations:      5,
		ResidualCutoffDeg:  0.25,
		FineDotLeadIn:      200 * time.Millisecond,
		FineDotDuration:    500 * time.Millisecond,
		DominantEye:        gaze.Right,
		FixationPoint:      gaze.Vec3{Z: 2},
	}
}

// Stimulus is the display collaborator driven by the protocol.
type Stimulus interface {
	ShowFusionTarget()
	ShowDissociatedTarget(dominant gaze.Eye)
	ShowCoarseRing()
	ShowMonocularDot(eye gaze.Eye)
	ApplyAngularOffset(offset gaze.Offset)
	CurrentOffsetDeg() gaze.Offset
}

// LogStore persists the session log at completion.
type LogStore interface {
	Save(ctx context.Context, meta sessionlog.Meta, records []sessionlog.Record) error
}

// Session is a snapshot of the active (or last) test session.
type Session struct {
	ID            string                `json:"id"`
	Stage         Stage                 `json:"stage"`
	StartedAt     time.Time             `json:"started_at"`
	Baseline      gaze.Sample           `json:"baseline"`
	Dissociated   gaze.Sample           `json:"dissociated"`
	Drift         gaze.Offset           `json:"drift"`
	AppliedOffset gaze.Offset           `json:"applied_offset"`
	Iterations    int                   `json:"iterations"`
	Metrics       *misalignment.Metrics `json:"metrics,omitempty"`
	Log           []sessionlog.Record   `json:"-"`
	Err           string                `json:"error,omitempty"`
}

// Result is the clinical outcome of a completed session.
type Result struct {
	SessionID          string                `json:"session_id"`
	HorizontalPrismDeg float64               `json:"horizontal_prism_deg"`
	VerticalPrismDeg   float64               `json:"vertical_prism_deg"`
	Iterations         int                   `json:"iterations"`
	Metrics            *misalignment.Metrics `json:"metrics,omitempty"`
	CompletedAt        time.Time             `json:"completed_at"`
}

// StageEvent is delivered to observers on every stage change.
type StageEvent struct {
	SessionID string      `json:"session_id"`
	From      Stage       `json:"from"`
	To        Stage       `json:"to"`
	At        time.Time   `json:"at"`
	Offset    gaze.Offset `json:"offset"`
}
