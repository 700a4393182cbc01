// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sessionlog persists the timestamped sample log of a measurement
// session.
package sessionlog

import (
	"context"
	"errors"
	"time"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// Record is one logged tick of a session.
type Record struct {
	Stage            string      `json:"stage"`
	Timestamp        time.Time   `json:"timestamp"`
	LeftDirection    gaze.Vec3   `json:"left_direction"`
	RightDirection   gaze.Vec3   `json:"right_direction"`
	AppliedOffsetDeg gaze.Offset `json:"applied_offset_deg"`
}

// Meta describes the session a log belongs to.
type Meta struct {
	SessionID          string    `json:"session_id"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at"`
	DominantEye        gaze.Eye  `json:"dominant_eye"`
	HorizontalPrismDeg float64   `json:"horizontal_prism_deg"`
	VerticalPrismDeg   float64   `json:"vertical_prism_deg"`
	Iterations         int       `json:"iterations"`
}

// Document is the on-disk form of one session.
type Document struct {
	Meta    Meta     `json:"meta"`
	Records []Record `json:"records"`
}

// Store durably writes a finished session.
type Store interface {
	Save(ctx context.Context, meta Meta, records []Record) error
}

// Memory keeps saved sessions in memory.
type Memory struct {
	Sessions []Document
	Err      error
}

// Save appends the session unless Err is set.
func (m *Memory) Save(_ context.Context, meta Meta, records []Record) error {
	if m.Err != nil {
		return m.Err
	}
	cp := make([]Record, len(records))
	copy(cp, records)
	m.Sessions = append(m.Sessions, Document{Meta: meta, Records: cp})
	return nil
}

// Multi saves to every store in order. All stores are attempted; the
// errors of those that failed are joined.
type Multi []Store

func (m Multi) Save(ctx context.Context, meta Meta, records []Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, meta, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
