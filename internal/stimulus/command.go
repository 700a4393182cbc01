// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stimulus drives the headset display: fusion targets, the
// dissociated view, monocular dots, calibration targets and the prism
// offset applied to the covered eye's image.
package stimulus

import (
	"sync"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// Command types sent to the display.
const (
	CmdFusion            = "fusion"
	CmdDissociated       = "dissociated"
	CmdRing              = "ring"
	CmdDot               = "dot"
	CmdOffset            = "offset"
	CmdCalibrationTarget = "calibration_target"
	CmdCalibrationHidden = "calibration_hidden"
	CmdStage             = "stage"
	CmdResult            = "result"
)

// Command is one display instruction.
type Command struct {
	Type   string       `json:"type"`
	Eye    string       `json:"eye,omitempty"`
	Index  int          `json:"index,omitempty"`
	World  *gaze.Vec3   `json:"world,omitempty"`
	Offset *gaze.Offset `json:"offset,omitempty"`
	Stage  string       `json:"stage,omitempty"`
	Data   any          `json:"data,omitempty"`
}

// Sink receives encoded display commands.
type Sink interface {
	Send(cmd Command)
}

// Display turns stimulus calls into commands for a Sink and keeps the
// applied offset so it can be read back without a round trip.
type Display struct {
	sink Sink

	mu     sync.Mutex
	offset gaze.Offset
}

// NewDisplay creates a display writing to sink.
func NewDisplay(sink Sink) *Display {
	return &Display{sink: sink}
}

func (d *Display) ShowFusionTarget() { d.sink.Send(Command{Type: CmdFusion}) }

func (d *Display) ShowDissociatedTarget(dominant gaze.Eye) {
	d.sink.Send(Command{Type: CmdDissociated, Eye: dominant.String()})
}

func (d *Display) ShowCoarseRing() { d.sink.Send(Command{Type: CmdRing}) }

func (d *Display) ShowMonocularDot(eye gaze.Eye) {
	d.sink.Send(Command{Type: CmdDot, Eye: eye.String()})
}

// ApplyAngularOffset shifts the covered eye's image by o degrees.
func (d *Display) ApplyAngularOffset(o gaze.Offset) {
	d.mu.Lock()
	d.offset = o
	d.mu.Unlock()
	d.sink.Send(Command{Type: CmdOffset, Offset: &o})
}

// CurrentOffsetDeg returns the offset last applied.
func (d *Display) CurrentOffsetDeg() gaze.Offset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offset
}

func (d *Display) ShowCalibrationTarget(index int, world gaze.Vec3) {
	d.sink.Send(Command{Type: CmdCalibrationTarget, Index: index, World: &world})
}

func (d *Display) HideCalibrationTarget() { d.sink.Send(Command{Type: CmdCalibrationHidden}) }

// Recorder is a Sink that keeps every command, for headless runs and tests.
type Recorder struct {
	mu   sync.Mutex
	cmds []Command
}

func (r *Recorder) Send(cmd Command) {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mu.Unlock()
}

// Commands returns a copy of the recorded commands.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.cmds...)
}

// Types returns the recorded command types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.cmds))
	for i, c := range r.cmds {
		out[i] = c.Type
	}
	return out
}

// Fanout sends each command to every sink.
type Fanout []Sink

func (f Fanout) Send(cmd Command) {
	for _, s := range f {
		s.Send(cmd)
	}
}
