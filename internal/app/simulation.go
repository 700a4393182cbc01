// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/stimulus"
	"github.com/relabs-tech/phoria/internal/tracker"
)

// subjectSink shows display commands to the simulated subject.
type subjectSink struct {
	s *tracker.SimulatedSubject
}

func (k subjectSink) Send(cmd stimulus.Command) {
	switch cmd.Type {
	case stimulus.CmdFusion:
		k.s.ShowFusionTarget()
	case stimulus.CmdDissociated:
		if eye, err := gaze.ParseEye(cmd.Eye); err == nil {
			k.s.ShowDissociatedTarget(eye)
		}
	case stimulus.CmdRing:
		k.s.ShowCoarseRing()
	case stimulus.CmdDot:
		if eye, err := gaze.ParseEye(cmd.Eye); err == nil {
			k.s.ShowMonocularDot(eye)
		}
	case stimulus.CmdOffset:
		if cmd.Offset != nil {
			k.s.ApplyAngularOffset(*cmd.Offset)
		}
	case stimulus.CmdCalibrationTarget:
		if cmd.World != nil {
			k.s.ShowCalibrationTarget(cmd.Index, *cmd.World)
		}
	case stimulus.CmdCalibrationHidden:
		k.s.HideCalibrationTarget()
	}
}
