// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/relabs-tech/phoria/internal/gaze"
)

type viewMode int

const (
	modeFree viewMode = iota
	modeFusion
	modeDissociated
	modeRing
	modeDot
	modeCalibration
)

// SubjectConfig describes a synthetic viewer.
type SubjectConfig struct {
	IPD         float64
	Fixation    gaze.Vec3
	Phoria      gaze.Offset // latent deviation of the non-dominant eye
	DominantEye gaze.Eye
	NoiseDeg    float64        // per-sample gaussian noise on both eyes
	TrackerBias [2]gaze.Offset // raw tracker error per eye, degrees
	Interval    time.Duration
	Start       time.Time
	Seed        uint64
}

// DefaultSubjectConfig returns a noiseless subject at 90 Hz.
func DefaultSubjectConfig() SubjectConfig {
	return SubjectConfig{
		IPD:         gaze.DefaultIPD,
		Fixation:    gaze.Vec3{Z: 2},
		DominantEye: gaze.Right,
		Interval:    11 * time.Millisecond,
		Start:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Seed:        1,
	}
}

// SimulatedSubject reacts to stimulus commands the way a viewer with a
// latent deviation would and reports what the tracker would see. It is a
// gaze.Source, a protocol stimulus and a calibration target display.
//
// On fusion targets and the coarse ring both eyes fixate. When dissociated
// the covered eye drifts by Phoria. On its own monocular dot the covered
// eye lands off by Phoria plus the applied offset.
type SimulatedSubject struct {
	cfg SubjectConfig
	rng *rand.Rand

	mu        sync.Mutex
	n         int
	mode      viewMode
	dotEye    gaze.Eye
	offset    gaze.Offset
	calTarget gaze.Vec3
	commands  []string
}

// NewSimulatedSubject creates a subject in free-viewing mode.
func NewSimulatedSubject(cfg SubjectConfig) *SimulatedSubject {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSubjectConfig().Interval
	}
	if cfg.IPD <= 0 {
		cfg.IPD = gaze.DefaultIPD
	}
	return &SimulatedSubject{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
	}
}

func (s *SimulatedSubject) record(cmd string) {
	s.commands = append(s.commands, cmd)
}

// Commands returns the stimulus commands received so far.
func (s *SimulatedSubject) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *SimulatedSubject) ShowFusionTarget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeFusion
	s.record("fusion")
}

func (s *SimulatedSubject) ShowDissociatedTarget(dominant gaze.Eye) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeDissociated
	s.record("dissociated:" + dominant.String())
}

func (s *SimulatedSubject) ShowCoarseRing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeRing
	s.record("ring")
}

func (s *SimulatedSubject) ShowMonocularDot(eye gaze.Eye) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeDot
	s.dotEye = eye
	s.record("dot:" + eye.String())
}

func (s *SimulatedSubject) ApplyAngularOffset(o gaze.Offset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = o
}

func (s *SimulatedSubject) CurrentOffsetDeg() gaze.Offset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *SimulatedSubject) ShowCalibrationTarget(_ int, world gaze.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeCalibration
	s.calTarget = world
	s.record("calibration_target")
}

func (s *SimulatedSubject) HideCalibrationTarget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeFree
	s.record("calibration_hidden")
}

// Next returns the next frame; timestamps advance by Interval per call.
func (s *SimulatedSubject) Next() (gaze.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Duration(s.n) * s.cfg.Interval
	s.n++

	pos := [2]gaze.Vec3{{X: -s.cfg.IPD / 2}, {X: s.cfg.IPD / 2}}
	target := s.cfg.Fixation
	switch s.mode {
	case modeFree:
		// Slow sweep around the fixation point.
		sec := elapsed.Seconds()
		target = target.Add(gaze.Vec3{X: 0.3 * math.Sin(sec*0.5), Y: 0.2 * math.Cos(sec*0.35)})
	case modeCalibration:
		target = s.calTarget
	}

	var dir [2]gaze.Vec3
	for e := range dir {
		dir[e] = target.Sub(pos[e]).Normalize()
	}

	covered := s.cfg.DominantEye.Other()
	switch s.mode {
	case modeDissociated:
		dir[covered] = gaze.Deviate(dir[covered], s.cfg.Phoria)
	case modeDot:
		if s.dotEye == covered {
			dir[covered] = gaze.Deviate(dir[covered], s.cfg.Phoria.Add(s.offset))
		}
	}

	for e := range dir {
		d := dir[e]
		if s.cfg.NoiseDeg > 0 {
			d = gaze.Deviate(d, gaze.Offset{
				Horizontal: s.rng.NormFloat64() * s.cfg.NoiseDeg,
				Vertical:   s.rng.NormFloat64() * s.cfg.NoiseDeg,
			})
		}
		if b := s.cfg.TrackerBias[e]; b != (gaze.Offset{}) {
			yaw, pitch := gaze.ToYawPitch(d)
			d = gaze.FromYawPitch(yaw+gaze.Rad(b.Horizontal), pitch+gaze.Rad(b.Vertical))
		}
		dir[e] = d
	}

	return gaze.Frame{
		TrackingEnabled: true,
		Sample: gaze.Sample{
			LeftPosition:   pos[gaze.Left],
			LeftDirection:  dir[gaze.Left],
			RightPosition:  pos[gaze.Right],
			RightDirection: dir[gaze.Right],
			Timestamp:      s.cfg.Start.Add(elapsed),
		},
	}, nil
}
