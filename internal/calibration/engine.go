// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration fits a per-eye affine correction between raw tracker
// angles and the true angles of known fixation targets, then corrects the
// gaze stream with it.
package calibration

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// State of the calibration engine.
type State int

const (
	Idle State = iota
	Presenting
	Sampling
	Solving
	Calibrated
)

func (s State) String() string {
	switch s {
	case Presenting:
		return "presenting"
	case Sampling:
		return "sampling"
	case Solving:
		return "solving"
	case Calibrated:
		return "calibrated"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Config controls target layout and sampling.
type Config struct {
	TargetCount       int
	SamplesPerTarget  int
	AzimuthRangeDeg   float64 // targets span ±AzimuthRangeDeg
	ElevationRangeDeg float64 // targets span ±ElevationRangeDeg
	MinSeparationDeg  float64
	MaxAttempts       int
	TargetDepth       float64 // world units from the head
	PresentDuration   time.Duration
	Seed              uint64
}

// DefaultConfig returns the stock calibration layout.
func DefaultConfig() Config {
	return Config{
		TargetCount:       12,
		SamplesPerTarget:  60,
		AzimuthRangeDeg:   20,
		ElevationRangeDeg: 12,
		MinSeparationDeg:  4,
		MaxAttempts:       50,
		TargetDepth:       2,
		PresentDuration:   500 * time.Millisecond,
		Seed:              1,
	}
}

// TargetDisplay is the stimulus collaborator that draws calibration targets.
type TargetDisplay interface {
	ShowCalibrationTarget(index int, world gaze.Vec3)
	HideCalibrationTarget()
}

// Result is delivered once when calibration completes.
type Result struct {
	Left        AffineModel `json:"left"`
	Right       AffineModel `json:"right"`
	LeftStatus  FitStatus   `json:"left_status"`
	RightStatus FitStatus   `json:"right_status"`
	LeftPairs   int         `json:"left_pairs"`
	RightPairs  int         `json:"right_pairs"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Degraded reports whether either eye fell back to identity.
func (r Result) Degraded() bool { return r.LeftStatus != FitOK || r.RightStatus != FitOK }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

// WithDisplay sets the target display.
func WithDisplay(d TargetDisplay) Option { return func(e *Engine) { e.display = d } }

// Engine is a tick-driven calibration state machine. It is not safe for
// concurrent use; one driver goroutine calls Tick once per frame.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	display TargetDisplay
	rng     *rand.Rand

	state   State
	targets []Target
	index   int
	timer   time.Duration
	lastTS  time.Time
	advance bool

	models [2]AffineModel
	result Result

	corrected     [2]gaze.Ray
	haveCorrected bool

	observers []func(Result)
}

// New creates an idle engine.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		log:    zap.NewNop(),
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		models: [2]AffineModel{Identity(), Identity()},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// OnCalibrated registers a completion observer. Observers fire once per
// calibration run, from inside Tick.
func (e *Engine) OnCalibrated(fn func(Result)) { e.observers = append(e.observers, fn) }

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Calibrated reports whether corrected rays are available.
func (e *Engine) Calibrated() bool { return e.state == Calibrated }

// Targets returns the targets of the running calibration.
func (e *Engine) Targets() []Target { return e.targets }

// CurrentTarget returns the index of the target being shown, or -1.
func (e *Engine) CurrentTarget() int {
	if e.state != Presenting && e.state != Sampling {
		return -1
	}
	return e.index
}

// Models returns the per-eye models (identity until calibrated).
func (e *Engine) Models() (left, right AffineModel) { return e.models[gaze.Left], e.models[gaze.Right] }

// Result returns the last completion result.
func (e *Engine) Result() Result { return e.result }

// Start generates a fresh target set around head and begins presenting the
// first target. Any previous calibration is discarded.
func (e *Engine) Start(head gaze.Vec3) {
	e.Reset()
	e.targets = GenerateTargets(e.cfg, head, e.rng)
	e.log.Info("calibration: started", zap.Int("targets", len(e.targets)))
	if len(e.targets) == 0 {
		e.solve(time.Now())
		return
	}
	e.present(0)
}

// Reset returns the engine to Idle with identity models.
func (e *Engine) Reset() {
	if e.display != nil && (e.state == Presenting || e.state == Sampling) {
		e.display.HideCalibrationTarget()
	}
	e.state = Idle
	e.targets = nil
	e.index = 0
	e.timer = 0
	e.lastTS = time.Time{}
	e.advance = false
	e.models = [2]AffineModel{Identity(), Identity()}
	e.result = Result{}
	e.haveCorrected = false
}

// Restore installs previously fitted models (e.g. from a stored profile)
// and marks the engine Calibrated without notifying observers.
func (e *Engine) Restore(left, right AffineModel) {
	e.Reset()
	e.models = [2]AffineModel{left, right}
	e.state = Calibrated
}

// ManualAdvance ends sampling of the current target early. It reports
// whether the request was accepted.
func (e *Engine) ManualAdvance() bool {
	if e.state != Sampling {
		return false
	}
	e.advance = true
	return true
}

// TickFrame advances the engine with one tracker frame. An untracked frame
// produces no sample, and the gap before the next tracked frame is not
// counted toward the presentation lead-in.
func (e *Engine) TickFrame(f gaze.Frame) {
	if !f.TrackingEnabled {
		e.lastTS = time.Time{}
		return
	}
	e.Tick(f.Sample)
}

// Tick advances the engine with one raw gaze sample.
func (e *Engine) Tick(s gaze.Sample) {
	var dt time.Duration
	if !e.lastTS.IsZero() && s.Timestamp.After(e.lastTS) {
		dt = s.Timestamp.Sub(e.lastTS)
	}
	e.lastTS = s.Timestamp

	switch e.state {
	case Presenting:
		e.timer += dt
		if e.timer >= e.cfg.PresentDuration {
			e.state = Sampling
			e.timer = 0
		}

	case Sampling:
		t := &e.targets[e.index]
		t.Left = append(t.Left, pairFor(s.Ray(gaze.Left), t.WorldPosition))
		t.Right = append(t.Right, pairFor(s.Ray(gaze.Right), t.WorldPosition))

		if t.Collected() >= e.cfg.SamplesPerTarget || e.advance {
			e.log.Debug("calibration: target sampled",
				zap.Int("target", e.index), zap.Int("samples", t.Collected()), zap.Bool("manual", e.advance))
			e.advance = false
			if e.index+1 < len(e.targets) {
				e.present(e.index + 1)
			} else {
				e.solve(s.Timestamp)
			}
		}

	case Calibrated:
		e.publish(s)
	}
}

// Correct applies the fitted models to a raw sample. Before calibration the
// sample is returned unchanged.
func (e *Engine) Correct(s gaze.Sample) gaze.Sample {
	if e.state != Calibrated {
		return s
	}
	return s.WithRays(
		e.models[gaze.Left].CorrectRay(s.Ray(gaze.Left)),
		e.models[gaze.Right].CorrectRay(s.Ray(gaze.Right)),
	)
}

// Corrected returns the corrected rays published on the last Calibrated tick.
func (e *Engine) Corrected() (left, right gaze.Ray, ok bool) {
	return e.corrected[gaze.Left], e.corrected[gaze.Right], e.haveCorrected
}

func (e *Engine) publish(s gaze.Sample) {
	c := e.Correct(s)
	e.corrected = [2]gaze.Ray{c.Ray(gaze.Left), c.Ray(gaze.Right)}
	e.haveCorrected = true
}

func (e *Engine) present(i int) {
	e.index = i
	e.timer = 0
	e.state = Presenting
	if e.display != nil {
		e.display.ShowCalibrationTarget(i, e.targets[i].WorldPosition)
	}
}

func (e *Engine) solve(at time.Time) {
	e.state = Solving
	if e.display != nil {
		e.display.HideCalibrationTarget()
	}

	var left, right []Pair
	for _, t := range e.targets {
		left = append(left, t.Left...)
		right = append(right, t.Right...)
	}

	lm, ls := Fit(left)
	rm, rs := Fit(right)
	e.models = [2]AffineModel{lm, rm}
	e.result = Result{
		Left:        lm,
		Right:       rm,
		LeftStatus:  ls,
		RightStatus: rs,
		LeftPairs:   len(left),
		RightPairs:  len(right),
		CompletedAt: at,
	}

	status := [2]FitStatus{gaze.Left: ls, gaze.Right: rs}
	for _, eye := range []gaze.Eye{gaze.Left, gaze.Right} {
		if st := status[eye]; st != FitOK {
			e.log.Warn("calibration: degraded fit, using identity",
				zap.Stringer("eye", eye), zap.Stringer("status", st))
		}
	}

	// Targets are only needed until their model is fit.
	e.targets = nil
	e.state = Calibrated
	e.log.Info("calibration: completed",
		zap.Int("left_pairs", len(left)), zap.Int("right_pairs", len(right)),
		zap.Bool("degraded", e.result.Degraded()))

	for _, fn := range e.observers {
		fn(e.result)
	}
}

// pairFor pairs the raw angles of ray with the true angles of target as
// seen from the ray's origin.
func pairFor(ray gaze.Ray, target gaze.Vec3) Pair {
	ry, rp := gaze.ToYawPitch(ray.Direction)
	ty, tp := gaze.ToYawPitch(target.Sub(ray.Origin))
	return Pair{RawYaw: ry, RawPitch: rp, TrueYaw: ty, TruePitch: tp}
}
