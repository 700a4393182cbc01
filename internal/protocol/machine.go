// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/misalignment"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

// Option configures a Protocol.
type Option func(*Protocol)

// WithLogger sets the protocol logger.
func WithLogger(l *zap.Logger) Option { return func(p *Protocol) { p.log = l } }

// WithClock overrides the wall clock used for session start times.
func WithClock(now func() time.Time) Option { return func(p *Protocol) { p.now = now } }

// Protocol is the tick-driven dissociation test. Every waiting stage is an
// accumulator re-evaluated once per Tick; nothing blocks inside a tick. It
// is not safe for concurrent use.
type Protocol struct {
	cfg   Config
	stim  Stimulus
	store LogStore
	log   *zap.Logger
	now   func() time.Time

	ctx     context.Context
	session Session
	result  *Result

	prev     gaze.Sample
	havePrev bool

	settle settleTimer
	window *driftWindow
	hold   time.Duration
	dots   [2]gaze.Ray
	dot    dotSampler

	observers []func(StageEvent)
}

// New creates an idle protocol.
func New(cfg Config, stim Stimulus, store LogStore, opts ...Option) *Protocol {
	p := &Protocol{
		cfg:    cfg,
		stim:   stim,
		store:  store,
		log:    zap.NewNop(),
		now:    time.Now,
		ctx:    context.Background(),
		window: newDriftWindow(cfg.DriftStopWindow),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnStage registers a stage-change observer. Observers run inside Start,
// Cancel and Tick.
func (p *Protocol) OnStage(fn func(StageEvent)) { p.observers = append(p.observers, fn) }

// Stage returns the current stage.
func (p *Protocol) Stage() Stage { return p.session.Stage }

// Config returns the protocol configuration.
func (p *Protocol) Config() Config { return p.cfg }

// Session returns a snapshot of the current session.
func (p *Protocol) Session() Session {
	s := p.session
	s.Log = append([]sessionlog.Record(nil), p.session.Log...)
	if p.session.Metrics != nil {
		m := *p.session.Metrics
		s.Metrics = &m
	}
	return s
}

// Result returns the outcome of the last completed session.
func (p *Protocol) Result() (Result, bool) {
	if p.result == nil {
		return Result{}, false
	}
	return *p.result, true
}

// Start begins a new session and returns its id. A session already in
// progress is cancelled first; nothing it logged is ever persisted. ctx
// bounds the persistence call at completion.
func (p *Protocol) Start(ctx context.Context) string {
	if p.session.Stage.Active() {
		p.log.Info("protocol: superseding active session", zap.String("session", p.session.ID))
		p.Cancel()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.ctx = ctx
	p.clear()
	p.session = Session{ID: uuid.NewString(), StartedAt: p.now()}
	p.log.Info("protocol: session started", zap.String("session", p.session.ID),
		zap.Stringer("dominant", p.cfg.DominantEye))

	p.stim.ApplyAngularOffset(gaze.Offset{})
	p.stim.ShowFusionTarget()
	p.enter(AlignBaseline, p.session.StartedAt)
	return p.session.ID
}

// Cancel aborts the active session and returns to Idle. It reports whether
// a session was active.
func (p *Protocol) Cancel() bool {
	if !p.session.Stage.Active() {
		return false
	}
	p.log.Info("protocol: session cancelled", zap.String("session", p.session.ID),
		zap.Stringer("stage", p.session.Stage))
	p.clear()
	p.session.Log = nil
	p.enter(Idle, p.now())
	return true
}

func (p *Protocol) clear() {
	p.result = nil
	p.havePrev = false
	p.prev = gaze.Sample{}
	p.settle.reset()
	p.window = newDriftWindow(p.cfg.DriftStopWindow)
	p.hold = 0
	p.dots = [2]gaze.Ray{}
	p.dot = dotSampler{}
}

// TickFrame advances the protocol with one tracker frame. Frames without
// tracking are skipped and do not advance any timer.
func (p *Protocol) TickFrame(f gaze.Frame) error {
	if !f.TrackingEnabled {
		p.havePrev = false
		return nil
	}
	return p.Tick(f.Sample)
}

// Tick advances the protocol with one (raw or corrected) gaze sample. It
// returns ErrNotRunning when no session is active, and a wrapped
// ErrPersistence or ErrNonFiniteOffset when the session ends in Error.
func (p *Protocol) Tick(s gaze.Sample) error {
	if !p.session.Stage.Active() {
		return ErrNotRunning
	}

	var dt time.Duration
	if p.havePrev && s.Timestamp.After(p.prev.Timestamp) {
		dt = s.Timestamp.Sub(p.prev.Timestamp)
	}
	prev, havePrev := p.prev, p.havePrev
	p.prev, p.havePrev = s, true

	p.session.Log = append(p.session.Log, sessionlog.Record{
		Stage:            p.session.Stage.String(),
		Timestamp:        s.Timestamp,
		LeftDirection:    s.LeftDirection,
		RightDirection:   s.RightDirection,
		AppliedOffsetDeg: p.stim.CurrentOffsetDeg(),
	})

	switch p.session.Stage {
	case AlignBaseline:
		if !havePrev {
			return nil
		}
		lv, lok := angularVelocity(prev.LeftDirection, s.LeftDirection, dt)
		rv, rok := angularVelocity(prev.RightDirection, s.RightDirection, dt)
		if !lok || !rok {
			return nil
		}
		p.settle.observe(max(lv, rv) < p.cfg.SettleVelDegPerSec, dt)
		if p.settle.reached(p.cfg.SettleDuration) {
			p.session.Baseline = s
			p.log.Debug("protocol: baseline aligned", zap.String("session", p.session.ID))
			p.stim.ShowDissociatedTarget(p.cfg.DominantEye)
			p.enter(Dissociate, s.Timestamp)
		}

	case Dissociate:
		if !havePrev {
			return nil
		}
		covered := p.cfg.DominantEye.Other()
		v, ok := angularVelocity(prev.Direction(covered), s.Direction(covered), dt)
		if !ok {
			return nil
		}
		p.window.push(s.Direction(covered), v)
		if p.window.stable(p.cfg.DriftVelDegPerSec, p.cfg.DriftStopThreshDeg) {
			p.session.Dissociated = s
			p.enter(MeasureDrift, s.Timestamp)
		}

	case MeasureDrift:
		covered := p.cfg.DominantEye.Other()
		h, v := DriftBetween(p.session.Baseline.Direction(covered), p.session.Dissociated.Direction(covered))
		drift := gaze.Offset{Horizontal: h, Vertical: v}
		if !drift.IsFinite() {
			return p.fail(s.Timestamp, fmt.Errorf("%w: drift %+v", ErrNonFiniteOffset, drift))
		}
		p.session.Drift = drift
		p.log.Info("protocol: drift measured", zap.String("session", p.session.ID),
			zap.Float64("horizontal_deg", h), zap.Float64("vertical_deg", v))
		p.apply(drift.Neg())
		p.stim.ShowCoarseRing()
		p.hold = 0
		p.enter(ReAlignPeripheral, s.Timestamp)

	case ReAlignPeripheral:
		p.hold += dt
		if p.hold >= p.cfg.RealignHold {
			p.session.Iterations = 0
			p.enter(FineCheckIterate, s.Timestamp)
			p.showDot(p.cfg.DominantEye)
		}

	case FineCheckIterate:
		if !p.dot.observe(s, dt, p.cfg.FineDotLeadIn, p.cfg.FineDotDuration) {
			return nil
		}
		p.dots[p.dot.eye] = p.dot.ray()
		if p.dot.eye == p.cfg.DominantEye {
			p.showDot(p.cfg.DominantEye.Other())
			return nil
		}
		return p.finishRound(s.Timestamp)
	}
	return nil
}

func (p *Protocol) showDot(eye gaze.Eye) {
	p.dot.begin(eye)
	p.stim.ShowMonocularDot(eye)
}

// finishRound applies the residual measured from one pair of dots and
// decides whether another round is needed.
func (p *Protocol) finishRound(at time.Time) error {
	p.session.Iterations++
	dom := p.dots[p.cfg.DominantEye]
	cov := p.dots[p.cfg.DominantEye.Other()]

	left, right := p.dots[gaze.Left], p.dots[gaze.Right]
	m, err := misalignment.Evaluate(left.Origin, left.Direction, right.Origin, right.Direction, p.cfg.FixationPoint)
	switch {
	case errors.Is(err, misalignment.ErrDegenerateGeometry):
		p.log.Debug("protocol: degenerate fine-check sample skipped", zap.String("session", p.session.ID))
	case err == nil:
		p.session.Metrics = &m
	}

	residual := fineResidual(dom, cov, p.cfg.FixationPoint)
	done := false
	if residual.IsFinite() {
		p.apply(p.stim.CurrentOffsetDeg().Add(residual))
		done = residual.Within(p.cfg.ResidualCutoffDeg)
	} else {
		p.log.Warn("protocol: non-finite residual ignored", zap.String("session", p.session.ID))
	}
	p.log.Debug("protocol: fine-check round",
		zap.String("session", p.session.ID), zap.Int("iteration", p.session.Iterations),
		zap.Float64("residual_h", residual.Horizontal), zap.Float64("residual_v", residual.Vertical))

	if done || p.session.Iterations >= p.cfg.MaxIterations {
		return p.complete(at)
	}
	p.showDot(p.cfg.DominantEye)
	return nil
}

// fineResidual is the correction still needed for the covered eye: the
// deviation of its averaged direction from the direction it would have if
// it fixated the point the dominant eye fixates.
func fineResidual(dom, cov gaze.Ray, fixation gaze.Vec3) gaze.Offset {
	dist := fixation.Dist(dom.Origin)
	fix := dom.At(dist)
	want := fix.Sub(cov.Origin)
	h, v := gaze.PlanarDeviation(cov.Direction, want)
	return gaze.Offset{Horizontal: h, Vertical: v}
}

func (p *Protocol) apply(o gaze.Offset) {
	p.stim.ApplyAngularOffset(o)
	p.session.AppliedOffset = o
}

func (p *Protocol) complete(at time.Time) error {
	final := p.stim.CurrentOffsetDeg()
	p.session.AppliedOffset = final
	res := Result{
		SessionID:          p.session.ID,
		HorizontalPrismDeg: final.Horizontal,
		VerticalPrismDeg:   final.Vertical,
		Iterations:         p.session.Iterations,
		Metrics:            p.session.Metrics,
		CompletedAt:        at,
	}
	meta := sessionlog.Meta{
		SessionID:          p.session.ID,
		StartedAt:          p.session.StartedAt,
		CompletedAt:        at,
		DominantEye:        p.cfg.DominantEye,
		HorizontalPrismDeg: res.HorizontalPrismDeg,
		VerticalPrismDeg:   res.VerticalPrismDeg,
		Iterations:         res.Iterations,
	}
	if p.store != nil {
		if err := p.store.Save(p.ctx, meta, p.session.Log); err != nil {
			return p.fail(at, fmt.Errorf("%w: %w", ErrPersistence, err))
		}
	}
	p.result = &res
	p.log.Info("protocol: session complete", zap.String("session", p.session.ID),
		zap.Float64("horizontal_prism_deg", res.HorizontalPrismDeg),
		zap.Float64("vertical_prism_deg", res.VerticalPrismDeg),
		zap.Int("iterations", res.Iterations))
	p.enter(Complete, at)
	return nil
}

func (p *Protocol) fail(at time.Time, err error) error {
	p.session.Err = err.Error()
	p.log.Error("protocol: session failed", zap.String("session", p.session.ID), zap.Error(err))
	p.enter(Error, at)
	return err
}

func (p *Protocol) enter(to Stage, at time.Time) {
	from := p.session.Stage
	p.session.Stage = to
	ev := StageEvent{
		SessionID: p.session.ID,
		From:      from,
		To:        to,
		At:        at,
		Offset:    p.session.AppliedOffset,
	}
	for _, fn := range p.observers {
		fn(ev)
	}
}
