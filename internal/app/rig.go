// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/stimulus"
)

var (
	// ErrNotCalibrated is returned when a measurement is requested on raw
	// gaze while calibration is required.
	ErrNotCalibrated = errors.New("app: calibration required before measurement")
	// ErrCancelled is returned when a run is cancelled by the operator.
	ErrCancelled = errors.New("app: cancelled")
)

// Page and button actions.
const (
	ActionStart     = "start"
	ActionCancel    = "cancel"
	ActionAdvance   = "advance"
	ActionCalibrate = "calibrate"
)

// Rig drives calibration and the protocol from one gaze source. Every
// engine call happens on the goroutine calling Step, so neither engine
// needs locking.
type Rig struct {
	Source             gaze.Source
	Calibration        *calibration.Engine
	Protocol           *protocol.Protocol
	Log                *zap.Logger
	Interval           time.Duration // frame pacing; zero reads as fast as the source delivers
	RequireCalibration bool

	// Optional inputs polled once per step.
	Presses <-chan time.Time
	Actions <-chan stimulus.Action

	// OnFrame sees every tracked frame once calibration is not sampling.
	OnFrame func(raw gaze.Frame, corrected gaze.Sample)
	// OnSupersede sees a start action that replaced a running session.
	OnSupersede func(a stimulus.Action)

	ticker  *time.Ticker
	request *stimulus.Action
	session string
}

func (r *Rig) logger() *zap.Logger {
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	return r.Log
}

// Close releases the pacing ticker.
func (r *Rig) Close() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *Rig) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Interval <= 0 {
		return nil
	}
	if r.ticker == nil {
		r.ticker = time.NewTicker(r.Interval)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ticker.C:
		return nil
	}
}

// TakeRequest returns the last start or calibrate action received while
// nothing could act on it, and clears it.
func (r *Rig) TakeRequest() (stimulus.Action, bool) {
	if r.request == nil {
		return stimulus.Action{}, false
	}
	a := *r.request
	r.request = nil
	return a, true
}

func (r *Rig) pollInputs(ctx context.Context) {
	select {
	case <-r.Presses:
		r.handle(ctx, stimulus.Action{Action: ActionAdvance})
	default:
	}
	select {
	case a := <-r.Actions:
		r.handle(ctx, a)
	default:
	}
}

func (r *Rig) handle(ctx context.Context, a stimulus.Action) {
	switch a.Action {
	case ActionAdvance:
		if r.Calibration.ManualAdvance() {
			r.logger().Info("app: calibration target advanced manually")
		}
	case ActionCancel:
		switch {
		case r.Protocol.Cancel():
			r.logger().Info("app: session cancelled")
		case isCollecting(r.Calibration.State()):
			r.Calibration.Reset()
			r.logger().Info("app: calibration cancelled")
		}
	case ActionStart:
		if !r.Protocol.Stage().Active() {
			r.request = &a
			return
		}
		prev := r.session
		r.session = r.Protocol.Start(ctx)
		r.logger().Info("app: session superseded", zap.String("previous", prev), zap.String("session", r.session))
		if r.OnSupersede != nil {
			r.OnSupersede(a)
		}
	case ActionCalibrate:
		r.request = &a
	default:
		r.logger().Warn("app: unknown action", zap.String("action", a.Action))
	}
}

func isCollecting(s calibration.State) bool {
	return s == calibration.Presenting || s == calibration.Sampling
}

// Step reads one frame and feeds it to whichever engine is running.
func (r *Rig) Step(ctx context.Context) error {
	if err := r.pace(ctx); err != nil {
		return err
	}
	r.pollInputs(ctx)

	f, err := r.Source.Next()
	if err != nil {
		return fmt.Errorf("read gaze: %w", err)
	}
	r.Calibration.TickFrame(f)
	if !f.TrackingEnabled {
		if r.Protocol.Stage().Active() {
			return r.Protocol.TickFrame(f)
		}
		return nil
	}

	if isCollecting(r.Calibration.State()) {
		return nil
	}
	corrected := r.Calibration.Correct(f.Sample)
	if r.OnFrame != nil {
		r.OnFrame(f, corrected)
	}
	if r.Protocol.Stage().Active() {
		return r.Protocol.Tick(corrected)
	}
	return nil
}

// Calibrate runs the calibration engine to completion.
func (r *Rig) Calibrate(ctx context.Context) (calibration.Result, error) {
	for {
		if err := r.pace(ctx); err != nil {
			return calibration.Result{}, err
		}
		f, err := r.Source.Next()
		if err != nil {
			return calibration.Result{}, fmt.Errorf("read gaze: %w", err)
		}
		if f.TrackingEnabled {
			r.Calibration.Start(f.Sample.Head())
			break
		}
	}

	for !r.Calibration.Calibrated() {
		if err := r.Step(ctx); err != nil {
			r.Calibration.Reset()
			return calibration.Result{}, err
		}
		if r.Calibration.State() == calibration.Idle {
			return calibration.Result{}, ErrCancelled
		}
	}
	return r.Calibration.Result(), nil
}

// Measure runs one protocol session to completion. A start action received
// meanwhile replaces the running session; the result is that of the last
// session started.
func (r *Rig) Measure(ctx context.Context) (protocol.Result, error) {
	if r.RequireCalibration && !r.Calibration.Calibrated() {
		return protocol.Result{}, ErrNotCalibrated
	}
	r.session = r.Protocol.Start(ctx)
	for r.Protocol.Stage().Active() {
		if err := r.Step(ctx); err != nil {
			if ctx.Err() != nil {
				r.Protocol.Cancel()
			}
			return protocol.Result{}, err
		}
	}
	if res, ok := r.Protocol.Result(); ok && res.SessionID == r.session {
		return res, nil
	}
	if r.Protocol.Stage() == protocol.Idle {
		return protocol.Result{}, ErrCancelled
	}
	return protocol.Result{}, fmt.Errorf("session %s ended in stage %s: %s", r.session, r.Protocol.Stage(), r.Protocol.Session().Err)
}
