// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

const tick = time.Second / 60

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// subject is a synthetic viewer with a latent deviation of the covered eye.
type subject struct {
	phoria   gaze.Offset
	dominant gaze.Eye
	stubborn bool // ignores the applied offset

	fix    gaze.Vec3
	pos    [2]gaze.Vec3
	mode   string
	dotEye gaze.Eye
	offset gaze.Offset
	calls  []string
}

func newSubject(phoria gaze.Offset, dominant gaze.Eye) *subject {
	return &subject{
		phoria:   phoria,
		dominant: dominant,
		fix:      gaze.Vec3{Z: 2},
		pos:      [2]gaze.Vec3{{X: -0.0315}, {X: 0.0315}},
		mode:     "fusion",
	}
}

func (s *subject) ShowFusionTarget() { s.mode = "fusion"; s.calls = append(s.calls, "fusion") }
func (s *subject) ShowDissociatedTarget(gaze.Eye) {
	s.mode = "dissociated"
	s.calls = append(s.calls, "dissociated")
}
func (s *subject) ShowCoarseRing() { s.mode = "ring"; s.calls = append(s.calls, "ring") }
func (s *subject) ShowMonocularDot(e gaze.Eye) {
	s.mode, s.dotEye = "dot", e
	s.calls = append(s.calls, "dot:"+e.String())
}
func (s *subject) ApplyAngularOffset(o gaze.Offset) { s.offset = o }
func (s *subject) CurrentOffsetDeg() gaze.Offset    { return s.offset }

func (s *subject) sample(i int) gaze.Sample {
	var dir [2]gaze.Vec3
	for e := range dir {
		dir[e] = s.fix.Sub(s.pos[e]).Normalize()
	}
	covered := s.dominant.Other()
	switch s.mode {
	case "dissociated":
		dir[covered] = gaze.Deviate(dir[covered], s.phoria)
	case "dot":
		if s.dotEye == covered {
			dev := s.phoria.Add(s.offset)
			if s.stubborn {
				dev = s.phoria
			}
			dir[covered] = gaze.Deviate(dir[covered], dev)
		}
	}
	return gaze.Sample{
		LeftPosition:   s.pos[gaze.Left],
		LeftDirection:  dir[gaze.Left],
		RightPosition:  s.pos[gaze.Right],
		RightDirection: dir[gaze.Right],
		Timestamp:      t0.Add(time.Duration(i) * tick),
	}
}

// run ticks p with samples from s until the session leaves the active
// stages or limit ticks have passed, and returns the next tick index.
func run(t *testing.T, p *Protocol, s *subject, from, limit int) (int, error) {
	t.Helper()
	i := from
	for ; i < from+limit && p.Stage().Active(); i++ {
		if err := p.Tick(s.sample(i)); err != nil {
			return i + 1, err
		}
	}
	return i, nil
}

func TestDriftBetweenRightEyeOutward(t *testing.T) {
	base := gaze.Vec3{X: -0.0315, Z: 2}.Normalize()
	rotated := gaze.RotateYaw(base, gaze.Rad(3))
	h, v := DriftBetween(base, rotated)
	assert.InDelta(t, 3.0, h, 0.2)
	assert.InDelta(t, 0.0, v, 0.2)

	h, v = DriftBetween(rotated, base)
	assert.InDelta(t, -3.0, h, 0.2)
	assert.InDelta(t, 0.0, v, 0.2)
}

func TestDriftBetweenVertical(t *testing.T) {
	base := gaze.Vec3{Z: 1}
	h, v := DriftBetween(base, gaze.Deviate(base, gaze.Offset{Vertical: 2}))
	assert.InDelta(t, 0.0, h, 1e-9)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestDriftWindow(t *testing.T) {
	w := newDriftWindow(3)
	d := gaze.Vec3{Z: 1}
	w.push(d, 1)
	w.push(d, 1)
	assert.False(t, w.stable(5, 0.5), "not full")
	w.push(gaze.RotateYaw(d, gaze.Rad(1)), 1)
	assert.False(t, w.stable(5, 0.5), "spread too wide")
	w.push(d, 1)
	w.push(d, 1)
	assert.False(t, w.stable(5, 0.5), "rotated entry still inside")
	w.push(d, 1)
	assert.True(t, w.stable(5, 0.5))
	w.push(d, 9)
	assert.False(t, w.stable(5, 0.5), "velocity violation")
}

func TestSettleTimerResetsOnViolation(t *testing.T) {
	var st settleTimer
	st.observe(true, 600*time.Millisecond)
	st.observe(false, 10*time.Millisecond)
	st.observe(true, 600*time.Millisecond)
	assert.False(t, st.reached(time.Second))
	st.observe(true, 400*time.Millisecond)
	assert.True(t, st.reached(time.Second))
}

func TestProtocolNeutralizesPhoria(t *testing.T) {
	subj := newSubject(gaze.Offset{Horizontal: 3, Vertical: -1}, gaze.Left)
	cfg := DefaultConfig()
	cfg.DominantEye = gaze.Left
	store := &sessionlog.Memory{}
	p := New(cfg, subj, store)

	var stages []Stage
	p.OnStage(func(ev StageEvent) { stages = append(stages, ev.To) })

	id := p.Start(context.Background())
	_, err := run(t, p, subj, 0, 5000)
	require.NoError(t, err)
	require.Equal(t, Complete, p.Stage())

	assert.Equal(t, []Stage{AlignBaseline, Dissociate, MeasureDrift, ReAlignPeripheral, FineCheckIterate, Complete}, stages)

	sess := p.Session()
	assert.InDelta(t, 3.0, sess.Drift.Horizontal, 0.2)
	assert.InDelta(t, -1.0, sess.Drift.Vertical, 0.2)

	res, ok := p.Result()
	require.True(t, ok)
	assert.Equal(t, id, res.SessionID)
	assert.InDelta(t, -3.0, res.HorizontalPrismDeg, cfg.ResidualCutoffDeg)
	assert.InDelta(t, 1.0, res.VerticalPrismDeg, cfg.ResidualCutoffDeg)
	assert.GreaterOrEqual(t, res.Iterations, 1)
	assert.LessOrEqual(t, res.Iterations, cfg.MaxIterations)

	require.Len(t, store.Sessions, 1)
	saved := store.Sessions[0]
	assert.Equal(t, id, saved.Meta.SessionID)
	assert.NotEmpty(t, saved.Records)
	assert.Equal(t, "align_baseline", saved.Records[0].Stage)
	for i := 1; i < len(saved.Records); i++ {
		assert.False(t, saved.Records[i].Timestamp.Before(saved.Records[i-1].Timestamp))
	}

	assert.Contains(t, subj.calls, "dot:left")
	assert.Contains(t, subj.calls, "dot:right")
}

func TestFineCheckBoundedByMaxIterations(t *testing.T) {
	subj := newSubject(gaze.Offset{Horizontal: 4}, gaze.Right)
	subj.stubborn = true
	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	p := New(cfg, subj, &sessionlog.Memory{})

	p.Start(context.Background())
	_, err := run(t, p, subj, 0, 10000)
	require.NoError(t, err)
	require.Equal(t, Complete, p.Stage())

	res, _ := p.Result()
	assert.Equal(t, 3, res.Iterations)
	assert.True(t, gaze.Offset{Horizontal: res.HorizontalPrismDeg, Vertical: res.VerticalPrismDeg}.IsFinite())
}

func TestDotsAreSequential(t *testing.T) {
	subj := newSubject(gaze.Offset{Horizontal: 2}, gaze.Right)
	subj.stubborn = true
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	p := New(cfg, subj, nil)
	p.Start(context.Background())
	_, err := run(t, p, subj, 0, 10000)
	require.NoError(t, err)

	var dots []string
	for _, c := range subj.calls {
		if len(c) > 4 && c[:4] == "dot:" {
			dots = append(dots, c)
		}
	}
	assert.Equal(t, []string{"dot:right", "dot:left", "dot:right", "dot:left"}, dots)
}

func TestRestartSupersedesActiveSession(t *testing.T) {
	subj := newSubject(gaze.Offset{Horizontal: 2}, gaze.Right)
	store := &sessionlog.Memory{}
	p := New(DefaultConfig(), subj, store)

	first := p.Start(context.Background())
	next, err := run(t, p, subj, 0, 100)
	require.NoError(t, err)
	require.True(t, p.Stage().Active())
	cut := subj.sample(next).Timestamp

	second := p.Start(context.Background())
	require.NotEqual(t, first, second)
	assert.Empty(t, p.Session().Log)

	_, err = run(t, p, subj, next, 5000)
	require.NoError(t, err)
	require.Equal(t, Complete, p.Stage())

	require.Len(t, store.Sessions, 1)
	assert.Equal(t, second, store.Sessions[0].Meta.SessionID)
	for _, r := range store.Sessions[0].Records {
		assert.False(t, r.Timestamp.Before(cut), "record from superseded run")
	}
}

func TestPersistenceFailureEndsInError(t *testing.T) {
	subj := newSubject(gaze.Offset{Horizontal: 1}, gaze.Right)
	store := &sessionlog.Memory{Err: errors.New("disk full")}
	p := New(DefaultConfig(), subj, store)

	p.Start(context.Background())
	_, err := run(t, p, subj, 0, 5000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, Error, p.Stage())
	assert.Contains(t, p.Session().Err, "disk full")

	_, ok := p.Result()
	assert.False(t, ok)
	assert.ErrorIs(t, p.Tick(subj.sample(0)), ErrNotRunning)
}

func TestCancel(t *testing.T) {
	subj := newSubject(gaze.Offset{}, gaze.Right)
	p := New(DefaultConfig(), subj, nil)
	assert.False(t, p.Cancel())

	p.Start(context.Background())
	_, err := run(t, p, subj, 0, 10)
	require.NoError(t, err)
	assert.True(t, p.Cancel())
	assert.Equal(t, Idle, p.Stage())
	assert.Empty(t, p.Session().Log)
	assert.ErrorIs(t, p.Tick(subj.sample(20)), ErrNotRunning)
}

func TestTrackingLossDoesNotAdvanceSettle(t *testing.T) {
	subj := newSubject(gaze.Offset{}, gaze.Right)
	cfg := DefaultConfig()
	p := New(cfg, subj, nil)
	p.Start(context.Background())

	require.NoError(t, p.TickFrame(gaze.Frame{Sample: subj.sample(0), TrackingEnabled: true}))
	// A long gap without tracking must not count toward the settle time.
	require.NoError(t, p.TickFrame(gaze.Frame{TrackingEnabled: false}))
	require.NoError(t, p.TickFrame(gaze.Frame{Sample: subj.sample(120), TrackingEnabled: true}))
	assert.Equal(t, AlignBaseline, p.Stage())
}

func TestAlignBaselineWaitsForSteadyGaze(t *testing.T) {
	subj := newSubject(gaze.Offset{}, gaze.Right)
	p := New(DefaultConfig(), subj, nil)
	p.Start(context.Background())

	// Saccade every 20 ticks keeps resetting the settle timer.
	for i := 0; i < 200; i++ {
		s := subj.sample(i)
		if i%20 == 0 {
			s.LeftDirection = gaze.RotateYaw(s.LeftDirection, gaze.Rad(5))
		}
		require.NoError(t, p.Tick(s))
	}
	assert.Equal(t, AlignBaseline, p.Stage())
}
