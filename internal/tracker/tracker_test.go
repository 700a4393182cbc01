// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

func sampleFrame() gaze.Frame {
	return gaze.Frame{
		TrackingEnabled: true,
		Sample: gaze.Sample{
			LeftPosition:   gaze.Vec3{X: -0.0315},
			LeftDirection:  gaze.Vec3{X: 0.015, Y: -0.01, Z: 0.999},
			RightPosition:  gaze.Vec3{X: 0.0315},
			RightDirection: gaze.Vec3{X: -0.015, Y: -0.01, Z: 0.999},
			Timestamp:      time.UnixMilli(1767225600123).UTC(),
		},
	}
}

func TestGAZRoundTrip(t *testing.T) {
	in := sampleFrame()
	line := FormatGAZ(in)
	assert.True(t, strings.HasPrefix(line, "$ETGAZ,1767225600123,1,"))

	feed := NewSerialFeed(strings.NewReader(line+"\r\n"), nil)
	out, err := feed.Next()
	require.NoError(t, err)
	assert.True(t, out.TrackingEnabled)
	assert.True(t, in.Sample.Timestamp.Equal(out.Sample.Timestamp))
	assert.InDelta(t, in.Sample.LeftDirection.X, out.Sample.LeftDirection.X, 1e-6)
	assert.InDelta(t, in.Sample.RightPosition.X, out.Sample.RightPosition.X, 1e-6)

	_, err = feed.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSerialFeedSkipsNoise(t *testing.T) {
	good := FormatGAZ(sampleFrame())
	corrupt := good[:len(good)-2] + "00"
	if corrupt == good {
		corrupt = good[:len(good)-2] + "FF"
	}
	lost := sampleFrame()
	lost.TrackingEnabled = false

	input := strings.Join([]string{
		"bridge booting",
		corrupt,
		"$ETGAZ,1,1,2,3*00",
		FormatGAZ(lost),
		good,
	}, "\n") + "\n"

	feed := NewSerialFeed(strings.NewReader(input), nil)
	f, err := feed.Next()
	require.NoError(t, err)
	assert.False(t, f.TrackingEnabled)

	f, err = feed.Next()
	require.NoError(t, err)
	assert.True(t, f.TrackingEnabled)
	assert.Equal(t, 2, feed.Rejected())
}

func TestMQTTFeedDeliversOnce(t *testing.T) {
	f := &MQTTFeed{log: nopLogger()}
	fr, err := f.Next()
	require.NoError(t, err)
	assert.False(t, fr.TrackingEnabled)

	payload, err := json.Marshal(sampleFrame())
	require.NoError(t, err)
	f.handle(payload)
	f.handle([]byte("{not json"))

	fr, _ = f.Next()
	assert.True(t, fr.TrackingEnabled)
	fr, _ = f.Next()
	assert.False(t, fr.TrackingEnabled, "same frame is not handed out twice")
	assert.Equal(t, 1, f.Received())
}

func TestSimulatedSubjectModes(t *testing.T) {
	cfg := DefaultSubjectConfig()
	cfg.Phoria = gaze.Offset{Horizontal: 2}
	s := NewSimulatedSubject(cfg)

	s.ShowFusionTarget()
	f, _ := s.Next()
	toFix := cfg.Fixation.Sub(f.Sample.LeftPosition).Normalize()
	assert.InDelta(t, 0, gaze.AngleBetween(toFix, f.Sample.LeftDirection), 1e-9)

	s.ShowDissociatedTarget(gaze.Right)
	f, _ = s.Next()
	base := cfg.Fixation.Sub(f.Sample.LeftPosition).Normalize()
	h, _ := gaze.PlanarDeviation(base, f.Sample.LeftDirection)
	assert.InDelta(t, 2.0, h, 1e-6)

	s.ApplyAngularOffset(gaze.Offset{Horizontal: -2})
	s.ShowMonocularDot(gaze.Left)
	f, _ = s.Next()
	h, _ = gaze.PlanarDeviation(base, f.Sample.LeftDirection)
	assert.InDelta(t, 0.0, h, 1e-6)

	f2, _ := s.Next()
	assert.Equal(t, cfg.Interval, f2.Sample.Timestamp.Sub(f.Sample.Timestamp))
	assert.Equal(t, []string{"fusion", "dissociated:right", "dot:left"}, s.Commands())
}

// A biased tracker is calibrated first; the protocol then runs on corrected
// gaze and neutralizes the subject's latent deviation.
func TestCalibratedSessionEndToEnd(t *testing.T) {
	cfg := DefaultSubjectConfig()
	cfg.Phoria = gaze.Offset{Horizontal: 3, Vertical: 1}
	cfg.TrackerBias = [2]gaze.Offset{{Horizontal: 1.5, Vertical: -0.5}, {Horizontal: -1, Vertical: 0.8}}
	subj := NewSimulatedSubject(cfg)

	calCfg := calibration.DefaultConfig()
	calCfg.SamplesPerTarget = 20
	cal := calibration.New(calCfg, calibration.WithDisplay(subj))
	first, _ := subj.Next()
	cal.Start(first.Sample.Head())
	for i := 0; i < 10000 && !cal.Calibrated(); i++ {
		f, err := subj.Next()
		require.NoError(t, err)
		cal.Tick(f.Sample)
	}
	require.True(t, cal.Calibrated())
	require.False(t, cal.Result().Degraded())

	store := &sessionlog.Memory{}
	pcfg := protocol.DefaultConfig()
	pcfg.DominantEye = cfg.DominantEye
	pcfg.FixationPoint = cfg.Fixation
	p := protocol.New(pcfg, subj, store)
	p.Start(context.Background())
	for i := 0; i < 20000 && p.Stage().Active(); i++ {
		f, err := subj.Next()
		require.NoError(t, err)
		cal.Tick(f.Sample)
		require.NoError(t, p.Tick(cal.Correct(f.Sample)))
	}
	require.Equal(t, protocol.Complete, p.Stage())

	res, ok := p.Result()
	require.True(t, ok)
	assert.InDelta(t, -3.0, res.HorizontalPrismDeg, 0.3)
	assert.InDelta(t, -1.0, res.VerticalPrismDeg, 0.3)
	require.Len(t, store.Sessions, 1)
}

func nopLogger() *zap.Logger { return zap.NewNop() }
