// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/logger"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/sessionlog"
	"github.com/relabs-tech/phoria/internal/stimulus"
	"github.com/relabs-tech/phoria/internal/tracker"
)

type bench struct {
	rig     *Rig
	subject *tracker.SimulatedSubject
	rec     *stimulus.Recorder
}

func newBench(t *testing.T, phoria gaze.Offset, store protocol.LogStore) *bench {
	t.Helper()
	sc := tracker.DefaultSubjectConfig()
	sc.Phoria = phoria
	sc.TrackerBias = [2]gaze.Offset{{Horizontal: 1}, {Vertical: -0.5}}
	subj := tracker.NewSimulatedSubject(sc)

	rec := &stimulus.Recorder{}
	display := newDisplay(gazeInput{source: subj, subject: subj}, rec)
	calCfg := calibration.DefaultConfig()
	calCfg.SamplesPerTarget = 15
	rig := &Rig{
		Source:      subj,
		Calibration: calibration.New(calCfg, calibration.WithDisplay(display)),
		Protocol:    protocol.New(protocol.DefaultConfig(), display, store),
	}
	t.Cleanup(rig.Close)
	return &bench{rig: rig, subject: subj, rec: rec}
}

func TestRigCalibratesThenMeasures(t *testing.T) {
	store := &sessionlog.Memory{}
	b := newBench(t, gaze.Offset{Horizontal: 2.5, Vertical: 0.5}, store)
	ctx := context.Background()

	cal, err := b.rig.Calibrate(ctx)
	require.NoError(t, err)
	assert.False(t, cal.Degraded())

	res, err := b.rig.Measure(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -2.5, res.HorizontalPrismDeg, 0.3)
	assert.InDelta(t, -0.5, res.VerticalPrismDeg, 0.3)
	require.Len(t, store.Sessions, 1)

	types := b.rec.Types()
	assert.Contains(t, types, stimulus.CmdCalibrationTarget)
	assert.Contains(t, types, stimulus.CmdDissociated)
	assert.Contains(t, types, stimulus.CmdDot)
	assert.Contains(t, b.subject.Commands(), "dot:left")
}

func TestMeasureRequiresCalibration(t *testing.T) {
	b := newBench(t, gaze.Offset{}, nil)
	b.rig.RequireCalibration = true
	_, err := b.rig.Measure(context.Background())
	assert.ErrorIs(t, err, ErrNotCalibrated)
	assert.Equal(t, protocol.Idle, b.rig.Protocol.Stage())
}

func TestCancelActionStopsMeasurement(t *testing.T) {
	b := newBench(t, gaze.Offset{Horizontal: 1}, nil)
	actions := make(chan stimulus.Action, 1)
	actions <- stimulus.Action{Action: ActionCancel}
	b.rig.Actions = actions

	_, err := b.rig.Measure(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, protocol.Idle, b.rig.Protocol.Stage())
}

func TestCancelActionStopsCalibration(t *testing.T) {
	b := newBench(t, gaze.Offset{}, nil)
	actions := make(chan stimulus.Action, 1)
	actions <- stimulus.Action{Action: ActionCancel}
	b.rig.Actions = actions

	_, err := b.rig.Calibrate(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, b.rig.Calibration.Calibrated())
}

func TestAdvanceActionsShortenSampling(t *testing.T) {
	b := newBench(t, gaze.Offset{}, nil)
	actions := make(chan stimulus.Action, 5000)
	for i := 0; i < cap(actions); i++ {
		actions <- stimulus.Action{Action: ActionAdvance}
	}
	b.rig.Actions = actions

	res, err := b.rig.Calibrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.LeftPairs, res.RightPairs)
	assert.Greater(t, res.LeftPairs, 3)
	assert.LessOrEqual(t, res.LeftPairs, calibration.DefaultConfig().TargetCount)
}

func TestStartWhileIdleWaitsForCaller(t *testing.T) {
	b := newBench(t, gaze.Offset{}, nil)
	actions := make(chan stimulus.Action, 1)
	actions <- stimulus.Action{Action: ActionStart, UserID: "u7"}
	b.rig.Actions = actions

	require.NoError(t, b.rig.Step(context.Background()))
	req, ok := b.rig.TakeRequest()
	require.True(t, ok)
	assert.Equal(t, "u7", req.UserID)
	_, ok = b.rig.TakeRequest()
	assert.False(t, ok)
}

func TestStartDuringMeasurementSupersedes(t *testing.T) {
	store := &sessionlog.Memory{}
	b := newBench(t, gaze.Offset{Horizontal: 2}, store)
	actions := make(chan stimulus.Action, 1)
	b.rig.Actions = actions

	var started []string
	b.rig.Protocol.OnStage(func(ev protocol.StageEvent) {
		if ev.To != protocol.AlignBaseline {
			return
		}
		started = append(started, ev.SessionID)
		if len(started) == 1 {
			actions <- stimulus.Action{Action: ActionStart, UserID: "u9"}
		}
	})
	var superseded []string
	b.rig.OnSupersede = func(a stimulus.Action) { superseded = append(superseded, a.UserID) }

	res, err := b.rig.Measure(context.Background())
	require.NoError(t, err)

	require.Len(t, started, 2)
	assert.NotEqual(t, started[0], started[1])
	assert.Equal(t, started[1], res.SessionID)
	assert.Equal(t, []string{"u9"}, superseded)

	require.Len(t, store.Sessions, 1)
	assert.Equal(t, started[1], store.Sessions[0].Meta.SessionID)

	_, ok := b.rig.TakeRequest()
	assert.False(t, ok, "start must not be left queued")
}

func TestStepStopsOnCancelledContext(t *testing.T) {
	b := newBench(t, gaze.Offset{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.rig.Step(ctx), context.Canceled)
}

func TestSubjectSinkTranslatesCommands(t *testing.T) {
	subj := tracker.NewSimulatedSubject(tracker.DefaultSubjectConfig())
	d := stimulus.NewDisplay(subjectSink{subj})
	d.ShowDissociatedTarget(gaze.Left)
	d.ApplyAngularOffset(gaze.Offset{Horizontal: 1})
	d.ShowMonocularDot(gaze.Right)
	d.ShowCalibrationTarget(0, gaze.Vec3{Z: 2})
	d.HideCalibrationTarget()

	assert.Equal(t, gaze.Offset{Horizontal: 1}, subj.CurrentOffsetDeg())
	assert.Equal(t, []string{"dissociated:left", "dot:right", "calibration_target", "calibration_hidden"}, subj.Commands())
}

func TestLogsHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phoria.log")
	log, err := logger.New(logger.Options{FilePath: path, Level: "debug", Console: &bytes.Buffer{}})
	require.NoError(t, err)
	log.Info("first")
	log.Warn("second")
	require.NoError(t, log.Sync())

	h := logsHandler(path, log)

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/api/logs?level=WARN", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []logger.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Message)

	rr = httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/api/logs?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRunAnalyzeOnRecordedSession(t *testing.T) {
	dir := t.TempDir()
	store := sessionlog.NewFileStore(dir, gaze.Vec3{Z: 2}, nil)
	b := newBench(t, gaze.Offset{Horizontal: 2}, store)
	_, err := b.rig.Measure(context.Background())
	require.NoError(t, err)

	csvs, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	require.Len(t, csvs, 1)

	var out bytes.Buffer
	png := filepath.Join(dir, "chart.png")
	err = RunAnalyze(AnalyzeOptions{
		CSVPath:    csvs[0],
		ConfigPath: filepath.Join(dir, "missing_config.txt"),
		JSONOut:    filepath.Join(dir, "report.json"),
		PNGOut:     png,
		Out:        &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Number of Left Fixations")
	assert.Contains(t, out.String(), "Chart written to")

	info, err := os.Stat(png)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	_, err = os.Stat(filepath.Join(dir, "report.json"))
	assert.NoError(t, err)
}

func TestRunAnalyzeNeedsCSV(t *testing.T) {
	assert.Error(t, RunAnalyze(AnalyzeOptions{}))
}
