// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/gaze"
)

func sampleProfile(id string) Profile {
	left := calibration.Identity()
	left.B = [2]float64{0.01, -0.02}
	return Profile{
		UserID:       id,
		CalibratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Left:         left,
		Right:        calibration.Identity(),
		RightStatus:  calibration.FitSingular,
	}
}

func TestPutGet(t *testing.T) {
	s := NewStore(t.TempDir(), time.Minute, nil)
	require.NoError(t, s.Put(sampleProfile("alice")))

	p, err := s.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 0.01, p.Left.B[0])
	assert.Equal(t, calibration.FitSingular, p.RightStatus)
}

func TestLazyLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewStore(dir, time.Minute, nil).Put(sampleProfile("bob")))

	fresh := NewStore(dir, time.Minute, nil)
	p, err := fresh.Get("bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.UserID)
	assert.True(t, p.CalibratedAt.Equal(sampleProfile("bob").CalibratedAt))
	assert.Equal(t, calibration.FitSingular, p.RightStatus)
}

func TestNotFoundAndInvalid(t *testing.T) {
	s := NewStore(t.TempDir(), time.Minute, nil)
	_, err := s.Get("nobody")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Get("../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Put(sampleProfile("")))
}

func TestDelete(t *testing.T) {
	s := NewStore(t.TempDir(), time.Minute, nil)
	require.NoError(t, s.Put(sampleProfile("carol")))
	require.NoError(t, s.Delete("carol"))
	_, err := s.Get("carol")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete("carol"))
}

func TestApplyRestoresEngine(t *testing.T) {
	s := NewStore(t.TempDir(), time.Minute, nil)
	require.NoError(t, s.Put(sampleProfile("dave")))

	e := calibration.New(calibration.DefaultConfig())
	require.NoError(t, s.Apply("dave", e))
	assert.True(t, e.Calibrated())

	in := gaze.Sample{LeftDirection: gaze.Vec3{Z: 1}, RightDirection: gaze.Vec3{Z: 1}}
	out := e.Correct(in)
	yaw, pitch := gaze.ToYawPitch(out.LeftDirection)
	assert.InDelta(t, 0.01, yaw, 1e-9)
	assert.InDelta(t, -0.02, pitch, 1e-9)
	assert.Equal(t, in.RightDirection, out.RightDirection)
}

func TestFromResult(t *testing.T) {
	r := calibration.Result{Left: calibration.Identity(), Right: calibration.Identity(), LeftStatus: calibration.FitInsufficientSamples}
	p := FromResult("erin", r)
	assert.Equal(t, "erin", p.UserID)
	assert.Equal(t, calibration.FitInsufficientSamples, p.LeftStatus)
}
