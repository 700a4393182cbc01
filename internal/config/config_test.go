// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/gaze"
)

func required() map[string]string {
	return map[string]string{
		"MQTT_BROKER":             "tcp://localhost:1883",
		"MQTT_CLIENT_ID_PRODUCER": "p",
		"MQTT_CLIENT_ID_CONSOLE":  "c",
		"MQTT_CLIENT_ID_SESSION":  "s",
		"MQTT_CLIENT_ID_WEB":      "w",
		"TOPIC_GAZE":              "g",
		"TOPIC_GAZE_CORRECTED":    "gc",
		"TOPIC_CALIBRATION":       "cal",
		"TOPIC_PROTOCOL_STAGE":    "ps",
		"TOPIC_PROTOCOL_RESULT":   "pr",
		"SESSION_DIR":             "sessions",
		"PROFILE_DIR":             "profiles",
	}
}

func TestLoadRepositoryConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.TrackerSource)
	assert.Equal(t, 2.5, cfg.SimPhoriaHDeg)
	assert.Empty(t, cfg.ButtonPin)

	pc := cfg.ProtocolConfig()
	assert.Equal(t, gaze.Right, pc.DominantEye)
	assert.Equal(t, time.Second, pc.SettleDuration)
	assert.Equal(t, gaze.Vec3{Z: 2}, pc.FixationPoint)

	cc := cfg.CalibrationConfig()
	assert.Equal(t, 12, cc.TargetCount)
	assert.Equal(t, 500*time.Millisecond, cc.PresentDuration)
}

func TestDefaultsFillOptionalKeys(t *testing.T) {
	cfg, err := FromMap(required())
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxIterations)
	assert.Equal(t, "right", cfg.DominantEye)
	assert.Equal(t, 3, cfg.AnalysisConfig().Clusters)
	assert.Equal(t, 11*time.Millisecond, cfg.TickDuration())
}

func TestMissingRequiredKey(t *testing.T) {
	m := required()
	delete(m, "MQTT_BROKER")
	_, err := FromMap(m)
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.ErrorContains(t, err, "MQTT_BROKER")
}

func TestSerialSourceNeedsPort(t *testing.T) {
	m := required()
	m["TRACKER_SOURCE"] = "serial"
	_, err := FromMap(m)
	assert.ErrorIs(t, err, ErrMissingKey)

	m["TRACKER_SERIAL_PORT"] = "/dev/ttyUSB0"
	_, err = FromMap(m)
	assert.NoError(t, err)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"MAX_ITERATIONS", "0"},
		{"MAX_ITERATIONS", "three"},
		{"DOMINANT_EYE", "both"},
		{"TRACKER_SOURCE", "usb"},
		{"FIXATION_DISTANCE", "0.01"},
		{"REQUIRE_CALIBRATION", "maybe"},
		{"NOT_A_KEY", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			m := required()
			m[tt.key] = tt.value
			_, err := FromMap(m)
			assert.Error(t, err)
			assert.NotErrorIs(t, err, ErrMissingKey)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestLoadComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.txt")
	var body string
	for k, v := range required() {
		body += k + "=" + v + "\n"
	}
	body += "# a comment\n\nDOMINANT_EYE=Left\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, gaze.Left, cfg.ProtocolConfig().DominantEye)
}
