// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the KEY=VALUE configuration file shared by all
// binaries.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/relabs-tech/phoria/internal/analysis"
	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/protocol"
)

// ErrMissingKey is returned when a required key is absent or empty.
var ErrMissingKey = errors.New("config: missing required key")

// DefaultPath is the config file the binaries read when none is given.
const DefaultPath = "phoria_config.txt"

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string `key:"MQTT_BROKER" validate:"required"`
	MQTTClientIDProducer string `key:"MQTT_CLIENT_ID_PRODUCER" validate:"required"`
	MQTTClientIDConsole  string `key:"MQTT_CLIENT_ID_CONSOLE" validate:"required"`
	MQTTClientIDSession  string `key:"MQTT_CLIENT_ID_SESSION" validate:"required"`
	MQTTClientIDWeb      string `key:"MQTT_CLIENT_ID_WEB" validate:"required"`

	// Topics
	TopicGaze           string `key:"TOPIC_GAZE" validate:"required"`
	TopicGazeCorrected  string `key:"TOPIC_GAZE_CORRECTED" validate:"required"`
	TopicCalibration    string `key:"TOPIC_CALIBRATION" validate:"required"`
	TopicProtocolStage  string `key:"TOPIC_PROTOCOL_STAGE" validate:"required"`
	TopicProtocolResult string `key:"TOPIC_PROTOCOL_RESULT" validate:"required"`

	// Tracker
	TrackerSource     string `key:"TRACKER_SOURCE" validate:"oneof=mock serial mqtt"`
	TrackerSerialPort string `key:"TRACKER_SERIAL_PORT" validate:"required_if=TrackerSource serial"`
	TrackerBaudRate   int    `key:"TRACKER_BAUD_RATE" validate:"gt=0"`
	TickInterval      int    `key:"TICK_INTERVAL" validate:"gt=0"` // milliseconds

	// Calibration
	CalTargetCount       int     `key:"CAL_TARGET_COUNT" validate:"gte=1,lte=64"`
	CalSamplesPerTarget  int     `key:"CAL_SAMPLES_PER_TARGET" validate:"gte=1"`
	CalAzimuthRangeDeg   float64 `key:"CAL_AZIMUTH_RANGE_DEG" validate:"gt=0,lte=60"`
	CalElevationRangeDeg float64 `key:"CAL_ELEVATION_RANGE_DEG" validate:"gt=0,lte=45"`
	CalMinSeparationDeg  float64 `key:"CAL_MIN_SEPARATION_DEG" validate:"gte=0"`
	CalMaxAttempts       int     `key:"CAL_MAX_ATTEMPTS" validate:"gte=1"`
	CalTargetDepth       float64 `key:"CAL_TARGET_DEPTH" validate:"gt=0"`
	CalPresentMs         int     `key:"CAL_PRESENT_MS" validate:"gte=0"`
	CalSeed              uint64  `key:"CAL_SEED"`

	// Protocol
	SettleVelDegPerSec float64 `key:"SETTLE_VEL_DEG_PER_SEC" validate:"gt=0"`
	SettleDurationMs   int     `key:"SETTLE_DURATION_MS" validate:"gt=0"`
	DriftStopWindow    int     `key:"DRIFT_STOP_WINDOW" validate:"gte=2"`
	DriftStopThreshDeg float64 `key:"DRIFT_STOP_THRESH_DEG" validate:"gt=0"`
	DriftVelDegPerSec  float64 `key:"DRIFT_VEL_DEG_PER_SEC" validate:"gt=0"`
	RealignHoldMs      int     `key:"REALIGN_HOLD_MS" validate:"gte=0"`
	MaxIterations      int     `key:"MAX_ITERATIONS" validate:"gte=1,lte=50"`
	ResidualCutoffDeg  float64 `key:"RESIDUAL_CUTOFF_DEG" validate:"gte=0"`
	FineDotLeadInMs    int     `key:"FINE_DOT_LEAD_IN_MS" validate:"gte=0"`
	FineDotDurationMs  int     `key:"FINE_DOT_DURATION_MS" validate:"gt=0"`
	DominantEye        string  `key:"DOMINANT_EYE" validate:"oneof=left right"`
	FixationDistance   float64 `key:"FIXATION_DISTANCE" validate:"gt=0.05"`
	RequireCalibration bool    `key:"REQUIRE_CALIBRATION"`

	// Simulated subject
	SimPhoriaHDeg float64 `key:"SIM_PHORIA_H_DEG"`
	SimPhoriaVDeg float64 `key:"SIM_PHORIA_V_DEG"`
	SimNoiseDeg   float64 `key:"SIM_NOISE_DEG" validate:"gte=0"`
	SimSeed       uint64  `key:"SIM_SEED"`

	// Storage
	SessionDir    string `key:"SESSION_DIR" validate:"required"`
	ProfileDir    string `key:"PROFILE_DIR" validate:"required"`
	ProfileTTLMin int    `key:"PROFILE_TTL_MIN" validate:"gt=0"`
	DatabaseDSN   string `key:"DATABASE_DSN"`

	// Logging
	LogFile  string `key:"LOG_FILE"`
	LogLevel string `key:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Web Server
	WebServerPort int `key:"WEB_SERVER_PORT" validate:"gt=0,lte=65535"`

	// Manual advance button, e.g. GPIO17; empty disables it
	ButtonPin string `key:"BUTTON_PIN"`

	// Offline analysis
	IPDMeters                  float64 `key:"IPD_METERS" validate:"gt=0"`
	DiopterToDegreeConversion  float64 `key:"DIOPTER_TO_DEGREE_CONVERSION" validate:"gt=0"`
	OutlierThresholdMultiplier float64 `key:"OUTLIER_THRESHOLD_MULTIPLIER" validate:"gt=0"`
	StableSampleThreshold      float64 `key:"STABLE_SAMPLE_THRESHOLD" validate:"gt=0"`
	VelocityWindowSize         int     `key:"VELOCITY_WINDOW_SIZE" validate:"gte=1"`
	AccelerationWindowSize     int     `key:"ACCELERATION_WINDOW_SIZE" validate:"gte=1"`
	FixationStabilityThreshold float64 `key:"FIXATION_STABILITY_THRESHOLD" validate:"gt=0"`
	FixationMinDuration        float64 `key:"FIXATION_MIN_DURATION" validate:"gte=0"`
}

// Default returns a config with every optional value set. Required keys
// (MQTT broker, client ids, topics, directories) are left empty.
func Default() *Config {
	cal := calibration.DefaultConfig()
	pc := protocol.DefaultConfig()
	an := analysis.DefaultConfig()
	return &Config{
		TrackerSource:   "mock",
		TrackerBaudRate: 115200,
		TickInterval:    11, // ~90 Hz

		CalTargetCount:       cal.TargetCount,
		CalSamplesPerTarget:  cal.SamplesPerTarget,
		CalAzimuthRangeDeg:   cal.AzimuthRangeDeg,
		CalElevationRangeDeg: cal.ElevationRangeDeg,
		CalMinSeparationDeg:  cal.MinSeparationDeg,
		CalMaxAttempts:       cal.MaxAttempts,
		CalTargetDepth:       cal.TargetDepth,
		CalPresentMs:         int(cal.PresentDuration / time.Millisecond),
		CalSeed:              cal.Seed,

		SettleVelDegPerSec: pc.SettleVelDegPerSec,
		SettleDurationMs:   int(pc.SettleDuration / time.Millisecond),
		DriftStopWindow:    pc.DriftStopWindow,
		DriftStopThreshDeg: pc.DriftStopThreshDeg,
		DriftVelDegPerSec:  pc.DriftVelDegPerSec,
		RealignHoldMs:      int(pc.RealignHold / time.Millisecond),
		MaxIterations:      pc.MaxIterations,
		ResidualCutoffDeg:  pc.ResidualCutoffDeg,
		FineDotLeadInMs:    int(pc.FineDotLeadIn / time.Millisecond),
		FineDotDurationMs:  int(pc.FineDotDuration / time.Millisecond),
		DominantEye:        pc.DominantEye.String(),
		FixationDistance:   pc.FixationPoint.Z,

		SimSeed: 1,

		ProfileTTLMin: 60,
		LogLevel:      "info",
		WebServerPort: 8080,

		IPDMeters:                  an.IPDMeters,
		DiopterToDegreeConversion:  an.DiopterToDegreeConversion,
		OutlierThresholdMultiplier: an.OutlierThresholdMultiplier,
		StableSampleThreshold:      an.StableSampleThreshold,
		VelocityWindowSize:         an.VelocityWindowSize,
		AccelerationWindowSize:     an.AccelerationWindowSize,
		FixationStabilityThreshold: an.FixationStabilityThreshold,
		FixationMinDuration:        an.FixationMinDuration,
	}
}

// Load reads the configuration file and returns a validated Config.
// Lines are KEY=VALUE; blank lines and # comments are ignored.
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromMap(values)
}

// FromMap builds a Config from already parsed key/value pairs.
func FromMap(values map[string]string) (*Config, error) {
	cfg := Default()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cfg.setValue(k, strings.TrimSpace(values[k])); err != nil {
			return nil, fmt.Errorf("config key %s: %w", k, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_SESSION":
		c.MQTTClientIDSession = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_GAZE":
		c.TopicGaze = value
	case "TOPIC_GAZE_CORRECTED":
		c.TopicGazeCorrected = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value
	case "TOPIC_PROTOCOL_STAGE":
		c.TopicProtocolStage = value
	case "TOPIC_PROTOCOL_RESULT":
		c.TopicProtocolResult = value

	// Tracker
	case "TRACKER_SOURCE":
		c.TrackerSource = strings.ToLower(value)
	case "TRACKER_SERIAL_PORT":
		c.TrackerSerialPort = value
	case "TRACKER_BAUD_RATE":
		c.TrackerBaudRate, err = strconv.Atoi(value)
	case "TICK_INTERVAL":
		c.TickInterval, err = strconv.Atoi(value)

	// Calibration
	case "CAL_TARGET_COUNT":
		c.CalTargetCount, err = strconv.Atoi(value)
	case "CAL_SAMPLES_PER_TARGET":
		c.CalSamplesPerTarget, err = strconv.Atoi(value)
	case "CAL_AZIMUTH_RANGE_DEG":
		c.CalAzimuthRangeDeg, err = strconv.ParseFloat(value, 64)
	case "CAL_ELEVATION_RANGE_DEG":
		c.CalElevationRangeDeg, err = strconv.ParseFloat(value, 64)
	case "CAL_MIN_SEPARATION_DEG":
		c.CalMinSeparationDeg, err = strconv.ParseFloat(value, 64)
	case "CAL_MAX_ATTEMPTS":
		c.CalMaxAttempts, err = strconv.Atoi(value)
	case "CAL_TARGET_DEPTH":
		c.CalTargetDepth, err = strconv.ParseFloat(value, 64)
	case "CAL_PRESENT_MS":
		c.CalPresentMs, err = strconv.Atoi(value)
	case "CAL_SEED":
		c.CalSeed, err = strconv.ParseUint(value, 10, 64)

	// Protocol
	case "SETTLE_VEL_DEG_PER_SEC":
		c.SettleVelDegPerSec, err = strconv.ParseFloat(value, 64)
	case "SETTLE_DURATION_MS":
		c.SettleDurationMs, err = strconv.Atoi(value)
	case "DRIFT_STOP_WINDOW":
		c.DriftStopWindow, err = strconv.Atoi(value)
	case "DRIFT_STOP_THRESH_DEG":
		c.DriftStopThreshDeg, err = strconv.ParseFloat(value, 64)
	case "DRIFT_VEL_DEG_PER_SEC":
		c.DriftVelDegPerSec, err = strconv.ParseFloat(value, 64)
	case "REALIGN_HOLD_MS":
		c.RealignHoldMs, err = strconv.Atoi(value)
	case "MAX_ITERATIONS":
		c.MaxIterations, err = strconv.Atoi(value)
	case "RESIDUAL_CUTOFF_DEG":
		c.ResidualCutoffDeg, err = strconv.ParseFloat(value, 64)
	case "FINE_DOT_LEAD_IN_MS":
		c.FineDotLeadInMs, err = strconv.Atoi(value)
	case "FINE_DOT_DURATION_MS":
		c.FineDotDurationMs, err = strconv.Atoi(value)
	case "DOMINANT_EYE":
		c.DominantEye = strings.ToLower(value)
	case "FIXATION_DISTANCE":
		c.FixationDistance, err = strconv.ParseFloat(value, 64)
	case "REQUIRE_CALIBRATION":
		c.RequireCalibration, err = strconv.ParseBool(value)

	// Simulated subject
	case "SIM_PHORIA_H_DEG":
		c.SimPhoriaHDeg, err = strconv.ParseFloat(value, 64)
	case "SIM_PHORIA_V_DEG":
		c.SimPhoriaVDeg, err = strconv.ParseFloat(value, 64)
	case "SIM_NOISE_DEG":
		c.SimNoiseDeg, err = strconv.ParseFloat(value, 64)
	case "SIM_SEED":
		c.SimSeed, err = strconv.ParseUint(value, 10, 64)

	// Storage
	case "SESSION_DIR":
		c.SessionDir = value
	case "PROFILE_DIR":
		c.ProfileDir = value
	case "PROFILE_TTL_MIN":
		c.ProfileTTLMin, err = strconv.Atoi(value)
	case "DATABASE_DSN":
		c.DatabaseDSN = value

	// Logging
	case "LOG_FILE":
		c.LogFile = value
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = strconv.Atoi(value)

	case "BUTTON_PIN":
		c.ButtonPin = value

	// Offline analysis
	case "IPD_METERS":
		c.IPDMeters, err = strconv.ParseFloat(value, 64)
	case "DIOPTER_TO_DEGREE_CONVERSION":
		c.DiopterToDegreeConversion, err = strconv.ParseFloat(value, 64)
	case "OUTLIER_THRESHOLD_MULTIPLIER":
		c.OutlierThresholdMultiplier, err = strconv.ParseFloat(value, 64)
	case "STABLE_SAMPLE_THRESHOLD":
		c.StableSampleThreshold, err = strconv.ParseFloat(value, 64)
	case "VELOCITY_WINDOW_SIZE":
		c.VelocityWindowSize, err = strconv.Atoi(value)
	case "ACCELERATION_WINDOW_SIZE":
		c.AccelerationWindowSize, err = strconv.Atoi(value)
	case "FIXATION_STABILITY_THRESHOLD":
		c.FixationStabilityThreshold, err = strconv.ParseFloat(value, 64)
	case "FIXATION_MIN_DURATION":
		c.FixationMinDuration, err = strconv.ParseFloat(value, 64)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	if err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report config keys instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if k := f.Tag.Get("key"); k != "" {
			return k
		}
		return f.Name
	})
	return v
}

// validate checks required keys and value ranges.
func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" || fe.Tag() == "required_if" {
			return fmt.Errorf("%w: %s", ErrMissingKey, fe.Field())
		}
	}
	fe := verrs[0]
	return fmt.Errorf("config: %s=%v fails %s=%s", fe.Field(), fe.Value(), fe.Tag(), fe.Param())
}

// CalibrationConfig returns the calibration engine settings.
func (c *Config) CalibrationConfig() calibration.Config {
	return calibration.Config{
		TargetCount:       c.CalTargetCount,
		SamplesPerTarget:  c.CalSamplesPerTarget,
		AzimuthRangeDeg:   c.CalAzimuthRangeDeg,
		ElevationRangeDeg: c.CalElevationRangeDeg,
		MinSeparationDeg:  c.CalMinSeparationDeg,
		MaxAttempts:       c.CalMaxAttempts,
		TargetDepth:       c.CalTargetDepth,
		PresentDuration:   time.Duration(c.CalPresentMs) * time.Millisecond,
		Seed:              c.CalSeed,
	}
}

// ProtocolConfig returns the dissociation protocol settings.
func (c *Config) ProtocolConfig() protocol.Config {
	eye, _ := gaze.ParseEye(c.DominantEye)
	return protocol.Config{
		SettleVelDegPerSec: c.SettleVelDegPerSec,
		SettleDuration:     time.Duration(c.SettleDurationMs) * time.Millisecond,
		DriftStopWindow:    c.DriftStopWindow,
		DriftStopThreshDeg: c.DriftStopThreshDeg,
		DriftVelDegPerSec:  c.DriftVelDegPerSec,
		RealignHold:        time.Duration(c.RealignHoldMs) * time.Millisecond,
		MaxIterations:      c.MaxIterations,
		ResidualCutoffDeg:  c.ResidualCutoffDeg,
		FineDotLeadIn:      time.Duration(c.FineDotLeadInMs) * time.Millisecond,
		FineDotDuration:    time.Duration(c.FineDotDurationMs) * time.Millisecond,
		DominantEye:        eye,
		FixationPoint:      gaze.Vec3{Z: c.FixationDistance},
	}
}

// AnalysisConfig returns the offline analysis settings.
func (c *Config) AnalysisConfig() analysis.Config {
	return analysis.Config{
		IPDMeters:                  c.IPDMeters,
		DiopterToDegreeConversion:  c.DiopterToDegreeConversion,
		OutlierThresholdMultiplier: c.OutlierThresholdMultiplier,
		OutlierWindow:              analysis.DefaultConfig().OutlierWindow,
		StableSampleThreshold:      c.StableSampleThreshold,
		VelocityWindowSize:         c.VelocityWindowSize,
		AccelerationWindowSize:     c.AccelerationWindowSize,
		FixationStabilityThreshold: c.FixationStabilityThreshold,
		FixationMinDuration:        c.FixationMinDuration,
		Clusters:                   analysis.DefaultConfig().Clusters,
		Seed:                       analysis.DefaultConfig().Seed,
	}
}

// TickDuration returns TickInterval as a duration.
func (c *Config) TickDuration() time.Duration {
	return time.Duration(c.TickInterval) * time.Millisecond
}

// ProfileTTL returns the profile cache expiry.
func (c *Config) ProfileTTL() time.Duration {
	return time.Duration(c.ProfileTTLMin) * time.Minute
}
