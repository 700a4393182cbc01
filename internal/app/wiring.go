// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/config"
	"github.com/relabs-tech/phoria/internal/events"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/logger"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/sessionlog"
	"github.com/relabs-tech/phoria/internal/stimulus"
	"github.com/relabs-tech/phoria/internal/tracker"
)

// setup loads the config file and builds the logger it describes.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(logger.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// gazeInput is the configured tracker source. subject is set for the mock
// tracker, which also has to receive stimulus commands.
type gazeInput struct {
	source  gaze.Source
	subject *tracker.SimulatedSubject
	close   func()
}

func subjectConfig(cfg *config.Config) tracker.SubjectConfig {
	sc := tracker.DefaultSubjectConfig()
	eye, _ := gaze.ParseEye(cfg.DominantEye)
	sc.DominantEye = eye
	sc.Fixation = gaze.Vec3{Z: cfg.FixationDistance}
	sc.Phoria = gaze.Offset{Horizontal: cfg.SimPhoriaHDeg, Vertical: cfg.SimPhoriaVDeg}
	sc.NoiseDeg = cfg.SimNoiseDeg
	sc.Interval = cfg.TickDuration()
	sc.Seed = cfg.SimSeed
	return sc
}

func openSource(cfg *config.Config, clientID string, log *zap.Logger) (gazeInput, error) {
	switch cfg.TrackerSource {
	case "serial":
		feed, err := tracker.OpenSerial(cfg.TrackerSerialPort, cfg.TrackerBaudRate, log)
		if err != nil {
			return gazeInput{}, err
		}
		return gazeInput{source: feed, close: func() { feed.Close() }}, nil

	case "mqtt":
		client, err := tracker.Connect(cfg.MQTTBroker, clientID, log)
		if err != nil {
			return gazeInput{}, err
		}
		feed, err := tracker.NewMQTTFeed(client, cfg.TopicGaze, log)
		if err != nil {
			client.Disconnect(250)
			return gazeInput{}, err
		}
		return gazeInput{source: feed, close: func() { client.Disconnect(250) }}, nil

	default:
		log.Info("app: using simulated subject",
			zap.Float64("phoria_h_deg", cfg.SimPhoriaHDeg), zap.Float64("phoria_v_deg", cfg.SimPhoriaVDeg))
		s := tracker.NewSimulatedSubject(subjectConfig(cfg))
		return gazeInput{source: s, subject: s, close: func() {}}, nil
	}
}

// newDisplay builds the stimulus display over sinks, adding the simulated
// subject when there is one.
func newDisplay(in gazeInput, sinks ...stimulus.Sink) *stimulus.Display {
	if in.subject != nil {
		sinks = append(sinks, subjectSink{in.subject})
	}
	return stimulus.NewDisplay(stimulus.Fanout(sinks))
}

// newSessionStore writes session logs to SESSION_DIR and, when a DSN is
// configured, to Postgres as well.
func newSessionStore(cfg *config.Config, log *zap.Logger) (protocol.LogStore, error) {
	files := sessionlog.NewFileStore(cfg.SessionDir, gaze.Vec3{Z: cfg.FixationDistance}, log)
	if cfg.DatabaseDSN == "" {
		return files, nil
	}
	db, err := sessionlog.OpenPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	gs, err := sessionlog.NewGormStore(db, log)
	if err != nil {
		return nil, err
	}
	log.Info("app: session logs also stored in postgres")
	return sessionlog.Multi{files, gs}, nil
}

// connectPublisher connects to the broker for outbound events. A broker
// that cannot be reached disables publishing instead of failing the run.
func connectPublisher(cfg *config.Config, clientID string, log *zap.Logger) (*tracker.Publisher, mqtt.Client) {
	client, err := tracker.Connect(cfg.MQTTBroker, clientID, log)
	if err != nil {
		log.Warn("app: MQTT unavailable, events stay local", zap.Error(err))
		return nil, nil
	}
	return tracker.NewPublisher(client, log), client
}

// forwardEvents relays bus events to MQTT and to connected pages.
func forwardEvents(ctx context.Context, cfg *config.Config, bus *events.Bus, pub *tracker.Publisher, hub *stimulus.Hub, log *zap.Logger) error {
	routes := []struct {
		topic    string
		mqtt     string
		cmd      string
		retained bool
	}{
		{events.TopicCalibrationCompleted, cfg.TopicCalibration, "", true},
		{events.TopicProtocolStage, cfg.TopicProtocolStage, stimulus.CmdStage, false},
		{events.TopicProtocolResult, cfg.TopicProtocolResult, stimulus.CmdResult, true},
	}
	for _, r := range routes {
		err := bus.Subscribe(ctx, r.topic, func(payload []byte) {
			if pub != nil {
				if err := pub.PublishRaw(r.mqtt, payload, r.retained); err != nil {
					log.Warn("app: event publish failed", zap.String("topic", r.mqtt), zap.Error(err))
				}
			}
			if hub != nil && r.cmd != "" {
				hub.Send(stimulus.Command{Type: r.cmd, Data: json.RawMessage(payload)})
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
