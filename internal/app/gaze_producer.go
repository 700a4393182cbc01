// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/tracker"
)

// RunGazeProducer publishes raw gaze frames from the tracker bridge (or the
// simulated subject) to MQTT.
func RunGazeProducer(configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("starting phoria gaze producer", zap.String("tracker", cfg.TrackerSource))

	if cfg.TrackerSource == "mqtt" {
		return errors.New("gaze producer: TRACKER_SOURCE=mqtt would republish its own input")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openSource(cfg, cfg.MQTTClientIDProducer, log)
	if err != nil {
		return err
	}
	defer in.close()

	client, err := tracker.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	pub := tracker.NewPublisher(client, log)

	// The serial bridge paces itself; the simulated subject needs a ticker.
	var tick <-chan time.Time
	if in.subject != nil {
		ticker := time.NewTicker(cfg.TickDuration())
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Info("gaze producer: publish loop started", zap.String("topic", cfg.TopicGaze))
	var published, lost int
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		f, err := in.source.Next()
		if errors.Is(err, io.EOF) {
			log.Info("gaze producer: tracker stream ended")
			return nil
		}
		if err != nil {
			return err
		}
		if !f.TrackingEnabled {
			lost++
		}
		pub.PublishFrame(cfg.TopicGaze, f)
		published++

		select {
		case <-report.C:
			log.Info("gaze producer: stats", zap.Int("published", published), zap.Int("tracking_lost", lost))
		default:
		}
	}
}
