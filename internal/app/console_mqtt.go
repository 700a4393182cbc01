// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/tracker"
)

// gazePrintEvery thins the ~90 Hz gaze stream on the console.
const gazePrintEvery = 30

// RunConsoleMQTT prints gaze, calibration and protocol traffic from the
// broker until interrupted.
func RunConsoleMQTT(configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := tracker.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	var gazeCount int
	subs := []struct {
		topic  string
		handle func([]byte) error
	}{
		{cfg.TopicGaze, func(b []byte) error {
			var f gaze.Frame
			if err := json.Unmarshal(b, &f); err != nil {
				return err
			}
			gazeCount++
			if gazeCount%gazePrintEvery != 0 {
				return nil
			}
			if !f.TrackingEnabled {
				warnOut.Println("[GAZE]  tracking lost")
				return nil
			}
			ly, lp := gaze.ToYawPitch(f.Sample.LeftDirection)
			ry, rp := gaze.ToYawPitch(f.Sample.RightDirection)
			fmt.Printf("[GAZE]  L yaw=%6.2f pitch=%6.2f  R yaw=%6.2f pitch=%6.2f\n",
				gaze.Deg(ly), gaze.Deg(lp), gaze.Deg(ry), gaze.Deg(rp))
			return nil
		}},
		{cfg.TopicCalibration, func(b []byte) error {
			var r calibration.Result
			if err := json.Unmarshal(b, &r); err != nil {
				return err
			}
			calOut.Printf("[CAL ]  left=%s (%d)  right=%s (%d)  at %s\n",
				r.LeftStatus, r.LeftPairs, r.RightStatus, r.RightPairs, r.CompletedAt.Format("15:04:05"))
			return nil
		}},
		{cfg.TopicProtocolStage, func(b []byte) error {
			var ev struct {
				SessionID string      `json:"session_id"`
				From      string      `json:"from"`
				To        string      `json:"to"`
				Offset    gaze.Offset `json:"offset"`
			}
			if err := json.Unmarshal(b, &ev); err != nil {
				return err
			}
			stageOut.Printf("[STAGE] %s -> %s  offset H=%+.2f V=%+.2f  (%s)\n",
				ev.From, ev.To, ev.Offset.Horizontal, ev.Offset.Vertical, ev.SessionID)
			return nil
		}},
		{cfg.TopicProtocolResult, func(b []byte) error {
			var res protocol.Result
			if err := json.Unmarshal(b, &res); err != nil {
				return err
			}
			printResult(res)
			return nil
		}},
	}

	for _, s := range subs {
		token := client.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := s.handle(msg.Payload()); err != nil {
				log.Warn("console: unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Info("console: subscribed", zap.String("topic", s.topic))
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("console: shutting down")
	return nil
}
