// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/stimulus"
	"github.com/relabs-tech/phoria/internal/tracker"
)

// latest keeps the newest raw payload per topic.
type latest struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func (l *latest) set(topic string, payload []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[topic] = append(json.RawMessage(nil), payload...)
}

func (l *latest) handler(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l.mu.RLock()
		payload, ok := l.data[topic]
		l.mu.RUnlock()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

// RunWeb serves the monitoring dashboard: the newest gaze frame, stage,
// result and calibration from the broker, a websocket stream of protocol
// events and the log tail.
func RunWeb(configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("starting phoria web server (MQTT subscriber)")

	client, err := tracker.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	store := &latest{data: make(map[string]json.RawMessage)}
	live := stimulus.NewHub(log)
	defer live.Close()

	streams := map[string]string{
		cfg.TopicGaze:           "",
		cfg.TopicGazeCorrected:  "",
		cfg.TopicCalibration:    "",
		cfg.TopicProtocolStage:  stimulus.CmdStage,
		cfg.TopicProtocolResult: stimulus.CmdResult,
	}
	for topic, cmd := range streams {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if !json.Valid(msg.Payload()) {
				log.Warn("web: invalid JSON payload", zap.String("topic", msg.Topic()))
				return
			}
			store.set(topic, msg.Payload())
			if cmd != "" {
				live.Send(stimulus.Command{Type: cmd, Data: json.RawMessage(msg.Payload())})
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Info("web: subscribed", zap.String("topic", topic))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/gaze", store.handler(cfg.TopicGaze))
	mux.HandleFunc("/api/gaze/corrected", store.handler(cfg.TopicGazeCorrected))
	mux.HandleFunc("/api/calibration", store.handler(cfg.TopicCalibration))
	mux.HandleFunc("/api/stage", store.handler(cfg.TopicProtocolStage))
	mux.HandleFunc("/api/result", store.handler(cfg.TopicProtocolResult))
	mux.HandleFunc("/api/logs", logsHandler(cfg.LogFile, log))
	mux.Handle("/ws/events", live)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Info("web server listening", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
