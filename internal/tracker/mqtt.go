// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"encoding/json"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// Connect creates and connects an MQTT client.
func Connect(broker, clientID string, log *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	if log != nil {
		log.Info("tracker: connected to MQTT broker", zap.String("broker", broker), zap.String("client_id", clientID))
	}
	return client, nil
}

// MQTTFeed is a gaze source fed by frames published on an MQTT topic. It
// keeps only the newest frame; Next hands each frame out once.
type MQTTFeed struct {
	log *zap.Logger

	mu     sync.Mutex
	latest gaze.Frame
	fresh  bool
	count  int
}

// NewMQTTFeed subscribes to topic on client.
func NewMQTTFeed(client mqtt.Client, topic string, log *zap.Logger) (*MQTTFeed, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f := &MQTTFeed{log: log}
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		f.handle(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}
	log.Info("tracker: subscribed to gaze topic", zap.String("topic", topic))
	return f, nil
}

func (f *MQTTFeed) handle(payload []byte) {
	var fr gaze.Frame
	if err := json.Unmarshal(payload, &fr); err != nil {
		f.log.Warn("tracker: gaze payload unmarshal error", zap.Error(err))
		return
	}
	f.mu.Lock()
	f.latest = fr
	f.fresh = true
	f.count++
	f.mu.Unlock()
}

// Next returns the newest frame if it has not been returned yet; otherwise
// a frame with tracking disabled.
func (f *MQTTFeed) Next() (gaze.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fresh {
		return gaze.Frame{}, nil
	}
	f.fresh = false
	return f.latest, nil
}

// Received returns the number of frames received so far.
func (f *MQTTFeed) Received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Publisher publishes JSON payloads to MQTT.
type Publisher struct {
	client mqtt.Client
	log    *zap.Logger
}

// NewPublisher wraps a connected client.
func NewPublisher(client mqtt.Client, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{client: client, log: log}
}

// Publish marshals v and publishes it on topic. Retained messages are kept
// by the broker for late subscribers.
func (p *Publisher) Publish(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// PublishRaw publishes an already encoded payload.
func (p *Publisher) PublishRaw(topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, 0, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// PublishFrame publishes one gaze frame, logging instead of failing.
func (p *Publisher) PublishFrame(topic string, f gaze.Frame) {
	if err := p.Publish(topic, f, false); err != nil {
		p.log.Warn("tracker: frame publish error", zap.Error(err))
	}
}
