// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package events is the in-process bus carrying calibration and protocol
// notifications to the transport layers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/protocol"
)

const (
	TopicCalibrationCompleted = "calibration.completed"
	TopicProtocolStage        = "protocol.stage"
	TopicProtocolResult       = "protocol.result"
)

// Bus wraps a watermill go-channel pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    *zap.Logger
}

// NewBus creates a bus. Publish returns once every subscriber has received
// the message, so each subscriber sees a topic in publish order.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            64,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		log: log,
	}
}

// Publish marshals v as JSON and publishes it on topic.
func (b *Bus) Publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe delivers the raw payload of every message on topic to fn until
// ctx is done. fn runs on a dedicated goroutine, one message at a time.
func (b *Bus) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) error {
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("events: subscribe %s: %w", topic, err)
	}
	go func() {
		for msg := range messages {
			// Acked on receipt: publishers wait for delivery, not for fn.
			msg.Ack()
			fn(msg.Payload)
		}
	}()
	return nil
}

// Close shuts the bus down; subscriber channels are closed.
func (b *Bus) Close() error { return b.pubsub.Close() }

// AttachCalibration publishes every completion of e.
func (b *Bus) AttachCalibration(e *calibration.Engine) {
	e.OnCalibrated(func(r calibration.Result) {
		if err := b.Publish(TopicCalibrationCompleted, r); err != nil {
			b.log.Warn("events: calibration publish failed", zap.Error(err))
		}
	})
}

// AttachProtocol publishes every stage change of p, and the result when a
// session completes.
func (b *Bus) AttachProtocol(p *protocol.Protocol) {
	p.OnStage(func(ev protocol.StageEvent) {
		if err := b.Publish(TopicProtocolStage, ev); err != nil {
			b.log.Warn("events: stage publish failed", zap.Error(err))
		}
		if ev.To != protocol.Complete {
			return
		}
		if res, ok := p.Result(); ok {
			if err := b.Publish(TopicProtocolResult, res); err != nil {
				b.log.Warn("events: result publish failed", zap.Error(err))
			}
		}
	})
}
