// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package button reads the headset push button used to advance calibration
// targets and start a session.
package button

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

const (
	pollTimeout     = 100 * time.Millisecond
	DefaultDebounce = 150 * time.Millisecond
)

// Pin is the part of a GPIO input the button needs.
type Pin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	WaitForEdge(timeout time.Duration) bool
	Read() gpio.Level
}

// Button reports presses of an active-low push button.
type Button struct {
	pin      Pin
	name     string
	debounce time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// Open initializes the GPIO host and configures the named pin with a pull
// up and falling-edge detection.
func Open(name string, log *zap.Logger) (*Button, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("button: periph host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("button: pin %q not found", name)
	}
	return New(p, name, log)
}

// New wraps an already resolved pin.
func New(p Pin, name string, log *zap.Logger) (*Button, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("button: configure pin %s: %w", name, err)
	}
	log.Info("button: ready", zap.String("pin", name))
	return &Button{pin: p, name: name, debounce: DefaultDebounce, log: log, now: time.Now}, nil
}

// SetDebounce changes the minimum spacing between reported presses.
func (b *Button) SetDebounce(d time.Duration) { b.debounce = d }

// Presses returns a channel that receives the time of each press until ctx
// is done. Edges closer than the debounce interval to the previous press
// are ignored, as are edges where the line has already gone back high.
func (b *Button) Presses(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time, 4)
	go func() {
		defer close(out)
		var last time.Time
		for ctx.Err() == nil {
			if !b.pin.WaitForEdge(pollTimeout) {
				continue
			}
			if b.pin.Read() != gpio.Low {
				continue
			}
			now := b.now()
			if !last.IsZero() && now.Sub(last) < b.debounce {
				continue
			}
			last = now
			b.log.Debug("button: pressed", zap.String("pin", b.name))
			select {
			case out <- now:
			case <-ctx.Done():
				return
			default:
				b.log.Warn("button: press dropped, reader too slow")
			}
		}
	}()
	return out
}
