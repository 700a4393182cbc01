// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker provides gaze sources (serial bridge, MQTT, simulated
// subject) and publishes gaze and protocol data to MQTT.
package tracker

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// SerialFeed reads gaze sentences from a tracker bridge.
type SerialFeed struct {
	r      *bufio.Reader
	closer io.Closer
	log    *zap.Logger
	bad    int
}

// OpenSerial opens the bridge serial port.
func OpenSerial(port string, baud int, log *zap.Logger) (*SerialFeed, error) {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	rwc, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker serial port %s: %w", port, err)
	}
	if log != nil {
		log.Info("tracker: serial port opened", zap.String("port", port), zap.Int("baud", baud))
	}
	f := NewSerialFeed(rwc, log)
	f.closer = rwc
	return f, nil
}

// NewSerialFeed reads sentences from r.
func NewSerialFeed(r io.Reader, log *zap.Logger) *SerialFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialFeed{r: bufio.NewReader(r), log: log}
}

// Next blocks until the next gaze sentence arrives. Lines that are not
// gaze sentences or fail their checksum are skipped.
func (f *SerialFeed) Next() (gaze.Frame, error) {
	for {
		line, err := f.r.ReadString('\n')
		if err != nil && (err != io.EOF || strings.TrimSpace(line) == "") {
			return gaze.Frame{}, err
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, perr := nmea.Parse(line)
		if perr != nil {
			f.bad++
			f.log.Debug("tracker: bad sentence", zap.Error(perr), zap.Int("bad_total", f.bad))
			continue
		}
		if g, ok := sentence.(GAZ); ok {
			return g.Frame, nil
		}
	}
}

// Rejected returns how many sentences failed to parse.
func (f *SerialFeed) Rejected() int { return f.bad }

// Close closes the serial port, if any.
func (f *SerialFeed) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
