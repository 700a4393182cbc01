// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/stimulus"
)

// RunMockConsole calibrates and measures the simulated subject described
// by the SIM_* keys as fast as possible and prints every step.
func RunMockConsole(configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	cfg.TrackerSource = "mock"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openSource(cfg, "", log)
	if err != nil {
		return err
	}
	defer in.close()
	store, err := newSessionStore(cfg, log)
	if err != nil {
		return err
	}

	rec := &stimulus.Recorder{}
	display := newDisplay(in, rec)
	cal := calibration.New(cfg.CalibrationConfig(), calibration.WithLogger(log), calibration.WithDisplay(display))
	proto := protocol.New(cfg.ProtocolConfig(), display, store, protocol.WithLogger(log))
	proto.OnStage(printStage)

	rig := &Rig{Source: in.source, Calibration: cal, Protocol: proto, Log: log}
	defer rig.Close()

	fmt.Printf("simulated subject: phoria H=%+.2f° V=%+.2f°, dominant %s\n",
		cfg.SimPhoriaHDeg, cfg.SimPhoriaVDeg, cfg.DominantEye)
	res, err := rig.Calibrate(ctx)
	if err != nil {
		return err
	}
	printCalibration(res)

	out, err := rig.Measure(ctx)
	if err != nil {
		return err
	}
	printResult(out)
	fmt.Printf("display commands sent: %d\n", len(rec.Commands()))
	return nil
}
