// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Guided eye tracker calibration for one user.
//
// Targets are shown one at a time on the headset page (or to the simulated
// subject with TRACKER_SOURCE=mock). Each target is sampled until
// CAL_SAMPLES_PER_TARGET samples are collected, or until Enter is pressed
// when -manual is set. Per-eye affine corrections are then fitted and saved
// as the user's profile under PROFILE_DIR.
//
// Run:
//
//	go run ./cmd/calibration -user alice
package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/app"
	"github.com/relabs-tech/phoria/internal/config"
	"github.com/relabs-tech/phoria/internal/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "configuration file")
	user := flag.String("user", "", "user id to store the calibration under (required)")
	listen := flag.String("listen", ":8090", "address of the headset page; empty disables it")
	manual := flag.Bool("manual", false, "advance targets with Enter")
	flag.Parse()

	log, _ := logger.New(logger.Options{})

	opts := app.CalibrationOptions{ConfigPath: *configPath, UserID: *user, Listen: *listen}
	if *manual {
		opts.Manual = os.Stdin
	}
	if err := app.RunCalibration(opts); err != nil {
		log.Fatal("calibration failed", zap.Error(err))
	}
}
