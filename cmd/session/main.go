// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Session driver: reads gaze, drives the headset stimulus and runs the
// calibration and dissociation protocol.
//
// Run:
//
//	go run ./cmd/session -user alice -listen :8090
//	go run ./cmd/session -once
package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/app"
	"github.com/relabs-tech/phoria/internal/config"
	"github.com/relabs-tech/phoria/internal/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "configuration file")
	user := flag.String("user", "", "user id whose calibration profile is restored and updated")
	listen := flag.String("listen", ":8090", "address of the headset page and its websocket; empty disables it")
	once := flag.Bool("once", false, "run a single measurement and exit")
	flag.Parse()

	log, _ := logger.New(logger.Options{})
	log.Info("starting phoria session driver")

	if err := app.RunSession(app.SessionOptions{
		ConfigPath: *configPath,
		UserID:     *user,
		Listen:     *listen,
		Once:       *once,
	}); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}
