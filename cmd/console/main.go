// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

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
	flag.Parse()

	log, _ := logger.New(logger.Options{})
	log.Info("starting phoria (mock console)")

	if err := app.RunMockConsole(*configPath); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}
