// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Offline analysis of a recorded session CSV: per-eye diopters, fixations,
// outlier removal, clustering and the recommended base alignment.
//
// Run:
//
//	go run ./cmd/analyze -png chart.png sessions/<id>_<unix>_phoria_session.csv
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/app"
	"github.com/relabs-tech/phoria/internal/config"
	"github.com/relabs-tech/phoria/internal/logger"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "configuration file; defaults are used when it is missing")
	jsonOut := flag.String("json", "", "write the full report as JSON")
	pngOut := flag.String("png", "", "render the session chart (needs the session JSON next to the CSV)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <session.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log, _ := logger.New(logger.Options{Level: "warn"})
	err := app.RunAnalyze(app.AnalyzeOptions{
		CSVPath:    flag.Arg(0),
		ConfigPath: *configPath,
		JSONOut:    *jsonOut,
		PNGOut:     *pngOut,
	})
	if err != nil {
		log.Fatal("analysis failed", zap.Error(err))
	}
}
