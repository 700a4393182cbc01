// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/analysis"
	"github.com/relabs-tech/phoria/internal/config"
	"github.com/relabs-tech/phoria/internal/logger"
	"github.com/relabs-tech/phoria/internal/report"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

// AnalyzeOptions configures RunAnalyze.
type AnalyzeOptions struct {
	CSVPath    string
	ConfigPath string
	JSONOut    string // optional full report
	PNGOut     string // optional chart; needs the session JSON next to the CSV
	Out        io.Writer
}

// RunAnalyze runs the offline analysis over a recorded session CSV.
func RunAnalyze(opts AnalyzeOptions) error {
	if opts.CSVPath == "" {
		return errors.New("analyze: csv path required")
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	log, err := logger.New(logger.Options{Level: "warn"})
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := config.Default()
	if _, err := os.Stat(opts.ConfigPath); err == nil {
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return err
		}
	} else {
		log.Warn("analyze: configuration file not found, using defaults", zap.String("path", opts.ConfigPath))
	}

	rows, err := sessionlog.ReadCSVFile(opts.CSVPath)
	if err != nil {
		return err
	}
	rep, err := analysis.Analyze(rows, cfg.AnalysisConfig())
	if err != nil {
		return err
	}
	printAnalysis(opts.Out, rep)

	if opts.JSONOut != "" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		if err := os.WriteFile(opts.JSONOut, data, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if opts.PNGOut != "" {
		if err := renderChart(opts.CSVPath, opts.PNGOut); err != nil {
			return err
		}
		fmt.Fprintf(opts.Out, "\nChart written to %s\n", opts.PNGOut)
	}
	return nil
}

func renderChart(csvPath, pngPath string) error {
	doc, err := sessionlog.ReadJSON(strings.TrimSuffix(csvPath, ".csv") + ".json")
	if err != nil {
		return fmt.Errorf("chart needs the session JSON: %w", err)
	}
	f, err := os.Create(pngPath)
	if err != nil {
		return err
	}
	if err := report.Render(f, doc.Meta, doc.Records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printAnalysis(w io.Writer, rep *analysis.Report) {
	fmt.Fprintf(w, "Number of Left Fixations: %d\n", len(rep.LeftFixations))
	for _, f := range rep.LeftFixations {
		fmt.Fprintf(w, "  Left Fixation: Duration: %.4fs, Location: %.2f diopters\n", f.Duration, f.Location)
	}
	fmt.Fprintf(w, "Number of Right Fixations: %d\n", len(rep.RightFixations))
	for _, f := range rep.RightFixations {
		fmt.Fprintf(w, "  Right Fixation: Duration: %.4fs, Location: %.2f diopters\n", f.Duration, f.Location)
	}

	fmt.Fprintf(w, "\nSamples kept after outlier removal: %d of %d\n", rep.Kept, len(rep.Points))
	if rep.Kept == 0 {
		fmt.Fprintln(w, "No samples left to describe.")
		return
	}

	names := make([]string, 0, len(rep.Stats))
	for k := range rep.Stats {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "\n%-18s %6s %8s %8s %8s %8s %8s %8s %8s\n", "", "count", "mean", "std", "min", "25%", "50%", "75%", "max")
	for _, n := range names {
		s := rep.Stats[n]
		fmt.Fprintf(w, "%-18s %6d %8.3f %8.3f %8.3f %8.3f %8.3f %8.3f %8.3f\n",
			n, s.Count, s.Mean, s.Std, s.Min, s.P25, s.Median, s.P75, s.Max)
	}

	fmt.Fprintf(w, "\nClusters: %v\n", rep.ClusterSizes)
	fmt.Fprintf(w, "\nRecommended Base Alignment (Left Eye):\n  Diopters: %.2f\n  Vertical: %.2f\n", rep.LeftBase.Diopters, rep.LeftBase.Vertical)
	fmt.Fprintf(w, "\nRecommended Base Alignment (Right Eye):\n  Diopters: %.2f\n  Vertical: %.2f\n", rep.RightBase.Diopters, rep.RightBase.Vertical)
	if rep.Stable.Found {
		fmt.Fprintf(w, "\nStable Sample Time Range (for Fine Alignment):\n  Start Time: %.2f\n  End Time: %.2f\n", rep.Stable.Start, rep.Stable.End)
	} else {
		fmt.Fprintln(w, "\nNo stable sample found within the criteria.")
	}
}
