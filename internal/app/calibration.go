// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/profile"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/stimulus"
)

// CalibrationOptions configures RunCalibration.
type CalibrationOptions struct {
	ConfigPath string
	UserID     string
	Listen     string    // headset page address; empty disables it
	Manual     io.Reader // when set, each line read advances to the next target
}

// RunCalibration runs one guided calibration and stores the result as the
// user's profile.
func RunCalibration(opts CalibrationOptions) error {
	cfg, log, err := setup(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	if opts.UserID == "" {
		return errors.New("calibration: user id required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openSource(cfg, cfg.MQTTClientIDSession, log)
	if err != nil {
		return err
	}
	defer in.close()

	hub := stimulus.NewHub(log)
	defer hub.Close()
	display := newDisplay(in, hub)
	if opts.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		mux.Handle("/", http.FileServer(http.Dir("web")))
		srv := &http.Server{Addr: opts.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("calibration: http server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	cal := calibration.New(cfg.CalibrationConfig(), calibration.WithLogger(log), calibration.WithDisplay(display))
	rig := &Rig{
		Source:      in.source,
		Calibration: cal,
		Protocol:    protocol.New(cfg.ProtocolConfig(), display, nil, protocol.WithLogger(log)),
		Log:         log,
		Interval:    cfg.TickDuration(),
		Actions:     hub.Actions(),
	}
	defer rig.Close()
	if opts.Manual != nil {
		rig.Presses = lines(ctx, opts.Manual)
		fmt.Println("Press Enter while fixating each target to move on.")
	}

	fmt.Printf("=== Calibration for %s: %d targets ===\n", opts.UserID, cfg.CalTargetCount)
	res, err := rig.Calibrate(ctx)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	printCalibration(res)

	profiles := profile.NewStore(cfg.ProfileDir, cfg.ProfileTTL(), log)
	if err := profiles.Put(profile.FromResult(opts.UserID, res)); err != nil {
		return err
	}
	fmt.Printf("Profile saved for %s in %s\n", opts.UserID, cfg.ProfileDir)
	return nil
}

// lines turns each line read from r into a press.
func lines(ctx context.Context, r io.Reader) <-chan time.Time {
	out := make(chan time.Time, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- time.Now():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
