// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/button"
	"github.com/relabs-tech/phoria/internal/calibration"
	"github.com/relabs-tech/phoria/internal/events"
	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/logger"
	"github.com/relabs-tech/phoria/internal/profile"
	"github.com/relabs-tech/phoria/internal/protocol"
	"github.com/relabs-tech/phoria/internal/stimulus"
)

// SessionOptions configures RunSession.
type SessionOptions struct {
	ConfigPath string
	UserID     string // profile to restore and to store new calibrations under
	Listen     string // address for the headset page; empty disables it
	Once       bool   // run one measurement and exit instead of waiting for page actions
}

// status is the session snapshot served to the page. The driver goroutine
// writes it from engine callbacks.
type status struct {
	mu          sync.RWMutex
	Stage       protocol.Stage      `json:"stage"`
	Session     protocol.Session    `json:"session"`
	Result      *protocol.Result    `json:"result,omitempty"`
	Calibration *calibration.Result `json:"calibration,omitempty"`
	UserID      string              `json:"user_id,omitempty"`
}

func (s *status) writeJSON(w http.ResponseWriter) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(s)
}

// RunSession runs the measurement rig: gaze in, stimulus out, calibration
// and the dissociation protocol in between.
func RunSession(opts SessionOptions) error {
	cfg, log, err := setup(opts.ConfigPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	log.Info("starting phoria session driver", zap.String("tracker", cfg.TrackerSource), zap.Bool("once", opts.Once))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := openSource(cfg, cfg.MQTTClientIDSession, log)
	if err != nil {
		return err
	}
	defer in.close()

	store, err := newSessionStore(cfg, log)
	if err != nil {
		return err
	}

	hub := stimulus.NewHub(log)
	defer hub.Close()
	display := newDisplay(in, hub)

	cal := calibration.New(cfg.CalibrationConfig(), calibration.WithLogger(log), calibration.WithDisplay(display))
	proto := protocol.New(cfg.ProtocolConfig(), display, store, protocol.WithLogger(log))

	bus := events.NewBus(log)
	defer bus.Close()
	bus.AttachCalibration(cal)
	bus.AttachProtocol(proto)

	pub, client := connectPublisher(cfg, cfg.MQTTClientIDSession+"-events", log)
	if client != nil {
		defer client.Disconnect(250)
	}
	if err := forwardEvents(ctx, cfg, bus, pub, hub, log); err != nil {
		return err
	}

	st := &status{UserID: opts.UserID}
	profiles := profile.NewStore(cfg.ProfileDir, cfg.ProfileTTL(), log)
	userID := opts.UserID
	if userID != "" {
		switch err := profiles.Apply(userID, cal); {
		case err == nil:
			log.Info("app: calibration restored from profile", zap.String("user", userID))
		case errors.Is(err, profile.ErrNotFound):
			log.Info("app: no stored profile, calibration needed", zap.String("user", userID))
		default:
			log.Warn("app: profile restore failed", zap.Error(err))
		}
	}
	cal.OnCalibrated(func(r calibration.Result) {
		st.mu.Lock()
		st.Calibration = &r
		st.mu.Unlock()
		if userID == "" {
			return
		}
		if err := profiles.Put(profile.FromResult(userID, r)); err != nil {
			log.Error("app: profile save failed", zap.Error(err))
		}
	})
	proto.OnStage(func(ev protocol.StageEvent) {
		st.mu.Lock()
		defer st.mu.Unlock()
		st.Stage = ev.To
		st.Session = proto.Session()
		if res, ok := proto.Result(); ok {
			st.Result = &res
		}
	})

	rig := &Rig{
		Source:             in.source,
		Calibration:        cal,
		Protocol:           proto,
		Log:                log,
		Interval:           cfg.TickDuration(),
		RequireCalibration: cfg.RequireCalibration,
		Actions:            hub.Actions(),
	}
	defer rig.Close()
	if pub != nil {
		rig.OnFrame = func(raw gaze.Frame, corrected gaze.Sample) {
			if cal.Calibrated() {
				pub.PublishFrame(cfg.TopicGazeCorrected, gaze.Frame{Sample: corrected, TrackingEnabled: true})
			}
		}
	}

	if cfg.ButtonPin != "" {
		b, err := button.Open(cfg.ButtonPin, log)
		if err != nil {
			log.Warn("app: button unavailable", zap.Error(err))
		} else {
			rig.Presses = b.Presses(ctx)
		}
	}

	if opts.Listen != "" {
		srv := sessionServer(opts.Listen, hub, st, cfg.LogFile, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("app: http server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if opts.Once {
		res, err := measureOnce(ctx, rig)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}
	return serveActions(ctx, rig, func(uid string) {
		if uid != "" {
			userID = uid
			st.mu.Lock()
			st.UserID = uid
			st.mu.Unlock()
		}
	})
}

// measureOnce calibrates first when required and not yet calibrated, then
// runs one session.
func measureOnce(ctx context.Context, rig *Rig) (protocol.Result, error) {
	if rig.RequireCalibration && !rig.Calibration.Calibrated() {
		if _, err := rig.Calibrate(ctx); err != nil {
			return protocol.Result{}, fmt.Errorf("calibration: %w", err)
		}
	}
	return rig.Measure(ctx)
}

// serveActions keeps the rig fed and runs calibrations and sessions as the
// page requests them, until ctx is done.
func serveActions(ctx context.Context, rig *Rig, setUser func(string)) error {
	log := rig.logger()
	rig.OnSupersede = func(a stimulus.Action) { setUser(a.UserID) }
	for {
		if err := rig.Step(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("app: session driver shutting down")
				return nil
			}
			return err
		}
		req, ok := rig.TakeRequest()
		if !ok {
			continue
		}
		setUser(req.UserID)
		var err error
		switch req.Action {
		case ActionCalibrate:
			_, err = rig.Calibrate(ctx)
		case ActionStart:
			var res protocol.Result
			if res, err = rig.Measure(ctx); err == nil {
				printResult(res)
			}
		}
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrCancelled):
			log.Info("app: run cancelled", zap.String("action", req.Action))
		case err != nil:
			log.Error("app: run failed", zap.String("action", req.Action), zap.Error(err))
		}
	}
}

func sessionServer(addr string, hub *stimulus.Hub, st *status, logFile string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		if err := st.writeJSON(w); err != nil {
			log.Warn("app: json encode error", zap.Error(err))
		}
	})
	mux.HandleFunc("/api/logs", logsHandler(logFile, log))
	mux.Handle("/", http.FileServer(http.Dir("web")))
	log.Info("app: headset page listening", zap.String("addr", addr))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// logsHandler serves the newest entries of the log file. Query parameters:
// level (INFO, WARN, ...) and limit.
func logsHandler(path string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		entries, err := logger.Tail(path, r.URL.Query().Get("level"), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			log.Warn("app: json encode error", zap.Error(err))
		}
	}
}
