// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package profile stores per-user calibration models so returning users can
// skip recalibration.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/calibration"
)

// ErrNotFound is returned when no profile exists for a user.
var ErrNotFound = errors.New("profile: not found")

var validUserID = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Profile is one user's stored calibration.
type Profile struct {
	UserID       string                  `json:"user_id"`
	CalibratedAt time.Time               `json:"calibrated_at"`
	Left         calibration.AffineModel `json:"left"`
	Right        calibration.AffineModel `json:"right"`
	LeftStatus   calibration.FitStatus   `json:"left_status"`
	RightStatus  calibration.FitStatus   `json:"right_status"`
}

// FromResult builds a profile from a calibration result.
func FromResult(userID string, r calibration.Result) Profile {
	return Profile{
		UserID:       userID,
		CalibratedAt: r.CompletedAt,
		Left:         r.Left,
		Right:        r.Right,
		LeftStatus:   r.LeftStatus,
		RightStatus:  r.RightStatus,
	}
}

// Store keeps profiles in an expiring in-memory cache backed by one JSON
// file per user.
type Store struct {
	dir   string
	cache *cache.Cache
	log   *zap.Logger
}

// NewStore creates a store under dir. Cached entries expire after ttl.
func NewStore(dir string, ttl time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		dir:   dir,
		cache: cache.New(ttl, 2*ttl),
		log:   log,
	}
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+"_phoria_profile.json")
}

// Put stores p in the cache and writes it through to disk.
func (s *Store) Put(p Profile) error {
	if !validUserID.MatchString(p.UserID) {
		return fmt.Errorf("profile: invalid user id %q", p.UserID)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := os.WriteFile(s.path(p.UserID), data, 0644); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	s.cache.Set(p.UserID, p, cache.DefaultExpiration)
	s.log.Info("profile: saved", zap.String("user", p.UserID))
	return nil
}

// Get returns the profile of userID, loading it from disk on a cache miss.
func (s *Store) Get(userID string) (Profile, error) {
	if !validUserID.MatchString(userID) {
		return Profile{}, fmt.Errorf("profile: invalid user id %q", userID)
	}
	if x, found := s.cache.Get(userID); found {
		return x.(Profile), nil
	}

	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile %s: %w", userID, err)
	}
	s.cache.Set(userID, p, cache.DefaultExpiration)
	s.log.Debug("profile: loaded from disk", zap.String("user", userID))
	return p, nil
}

// Delete removes a profile from cache and disk.
func (s *Store) Delete(userID string) error {
	if !validUserID.MatchString(userID) {
		return fmt.Errorf("profile: invalid user id %q", userID)
	}
	s.cache.Delete(userID)
	if err := os.Remove(s.path(userID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Apply restores the stored models of userID into engine.
func (s *Store) Apply(userID string, engine *calibration.Engine) error {
	p, err := s.Get(userID)
	if err != nil {
		return err
	}
	engine.Restore(p.Left, p.Right)
	return nil
}
