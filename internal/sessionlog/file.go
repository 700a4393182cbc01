// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sessionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/relabs-tech/phoria/internal/gaze"
)

// FileStore writes each session as an indented JSON document plus a CSV
// export for offline analysis.
type FileStore struct {
	Dir    string
	Target gaze.Vec3 // fixation point written to the CSV TargetCenter columns
	Log    *zap.Logger
}

// NewFileStore returns a store writing under dir.
func NewFileStore(dir string, target gaze.Vec3, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{Dir: dir, Target: target, Log: log}
}

// BaseName returns the file name (without extension) used for a session.
func BaseName(meta Meta) string {
	return fmt.Sprintf("%s_%d_phoria_session", meta.SessionID, meta.CompletedAt.Unix())
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, meta Meta, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	base := filepath.Join(s.Dir, BaseName(meta))

	data, err := json.MarshalIndent(Document{Meta: meta, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session log: %w", err)
	}
	if err := os.WriteFile(base+".json", data, 0644); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}

	f, err := os.Create(base + ".csv")
	if err != nil {
		return fmt.Errorf("failed to create session csv: %w", err)
	}
	if err := WriteCSV(f, Rows(meta, records, s.Target)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close session csv: %w", err)
	}

	s.Log.Info("sessionlog: saved session",
		zap.String("session", meta.SessionID), zap.String("path", base+".json"), zap.Int("records", len(records)))
	return nil
}

// ReadJSON loads a session document written by FileStore.
func ReadJSON(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read session log: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse session log %s: %w", path, err)
	}
	return doc, nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}
