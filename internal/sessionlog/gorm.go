// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sessionlog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relabs-tech/phoria/internal/gaze"
)

type sessionRow struct {
	ID                 string `gorm:"primaryKey"`
	StartedAt          time.Time
	CompletedAt        time.Time
	DominantEye        string
	HorizontalPrismDeg float64
	VerticalPrismDeg   float64
	Iterations         int
	Records            []recordRow `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (sessionRow) TableName() string { return "phoria_sessions" }

type recordRow struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Seq       int
	Stage     string
	Timestamp time.Time
	LeftX     float64
	LeftY     float64
	LeftZ     float64
	RightX    float64
	RightY    float64
	RightZ    float64
	OffsetH   float64
	OffsetV   float64
}

func (recordRow) TableName() string { return "phoria_session_records" }

// GormStore persists sessions to a SQL database.
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenPostgres connects to Postgres using a DSN
// ("host=... user=... dbname=... sslmode=disable").
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// NewGormStore migrates the session tables and returns the store.
func NewGormStore(db *gorm.DB, log *zap.Logger) (*GormStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := db.AutoMigrate(&sessionRow{}, &recordRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session tables: %w", err)
	}
	return &GormStore{db: db, log: log}, nil
}

// Save implements Store. The session and its records are written in one
// transaction.
func (s *GormStore) Save(ctx context.Context, meta Meta, records []Record) error {
	row := sessionRow{
		ID:                 meta.SessionID,
		StartedAt:          meta.StartedAt,
		CompletedAt:        meta.CompletedAt,
		DominantEye:        meta.DominantEye.String(),
		HorizontalPrismDeg: meta.HorizontalPrismDeg,
		VerticalPrismDeg:   meta.VerticalPrismDeg,
		Iterations:         meta.Iterations,
	}
	rows := make([]recordRow, len(records))
	for i, r := range records {
		rows[i] = recordRow{
			SessionID: meta.SessionID,
			Seq:       i,
			Stage:     r.Stage,
			Timestamp: r.Timestamp,
			LeftX:     r.LeftDirection.X,
			LeftY:     r.LeftDirection.Y,
			LeftZ:     r.LeftDirection.Z,
			RightX:    r.RightDirection.X,
			RightY:    r.RightDirection.Y,
			RightZ:    r.RightDirection.Z,
			OffsetH:   r.AppliedOffsetDeg.Horizontal,
			OffsetV:   r.AppliedOffsetDeg.Vertical,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 500).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", meta.SessionID, err)
	}
	s.log.Info("sessionlog: stored session", zap.String("session", meta.SessionID), zap.Int("records", len(rows)))
	return nil
}

// Load reads a stored session back.
func (s *GormStore) Load(ctx context.Context, id string) (Document, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).
		Preload("Records", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		First(&row, "id = ?", id).Error
	if err != nil {
		return Document{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	eye, err := gaze.ParseEye(row.DominantEye)
	if err != nil {
		return Document{}, err
	}
	doc := Document{Meta: Meta{
		SessionID:          row.ID,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
		DominantEye:        eye,
		HorizontalPrismDeg: row.HorizontalPrismDeg,
		VerticalPrismDeg:   row.VerticalPrismDeg,
		Iterations:         row.Iterations,
	}}
	for _, r := range row.Records {
		doc.Records = append(doc.Records, Record{
			Stage:            r.Stage,
			Timestamp:        r.Timestamp,
			LeftDirection:    gaze.Vec3{X: r.LeftX, Y: r.LeftY, Z: r.LeftZ},
			RightDirection:   gaze.Vec3{X: r.RightX, Y: r.RightY, Z: r.RightZ},
			AppliedOffsetDeg: gaze.Offset{Horizontal: r.OffsetH, Vertical: r.OffsetV},
		})
	}
	return doc, nil
}
