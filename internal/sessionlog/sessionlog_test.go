// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sessionlog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/gaze"
)

func fixture() (Meta, []Record) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	meta := Meta{
		SessionID:          uuid.NewString(),
		StartedAt:          start,
		CompletedAt:        start.Add(10 * time.Second),
		DominantEye:        gaze.Right,
		HorizontalPrismDeg: -2.5,
		VerticalPrismDeg:   0.5,
		Iterations:         2,
	}
	var recs []Record
	for i := 0; i < 5; i++ {
		recs = append(recs, Record{
			Stage:            "align_baseline",
			Timestamp:        start.Add(time.Duration(i) * 100 * time.Millisecond),
			LeftDirection:    gaze.Vec3{X: 0.01 * float64(i), Z: 1},
			RightDirection:   gaze.Vec3{X: -0.02, Y: 0.1, Z: 1},
			AppliedOffsetDeg: gaze.Offset{Horizontal: -1},
		})
	}
	return meta, recs
}

func TestCSVRoundTrip(t *testing.T) {
	meta, recs := fixture()
	target := gaze.Vec3{Z: 2}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Rows(meta, recs, target)))
	assert.True(t, strings.HasPrefix(buf.String(), "Timestamp,Stage,LeftEyeDirX"))

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, rows, len(recs))
	assert.InDelta(t, 0.4, rows[4].Timestamp, 1e-9)
	assert.Equal(t, "align_baseline", rows[0].Stage)
	assert.Equal(t, recs[3].LeftDirection, rows[3].LeftDirection)
	assert.Equal(t, target, rows[2].TargetCenter)
	assert.Equal(t, -1.0, rows[1].Offset.Horizontal)
}

func TestReadCSVAnalysisColumnsOnly(t *testing.T) {
	in := "Timestamp,LeftEyeDirX,LeftEyeDirY,LeftEyeDirZ,RightEyeDirX,RightEyeDirY,RightEyeDirZ,TargetCenterX,TargetCenterY,TargetCenterZ\n" +
		"0.5,0,0,1,0,0,1,0,0,2\n"
	rows, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.5, rows[0].Timestamp)
	assert.Empty(t, rows[0].Stage)
}

func TestReadCSVErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("Timestamp,Stage\n1,x\n"))
	assert.ErrorContains(t, err, "missing column")

	bad := strings.Join(CSVHeader, ",") + "\nnope,s,0,0,1,0,0,1,0,0,2,0,0\n"
	_, err = ReadCSV(strings.NewReader(bad))
	assert.ErrorContains(t, err, "Timestamp")
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	meta, recs := fixture()
	store := NewFileStore(dir, gaze.Vec3{Z: 2}, nil)
	require.NoError(t, store.Save(context.Background(), meta, recs))

	doc, err := ReadJSON(filepath.Join(dir, BaseName(meta)+".json"))
	require.NoError(t, err)
	assert.Equal(t, meta.SessionID, doc.Meta.SessionID)
	assert.Equal(t, gaze.Right, doc.Meta.DominantEye)
	require.Len(t, doc.Records, len(recs))
	assert.True(t, recs[2].Timestamp.Equal(doc.Records[2].Timestamp))

	rows, err := ReadCSVFile(filepath.Join(dir, BaseName(meta)+".csv"))
	require.NoError(t, err)
	assert.Len(t, rows, len(recs))
}

func TestFileStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	meta, recs := fixture()
	err := NewFileStore(t.TempDir(), gaze.Vec3{}, nil).Save(ctx, meta, recs)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore(t *testing.T) {
	meta, recs := fixture()
	m := &Memory{}
	require.NoError(t, m.Save(context.Background(), meta, recs))
	recs[0].Stage = "mutated"
	assert.Equal(t, "align_baseline", m.Sessions[0].Records[0].Stage)

	m.Err = errors.New("boom")
	assert.Error(t, m.Save(context.Background(), meta, recs))
}

func TestGormStore(t *testing.T) {
	dsn := os.Getenv("PHORIA_TEST_DSN")
	if dsn == "" {
		t.Skip("PHORIA_TEST_DSN not set")
	}
	db, err := OpenPostgres(dsn)
	require.NoError(t, err)
	store, err := NewGormStore(db, nil)
	require.NoError(t, err)

	meta, recs := fixture()
	require.NoError(t, store.Save(context.Background(), meta, recs))

	doc, err := store.Load(context.Background(), meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, meta.Iterations, doc.Meta.Iterations)
	require.Len(t, doc.Records, len(recs))
	assert.Equal(t, recs[4].LeftDirection, doc.Records[4].LeftDirection)
}

func TestMultiAttemptsEveryStore(t *testing.T) {
	meta, records := fixture()
	ok := &Memory{}
	bad := &Memory{Err: errors.New("db down")}
	err := Multi{bad, ok}.Save(context.Background(), meta, records)
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")
	assert.Len(t, ok.Sessions, 1)

	assert.NoError(t, Multi{ok}.Save(context.Background(), meta, records))
}
