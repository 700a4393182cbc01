// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package report

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

func records() []sessionlog.Record {
	t0 := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	stages := []string{"align_baseline", "dissociate", "measure_drift", "fine_check_iterate"}
	var out []sessionlog.Record
	for i := 0; i < 200; i++ {
		d := gaze.RotateYaw(gaze.Vec3{Z: 1}, gaze.Rad(float64(i%20)/10))
		out = append(out, sessionlog.Record{
			Stage:            stages[i*len(stages)/200],
			Timestamp:        t0.Add(time.Duration(i) * 11 * time.Millisecond),
			LeftDirection:    d,
			RightDirection:   gaze.Vec3{Z: 1},
			AppliedOffsetDeg: gaze.Offset{Horizontal: -float64(i) / 100},
		})
	}
	return out
}

func TestRenderPNG(t *testing.T) {
	meta := sessionlog.Meta{SessionID: "abc", DominantEye: gaze.Right, HorizontalPrismDeg: -2, Iterations: 2}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, meta, records()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, Width, img.Bounds().Dx())
	assert.Equal(t, Height, img.Bounds().Dy())
}

func TestDrawPlotsSeries(t *testing.T) {
	img, err := Draw(sessionlog.Meta{}, records())
	require.NoError(t, err)

	found := false
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y && !found; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == hColor {
				found = true
				break
			}
		}
	}
	assert.True(t, found, "horizontal offset trace drawn")
}

func TestRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Render(&buf, sessionlog.Meta{}, nil), ErrEmpty)
}

func TestBoundsFlatSeries(t *testing.T) {
	lo, hi := bounds([]float64{2, 2, 2})
	assert.Less(t, lo, 2.0)
	assert.Greater(t, hi, 2.0)
}
