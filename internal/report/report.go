// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package report renders a finished session as a PNG chart: the applied
// prism offset over time, the per-eye gaze yaw, and a stage strip.
package report

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/sessionlog"
)

const (
	Width  = 960
	Height = 540

	margin     = 48
	stripH     = 14
	lineHeight = 13
)

var (
	background = color.RGBA{0xff, 0xff, 0xff, 0xff}
	axisColor  = color.RGBA{0x60, 0x60, 0x60, 0xff}
	textColor  = color.RGBA{0x10, 0x10, 0x10, 0xff}
	hColor     = color.RGBA{0xd6, 0x27, 0x28, 0xff}
	vColor     = color.RGBA{0x1f, 0x77, 0xb4, 0xff}
	leftColor  = color.RGBA{0x2c, 0xa0, 0x2c, 0xff}
	rightColor = color.RGBA{0x94, 0x67, 0xbd, 0xff}

	stageColors = map[string]color.RGBA{
		"align_baseline":     {0xc7, 0xc7, 0xc7, 0xff},
		"dissociate":         {0xff, 0xbb, 0x78, 0xff},
		"measure_drift":      {0xff, 0x7f, 0x0e, 0xff},
		"realign_peripheral": {0x98, 0xdf, 0x8a, 0xff},
		"fine_check_iterate": {0xae, 0xc7, 0xe8, 0xff},
	}
)

// ErrEmpty is returned for a session without records.
var ErrEmpty = errors.New("report: session has no records")

type series struct {
	label string
	color color.RGBA
	ys    []float64
}

// Render writes the chart for one session as PNG.
func Render(w io.Writer, meta sessionlog.Meta, records []sessionlog.Record) error {
	img, err := Draw(meta, records)
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Draw builds the chart image.
func Draw(meta sessionlog.Meta, records []sessionlog.Record) (*image.RGBA, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	start := records[0].Timestamp
	xs := make([]float64, len(records))
	offH := series{label: "offset H", color: hColor}
	offV := series{label: "offset V", color: vColor}
	yawL := series{label: "left yaw", color: leftColor}
	yawR := series{label: "right yaw", color: rightColor}
	for i, r := range records {
		xs[i] = r.Timestamp.Sub(start).Seconds()
		offH.ys = append(offH.ys, r.AppliedOffsetDeg.Horizontal)
		offV.ys = append(offV.ys, r.AppliedOffsetDeg.Vertical)
		ly, _ := gaze.ToYawPitch(r.LeftDirection)
		ry, _ := gaze.ToYawPitch(r.RightDirection)
		yawL.ys = append(yawL.ys, gaze.Deg(ly))
		yawR.ys = append(yawR.ys, gaze.Deg(ry))
	}

	top := image.Rect(margin, margin+lineHeight, Width-margin, Height/2-margin/2)
	bottom := image.Rect(margin, Height/2+margin/2, Width-margin, Height-margin-stripH)
	strip := image.Rect(margin, Height-margin-stripH+4, Width-margin, Height-margin+4)

	plot(img, top, xs, offH, offV)
	plot(img, bottom, xs, yawL, yawR)
	drawStages(img, strip, xs, records)

	d := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: basicfont.Face7x13}
	title := fmt.Sprintf("session %s  dominant %s  prism H %.2f V %.2f deg  iterations %d",
		meta.SessionID, meta.DominantEye, meta.HorizontalPrismDeg, meta.VerticalPrismDeg, meta.Iterations)
	label(d, margin, margin-8, title)
	label(d, top.Min.X, top.Min.Y-2, "applied offset (deg)")
	label(d, bottom.Min.X, bottom.Min.Y-2, "gaze yaw (deg)")
	label(d, Width-margin-120, Height-8, fmt.Sprintf("t = %.1f s", xs[len(xs)-1]))
	return img, nil
}

func label(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func bounds(vals ...[]float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		for _, y := range v {
			if math.IsNaN(y) || math.IsInf(y, 0) {
				continue
			}
			lo = math.Min(lo, y)
			hi = math.Max(hi, y)
		}
	}
	if math.IsInf(lo, 1) {
		return -1, 1
	}
	if hi-lo < 1e-6 {
		lo, hi = lo-1, hi+1
	}
	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad
}

func plot(img *image.RGBA, r image.Rectangle, xs []float64, ss ...series) {
	frame(img, r)
	vals := make([][]float64, len(ss))
	for i, s := range ss {
		vals[i] = s.ys
	}
	lo, hi := bounds(vals...)
	xmax := xs[len(xs)-1]
	if xmax <= 0 {
		xmax = 1
	}
	px := func(x float64) int { return r.Min.X + int(x/xmax*float64(r.Dx()-1)) }
	py := func(y float64) int { return r.Max.Y - 1 - int((y-lo)/(hi-lo)*float64(r.Dy()-1)) }

	if lo < 0 && hi > 0 {
		zero := py(0)
		for x := r.Min.X; x < r.Max.X; x += 4 {
			img.Set(x, zero, axisColor)
		}
	}

	d := &font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: basicfont.Face7x13}
	label(d, 2, r.Min.Y+lineHeight, fmt.Sprintf("%.1f", hi))
	label(d, 2, r.Max.Y, fmt.Sprintf("%.1f", lo))

	for i, s := range ss {
		for j := 1; j < len(s.ys); j++ {
			if !finite(s.ys[j-1]) || !finite(s.ys[j]) {
				continue
			}
			line(img, px(xs[j-1]), py(s.ys[j-1]), px(xs[j]), py(s.ys[j]), s.color)
		}
		d.Src = image.NewUniform(s.color)
		label(d, r.Max.X-90, r.Min.Y+lineHeight*(i+1), s.label)
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func frame(img *image.RGBA, r image.Rectangle) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, axisColor)
		img.Set(x, r.Max.Y-1, axisColor)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, axisColor)
		img.Set(r.Max.X-1, y, axisColor)
	}
}

// line draws with Bresenham's algorithm.
func line(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawStages(img *image.RGBA, r image.Rectangle, xs []float64, records []sessionlog.Record) {
	xmax := xs[len(xs)-1]
	if xmax <= 0 {
		xmax = 1
	}
	for i, rec := range records {
		c, ok := stageColors[rec.Stage]
		if !ok {
			continue
		}
		x0 := r.Min.X + int(xs[i]/xmax*float64(r.Dx()-1))
		x1 := x0 + 1
		if i+1 < len(records) {
			x1 = r.Min.X + int(xs[i+1]/xmax*float64(r.Dx()-1)) + 1
		}
		draw.Draw(img, image.Rect(x0, r.Min.Y, x1, r.Max.Y), image.NewUniform(c), image.Point{}, draw.Src)
	}
}
