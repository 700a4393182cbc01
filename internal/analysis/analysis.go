// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package analysis turns a recorded session into per-eye diopter series,
// fixations, clusters and a recommended base alignment.
package analysis

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/phoria/internal/gaze"
	"github.com/relabs-tech/phoria/internal/sessionlog"
	"github.com/relabs-tech/phoria/internal/vergence"
)

// ErrNoData is returned when there are no rows to analyze.
var ErrNoData = errors.New("analysis: no data")

// Config holds the analysis thresholds.
type Config struct {
	IPDMeters                  float64
	DiopterToDegreeConversion  float64
	OutlierThresholdMultiplier float64
	OutlierWindow              int
	StableSampleThreshold      float64
	VelocityWindowSize         int
	AccelerationWindowSize     int
	FixationStabilityThreshold float64
	FixationMinDuration        float64 // seconds
	Clusters                   int
	Seed                       uint64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		IPDMeters:                  0.069,
		DiopterToDegreeConversion:  1.0,
		OutlierThresholdMultiplier: 3.0,
		OutlierWindow:              10,
		StableSampleThreshold:      1.0,
		VelocityWindowSize:         5,
		AccelerationWindowSize:     5,
		FixationStabilityThreshold: 0.5,
		FixationMinDuration:        0.1,
		Clusters:                   3,
		Seed:                       42,
	}
}

// Point holds the derived values of one input row.
type Point struct {
	Timestamp         float64 `json:"timestamp"`
	Stage             string  `json:"stage,omitempty"`
	LeftDiopters      float64 `json:"left_diopters"`
	RightDiopters     float64 `json:"right_diopters"`
	LeftVertical      float64 `json:"left_vertical"`
	RightVertical     float64 `json:"right_vertical"`
	TargetHorizontal  float64 `json:"target_horizontal"`
	TargetVertical    float64 `json:"target_vertical"`
	VergenceDistance  float64 `json:"vergence_distance"`
	LeftVelocity      float64 `json:"left_velocity"`
	RightVelocity     float64 `json:"right_velocity"`
	LeftAcceleration  float64 `json:"left_acceleration"`
	RightAcceleration float64 `json:"right_acceleration"`
	Outlier           bool    `json:"outlier"`
	Cluster           int     `json:"cluster"` // -1 for outliers
}

// Fixation is a run of consecutive stable samples.
type Fixation struct {
	StartIndex int     `json:"start_index"`
	EndIndex   int     `json:"end_index"`
	Duration   float64 `json:"duration"`
	Location   float64 `json:"location"` // mean diopters
}

// Summary is a descriptive statistics row.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

// Alignment is the recommended base alignment of one eye.
type Alignment struct {
	Diopters float64 `json:"diopters"`
	Vertical float64 `json:"vertical"`
}

// TimeRange is the span of the stable samples.
type TimeRange struct {
	Found bool    `json:"found"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Report is the full analysis output.
type Report struct {
	Points         []Point            `json:"points"`
	LeftFixations  []Fixation         `json:"left_fixations"`
	RightFixations []Fixation         `json:"right_fixations"`
	Kept           int                `json:"kept"`
	Stats          map[string]Summary `json:"stats"`
	Centroids      [][]float64        `json:"centroids"`
	ClusterSizes   []int              `json:"cluster_sizes"`
	LeftBase       Alignment          `json:"left_base"`
	RightBase      Alignment          `json:"right_base"`
	Stable         TimeRange          `json:"stable"`
}

// EyeDiopters is the horizontal deviation of an eye from the target in
// diopter-equivalent units. The left eye's angle is mirrored.
func EyeDiopters(dir, target gaze.Vec3, left bool, conversion float64) float64 {
	targetH := gaze.Deg(math.Atan2(target.X, target.Z))
	d := dir.Normalize()
	current := gaze.Deg(math.Atan2(d.X, d.Z))
	if left {
		current = -current
	}
	return (current - targetH) / conversion
}

// VerticalAngle is the elevation of dir in degrees.
func VerticalAngle(dir gaze.Vec3) float64 {
	_, pitch := gaze.ToYawPitch(dir)
	return gaze.Deg(pitch)
}

// TargetAngles returns the horizontal and vertical angle of the target in
// degrees.
func TargetAngles(target gaze.Vec3) (h, v float64) {
	yaw, pitch := gaze.ToYawPitch(target)
	return gaze.Deg(yaw), gaze.Deg(pitch)
}

// Windowed returns (data[i]-data[i-w])/w for i >= w and 0 before.
func Windowed(data []float64, w int) []float64 {
	out := make([]float64, len(data))
	if w < 1 {
		return out
	}
	for i := w; i < len(data); i++ {
		out[i] = (data[i] - data[i-w]) / float64(w)
	}
	return out
}

// DetectFixations finds runs where consecutive samples differ by less than
// the stability threshold and that last at least the minimum duration. A
// run still open at the end of the data is not reported.
func DetectFixations(values, timestamps []float64, stability, minDuration float64) []Fixation {
	var out []Fixation
	in := false
	start := 0
	for i := 1; i < len(values); i++ {
		if math.Abs(values[i]-values[i-1]) < stability {
			if !in {
				in = true
				start = i - 1
			}
			continue
		}
		if !in {
			continue
		}
		in = false
		end := i - 1
		dur := timestamps[end] - timestamps[start]
		if dur >= minDuration {
			out = append(out, Fixation{
				StartIndex: start,
				EndIndex:   end,
				Duration:   dur,
				Location:   stat.Mean(values[start:end+1], nil),
			})
		}
	}
	return out
}

// Describe computes descriptive statistics of xs.
func Describe(xs []float64) Summary {
	if len(xs) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	s := Summary{
		Count:  len(xs),
		Mean:   stat.Mean(xs, nil),
		Min:    floats.Min(xs),
		Max:    floats.Max(xs),
		P25:    stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		P75:    stat.Quantile(0.75, stat.LinInterp, sorted, nil),
	}
	if len(xs) > 1 {
		s.Std = stat.StdDev(xs, nil)
	}
	return s
}

// Analyze runs the full pipeline over rows.
func Analyze(rows []sessionlog.Row, cfg Config) (*Report, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	n := len(rows)
	pts := make([]Point, n)
	ts := make([]float64, n)
	ld := make([]float64, n)
	rd := make([]float64, n)

	half := cfg.IPDMeters / 2
	for i, r := range rows {
		th, tv := TargetAngles(r.TargetCenter)
		p := Point{
			Timestamp:        r.Timestamp,
			Stage:            r.Stage,
			LeftDiopters:     EyeDiopters(r.LeftDirection, r.TargetCenter, true, cfg.DiopterToDegreeConversion),
			RightDiopters:    EyeDiopters(r.RightDirection, r.TargetCenter, false, cfg.DiopterToDegreeConversion),
			LeftVertical:     VerticalAngle(r.LeftDirection),
			RightVertical:    VerticalAngle(r.RightDirection),
			TargetHorizontal: th,
			TargetVertical:   tv,
		}
		vp := vergence.Solve(
			gaze.Ray{Origin: gaze.Vec3{X: -half}, Direction: r.LeftDirection.Normalize()},
			gaze.Ray{Origin: gaze.Vec3{X: half}, Direction: r.RightDirection.Normalize()},
		)
		p.VergenceDistance = vp.Norm()
		pts[i] = p
		ts[i] = r.Timestamp
		ld[i] = p.LeftDiopters
		rd[i] = p.RightDiopters
	}

	lv := Windowed(ld, cfg.VelocityWindowSize)
	rv := Windowed(rd, cfg.VelocityWindowSize)
	la := Windowed(lv, cfg.AccelerationWindowSize)
	ra := Windowed(rv, cfg.AccelerationWindowSize)
	for i := range pts {
		pts[i].LeftVelocity, pts[i].RightVelocity = lv[i], rv[i]
		pts[i].LeftAcceleration, pts[i].RightAcceleration = la[i], ra[i]
	}

	rep := &Report{
		Points:         pts,
		LeftFixations:  DetectFixations(ld, ts, cfg.FixationStabilityThreshold, cfg.FixationMinDuration),
		RightFixations: DetectFixations(rd, ts, cfg.FixationStabilityThreshold, cfg.FixationMinDuration),
		Stats:          map[string]Summary{},
	}

	markOutliers(pts, cfg.OutlierWindow, cfg.OutlierThresholdMultiplier)

	var kept []int
	for i, p := range pts {
		if !p.Outlier {
			kept = append(kept, i)
		}
	}
	rep.Kept = len(kept)
	if len(kept) == 0 {
		return rep, nil
	}

	features := make([][]float64, len(kept))
	cols := map[string][]float64{}
	for j, i := range kept {
		p := pts[i]
		features[j] = []float64{p.LeftDiopters, p.LeftVertical, p.RightDiopters, p.RightVertical}
		cols["left_diopters"] = append(cols["left_diopters"], p.LeftDiopters)
		cols["right_diopters"] = append(cols["right_diopters"], p.RightDiopters)
		cols["left_vertical"] = append(cols["left_vertical"], p.LeftVertical)
		cols["right_vertical"] = append(cols["right_vertical"], p.RightVertical)
		cols["target_horizontal"] = append(cols["target_horizontal"], p.TargetHorizontal)
		cols["target_vertical"] = append(cols["target_vertical"], p.TargetVertical)
		cols["vergence_distance"] = append(cols["vergence_distance"], p.VergenceDistance)
	}
	for name, xs := range cols {
		rep.Stats[name] = Describe(xs)
	}

	labels, centroids := KMeans(Standardize(features), cfg.Clusters, cfg.Seed)
	rep.Centroids = centroids
	rep.ClusterSizes = make([]int, len(centroids))
	for j, i := range kept {
		pts[i].Cluster = labels[j]
		rep.ClusterSizes[labels[j]]++
	}

	rep.LeftBase = Alignment{Diopters: rep.Stats["left_diopters"].Mean, Vertical: rep.Stats["left_vertical"].Mean}
	rep.RightBase = Alignment{Diopters: rep.Stats["right_diopters"].Mean, Vertical: rep.Stats["right_vertical"].Mean}

	for _, i := range kept {
		p := pts[i]
		if math.Abs(p.LeftDiopters-rep.LeftBase.Diopters) >= cfg.StableSampleThreshold ||
			math.Abs(p.RightDiopters-rep.RightBase.Diopters) >= cfg.StableSampleThreshold {
			continue
		}
		if !rep.Stable.Found {
			rep.Stable = TimeRange{Found: true, Start: p.Timestamp}
		}
		rep.Stable.End = p.Timestamp
	}
	return rep, nil
}

// markOutliers flags a point when any of its four angle series lies more
// than k standard deviations from the mean of the preceding window points.
// Every point starts in cluster -1.
func markOutliers(pts []Point, window int, k float64) {
	for i := range pts {
		pts[i].Cluster = -1
	}
	if window < 2 {
		return
	}
	series := []func(Point) float64{
		func(p Point) float64 { return p.LeftDiopters },
		func(p Point) float64 { return p.LeftVertical },
		func(p Point) float64 { return p.RightDiopters },
		func(p Point) float64 { return p.RightVertical },
	}
	buf := make([]float64, window)
	for i := window; i < len(pts); i++ {
		for _, get := range series {
			for j := range buf {
				buf[j] = get(pts[i-window+j])
			}
			mean, std := stat.MeanStdDev(buf, nil)
			if math.Abs(get(pts[i])-mean) > k*std {
				pts[i].Outlier = true
				break
			}
		}
	}
}
