// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package analysis

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const kmeansMaxIter = 300

// Standardize scales every column to zero mean and unit population
// variance. Constant columns are only centered.
func Standardize(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	dims := len(rows[0])
	out := make([][]float64, len(rows))
	for i := range out {
		out[i] = make([]float64, dims)
	}
	col := make([]float64, len(rows))
	for d := 0; d < dims; d++ {
		for i, r := range rows {
			col[i] = r[d]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		scale := math.Sqrt(variance)
		if scale == 0 {
			scale = 1
		}
		for i := range rows {
			out[i][d] = (col[i] - mean) / scale
		}
	}
	return out
}

// KMeans clusters points into k groups with k-means++ seeding and Lloyd
// iterations. The result is deterministic for a given seed. k is reduced to
// the number of points when there are fewer.
func KMeans(points [][]float64, k int, seed uint64) (labels []int, centroids [][]float64) {
	n := len(points)
	if n == 0 || k < 1 {
		return nil, nil
	}
	k = min(k, n)
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))

	centroids = make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(n)]))
	dist := make([]float64, n)
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			dist[i] = nearestDist2(p, centroids)
			total += dist[i]
		}
		if total == 0 {
			// All remaining points coincide with a centroid.
			centroids = append(centroids, clone(points[rng.IntN(n)]))
			continue
		}
		r := rng.Float64() * total
		pick := n - 1
		for i, d := range dist {
			r -= d
			if r <= 0 {
				pick = i
				break
			}
		}
		centroids = append(centroids, clone(points[pick]))
	}

	labels = make([]int, n)
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := iter == 0
		for i, p := range points {
			best := nearest(p, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(points[0]))
		}
		for i, p := range points {
			floats.Add(sums[labels[i]], p)
			counts[labels[i]]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}
	}
	return labels, centroids
}

func clone(p []float64) []float64 { return append([]float64(nil), p...) }

func nearest(p []float64, centroids [][]float64) int {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centroids {
		if d := floats.Distance(p, ctr, 2); d < bestD {
			best, bestD = c, d
		}
	}
	return best
}

func nearestDist2(p []float64, centroids [][]float64) float64 {
	d := floats.Distance(p, centroids[nearest(p, centroids)], 2)
	return d * d
}
