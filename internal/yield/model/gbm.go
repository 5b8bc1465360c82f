package model

import (
	"math"
	"math/rand"
)

// GBMParams are sub-model B's hyperparameters: 200 trees, depth 4, learning rate 0.1, min_samples_leaf = max(3, n/20),
// subsample 0.8.
type GBMParams struct {
	NumTrees       int
	MaxDepth       int
	LearningRate   float64
	MinSamplesLeaf int
	Subsample      float64
}

// DefaultGBMParams returns the fixed hyperparameters for a
// training set of size n.
func DefaultGBMParams(n int) GBMParams {
	return GBMParams{
		NumTrees:       200,
		MaxDepth:       4,
		LearningRate:   0.1,
		MinSamplesLeaf: maxInt(3, n/20),
		Subsample:      0.8,
	}
}

// standardizer z-scores features using training-set mean/stddev.
type standardizer struct {
	mean []float64
	std  []float64
}

func fitStandardizer(x [][]float64) standardizer {
	if len(x) == 0 {
		return standardizer{}
	}
	p := len(x[0])
	mean := make([]float64, p)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, p)
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] == 0 {
			std[j] = 1
		}
	}
	return standardizer{mean: mean, std: std}
}

func (s standardizer) transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.mean[j]) / s.std[j]
	}
	return out
}

func (s standardizer) transformAll(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = s.transform(row)
	}
	return out
}

// ModelB is the gradient-boosted-tree sub-model.
type ModelB struct {
	std        standardizer
	baseline   float64
	trees      []*regressionTree
	learnRate  float64
}

// FitModelB trains sub-model B against the full standardized numeric
// feature surface and the trend-deviation target. rng controls the
// per-tree row subsample and is required so training is reproducible
// across calls given the same seed.
func FitModelB(x [][]float64, y []float64, params GBMParams, rng *rand.Rand) ModelB {
	std := fitStandardizer(x)
	xs := std.transformAll(x)

	baseline := meanOf(y, allIndices(len(y)))
	residuals := make([]float64, len(y))
	for i, v := range y {
		residuals[i] = v - baseline
	}

	m := ModelB{std: std, baseline: baseline, learnRate: params.LearningRate}
	sampleSize := int(float64(len(xs)) * params.Subsample)
	if sampleSize < 1 {
		sampleSize = len(xs)
	}

	for t := 0; t < params.NumTrees; t++ {
		sampleIdx := sampleIndices(len(xs), sampleSize, rng)
		sx := make([][]float64, len(sampleIdx))
		sy := make([]float64, len(sampleIdx))
		for i, idx := range sampleIdx {
			sx[i] = xs[idx]
			sy[i] = residuals[idx]
		}
		tree := fitRegressionTree(sx, sy, params.MaxDepth, params.MinSamplesLeaf)
		m.trees = append(m.trees, tree)

		for i, row := range xs {
			residuals[i] -= params.LearningRate * tree.predict(row)
		}
	}
	return m
}

// Predict returns the deviation estimate for one raw (unstandardized)
// feature vector.
func (m ModelB) Predict(rawFeatures []float64) float64 {
	x := m.std.transform(rawFeatures)
	y := m.baseline
	for _, t := range m.trees {
		y += m.learnRate * t.predict(x)
	}
	return y
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func sampleIndices(n, size int, rng *rand.Rand) []int {
	if size >= n {
		return allIndices(n)
	}
	perm := rng.Perm(n)
	return perm[:size]
}
