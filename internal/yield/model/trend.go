package model

import "gonum.org/v1/gonum/stat"

// Trend is a per-state linear fit of yield against calendar year, used
// both as sub-model A's deviation baseline and as one of the validator's
// three skill-score benchmarks.
type Trend struct {
	Intercept float64
	Slope     float64
}

// FitTrend least-squares fits yield = intercept + slope*year.
func FitTrend(years []int, yields []float64) Trend {
	xs := make([]float64, len(years))
	for i, y := range years {
		xs[i] = float64(y)
	}
	intercept, slope := stat.LinearRegression(xs, yields, nil, false)
	return Trend{Intercept: intercept, Slope: slope}
}

// Predict returns the trend line's value at year.
func (t Trend) Predict(year int) float64 {
	return t.Intercept + t.Slope*float64(year)
}

// Deviation returns actual - trend(year), sub-model A/B/C's shared
// regression target.
func (t Trend) Deviation(year int, actual float64) float64 {
	return actual - t.Predict(year)
}
