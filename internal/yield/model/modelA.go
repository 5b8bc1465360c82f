package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ModelA is the trend-adjusted linear sub-model: a
// least-squares fit of the 6 interpretable features against the
// trend-deviation target.
type ModelA struct {
	Intercept    float64
	Coefficients []float64
}

// FitModelA fits y = intercept + coefficients·x over the interpretable
// feature matrix and deviation targets.
func FitModelA(featureRows [][]float64, deviations []float64) (ModelA, error) {
	n := len(featureRows)
	if n == 0 {
		return ModelA{}, fmt.Errorf("model A: no training rows")
	}
	p := len(featureRows[0])

	x := mat.NewDense(n, p+1, nil)
	for i, row := range featureRows {
		x.Set(i, 0, 1)
		for j, v := range row {
			x.Set(i, j+1, v)
		}
	}
	y := mat.NewDense(n, 1, deviations)

	var coeffs mat.Dense
	if err := coeffs.Solve(x, y); err != nil {
		return ModelA{}, fmt.Errorf("model A: least squares solve: %w", err)
	}

	return ModelA{
		Intercept:    coeffs.At(0, 0),
		Coefficients: mat.Col(nil, 0, coeffs.Slice(1, p+1, 0, 1)),
	}, nil
}

// Predict returns the deviation estimate for one feature vector.
func (m ModelA) Predict(features []float64) float64 {
	y := m.Intercept
	for i, c := range m.Coefficients {
		if i < len(features) {
			y += c * features[i]
		}
	}
	return y
}
