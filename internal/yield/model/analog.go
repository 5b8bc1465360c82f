package model

import (
	"math"
	"sort"
)

// ModelC is the k-nearest analog-year sub-model: it
// memorizes the training distribution and, at prediction time, finds
// the k nearest prior years by z-scored Euclidean distance in the
// interpretable feature space and inverse-distance-weights their
// deviations.
type ModelC struct {
	std        standardizer
	years      []int
	deviations []float64
	features   [][]float64
	k          int
}

const defaultAnalogK = 5

// FitModelC stores the training distribution for analog lookup.
func FitModelC(years []int, featureRows [][]float64, deviations []float64) ModelC {
	std := fitStandardizer(featureRows)
	return ModelC{
		std:        std,
		years:      years,
		deviations: deviations,
		features:   std.transformAll(featureRows),
		k:          defaultAnalogK,
	}
}

// analogResult is one nearest-neighbor hit.
type analogResult struct {
	year     int
	distance float64
}

// Predict returns the deviation estimate and the analog years used,
// excluding currentYear from the candidate pool: the five nearest
// analogs are always drawn from other years.
func (m ModelC) Predict(currentYear int, rawFeatures []float64) (float64, []int) {
	x := m.std.transform(rawFeatures)

	var candidates []analogResult
	for i, year := range m.years {
		if year == currentYear {
			continue
		}
		candidates = append(candidates, analogResult{year: year, distance: euclidean(x, m.features[i])})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	k := m.k
	if k > len(candidates) {
		k = len(candidates)
	}
	if k == 0 {
		return 0, nil
	}
	nearest := candidates[:k]

	var weightedSum, weightTotal float64
	analogYears := make([]int, 0, k)
	for _, c := range nearest {
		weight := 1 / (c.distance + 1e-6)
		idx := indexOfYear(m.years, c.year)
		weightedSum += weight * m.deviations[idx]
		weightTotal += weight
		analogYears = append(analogYears, c.year)
	}
	if weightTotal == 0 {
		return 0, analogYears
	}
	return weightedSum / weightTotal, analogYears
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func indexOfYear(years []int, year int) int {
	for i, y := range years {
		if y == year {
			return i
		}
	}
	return -1
}
