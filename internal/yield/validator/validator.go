// Package validator backtests the yield ensemble:
// leave-one-year-out skill scores against naive benchmarks, bias analysis
// across states/weeks/years, and revision-stability tracking over a
// forecast's week-over-week changes. The CV loop reuses
// internal/yield/model's own leave-one-year-out refitting idiom rather
// than introducing a separate cross-validation library.
package validator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/yield/model"
)

// BacktestWeeks are the forecast weeks backtests run at: early,
// mid, and late season checkpoints.
var BacktestWeeks = []int{18, 22, 26, 30, 34, 38}

// WeekResult is the backtest outcome for one forecast week: the
// ensemble's leave-one-year-out RMSE against each of the three naive
// benchmarks.
type WeekResult struct {
	Week               int
	Examples           int
	EnsembleRMSE       float64
	TrendRMSE          float64
	LastYearRMSE       float64
	FiveYearAvgRMSE    float64
	SkillVsTrend       float64
	SkillVsLastYear    float64
	SkillVsFiveYearAvg float64
	// YearErrors is the signed (forecast - actual) held-out error per
	// year, feeding the bias analysis.
	YearErrors map[int]float64
}

// Report is the full backtest result for one (crop, state): a per-week
// skill breakdown plus the bias analysis.
type Report struct {
	Crop    string
	State   string
	Weeks   []WeekResult
	Bias    BiasAnalysis
}

// skillScore is 1 - (model RMSE / benchmark RMSE); positive means the
// model beats the naive benchmark
func skillScore(modelRMSE, benchmarkRMSE float64) float64 {
	if benchmarkRMSE == 0 {
		return 0
	}
	return 1 - modelRMSE/benchmarkRMSE
}

// Backtest runs leave-one-year-out cross-validation at every week in
// BacktestWeeks, scoring the ensemble against the trend, last-year-actual,
// and 5-year-average-actual benchmarks.
func Backtest(crop, state string, examplesByWeek map[int][]model.Example, weights *config.EnsembleWeights, rng *rand.Rand) (*Report, error) {
	report := &Report{Crop: crop, State: state}

	for _, week := range BacktestWeeks {
		examples := examplesByWeek[week]
		if len(examples) < 4 {
			continue
		}
		wr, err := backtestWeek(week, examples, weights, rng)
		if err != nil {
			return nil, fmt.Errorf("backtest week %d: %w", week, err)
		}
		report.Weeks = append(report.Weeks, wr)
	}

	report.Bias = analyzeBias(report.Weeks)
	return report, nil
}

func backtestWeek(week int, examples []model.Example, weights *config.EnsembleWeights, rng *rand.Rand) (WeekResult, error) {
	sorted := make([]model.Example, len(examples))
	copy(sorted, examples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })

	byYear := make(map[int]float64, len(sorted))
	for _, ex := range sorted {
		byYear[ex.Year] = ex.ActualYield
	}

	var sqEnsemble, sqTrend, sqLastYear, sqFiveYear float64
	var n, nLastYear, nFiveYear int
	yearErrors := make(map[int]float64, len(sorted))

	for i, held := range sorted {
		train := make([]model.Example, 0, len(sorted)-1)
		for j, ex := range sorted {
			if j != i {
				train = append(train, ex)
			}
		}

		ens, err := model.Train(held.Row.Crop, held.Row.State, train, weights, rng)
		if err != nil {
			continue
		}
		fc := ens.Predict(held.Year, held.Week, held.Row)

		trendOnly := ens.Trend.Predict(held.Year)
		lastYear, hasLastYear := byYear[held.Year-1]
		fiveYearAvg, hasFiveYear := fiveYearAverage(byYear, held.Year)

		dEnsemble := fc.YieldForecast - held.ActualYield
		dTrend := trendOnly - held.ActualYield
		sqEnsemble += dEnsemble * dEnsemble
		sqTrend += dTrend * dTrend
		yearErrors[held.Year] = dEnsemble
		n++

		if hasLastYear {
			d := lastYear - held.ActualYield
			sqLastYear += d * d
			nLastYear++
		}
		if hasFiveYear {
			d := fiveYearAvg - held.ActualYield
			sqFiveYear += d * d
			nFiveYear++
		}
	}

	if n == 0 {
		return WeekResult{}, fmt.Errorf("no holdout years produced a valid fit")
	}

	ensembleRMSE := math.Sqrt(sqEnsemble / float64(n))
	trendRMSE := math.Sqrt(sqTrend / float64(n))
	var lastYearRMSE, fiveYearRMSE float64
	if nLastYear > 0 {
		lastYearRMSE = math.Sqrt(sqLastYear / float64(nLastYear))
	}
	if nFiveYear > 0 {
		fiveYearRMSE = math.Sqrt(sqFiveYear / float64(nFiveYear))
	}

	return WeekResult{
		Week:               week,
		Examples:           n,
		EnsembleRMSE:       ensembleRMSE,
		TrendRMSE:          trendRMSE,
		LastYearRMSE:       lastYearRMSE,
		FiveYearAvgRMSE:    fiveYearRMSE,
		SkillVsTrend:       skillScore(ensembleRMSE, trendRMSE),
		SkillVsLastYear:    skillScore(ensembleRMSE, lastYearRMSE),
		SkillVsFiveYearAvg: skillScore(ensembleRMSE, fiveYearRMSE),
		YearErrors:         yearErrors,
	}, nil
}

func fiveYearAverage(byYear map[int]float64, year int) (float64, bool) {
	var sum float64
	var n int
	for back := 1; back <= 5; back++ {
		if v, ok := byYear[year-back]; ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ExampleLoader fetches the per-week training sets a full backtest needs,
// one week at a time — mirrors model.ExampleSource but batches across
// BacktestWeeks for the caller.
type ExampleLoader interface {
	LoadExamples(ctx context.Context, crop, state string, week int) ([]model.Example, error)
}

// LoadAllWeeks fetches the training set for every BacktestWeeks entry,
// keyed by week, ready for Backtest.
func LoadAllWeeks(ctx context.Context, loader ExampleLoader, crop, state string) (map[int][]model.Example, error) {
	out := make(map[int][]model.Example, len(BacktestWeeks))
	for _, week := range BacktestWeeks {
		examples, err := loader.LoadExamples(ctx, crop, state, week)
		if err != nil {
			return nil, fmt.Errorf("load examples for week %d: %w", week, err)
		}
		out[week] = examples
	}
	return out, nil
}
