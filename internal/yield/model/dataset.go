// Package model implements the three-sub-model yield prediction
// ensemble: a trend-adjusted linear fit, a gradient-boosted tree
// regressor, and a k-nearest analog-year model, blended by a
// growth-stage-indexed weight vector. The matrix and statistics
// plumbing uses `gonum.org/v1/gonum` for least-squares and distance
// computations.
package model

import (
	"context"

	"github.com/harvestline/agriforecast/internal/yield/features"
)

// ExampleSource loads the training set for one (crop, state) at a fixed
// forecast week, joining actual historical yields with the feature row
// observed at that week in each training year. Mirrors the same
// interface/Postgres-backend split as features.Reader.
type ExampleSource interface {
	LoadExamples(ctx context.Context, crop, state string, week int) ([]Example, error)
}

// Example is one training observation: a season's composite feature row
// for a (state, crop, year) paired with that year's final actual yield.
type Example struct {
	State       string
	Year        int
	Week        int
	Row         features.Row
	ActualYield float64
}

// interpretableNames are the six features sub-models A and C train
// on: a deliberately small, explainable subset
// of silver_yield_feature rather than the full numeric surface GBM
// trains on.
var interpretableNames = []string{
	"gdd_vs_normal_pct",
	"precip_vs_normal_pct",
	"stress_days_heat",
	"stress_days_drought",
	"nass_good_excellent_pct",
	"ww_risk_score",
}

// InterpretableFeatureNames returns the 6 features sub-models A and C
// train on.
func InterpretableFeatureNames() []string {
	out := make([]string, len(interpretableNames))
	copy(out, interpretableNames)
	return out
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// InterpretableFeatures extracts the 6-feature vector from a row.
func InterpretableFeatures(row features.Row) []float64 {
	return []float64{
		orZero(row.GDDVsNormalPct),
		orZero(row.PrecipVsNormalPct),
		float64(row.StressDaysHeat),
		float64(row.StressDaysDrought),
		orZero(row.NASSGoodExcellentPct),
		row.WWRiskScore,
	}
}

// fullFeatureNames is the complete numeric surface sub-model B (gradient
// boosting) trains against.11 ("standardize all numeric
// features").
var fullFeatureNames = []string{
	"gdd_cumulative", "precip_cumulative_mm", "precip_weekly_mm",
	"tmax_weekly_avg_f", "tmin_weekly_avg_f", "tavg_weekly_avg_f",
	"stress_days_heat", "stress_days_frost", "stress_days_drought", "stress_days_excess_moisture", "frost_events",
	"gdd_vs_normal_pct", "precip_vs_normal_pct",
	"ndvi_value", "ndvi_anomaly", "ndvi_slope_4wk",
	"cpc_condition_mean", "cpc_condition_delta_5yr", "cpc_progress_mean", "cpc_progress_vs_5yr_avg",
	"nass_good_excellent_pct", "nass_progress_pct",
	"ww_risk_score", "ww_outlook_sentiment",
}

// FullFeatureNames returns the full numeric feature surface's column
// names, in the order FullFeatures emits them.
func FullFeatureNames() []string {
	out := make([]string, len(fullFeatureNames))
	copy(out, fullFeatureNames)
	return out
}

// FullFeatures extracts every numeric silver_yield_feature column.
func FullFeatures(row features.Row) []float64 {
	return []float64{
		row.GDDCumulative, row.PrecipCumulativeMM, row.PrecipWeeklyMM,
		row.TmaxWeeklyAvgF, row.TminWeeklyAvgF, row.TavgWeeklyAvgF,
		float64(row.StressDaysHeat), float64(row.StressDaysFrost), float64(row.StressDaysDrought), float64(row.StressDaysExcessMoisture), float64(row.FrostEvents),
		orZero(row.GDDVsNormalPct), orZero(row.PrecipVsNormalPct),
		orZero(row.NDVIValue), orZero(row.NDVIAnomaly), orZero(row.NDVISlope4wk),
		orZero(row.CPCConditionMean), orZero(row.CPCConditionDelta5yr), orZero(row.CPCProgressMean), orZero(row.CPCProgressVs5yrAvg),
		orZero(row.NASSGoodExcellentPct), orZero(row.NASSProgressPct),
		row.WWRiskScore, row.WWOutlookSentiment,
	}
}
