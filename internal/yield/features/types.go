// Package features implements the yield feature engine:
// for each (state, crop, year, week) it pulls weather, crop-condition,
// NDVI, and World Weather signals from the bronze layer and upserts one
// composite silver_yield_feature row.
//
// The underlying aggregate queries run through `jmoiron/sqlx`, matching
// the rest of the storage layer.
package features

import "time"

// WeatherDay is one station-day from bronze_weather_observation.
type WeatherDay struct {
	Date     time.Time
	TmaxF    *float64
	TminF    *float64
	PrecipMM *float64
}

// ConditionRow is one crop-condition reading.
type ConditionRow struct {
	WeekEnding        time.Time
	GoodExcellentPct  *float64
	ProgressPct       *float64
}

// NDVIObs is one region-day NDVI reading.
type NDVIObs struct {
	Date  time.Time
	Value float64
}

// Climatology is the 30-year-normal reference row for a region/week.
type Climatology struct {
	GDDNormal      float64
	PrecipNormalMM float64
}

// Row is the composite feature row build_features assembles for one
// (state, crop, year, week), matching silver_yield_feature's columns.
type Row struct {
	State    string
	Crop     string
	Year     int
	Week     int

	GDDCumulative       float64
	PrecipCumulativeMM  float64
	PrecipWeeklyMM      float64
	TmaxWeeklyAvgF      float64
	TminWeeklyAvgF      float64
	TavgWeeklyAvgF      float64

	StressDaysHeat            int
	StressDaysFrost           int
	StressDaysDrought         int
	StressDaysExcessMoisture  int
	FrostEvents               int

	GDDVsNormalPct    *float64
	PrecipVsNormalPct *float64

	NDVIValue    *float64
	NDVIAnomaly  *float64
	NDVISlope4wk *float64

	CPCConditionMean       *float64
	CPCConditionDelta5yr   *float64
	CPCProgressMean        *float64
	CPCProgressVs5yrAvg    *float64

	NASSGoodExcellentPct *float64
	NASSProgressPct      *float64

	WWRiskScore        float64
	WWOutlookSentiment float64

	GrowthStage    string
	FeatureVersion string
}
