package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/harvestline/agriforecast/internal/yield/features"
	"github.com/harvestline/agriforecast/internal/yield/model"
)

// YieldReader implements features.Reader against the bronze/reference
// tables. station_id on bronze_weather_observation and region on
// bronze_ndvi are treated as state codes directly; without a
// station-to-state crosswalk table the region proxy is an identity
// mapping.
type YieldReader struct {
	db *Store
}

// NewYieldReader wraps a Store for feature-engine reads.
func NewYieldReader(s *Store) *YieldReader {
	return &YieldReader{db: s}
}

var _ features.Reader = (*YieldReader)(nil)
var _ features.Writer = (*YieldReader)(nil)

func (y *YieldReader) WeatherDaily(ctx context.Context, state string, from, to time.Time) ([]features.WeatherDay, error) {
	type row struct {
		ObsDate  time.Time `db:"obs_date"`
		TmaxF    *float64  `db:"tmax_f"`
		TminF    *float64  `db:"tmin_f"`
		PrecipMM *float64  `db:"precip_mm"`
	}
	var rows []row
	err := y.db.DB().SelectContext(ctx, &rows, `
		SELECT obs_date, tmax_f, tmin_f, precip_mm FROM bronze_weather_observation
		WHERE station_id = $1 AND obs_date BETWEEN $2 AND $3
		ORDER BY obs_date ASC
	`, state, from, to)
	if err != nil {
		return nil, fmt.Errorf("weather daily: %w", err)
	}
	out := make([]features.WeatherDay, 0, len(rows))
	for _, r := range rows {
		out = append(out, features.WeatherDay{Date: r.ObsDate, TmaxF: r.TmaxF, TminF: r.TminF, PrecipMM: r.PrecipMM})
	}
	return out, nil
}

func (y *YieldReader) StateCropCondition(ctx context.Context, state, crop string, weekEnding time.Time) (*features.ConditionRow, error) {
	rows, err := y.conditionRows(ctx, crop, weekEnding, &state)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (y *YieldReader) NationalCropCondition(ctx context.Context, crop string, weekEnding time.Time) ([]features.ConditionRow, error) {
	return y.conditionRows(ctx, crop, weekEnding, nil)
}

func (y *YieldReader) conditionRows(ctx context.Context, crop string, weekEnding time.Time, state *string) ([]features.ConditionRow, error) {
	type row struct {
		ConditionGoodExcellent *string  `db:"condition_good_excellent"`
		ProgressPct            *float64 `db:"progress_pct"`
	}
	weekEndingStr := weekEnding.Format("2006-01-02")

	var rows []row
	var err error
	if state != nil {
		err = y.db.DB().SelectContext(ctx, &rows, `
			SELECT condition_good_excellent, progress_pct FROM bronze_crop_condition
			WHERE commodity = $1 AND week_ending = $2 AND state = $3
		`, crop, weekEndingStr, *state)
	} else {
		err = y.db.DB().SelectContext(ctx, &rows, `
			SELECT condition_good_excellent, progress_pct FROM bronze_crop_condition
			WHERE commodity = $1 AND week_ending = $2
		`, crop, weekEndingStr)
	}
	if err != nil {
		return nil, fmt.Errorf("crop condition: %w", err)
	}

	out := make([]features.ConditionRow, 0, len(rows))
	for _, r := range rows {
		cr := features.ConditionRow{WeekEnding: weekEnding, ProgressPct: r.ProgressPct}
		if r.ConditionGoodExcellent != nil {
			if pct, err := parsePercent(*r.ConditionGoodExcellent); err == nil {
				cr.GoodExcellentPct = &pct
			}
		}
		out = append(out, cr)
	}
	return out, nil
}

func parsePercent(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	return v, err
}

func (y *YieldReader) NDVI(ctx context.Context, state string, asOf time.Time, lookbackDays int) ([]features.NDVIObs, error) {
	type row struct {
		ObsDate   time.Time `db:"obs_date"`
		NDVIValue *float64  `db:"ndvi_value"`
	}
	cutoff := asOf.AddDate(0, 0, -lookbackDays)
	var rows []row
	err := y.db.DB().SelectContext(ctx, &rows, `
		SELECT obs_date, ndvi_value FROM bronze_ndvi
		WHERE region = $1 AND obs_date > $2 AND obs_date <= $3
		ORDER BY obs_date DESC
	`, state, cutoff, asOf)
	if err != nil {
		return nil, fmt.Errorf("ndvi: %w", err)
	}
	out := make([]features.NDVIObs, 0, len(rows))
	for _, r := range rows {
		if r.NDVIValue == nil {
			continue
		}
		out = append(out, features.NDVIObs{Date: r.ObsDate, Value: *r.NDVIValue})
	}
	return out, nil
}

func (y *YieldReader) WorldWeatherEmailBodies(ctx context.Context, from, to time.Time) ([]string, error) {
	var bodies []string
	err := y.db.DB().SelectContext(ctx, &bodies, `
		SELECT body FROM bronze_world_weather_email WHERE received_at BETWEEN $1 AND $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("world weather emails: %w", err)
	}
	return bodies, nil
}

func (y *YieldReader) Climatology(ctx context.Context, state string, week int) (*features.Climatology, error) {
	type row struct {
		GDDNormal      *float64 `db:"gdd_normal"`
		PrecipNormalMM *float64 `db:"precip_normal_mm"`
	}
	var r row
	err := y.db.DB().GetContext(ctx, &r, `
		SELECT gdd_normal, precip_normal_mm FROM reference_weather_climatology WHERE region = $1 AND week = $2
	`, state, week)
	if err != nil {
		return nil, nil
	}
	clim := &features.Climatology{}
	if r.GDDNormal != nil {
		clim.GDDNormal = *r.GDDNormal
	}
	if r.PrecipNormalMM != nil {
		clim.PrecipNormalMM = *r.PrecipNormalMM
	}
	return clim, nil
}

func (y *YieldReader) StatesGrowingCrop(ctx context.Context, crop string) ([]string, error) {
	var states []string
	err := y.db.DB().SelectContext(ctx, &states, `
		SELECT DISTINCT state FROM reference_historical_yield WHERE crop = $1 ORDER BY state
	`, crop)
	if err != nil {
		return nil, fmt.Errorf("states growing crop: %w", err)
	}
	return states, nil
}

func (y *YieldReader) UpsertFeature(ctx context.Context, row features.Row) error {
	_, err := y.db.DB().ExecContext(ctx, `
		INSERT INTO silver_yield_feature (
			state, crop, year, week, gdd_cumulative, precip_cumulative_mm, precip_weekly_mm,
			tmax_weekly_avg_f, tmin_weekly_avg_f, tavg_weekly_avg_f,
			stress_days_heat, stress_days_frost, stress_days_drought, stress_days_excess_moisture, frost_events,
			gdd_vs_normal_pct, precip_vs_normal_pct,
			ndvi_value, ndvi_anomaly, ndvi_slope_4wk,
			cpc_condition_mean, cpc_condition_delta_5yr, cpc_progress_mean, cpc_progress_vs_5yr_avg,
			nass_good_excellent_pct, nass_progress_pct,
			ww_risk_score, ww_outlook_sentiment, growth_stage, feature_version, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, now()
		)
		ON CONFLICT (state, crop, year, week) DO UPDATE SET
			gdd_cumulative = EXCLUDED.gdd_cumulative,
			precip_cumulative_mm = EXCLUDED.precip_cumulative_mm,
			precip_weekly_mm = EXCLUDED.precip_weekly_mm,
			tmax_weekly_avg_f = EXCLUDED.tmax_weekly_avg_f,
			tmin_weekly_avg_f = EXCLUDED.tmin_weekly_avg_f,
			tavg_weekly_avg_f = EXCLUDED.tavg_weekly_avg_f,
			stress_days_heat = EXCLUDED.stress_days_heat,
			stress_days_frost = EXCLUDED.stress_days_frost,
			stress_days_drought = EXCLUDED.stress_days_drought,
			stress_days_excess_moisture = EXCLUDED.stress_days_excess_moisture,
			frost_events = EXCLUDED.frost_events,
			gdd_vs_normal_pct = EXCLUDED.gdd_vs_normal_pct,
			precip_vs_normal_pct = EXCLUDED.precip_vs_normal_pct,
			ndvi_value = EXCLUDED.ndvi_value,
			ndvi_anomaly = EXCLUDED.ndvi_anomaly,
			ndvi_slope_4wk = EXCLUDED.ndvi_slope_4wk,
			cpc_condition_mean = EXCLUDED.cpc_condition_mean,
			cpc_condition_delta_5yr = EXCLUDED.cpc_condition_delta_5yr,
			cpc_progress_mean = EXCLUDED.cpc_progress_mean,
			cpc_progress_vs_5yr_avg = EXCLUDED.cpc_progress_vs_5yr_avg,
			nass_good_excellent_pct = EXCLUDED.nass_good_excellent_pct,
			nass_progress_pct = EXCLUDED.nass_progress_pct,
			ww_risk_score = EXCLUDED.ww_risk_score,
			ww_outlook_sentiment = EXCLUDED.ww_outlook_sentiment,
			growth_stage = EXCLUDED.growth_stage,
			feature_version = EXCLUDED.feature_version,
			updated_at = now()
	`,
		row.State, row.Crop, row.Year, row.Week, row.GDDCumulative, row.PrecipCumulativeMM, row.PrecipWeeklyMM,
		row.TmaxWeeklyAvgF, row.TminWeeklyAvgF, row.TavgWeeklyAvgF,
		row.StressDaysHeat, row.StressDaysFrost, row.StressDaysDrought, row.StressDaysExcessMoisture, row.FrostEvents,
		row.GDDVsNormalPct, row.PrecipVsNormalPct,
		row.NDVIValue, row.NDVIAnomaly, row.NDVISlope4wk,
		row.CPCConditionMean, row.CPCConditionDelta5yr, row.CPCProgressMean, row.CPCProgressVs5yrAvg,
		row.NASSGoodExcellentPct, row.NASSProgressPct,
		row.WWRiskScore, row.WWOutlookSentiment, row.GrowthStage, row.FeatureVersion,
	)
	if err != nil {
		return fmt.Errorf("upsert silver_yield_feature: %w", err)
	}
	return nil
}

var _ model.ExampleSource = (*YieldReader)(nil)

// LoadExamples joins reference_historical_yield against the
// silver_yield_feature row at the given forecast week for each training
// year: the per-(crop, target_week) training set sub-models A/B/C are
// fit against.
func (y *YieldReader) LoadExamples(ctx context.Context, crop, state string, week int) ([]model.Example, error) {
	type row struct {
		Year                     int      `db:"year"`
		ActualYield              float64  `db:"yield"`
		GDDCumulative            float64  `db:"gdd_cumulative"`
		PrecipCumulativeMM       float64  `db:"precip_cumulative_mm"`
		PrecipWeeklyMM           float64  `db:"precip_weekly_mm"`
		TmaxWeeklyAvgF           float64  `db:"tmax_weekly_avg_f"`
		TminWeeklyAvgF           float64  `db:"tmin_weekly_avg_f"`
		TavgWeeklyAvgF           float64  `db:"tavg_weekly_avg_f"`
		StressDaysHeat           int      `db:"stress_days_heat"`
		StressDaysFrost          int      `db:"stress_days_frost"`
		StressDaysDrought        int      `db:"stress_days_drought"`
		StressDaysExcessMoisture int      `db:"stress_days_excess_moisture"`
		FrostEvents              int      `db:"frost_events"`
		GDDVsNormalPct           *float64 `db:"gdd_vs_normal_pct"`
		PrecipVsNormalPct        *float64 `db:"precip_vs_normal_pct"`
		NDVIValue                *float64 `db:"ndvi_value"`
		NDVIAnomaly              *float64 `db:"ndvi_anomaly"`
		NDVISlope4wk             *float64 `db:"ndvi_slope_4wk"`
		CPCConditionMean         *float64 `db:"cpc_condition_mean"`
		CPCConditionDelta5yr     *float64 `db:"cpc_condition_delta_5yr"`
		CPCProgressMean          *float64 `db:"cpc_progress_mean"`
		CPCProgressVs5yrAvg      *float64 `db:"cpc_progress_vs_5yr_avg"`
		NASSGoodExcellentPct     *float64 `db:"nass_good_excellent_pct"`
		NASSProgressPct          *float64 `db:"nass_progress_pct"`
		WWRiskScore              float64  `db:"ww_risk_score"`
		WWOutlookSentiment       float64  `db:"ww_outlook_sentiment"`
		GrowthStage              string   `db:"growth_stage"`
	}

	var rows []row
	err := y.db.DB().SelectContext(ctx, &rows, `
		SELECT h.year, h.yield,
		       f.gdd_cumulative, f.precip_cumulative_mm, f.precip_weekly_mm,
		       f.tmax_weekly_avg_f, f.tmin_weekly_avg_f, f.tavg_weekly_avg_f,
		       f.stress_days_heat, f.stress_days_frost, f.stress_days_drought, f.stress_days_excess_moisture, f.frost_events,
		       f.gdd_vs_normal_pct, f.precip_vs_normal_pct,
		       f.ndvi_value, f.ndvi_anomaly, f.ndvi_slope_4wk,
		       f.cpc_condition_mean, f.cpc_condition_delta_5yr, f.cpc_progress_mean, f.cpc_progress_vs_5yr_avg,
		       f.nass_good_excellent_pct, f.nass_progress_pct,
		       f.ww_risk_score, f.ww_outlook_sentiment, f.growth_stage
		FROM reference_historical_yield h
		JOIN silver_yield_feature f ON f.state = h.state AND f.crop = h.crop AND f.year = h.year AND f.week = $3
		WHERE h.crop = $1 AND h.state = $2
		ORDER BY h.year ASC
	`, crop, state, week)
	if err != nil {
		return nil, fmt.Errorf("load training examples: %w", err)
	}

	examples := make([]model.Example, 0, len(rows))
	for _, r := range rows {
		examples = append(examples, model.Example{
			State: state, Year: r.Year, Week: week,
			ActualYield: r.ActualYield,
			Row: features.Row{
				State: state, Crop: crop, Year: r.Year, Week: week,
				GDDCumulative: r.GDDCumulative, PrecipCumulativeMM: r.PrecipCumulativeMM, PrecipWeeklyMM: r.PrecipWeeklyMM,
				TmaxWeeklyAvgF: r.TmaxWeeklyAvgF, TminWeeklyAvgF: r.TminWeeklyAvgF, TavgWeeklyAvgF: r.TavgWeeklyAvgF,
				StressDaysHeat: r.StressDaysHeat, StressDaysFrost: r.StressDaysFrost, StressDaysDrought: r.StressDaysDrought,
				StressDaysExcessMoisture: r.StressDaysExcessMoisture, FrostEvents: r.FrostEvents,
				GDDVsNormalPct: r.GDDVsNormalPct, PrecipVsNormalPct: r.PrecipVsNormalPct,
				NDVIValue: r.NDVIValue, NDVIAnomaly: r.NDVIAnomaly, NDVISlope4wk: r.NDVISlope4wk,
				CPCConditionMean: r.CPCConditionMean, CPCConditionDelta5yr: r.CPCConditionDelta5yr,
				CPCProgressMean: r.CPCProgressMean, CPCProgressVs5yrAvg: r.CPCProgressVs5yrAvg,
				NASSGoodExcellentPct: r.NASSGoodExcellentPct, NASSProgressPct: r.NASSProgressPct,
				WWRiskScore: r.WWRiskScore, WWOutlookSentiment: r.WWOutlookSentiment,
				GrowthStage: r.GrowthStage,
			},
		})
	}
	return examples, nil
}

// HistoricalYield returns the final actual yield for one (crop, state,
// year), used by the validator's benchmarks and bias analysis.
func (y *YieldReader) HistoricalYield(ctx context.Context, crop, state string, year int) (float64, bool, error) {
	var yieldVal float64
	err := y.db.DB().GetContext(ctx, &yieldVal, `
		SELECT yield FROM reference_historical_yield WHERE crop = $1 AND state = $2 AND year = $3
	`, crop, state, year)
	if err != nil {
		return 0, false, nil
	}
	return yieldVal, true, nil
}

// SaveForecast persists one ensemble prediction to gold_yield_forecast,
// looking up the previous week's same-(crop, state, year, model_type)
// forecast to populate prev_week_forecast/wow_change.
func (y *YieldReader) SaveForecast(ctx context.Context, runID string, fc model.Forecast, lastYearYield *float64) error {
	var prevWeek *float64
	_ = y.db.DB().GetContext(ctx, &prevWeek, `
		SELECT yield_forecast FROM gold_yield_forecast
		WHERE commodity = $1 AND state = $2 AND year = $3 AND model_type = $4 AND forecast_week < $5
		ORDER BY forecast_week DESC LIMIT 1
	`, fc.Crop, fc.State, fc.Year, fc.ModelType, fc.ForecastWeek)

	var wowChange *float64
	if prevWeek != nil {
		d := fc.YieldForecast - *prevWeek
		wowChange = &d
	}

	var vsLastYearPct *float64
	if lastYearYield != nil && *lastYearYield != 0 {
		v := (fc.YieldForecast/ *lastYearYield - 1) * 100
		vsLastYearPct = &v
	}

	forecastDate := time.Now().UTC()
	analogYears := make(pq.Int64Array, len(fc.AnalogYears))
	for i, yr := range fc.AnalogYears {
		analogYears[i] = int64(yr)
	}

	_, err := y.db.DB().ExecContext(ctx, `
		INSERT INTO gold_yield_forecast (
			run_id, commodity, state, year, forecast_week, forecast_date,
			yield_forecast, yield_low, yield_high, trend_yield, vs_trend_pct,
			last_year_yield, vs_last_year_pct, model_type, confidence, primary_driver,
			analog_years, prev_week_forecast, wow_change
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (commodity, state, year, forecast_week, model_type) DO UPDATE SET
			yield_forecast = EXCLUDED.yield_forecast,
			yield_low = EXCLUDED.yield_low,
			yield_high = EXCLUDED.yield_high,
			trend_yield = EXCLUDED.trend_yield,
			vs_trend_pct = EXCLUDED.vs_trend_pct,
			last_year_yield = EXCLUDED.last_year_yield,
			vs_last_year_pct = EXCLUDED.vs_last_year_pct,
			confidence = EXCLUDED.confidence,
			primary_driver = EXCLUDED.primary_driver,
			analog_years = EXCLUDED.analog_years,
			prev_week_forecast = EXCLUDED.prev_week_forecast,
			wow_change = EXCLUDED.wow_change
	`,
		runID, fc.Crop, fc.State, fc.Year, fc.ForecastWeek, forecastDate,
		fc.YieldForecast, fc.YieldLow, fc.YieldHigh, fc.TrendYield, fc.VsTrendPct,
		lastYearYield, vsLastYearPct, fc.ModelType, fc.Confidence, fc.PrimaryDriver,
		analogYears, prevWeek, wowChange,
	)
	if err != nil {
		return fmt.Errorf("save forecast: %w", err)
	}
	return nil
}
