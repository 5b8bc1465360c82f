package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/harvestline/agriforecast/internal/trade"
)

// SaveBalanceMatrix upserts one pipeline pass's balance-matrix entries
// into gold_balance_matrix. Missing sides stay null.
func (s *Store) SaveBalanceMatrix(ctx context.Context, entries []trade.BalanceMatrixEntry) error {
	for _, e := range entries {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO gold_balance_matrix (
				period, hs_code_6, country_a, country_b,
				export_a_to_b, import_b_to_a, abs_diff, pct_diff, discrepancy, computed_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (period, hs_code_6, country_a, country_b) DO UPDATE SET
				export_a_to_b = EXCLUDED.export_a_to_b,
				import_b_to_a = EXCLUDED.import_b_to_a,
				abs_diff = EXCLUDED.abs_diff,
				pct_diff = EXCLUDED.pct_diff,
				discrepancy = EXCLUDED.discrepancy,
				computed_at = now()
		`, e.Period, e.HSCode6, e.CountryA, e.CountryB,
			e.ExportAtoB, e.ImportBtoA, e.AbsDiff, e.PctDiff, e.Discrepancy)
		if err != nil {
			return fmt.Errorf("upsert balance matrix %s/%s: %w", e.Period, e.HSCode6, err)
		}
	}
	return nil
}

// ModelRun is one silver_yield_model_run row.
type ModelRun struct {
	RunID          string
	ModelVersion   string
	ModelType      string
	CropsProcessed []string
	ForecastWeek   int
	FeatureCount   int
	DurationSec    float64
}

// SaveModelRun logs one yield-orchestrator pass.
func (s *Store) SaveModelRun(ctx context.Context, run ModelRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO silver_yield_model_run (run_id, model_version, model_type, crops_processed, forecast_week, feature_count, duration_sec)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.RunID, run.ModelVersion, run.ModelType, pq.Array(run.CropsProcessed), run.ForecastWeek, run.FeatureCount, run.DurationSec)
	if err != nil {
		return fmt.Errorf("save model run %s: %w", run.RunID, err)
	}
	return nil
}

// ForecastRevision is one persisted week-over-week forecast change, for
// the validator's revision tracking.
type ForecastRevision struct {
	Commodity     string   `db:"commodity"`
	State         string   `db:"state"`
	Year          int      `db:"year"`
	ForecastWeek  int      `db:"forecast_week"`
	WowChange     float64  `db:"wow_change"`
	PrimaryDriver string   `db:"primary_driver"`
}

// LargestRevisions returns the n largest-magnitude non-null wow_change
// forecasts with their primary driver.
func (s *Store) LargestRevisions(ctx context.Context, n int) ([]ForecastRevision, error) {
	var out []ForecastRevision
	err := s.db.SelectContext(ctx, &out, `
		SELECT commodity, state, year, forecast_week, wow_change, primary_driver
		FROM gold_yield_forecast
		WHERE wow_change IS NOT NULL
		ORDER BY ABS(wow_change) DESC
		LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("largest revisions: %w", err)
	}
	return out, nil
}

// ForecastSummary is one gold_yield_forecast row's monitor-facing slice.
type ForecastSummary struct {
	Commodity     string  `db:"commodity"`
	State         string  `db:"state"`
	Year          int     `db:"year"`
	ForecastWeek  int     `db:"forecast_week"`
	YieldForecast float64 `db:"yield_forecast"`
	VsTrendPct    float64 `db:"vs_trend_pct"`
	Confidence    float64 `db:"confidence"`
	PrimaryDriver string  `db:"primary_driver"`
}

// LatestForecasts returns each (commodity, state)'s most recent forecast
// for a year, for the `monitor` CLI surface.
func (s *Store) LatestForecasts(ctx context.Context, year int) ([]ForecastSummary, error) {
	var out []ForecastSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT DISTINCT ON (commodity, state)
		       commodity, state, year, forecast_week, yield_forecast, vs_trend_pct, confidence, primary_driver
		FROM gold_yield_forecast
		WHERE year = $1 AND model_type = 'ensemble'
		ORDER BY commodity, state, forecast_week DESC
	`, year)
	if err != nil {
		return nil, fmt.Errorf("latest forecasts: %w", err)
	}
	return out, nil
}

// freshnessQueries maps the tables the weekly pass depends on to the
// timestamp column that advances on write.
var freshnessQueries = map[string]string{
	"bronze_weather_observation": "SELECT MAX(ingested_at) FROM bronze_weather_observation",
	"bronze_crop_condition":      "SELECT MAX(ingested_at) FROM bronze_crop_condition",
	"silver_yield_feature":       "SELECT MAX(updated_at) FROM silver_yield_feature",
	"gold_yield_forecast":        "SELECT MAX(created_at) FROM gold_yield_forecast",
}

// Freshness reports the latest write time of each table the yield
// pipeline reads or writes. A nil timestamp means the table is empty.
func (s *Store) Freshness(ctx context.Context) (map[string]*time.Time, error) {
	out := make(map[string]*time.Time, len(freshnessQueries))
	for table, query := range freshnessQueries {
		var ts *time.Time
		if err := s.db.GetContext(ctx, &ts, query); err != nil {
			return nil, fmt.Errorf("freshness of %s: %w", table, err)
		}
		out[table] = ts
	}
	return out, nil
}
