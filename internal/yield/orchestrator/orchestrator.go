// Package orchestrator drives the weekly yield pass:
// freshness check, feature build over the trailing three weeks, per-crop
// ensemble prediction, persistence, alerting, and the model-run log row.
//
// Mirrors internal/orchestrator's trade-pipeline shape (structured
// Result, per-unit error accumulation, capped alert list); the
// storage surface is split into small interfaces here the same way
// features.Reader/Writer are, so tests run against fakes and the CLI
// wires internal/store/postgres.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/logging"
	"github.com/harvestline/agriforecast/internal/yield/features"
	"github.com/harvestline/agriforecast/internal/yield/model"
)

const ModelVersion = "v1"

// staleAfter is how old a dependency table's latest write may be before
// the freshness check flags it.
const staleAfter = 7 * 24 * time.Hour

// Store is the persistence surface the weekly pass needs beyond the
// feature engine's own Reader/Writer.
type Store interface {
	// Freshness returns each dependency table's latest write time; nil
	// means the table is empty.
	Freshness(ctx context.Context) (map[string]*time.Time, error)
	// HistoricalYield returns the final actual yield for (crop, state,
	// year), with ok=false when the year isn't recorded.
	HistoricalYield(ctx context.Context, crop, state string, year int) (float64, bool, error)
	// SaveForecast persists one ensemble prediction under runID.
	SaveForecast(ctx context.Context, runID string, fc model.Forecast, lastYearYield *float64) error
	// SaveModelRun logs the pass itself.
	SaveModelRun(ctx context.Context, runID, modelVersion, modelType string, crops []string, forecastWeek, featureCount int, durationSec float64) error
}

// FeatureBuilder is the slice of features.Engine the pass drives.
type FeatureBuilder interface {
	BuildFeatures(ctx context.Context, state, crop string, year, weekStart, weekEnd int) ([]features.Row, error)
}

// StateDiscoverer finds which states grow a crop (features.Reader
// already carries this; listed separately so fakes stay small).
type StateDiscoverer interface {
	StatesGrowingCrop(ctx context.Context, crop string) ([]string, error)
}

// Alert is one monitor-worthy forecast condition.
type Alert struct {
	Crop          string
	State         string
	VsTrendPct    float64
	PrimaryDriver string
	Message       string
}

const maxAlerts = 20

// CropSummary aggregates one crop's predictions for the pass result.
type CropSummary struct {
	Crop          string
	States        int
	AvgVsTrendPct float64
}

// Result is one weekly pass's outcome.
type Result struct {
	RunID         string
	Year          int
	Week          int
	StaleTables   []string
	FeatureRows   int
	Forecasts     []model.Forecast
	CropSummaries []CropSummary
	Alerts        []Alert
	Errors        []string
	Duration      time.Duration
}

// Runner wires the weekly pass's collaborators.
type Runner struct {
	store      Store
	builder    FeatureBuilder
	discoverer StateDiscoverer
	examples   model.ExampleSource
	weights    *config.EnsembleWeights
	crops      []string
	log        *logging.Logger
	rng        *rand.Rand
}

// New builds a Runner. crops defaults to every crop in weights when nil.
func New(store Store, builder FeatureBuilder, discoverer StateDiscoverer, examples model.ExampleSource, weights *config.EnsembleWeights, crops []string, log *logging.Logger, rng *rand.Rand) *Runner {
	if len(crops) == 0 && weights != nil {
		for c := range weights.Crops {
			crops = append(crops, c)
		}
		sort.Strings(crops)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Runner{store: store, builder: builder, discoverer: discoverer, examples: examples, weights: weights, crops: crops, log: log, rng: rng}
}

// Run executes one weekly pass. week/year default to the current ISO
// week; crops/states narrow the fan-out when non-empty.
func (r *Runner) Run(ctx context.Context, week, year int, crops, states []string) (*Result, error) {
	start := time.Now()
	if year == 0 || week == 0 {
		y, w := time.Now().UTC().ISOWeek()
		if year == 0 {
			year = y
		}
		if week == 0 {
			week = w
		}
	}
	if len(crops) == 0 {
		crops = r.crops
	}

	result := &Result{
		RunID: uuid.NewString()[:8],
		Year:  year,
		Week:  week,
	}

	result.StaleTables = r.checkFreshness(ctx, result)

	weekStart := week - 2
	if weekStart < 1 {
		weekStart = 1
	}

	for _, crop := range crops {
		summary, err := r.runCrop(ctx, result, crop, year, weekStart, week, states)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", crop, err))
			continue
		}
		if summary != nil {
			result.CropSummaries = append(result.CropSummaries, *summary)
		}
	}

	result.Alerts = dedupAlerts(result.Alerts)
	if len(result.Alerts) > maxAlerts {
		result.Alerts = result.Alerts[:maxAlerts]
	}

	result.Duration = time.Since(start)
	if err := r.store.SaveModelRun(ctx, result.RunID, ModelVersion, "ensemble", crops, week, result.FeatureRows, result.Duration.Seconds()); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("save model run: %v", err))
	}
	return result, nil
}

func (r *Runner) checkFreshness(ctx context.Context, result *Result) []string {
	freshness, err := r.store.Freshness(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("freshness check: %v", err))
		return nil
	}
	now := time.Now().UTC()
	var stale []string
	for table, ts := range freshness {
		if ts == nil || now.Sub(*ts) > staleAfter {
			stale = append(stale, table)
		}
	}
	sort.Strings(stale)
	if len(stale) > 0 && r.log != nil {
		r.log.WithField("tables", stale).Warn("stale dependency tables")
	}
	return stale
}

func (r *Runner) runCrop(ctx context.Context, result *Result, crop string, year, weekStart, week int, states []string) (*CropSummary, error) {
	if len(states) == 0 {
		discovered, err := r.discoverer.StatesGrowingCrop(ctx, crop)
		if err != nil {
			return nil, fmt.Errorf("discover states: %w", err)
		}
		states = discovered
	}
	if len(states) == 0 {
		return nil, nil
	}

	summary := &CropSummary{Crop: crop}
	var vsTrendSum float64

	for _, state := range states {
		rows, err := r.builder.BuildFeatures(ctx, state, crop, year, weekStart, week)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s features: %v", crop, state, err))
			continue
		}
		result.FeatureRows += len(rows)
		if len(rows) == 0 {
			continue
		}
		current := rows[len(rows)-1]

		examples, err := r.examples.LoadExamples(ctx, crop, state, week)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s examples: %v", crop, state, err))
			continue
		}
		ens, err := model.Train(crop, state, examples, r.weights, r.rng)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s train: %v", crop, state, err))
			continue
		}
		fc := ens.Predict(year, week, current)

		var lastYear *float64
		if v, ok, err := r.store.HistoricalYield(ctx, crop, state, year-1); err == nil && ok {
			lastYear = &v
		}
		if err := r.store.SaveForecast(ctx, result.RunID, fc, lastYear); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s persist: %v", crop, state, err))
			continue
		}

		result.Forecasts = append(result.Forecasts, fc)
		summary.States++
		vsTrendSum += fc.VsTrendPct

		if alert, ok := alertFor(fc); ok {
			result.Alerts = append(result.Alerts, alert)
		}
	}

	if summary.States == 0 {
		return nil, fmt.Errorf("no state produced a forecast")
	}
	summary.AvgVsTrendPct = vsTrendSum / float64(summary.States)
	return summary, nil
}

// alertFor applies the alert rule: |vs_trend_pct| > 10 or a
// drought/heat primary driver.
func alertFor(fc model.Forecast) (Alert, bool) {
	stressDriver := fc.PrimaryDriver == "Drought stress" || fc.PrimaryDriver == "Heat stress"
	if math.Abs(fc.VsTrendPct) <= 10 && !stressDriver {
		return Alert{}, false
	}
	return Alert{
		Crop:          fc.Crop,
		State:         fc.State,
		VsTrendPct:    fc.VsTrendPct,
		PrimaryDriver: fc.PrimaryDriver,
		Message:       fmt.Sprintf("%s %s: %.1f%% vs trend (%s)", fc.Crop, fc.State, fc.VsTrendPct, fc.PrimaryDriver),
	}, true
}

func dedupAlerts(alerts []Alert) []Alert {
	seen := make(map[string]struct{}, len(alerts))
	out := make([]Alert, 0, len(alerts))
	for _, a := range alerts {
		key := a.Crop + "/" + a.State
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
