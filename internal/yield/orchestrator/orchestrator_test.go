package orchestrator

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/yield/features"
	"github.com/harvestline/agriforecast/internal/yield/model"
)

type fakeStore struct {
	freshness map[string]*time.Time
	forecasts []model.Forecast
	modelRuns int
}

func (f *fakeStore) Freshness(ctx context.Context) (map[string]*time.Time, error) {
	return f.freshness, nil
}

func (f *fakeStore) HistoricalYield(ctx context.Context, crop, state string, year int) (float64, bool, error) {
	return 170, true, nil
}

func (f *fakeStore) SaveForecast(ctx context.Context, runID string, fc model.Forecast, lastYearYield *float64) error {
	f.forecasts = append(f.forecasts, fc)
	return nil
}

func (f *fakeStore) SaveModelRun(ctx context.Context, runID, modelVersion, modelType string, crops []string, forecastWeek, featureCount int, durationSec float64) error {
	f.modelRuns++
	return nil
}

type fakeBuilder struct {
	row features.Row
}

func (f *fakeBuilder) BuildFeatures(ctx context.Context, state, crop string, year, weekStart, weekEnd int) ([]features.Row, error) {
	rows := make([]features.Row, 0, weekEnd-weekStart+1)
	for w := weekStart; w <= weekEnd; w++ {
		r := f.row
		r.State, r.Crop, r.Year, r.Week = state, crop, year, w
		rows = append(rows, r)
	}
	return rows, nil
}

type fakeDiscoverer struct{ states []string }

func (f *fakeDiscoverer) StatesGrowingCrop(ctx context.Context, crop string) ([]string, error) {
	return f.states, nil
}

type fakeExamples struct{}

func (fakeExamples) LoadExamples(ctx context.Context, crop, state string, week int) ([]model.Example, error) {
	// A gently rising yield series with independently varying features,
	// so the least-squares sub-model's design matrix stays full rank
	// even under leave-one-year-out refits.
	examples := make([]model.Example, 0, 12)
	for i := 0; i < 12; i++ {
		year := 2013 + i
		gddVs := float64(i) - 5.5
		precipVs := float64((i*i)%11) - 5
		nass := 50 + float64((i*7)%13)
		examples = append(examples, model.Example{
			State: state, Year: year, Week: week,
			ActualYield: 160 + 2*float64(i) + float64(i%3),
			Row: features.Row{
				State: state, Crop: crop, Year: year, Week: week,
				GDDCumulative:        1200 + 10*float64(i),
				PrecipCumulativeMM:   300 + 5*float64(i%4),
				GDDVsNormalPct:       &gddVs,
				PrecipVsNormalPct:    &precipVs,
				NASSGoodExcellentPct: &nass,
				StressDaysHeat:       (i * 3) % 7,
				StressDaysDrought:    i % 3,
				WWRiskScore:          float64(i % 5),
				GrowthStage:          "reproductive",
			},
		})
	}
	return examples, nil
}

func TestRunProducesForecastsAndModelRun(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)
	store := &fakeStore{freshness: map[string]*time.Time{
		"bronze_weather_observation": &now,
		"bronze_crop_condition":      &old,
	}}

	r := New(store, &fakeBuilder{}, &fakeDiscoverer{states: []string{"IA", "IL"}}, fakeExamples{}, nil, []string{"corn"}, nil, rand.New(rand.NewSource(1)))

	result, err := r.Run(context.Background(), 30, 2025, nil, nil)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	require.Equal(t, []string{"bronze_crop_condition"}, result.StaleTables)
	require.Equal(t, 6, result.FeatureRows) // weeks 28-30 for two states
	require.Len(t, result.Forecasts, 2)
	require.Equal(t, 1, store.modelRuns)

	for _, fc := range result.Forecasts {
		require.LessOrEqual(t, fc.YieldLow, fc.YieldForecast)
		require.LessOrEqual(t, fc.YieldForecast, fc.YieldHigh)
		require.GreaterOrEqual(t, fc.Confidence, 0.0)
		require.LessOrEqual(t, fc.Confidence, 1.0)
	}

	require.Len(t, result.CropSummaries, 1)
	require.Equal(t, "corn", result.CropSummaries[0].Crop)
	require.Equal(t, 2, result.CropSummaries[0].States)
}

func TestAlertRules(t *testing.T) {
	_, ok := alertFor(model.Forecast{VsTrendPct: 3, PrimaryDriver: "Normal conditions"})
	require.False(t, ok)

	a, ok := alertFor(model.Forecast{Crop: "corn", State: "IA", VsTrendPct: -12, PrimaryDriver: "Normal conditions"})
	require.True(t, ok)
	require.Contains(t, a.Message, "IA")

	_, ok = alertFor(model.Forecast{VsTrendPct: 1, PrimaryDriver: "Drought stress"})
	require.True(t, ok)
}

func TestAlertDedupKeepsOnePerCropState(t *testing.T) {
	alerts := make([]Alert, 0, 50)
	for i := 0; i < 50; i++ {
		alerts = append(alerts, Alert{Crop: "corn", State: string(rune('A' + i%25))})
	}
	deduped := dedupAlerts(alerts)
	require.Len(t, deduped, 25)
}
