package features

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/config"
)

type fakeReader struct {
	weather   []WeatherDay
	condition *ConditionRow
	national  []ConditionRow
	ndvi      []NDVIObs
	emails    []string
	clim      *Climatology
	states    []string
}

func f(v float64) *float64 { return &v }

func (r *fakeReader) WeatherDaily(ctx context.Context, state string, from, to time.Time) ([]WeatherDay, error) {
	var out []WeatherDay
	for _, d := range r.weather {
		if !d.Date.Before(from) && !d.Date.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}
func (r *fakeReader) StateCropCondition(ctx context.Context, state, crop string, weekEnding time.Time) (*ConditionRow, error) {
	return r.condition, nil
}
func (r *fakeReader) NationalCropCondition(ctx context.Context, crop string, weekEnding time.Time) ([]ConditionRow, error) {
	return r.national, nil
}
func (r *fakeReader) NDVI(ctx context.Context, state string, asOf time.Time, lookbackDays int) ([]NDVIObs, error) {
	var out []NDVIObs
	cutoff := asOf.AddDate(0, 0, -lookbackDays)
	for _, o := range r.ndvi {
		if o.Date.After(cutoff) && !o.Date.After(asOf) {
			out = append(out, o)
		}
	}
	return out, nil
}
func (r *fakeReader) WorldWeatherEmailBodies(ctx context.Context, from, to time.Time) ([]string, error) {
	return r.emails, nil
}
func (r *fakeReader) Climatology(ctx context.Context, state string, week int) (*Climatology, error) {
	return r.clim, nil
}
func (r *fakeReader) StatesGrowingCrop(ctx context.Context, crop string) ([]string, error) {
	return r.states, nil
}

type fakeWriter struct {
	rows []Row
}

func (w *fakeWriter) UpsertFeature(ctx context.Context, row Row) error {
	w.rows = append(w.rows, row)
	return nil
}

func testThresholds() *config.Thresholds {
	return &config.Thresholds{
		Crops: map[string]config.CropThresholds{
			"corn": {
				GDDBase: 50, GDDCap: 86, HeatThresholdF: 95, FrostThresholdF: 32,
				DroughtMMWeek: 5, ExcessMoistureMMWeek: 70,
				PlantingMonth: 4, PlantingDay: 15,
			},
		},
	}
}

func TestBuildFeaturesComputesGDDAndStressDays(t *testing.T) {
	weekEnding := WeekEnding(2025, 26)
	weekStart := weekEnding.AddDate(0, 0, -6)

	var weather []WeatherDay
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		weather = append(weather, WeatherDay{Date: day, TmaxF: f(96), TminF: f(60), PrecipMM: f(0.2)})
	}

	reader := &fakeReader{weather: weather, clim: &Climatology{GDDNormal: 10, PrecipNormalMM: 50}}
	writer := &fakeWriter{}
	eng := New(reader, writer, testThresholds(), nil)

	rows, err := eng.BuildFeatures(context.Background(), "IA", "corn", 2025, 26, 26)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, 7, row.StressDaysHeat, "every day exceeds the 95F heat threshold")
	require.Equal(t, 0, row.StressDaysFrost)
	require.Equal(t, 7, row.StressDaysDrought, "every day is under 1mm precip")
	require.Greater(t, row.GDDCumulative, 0.0)
	require.Len(t, writer.rows, 1)
}

func TestBuildFeaturesSkipsStaleNDVI(t *testing.T) {
	weekEnding := WeekEnding(2025, 26)
	stale := weekEnding.AddDate(0, 0, -20)

	reader := &fakeReader{ndvi: []NDVIObs{{Date: stale, Value: 0.7}}}
	writer := &fakeWriter{}
	eng := New(reader, writer, testThresholds(), nil)

	rows, err := eng.BuildFeatures(context.Background(), "IA", "corn", 2025, 26, 26)
	require.NoError(t, err)
	require.Nil(t, rows[0].NDVIValue)
}

func TestBuildAllFeaturesDiscoversStates(t *testing.T) {
	reader := &fakeReader{states: []string{"IA", "IL"}}
	writer := &fakeWriter{}
	eng := New(reader, writer, testThresholds(), nil)

	total, err := eng.BuildAllFeatures(context.Background(), 2025, []string{"corn"})
	require.NoError(t, err)
	require.Equal(t, 52*2, total)
}

func TestWorldWeatherTallyScoring(t *testing.T) {
	reader := &fakeReader{emails: []string{"Severe drought conditions persist", "Favorable rain expected"}}
	writer := &fakeWriter{}
	eng := New(reader, writer, testThresholds(), nil)

	rows, err := eng.BuildFeatures(context.Background(), "IA", "corn", 2025, 26, 26)
	require.NoError(t, err)
	require.Greater(t, rows[0].WWRiskScore, 0.0)
}
