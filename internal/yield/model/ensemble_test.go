package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/yield/features"
)

func f(v float64) *float64 { return &v }

func syntheticExamples(n int) []Example {
	examples := make([]Example, 0, n)
	for i := 0; i < n; i++ {
		year := 2010 + i
		gddPct := float64(i%5) - 2
		row := features.Row{
			State: "IA", Crop: "corn", Year: year, Week: 30,
			GDDVsNormalPct:       f(gddPct),
			PrecipVsNormalPct:    f(float64(i%3) - 1),
			StressDaysHeat:       i % 4,
			StressDaysDrought:    i % 6,
			NASSGoodExcellentPct: f(60 + float64(i%10)),
			// i%7 keeps this column independent of PrecipVsNormalPct
			// (i%3 - 1), so Model A's design matrix stays full rank.
			WWRiskScore: float64(i % 7),
			GrowthStage: "reproductive",
		}
		examples = append(examples, Example{
			State: "IA", Year: year, Week: 30, Row: row,
			ActualYield: 170 + float64(year-2010)*1.5 + gddPct*0.5,
		})
	}
	return examples
}

func testWeights() *config.EnsembleWeights {
	return &config.EnsembleWeights{
		Crops: map[string]map[string]config.ModelWeights{
			"corn": {"reproductive": {Trend: 0.2, GBM: 0.5, Analog: 0.3}},
		},
	}
}

func TestTrainProducesUsableEnsemble(t *testing.T) {
	examples := syntheticExamples(12)
	rng := rand.New(rand.NewSource(1))

	ens, err := Train("corn", "IA", examples, testWeights(), rng)
	require.NoError(t, err)
	require.NotNil(t, ens)

	forecast := ens.Predict(2022, 30, examples[0].Row)
	require.Greater(t, forecast.YieldForecast, 100.0)
	require.LessOrEqual(t, forecast.YieldLow, forecast.YieldForecast)
	require.GreaterOrEqual(t, forecast.YieldHigh, forecast.YieldForecast)
	require.Equal(t, "ensemble", forecast.ModelType)
}

func TestTrainRejectsTooFewExamples(t *testing.T) {
	_, err := Train("corn", "IA", syntheticExamples(2), testWeights(), rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestConfidenceFollowsWeekTable(t *testing.T) {
	require.InDelta(t, 0.30, Confidence(5), 1e-9)
	require.InDelta(t, 0.95, Confidence(45), 1e-9)

	// Exact table entries.
	require.InDelta(t, 0.45, Confidence(18), 1e-9)
	require.InDelta(t, 0.80, Confidence(30), 1e-9)
	require.InDelta(t, 0.93, Confidence(38), 1e-9)

	// Between table weeks, interpolate between the adjacent entries.
	require.InDelta(t, 0.65, Confidence(25), 1e-9) // midway 24 (0.60) and 26 (0.70)
	require.InDelta(t, 0.34, Confidence(12), 1e-9) // 2/5 between 10 (0.30) and 15 (0.40)
}

func TestPrimaryDriverPriority(t *testing.T) {
	require.Equal(t, "Drought stress", PrimaryDriver(features.Row{StressDaysDrought: 10, StressDaysHeat: 10}))
	require.Equal(t, "Heat stress", PrimaryDriver(features.Row{StressDaysHeat: 6}))
	require.Equal(t, "Normal conditions", PrimaryDriver(features.Row{}))
}
