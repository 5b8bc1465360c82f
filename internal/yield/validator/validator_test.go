package validator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/config"
	"github.com/harvestline/agriforecast/internal/yield/features"
	"github.com/harvestline/agriforecast/internal/yield/model"
)

func fp(v float64) *float64 { return &v }

func syntheticExamples(n int, week int) []model.Example {
	examples := make([]model.Example, 0, n)
	for i := 0; i < n; i++ {
		year := 2005 + i
		gddPct := float64(i%5) - 2
		row := features.Row{
			State: "IA", Crop: "corn", Year: year, Week: week,
			GDDVsNormalPct:       fp(gddPct),
			PrecipVsNormalPct:    fp(float64(i%3) - 1),
			StressDaysHeat:       i % 4,
			StressDaysDrought:    i % 6,
			NASSGoodExcellentPct: fp(60 + float64(i%10)),
			// i%7 keeps this column independent of PrecipVsNormalPct
			// (i%3 - 1), so Model A's design matrix stays full rank.
			WWRiskScore: float64(i % 7),
			GrowthStage: "reproductive",
		}
		examples = append(examples, model.Example{
			State: "IA", Year: year, Week: week, Row: row,
			ActualYield: 170 + float64(year-2005)*1.2 + gddPct*0.5,
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

func TestBacktestProducesSkillScorePerWeek(t *testing.T) {
	byWeek := map[int][]model.Example{
		18: syntheticExamples(14, 18),
		30: syntheticExamples(14, 30),
	}
	report, err := Backtest("corn", "IA", byWeek, testWeights(), rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, report.Weeks, 2)
	for _, w := range report.Weeks {
		require.Greater(t, w.Examples, 0)
		require.GreaterOrEqual(t, w.EnsembleRMSE, 0.0)
	}
}

func TestBacktestSkipsWeeksWithTooFewExamples(t *testing.T) {
	byWeek := map[int][]model.Example{18: syntheticExamples(2, 18)}
	report, err := Backtest("corn", "IA", byWeek, testWeights(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Empty(t, report.Weeks)
}

func TestWorstStatesRanksByAbsoluteBias(t *testing.T) {
	reports := []*Report{
		{State: "IA", Bias: BiasAnalysis{OverallMeanError: 0.5}},
		{State: "NE", Bias: BiasAnalysis{OverallMeanError: -8.0}},
		{State: "IL", Bias: BiasAnalysis{OverallMeanError: 2.0}},
	}
	worst := WorstStates(reports, 2)
	require.Len(t, worst, 2)
	require.Equal(t, "NE", worst[0].State)
	require.Equal(t, "IL", worst[1].State)
}

func TestAnalyzeRevisionsComputesMeanAndMax(t *testing.T) {
	rs := AnalyzeRevisions("corn", "IA", 2024, []float64{1.0, -3.0, 2.0})
	require.Equal(t, 3, rs.Revisions)
	require.InDelta(t, 2.0, rs.MeanAbsWowChange, 1e-9)
	require.InDelta(t, 3.0, rs.MaxAbsWowChange, 1e-9)
}

func TestAnalyzeRevisionsHandlesEmpty(t *testing.T) {
	rs := AnalyzeRevisions("corn", "IA", 2024, nil)
	require.Equal(t, 0, rs.Revisions)
}
