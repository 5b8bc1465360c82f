package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown(t *testing.T) {
	reports := []*Report{{
		Crop:  "corn",
		State: "IA",
		Weeks: []WeekResult{{
			Week: 30, Examples: 9,
			EnsembleRMSE: 8.1, TrendRMSE: 10.4,
			SkillVsTrend: 0.22, SkillVsLastYear: 0.15, SkillVsFiveYearAvg: 0.08,
			YearErrors: map[int]float64{2022: -3.0, 2023: 1.5},
		}},
		Bias: BiasAnalysis{OverallMeanError: -0.75, PerYear: map[int]float64{2022: -3.0, 2023: 1.5}},
	}}
	revisions := []Revision{{State: "IA", Year: 2024, Week: 34, WowChange: -4.2, PrimaryDriver: "Drought stress"}}

	md := RenderMarkdown("corn", reports, revisions)

	require.Contains(t, md, "# Yield Backtest Report — corn")
	require.Contains(t, md, "## IA")
	require.Contains(t, md, "| 30 | 9 | 8.10 | +0.22 | +0.15 | +0.08 |")
	require.Contains(t, md, "Overall bias: -0.75")
	require.Contains(t, md, "## Largest forecast revisions")
	require.Contains(t, md, "Drought stress")
}

func TestRenderMarkdownEmptyState(t *testing.T) {
	md := RenderMarkdown("corn", []*Report{{Crop: "corn", State: "KS"}}, nil)
	require.Contains(t, md, "No weeks had enough training years")
}

func TestRenderText(t *testing.T) {
	out := RenderText("corn", []*Report{{
		Crop: "corn", State: "IA",
		Weeks: []WeekResult{{Week: 30, Examples: 9, EnsembleRMSE: 8.1, SkillVsTrend: 0.22}},
	}})
	require.Contains(t, out, "Yield backtest report: corn")
	require.Contains(t, out, "week 30")
}
