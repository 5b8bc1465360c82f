package validator

import (
	"fmt"
	"sort"
	"strings"
)

// Revision is one persisted week-over-week forecast change, surfaced by
// the report's revision-tracking section. Callers source
// these from the gold forecast table's non-null wow_change rows.
type Revision struct {
	State         string
	Year          int
	Week          int
	WowChange     float64
	PrimaryDriver string
}

// RenderMarkdown formats a set of backtest reports (one per state) for a
// crop as a Markdown report: per-week skill
// tables, bias summary, worst states, and the largest forecast
// revisions.
func RenderMarkdown(crop string, reports []*Report, revisions []Revision) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Yield Backtest Report — %s\n\n", crop)

	for _, r := range reports {
		fmt.Fprintf(&b, "## %s\n\n", r.State)
		if len(r.Weeks) == 0 {
			b.WriteString("No weeks had enough training years to backtest.\n\n")
			continue
		}

		b.WriteString("| Week | Years | RMSE | Skill vs trend | Skill vs last year | Skill vs 5-yr avg |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, w := range r.Weeks {
			fmt.Fprintf(&b, "| %d | %d | %.2f | %+.2f | %+.2f | %+.2f |\n",
				w.Week, w.Examples, w.EnsembleRMSE, w.SkillVsTrend, w.SkillVsLastYear, w.SkillVsFiveYearAvg)
		}
		b.WriteString("\n")

		fmt.Fprintf(&b, "Overall bias: %+.2f bu/ac\n\n", r.Bias.OverallMeanError)
		if len(r.Bias.PerYear) > 0 {
			years := make([]int, 0, len(r.Bias.PerYear))
			for y := range r.Bias.PerYear {
				years = append(years, y)
			}
			sort.Ints(years)
			b.WriteString("Per-year bias: ")
			parts := make([]string, 0, len(years))
			for _, y := range years {
				parts = append(parts, fmt.Sprintf("%d %+.2f", y, r.Bias.PerYear[y]))
			}
			b.WriteString(strings.Join(parts, ", "))
			b.WriteString("\n\n")
		}
	}

	if worst := WorstStates(reports, 10); len(worst) > 0 {
		b.WriteString("## Worst states by |bias|\n\n")
		for i, s := range worst {
			fmt.Fprintf(&b, "%d. %s: %+.2f\n", i+1, s.State, s.MeanError)
		}
		b.WriteString("\n")
	}

	if len(revisions) > 0 {
		b.WriteString("## Largest forecast revisions\n\n")
		b.WriteString("| State | Year | Week | WoW change | Primary driver |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, rev := range revisions {
			fmt.Fprintf(&b, "| %s | %d | %d | %+.2f | %s |\n",
				rev.State, rev.Year, rev.Week, rev.WowChange, rev.PrimaryDriver)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderText is the plain-text rendering for `report --format text`: the
// same content with the table syntax stripped down.
func RenderText(crop string, reports []*Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Yield backtest report: %s\n", crop)
	for _, r := range reports {
		fmt.Fprintf(&b, "\n%s (overall bias %+.2f)\n", r.State, r.Bias.OverallMeanError)
		for _, w := range r.Weeks {
			fmt.Fprintf(&b, "  week %2d  n=%d  rmse=%.2f  skill(trend)=%+.2f\n",
				w.Week, w.Examples, w.EnsembleRMSE, w.SkillVsTrend)
		}
	}
	return b.String()
}
