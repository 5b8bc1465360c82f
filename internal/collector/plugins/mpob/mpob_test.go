package mpob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const statsPage = `
<html><body>
<table><tr><td>navigation</td></tr></table>
<table>
  <tr><th>Metric</th><th>Production</th><th>Exports</th></tr>
  <tr><td>Crude palm oil production</td><td>1,540,000</td></tr>
  <tr><td>Palm oil exports</td><td>1,210,500</td></tr>
  <tr><td>Closing stocks</td><td>n/a</td></tr>
</table>
</body></html>`

func TestParseStatsTablePicksTableByHeaderKeywords(t *testing.T) {
	rows := ParseStatsTable(statsPage, "2024-08")
	require.Len(t, rows, 2) // the n/a row is dropped

	require.Equal(t, "crude palm oil production", rows[0].Metric)
	require.Equal(t, 1540000.0, rows[0].ValueMT)
	require.Equal(t, "2024-08", rows[0].Period)
	require.Equal(t, "palm oil exports", rows[1].Metric)
}

func TestParseStatsTableNoMatchingTable(t *testing.T) {
	require.Nil(t, ParseStatsTable("<table><tr><th>a</th></tr><tr><td>b</td><td>1</td></tr></table>", "2024-08"))
	require.Nil(t, ParseStatsTable("no tables here", "2024-08"))
}
