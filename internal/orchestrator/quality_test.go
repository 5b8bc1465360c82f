package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/trade"
)

func rec(hs6, reporter string, value float64) trade.HarmonizedRecord {
	return trade.HarmonizedRecord{
		Period: "2025-06", HSCode6: hs6, Reporter: reporter, Partner: "CHN",
		Flow: trade.FlowExport, QuantityTons: 10, ValueUSD: value, ValueBasis: "FOB",
	}
}

func TestValidateQualityFlagsMalformedHS6(t *testing.T) {
	records := []trade.HarmonizedRecord{rec("12019", "ARG", 100)}
	alerts := ValidateQuality(records, nil)
	require.NotEmpty(t, alerts)
	require.Equal(t, SeverityFatal, alerts[0].Severity)
	require.Equal(t, "schema", alerts[0].Check)
}

func TestValidateQualityFlagsNegativeValue(t *testing.T) {
	records := []trade.HarmonizedRecord{rec("120190", "ARG", -5)}
	alerts := ValidateQuality(records, nil)
	found := false
	for _, a := range alerts {
		if a.Check == "commodity_sanity" {
			found = true
			require.Equal(t, SeverityFatal, a.Severity)
		}
	}
	require.True(t, found)
}

func TestValidateQualityFlagsDuplicates(t *testing.T) {
	records := []trade.HarmonizedRecord{rec("120190", "ARG", 100), rec("120190", "ARG", 100)}
	alerts := ValidateQuality(records, nil)
	found := false
	for _, a := range alerts {
		if a.Check == "duplicate" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateQualityFlagsOutliers(t *testing.T) {
	records := []trade.HarmonizedRecord{
		rec("120190", "ARG", 100), rec("120190", "BRA", 105), rec("120190", "USA", 95), rec("120190", "COL", 10000),
	}
	// With n points the largest population z-score is sqrt(n-1), so four
	// points can never pass the default threshold of 3; pad the group.
	for _, reporter := range []string{"CAN", "MEX", "PRY", "URY", "BOL", "PER", "CHL", "ECU"} {
		records = append(records, rec("120190", reporter, 100))
	}
	alerts := ValidateQuality(records, nil)
	found := false
	for _, a := range alerts {
		if a.Check == "outlier" && a.Country == "COL" {
			found = true
		}
	}
	require.True(t, found)
}
