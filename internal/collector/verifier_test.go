package collector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/audit"
)

func TestTargetsFromLogExtractsSaveAndUpdate(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(dir, "epa_echo")
	require.NoError(t, err)

	require.NoError(t, log.DataSave(audit.SaveDetails{
		AffectedRecordIDs: []string{"AIR123"},
		NewValues:         map[string]interface{}{"AIRName": "ACME PROCESSORS"},
		SourceEndpoint:    "https://echo.epa.gov/api/facilities",
		VerificationURL:   "https://echo.epa.gov/facility/AIR123",
		FacilityName:      "ACME PROCESSORS",
	}))
	require.NoError(t, log.DataUpdate(audit.SaveDetails{
		AffectedRecordIDs: []string{"AIR124"},
		NewValues:         map[string]interface{}{"AIRName": "BETA FARMS"},
		SourceEndpoint:    "https://echo.epa.gov/api/facilities",
		VerificationURL:   "https://echo.epa.gov/facility/AIR124",
	}))
	require.NoError(t, log.APICall(map[string]interface{}{"url": "x"}, 0))
	require.NoError(t, log.Close())

	targets, err := TargetsFromLog(log.Path())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	require.Equal(t, "AIR123", targets[0].RecordID)
	require.Equal(t, "ACME PROCESSORS", targets[0].FacilityName)
	require.Equal(t, "AIR124", targets[1].RecordID)
}

func TestSelectTargetsFullReturnsEverything(t *testing.T) {
	targets := []VerificationTarget{{RecordID: "a"}, {RecordID: "b"}, {RecordID: "c"}}
	selected := SelectTargets(targets, ModeFull, 10, rand.New(rand.NewSource(1)))
	require.Len(t, selected, 3)
}

func TestSelectTargetsSampleFloorsAtOne(t *testing.T) {
	targets := []VerificationTarget{{RecordID: "a"}, {RecordID: "b"}, {RecordID: "c"}, {RecordID: "d"}, {RecordID: "e"}}
	selected := SelectTargets(targets, ModeSample, 10, rand.New(rand.NewSource(1)))
	require.Len(t, selected, 1)
}

func TestVerifyFlagsMismatchWithConfiguredSeverity(t *testing.T) {
	targets := []VerificationTarget{
		{
			RecordID:        "AIR123",
			VerificationURL: "https://echo.epa.gov/facility/AIR123",
			SavedValues:     map[string]interface{}{"AIRName": "ACME PROCESSORS", "State": "IA"},
		},
	}
	fetch := func(url string) (map[string]interface{}, error) {
		return map[string]interface{}{"AIRName": "ACME PROCESSORS LLC", "State": "IA"}, nil
	}
	rules := SeverityRules{"AIRName": SeverityHigh}

	results := Verify(targets, fetch, rules)
	require.Len(t, results, 1)
	require.Len(t, results[0].Mismatches, 1)
	require.Equal(t, "AIRName", results[0].Mismatches[0].Field)
	require.Equal(t, SeverityHigh, results[0].Mismatches[0].Severity)
}

func TestVerifyDefaultsUnruledFieldToLowSeverity(t *testing.T) {
	targets := []VerificationTarget{
		{
			VerificationURL: "https://example.test",
			SavedValues:     map[string]interface{}{"condition": "good"},
		},
	}
	fetch := func(url string) (map[string]interface{}, error) {
		return map[string]interface{}{"condition": "poor"}, nil
	}
	results := Verify(targets, fetch, SeverityRules{})
	require.Len(t, results[0].Mismatches, 1)
	require.Equal(t, SeverityLow, results[0].Mismatches[0].Severity)
}

func TestVerifyMarksSourceUnavailableOnFetchError(t *testing.T) {
	targets := []VerificationTarget{{RecordID: "x", VerificationURL: "https://example.test"}}
	fetch := func(url string) (map[string]interface{}, error) {
		return nil, errTest{}
	}
	results := Verify(targets, fetch, nil)
	require.Len(t, results, 1)
	require.True(t, results[0].Unavailable)
	require.Empty(t, results[0].Mismatches)
}

func TestLogResultsWritesVerificationRecordsAndShutdown(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(dir, "epa_echo")
	require.NoError(t, err)

	results := []RecordResult{
		{Target: VerificationTarget{RecordID: "a"}},
		{Target: VerificationTarget{RecordID: "b"}, Mismatches: []Mismatch{{Field: "x", Severity: SeverityMedium}}},
		{Target: VerificationTarget{RecordID: "c"}, Unavailable: true},
	}
	require.NoError(t, LogResults(log, ModeFull, results))
	require.NoError(t, log.Close())

	records, _, err := audit.ReadAll(log.Path())
	require.NoError(t, err)

	var starts, verifs, shutdowns int
	for _, r := range records {
		switch r.Action {
		case audit.ActionVerificationStart:
			starts++
		case audit.ActionVerificationResult:
			verifs++
		case audit.ActionShutdown:
			shutdowns++
			require.Equal(t, float64(1), r.Details["matched"])
			require.Equal(t, float64(1), r.Details["mismatched"])
			require.Equal(t, float64(1), r.Details["unavailable"])
		}
	}
	require.Equal(t, 1, starts)
	require.Equal(t, 3, verifs)
	require.Equal(t, 1, shutdowns)
}

type errTest struct{}

func (errTest) Error() string { return "unreachable" }
