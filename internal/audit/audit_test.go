package audit

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
}

func TestLogLifecycleOrdering(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, "epa_echo")
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Startup(map[string]interface{}{"version": "1.0"}))
	require.NoError(t, log.APICall(map[string]interface{}{"url": "https://echo.epa.gov"}, 120*time.Millisecond))
	require.NoError(t, log.DataSave(SaveDetails{
		AffectedRecordIDs: []string{"AIR123"},
		NewValues:         map[string]interface{}{"AIRName": "ACME PROCESSORS"},
		SourceEndpoint:    "https://echo.epa.gov/api/facilities",
		VerificationURL:   "https://echo.epa.gov/facility/AIR123",
	}))
	require.NoError(t, log.Shutdown("SUCCESS", map[string]interface{}{"records": 1}))
	require.NoError(t, log.Close())

	records, skipped, err := ReadAll(log.Path())
	require.NoError(t, err)
	require.Empty(t, skipped)
	require.Len(t, records, 4)

	require.Equal(t, ActionStartup, records[0].Action)
	require.Equal(t, ActionAPICall, records[1].Action)
	require.Equal(t, ActionDataSave, records[2].Action)
	require.Equal(t, ActionShutdown, records[3].Action)

	for _, r := range records {
		require.NotEmpty(t, r.RunID)
		require.False(t, r.Timestamp.IsZero())
		require.Equal(t, "epa_echo", r.Collector)
	}
}

func TestDataSaveRequiredFields(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, "usda_nass")
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.DataSave(SaveDetails{
		AffectedRecordIDs: []string{"IA-2025-30"},
		NewValues:         map[string]interface{}{"condition_good_excellent": 62.0},
		SourceEndpoint:    "https://quickstats.nass.usda.gov/api",
		VerificationURL:   "https://quickstats.nass.usda.gov/api?state=IA",
	}))
	require.NoError(t, log.Close())

	records, _, err := ReadAll(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)

	details := records[0].Details
	require.Contains(t, details, "affected_record_ids")
	require.Contains(t, details, "new_values")
	require.Contains(t, details, "source_endpoint")
	require.Contains(t, details, "verification_url")
}

func TestFilterByAction(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, "census")
	require.NoError(t, err)
	require.NoError(t, log.Startup(nil))
	require.NoError(t, log.APICall(map[string]interface{}{"n": 1}, time.Millisecond))
	require.NoError(t, log.APICall(map[string]interface{}{"n": 2}, time.Millisecond))
	require.NoError(t, log.Close())

	records, _, err := ReadAll(log.Path())
	require.NoError(t, err)
	calls := FilterByAction(records, ActionAPICall)
	require.Len(t, calls, 2)
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(dir, "eia_ethanol")
	require.NoError(t, err)
	require.NoError(t, log.Startup(nil))
	require.NoError(t, log.Close())

	f, err := openAppend(log.Path())
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, skipped, err := ReadAll(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, skipped, 1)
}
