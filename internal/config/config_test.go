package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvAppliesDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "testing")
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Testing, cfg.Env)
	require.Contains(t, cfg.DatabaseURL, "postgres://")
	require.Equal(t, 3, cfg.TaskQueueMaxRetries)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://x", AdminServerPort: 80}
	require.Error(t, cfg.Validate())
}

func TestLoadThresholdsParsesCropConstants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crops:
  corn:
    gdd_base: 50
    gdd_cap: 86
    heat_threshold_f: 95
    frost_threshold_f: 32
    drought_threshold_mm_week: 10
    excess_moisture_mm_week: 50
    planting_month: 4
    planting_day: 15
    bushel_factor: 39.368
balance_discrepancy_pct: 0.1
outlier_zscore_threshold: 3
`), 0o644))

	th, err := LoadThresholds(path)
	require.NoError(t, err)
	require.Equal(t, 50.0, th.Crops["corn"].GDDBase)
	require.Equal(t, 39.368, th.Crops["corn"].BushelFactor)
}

func TestLoadEnsembleWeightsByGrowthStage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ensemble_weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crops:
  corn:
    reproductive:
      trend: 0.2
      gbm: 0.5
      analog: 0.3
`), 0o644))

	w, err := LoadEnsembleWeights(path)
	require.NoError(t, err)
	require.Equal(t, 0.5, w.Crops["corn"]["reproductive"].GBM)
}
