package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CropThresholds carries the per-crop weather/GDD constants the feature
// engine needs: base/cap temperatures, heat/frost/drought/excess-moisture
// thresholds, and the crop's planting-date anchor for cumulative sums.
type CropThresholds struct {
	GDDBase             float64 `yaml:"gdd_base"`
	GDDCap              float64 `yaml:"gdd_cap"`
	HeatThresholdF      float64 `yaml:"heat_threshold_f"`
	FrostThresholdF     float64 `yaml:"frost_threshold_f"`
	DroughtMMWeek       float64 `yaml:"drought_threshold_mm_week"`
	ExcessMoistureMMWeek float64 `yaml:"excess_moisture_mm_week"`
	PlantingMonth       int     `yaml:"planting_month"`
	PlantingDay         int     `yaml:"planting_day"`
	BushelFactor        float64 `yaml:"bushel_factor"` // bushels -> metric tons
}

// GrowthStageWindow bounds one growth stage by calendar month/day.
type GrowthStageWindow struct {
	Stage      string `yaml:"stage"`
	StartMonth int    `yaml:"start_month"`
	StartDay   int    `yaml:"start_day"`
}

// Thresholds is the root of thresholds.yaml: per-crop weather constants,
// growth-stage calendar windows, the balance-matrix discrepancy
// threshold, and the outlier z-score threshold.
type Thresholds struct {
	Crops                    map[string]CropThresholds     `yaml:"crops"`
	GrowthStages             map[string][]GrowthStageWindow `yaml:"growth_stages"` // keyed by crop
	BalanceDiscrepancyPct    float64                        `yaml:"balance_discrepancy_pct"`
	OutlierZScoreThreshold   float64                        `yaml:"outlier_zscore_threshold"`
}

// LoadThresholds reads and parses a thresholds YAML file.
func LoadThresholds(path string) (*Thresholds, error) {
	var t Thresholds
	if err := loadYAML(path, &t); err != nil {
		return nil, err
	}
	if t.BalanceDiscrepancyPct == 0 {
		t.BalanceDiscrepancyPct = 0.10
	}
	if t.OutlierZScoreThreshold == 0 {
		t.OutlierZScoreThreshold = 3.0
	}
	return &t, nil
}

// EnsembleWeights is the root of ensemble_weights.yaml: per-crop,
// per-growth-stage weight vectors for the trend/GBM/analog sub-models
//.
type EnsembleWeights struct {
	Crops map[string]map[string]ModelWeights `yaml:"crops"` // crop -> growth_stage -> weights
}

// ModelWeights is one (trend, gbm, analog) weight triple. Callers should
// assert they sum to ~1.0; the loader does not normalize silently.
type ModelWeights struct {
	Trend  float64 `yaml:"trend"`
	GBM    float64 `yaml:"gbm"`
	Analog float64 `yaml:"analog"`
}

// LoadEnsembleWeights reads and parses an ensemble-weights YAML file.
func LoadEnsembleWeights(path string) (*EnsembleWeights, error) {
	var w EnsembleWeights
	if err := loadYAML(path, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Synonyms is the root of synonyms.yaml: the country-name -> ISO-3 table
// the trade harmonizer uses.
type Synonyms struct {
	CountryToISO3 map[string]string `yaml:"country_to_iso3"`
}

// LoadSynonyms reads and parses a synonyms YAML file.
func LoadSynonyms(path string) (*Synonyms, error) {
	var s Synonyms
	if err := loadYAML(path, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReleaseCalendar is the root of release_calendar.yaml: per-source
// release-day descriptors the scheduler uses to decide which period to
// fetch on which date.
type ReleaseCalendar struct {
	Sources map[string]SourceSchedule `yaml:"sources"`
}

// SourceSchedule is one source's release-calendar descriptor.
type SourceSchedule struct {
	Frequency        string `yaml:"frequency"` // realtime|daily|weekly|monthly|quarterly|annual
	ReleaseDayOfMonth int    `yaml:"release_day_of_month,omitempty"`
	ReleaseLagMonths int    `yaml:"release_lag_months,omitempty"`
	DayOfWeek        int    `yaml:"day_of_week,omitempty"`
	Hour             int    `yaml:"hour,omitempty"`
	CronExpression   string `yaml:"cron_expression,omitempty"`
}

// LoadReleaseCalendar reads and parses a release-calendar YAML file.
func LoadReleaseCalendar(path string) (*ReleaseCalendar, error) {
	var c ReleaseCalendar
	if err := loadYAML(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadYAML(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
