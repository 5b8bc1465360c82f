// Package collector defines the source-plugin contract:
// the Config every plugin declares, the CollectorResult its fetch step
// returns, and the Collector interface plus the Run lifecycle that
// drives authenticate -> fetch -> validate -> transform -> save through
// STARTUP/API_CALL/DATA_SAVE/.../SHUTDOWN audit records.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/harvestline/agriforecast/internal/audit"
	"github.com/harvestline/agriforecast/internal/httpcore"
	"github.com/harvestline/agriforecast/internal/security"
)

// AuthType enumerates how a source plugin authenticates upstream.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth  AuthType = "oauth"
	AuthPaid   AuthType = "paid"
)

// Frequency is how often a source publishes new data.
type Frequency string

const (
	FreqRealtime  Frequency = "realtime"
	FreqDaily     Frequency = "daily"
	FreqWeekly    Frequency = "weekly"
	FreqMonthly   Frequency = "monthly"
	FreqQuarterly Frequency = "quarterly"
	FreqAnnual    Frequency = "annual"
)

// Config is the declared configuration every source plugin carries
//.
type Config struct {
	SourceName         string
	SourceURL          string
	AuthType           AuthType
	Credentials        map[string]string
	Timeout            time.Duration
	RetryAttempts      int
	RetryDelayBase     time.Duration
	RateLimitPerMinute float64
	CacheEnabled       bool
	CacheTTLHours      float64
	Frequency          Frequency
}

// HTTPConfig adapts a Config into an httpcore.Config for the shared HTTP
// session.
func (c Config) HTTPConfig() httpcore.Config {
	cfg := httpcore.DefaultConfig(c.SourceName)
	if c.Timeout > 0 {
		cfg.Timeout = c.Timeout
	}
	if c.RetryAttempts > 0 {
		cfg.RetryAttempts = c.RetryAttempts
	}
	if c.RetryDelayBase > 0 {
		cfg.RetryDelayBase = c.RetryDelayBase
	}
	if c.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = c.RateLimitPerMinute
	}
	return cfg
}

// Result is what fetch_data returns.
type Result struct {
	Success        bool
	RecordsFetched int
	Data           interface{}
	PeriodStart    time.Time
	PeriodEnd      time.Time
	FromCache      bool
	Warnings       []string
}

// SaveBatch is one table's worth of transformed records to persist.
type SaveBatch struct {
	Table                string
	Records              []map[string]interface{}
	UniqueColumns        []string // defaults: ["date"] if present, else first two columns
	AffectedRecordIDs    []string
	FacilityName         string
	SourceEndpoint       string
	VerificationURLFunc  func(recordID string) string
}

// Store is the minimal persistence capability a source plugin's SaveData
// needs: upsert a batch of records into a named table on a declared
// conflict key, returning the IDs that were written so the caller can
// build the DATA_SAVE/DATA_UPDATE audit record. Kept as an interface here
// (rather than importing internal/store/postgres) so collector plugins
// never depend on a concrete storage engine.
type Store interface {
	Upsert(ctx context.Context, table string, records []map[string]interface{}, uniqueColumns []string) (affectedIDs []string, err error)
}

// Collector is the interface every source plugin implements, per
// the run() lifecycle.
type Collector interface {
	Config() Config
	Authenticate(ctx context.Context) error
	FetchData(ctx context.Context, start, end time.Time, params map[string]string) (*Result, error)
	ValidateData(data interface{}) bool
	TransformData(data interface{}) (map[string][]SaveBatch, error)
	SaveData(ctx context.Context, batches map[string][]SaveBatch) error
}

// Status is the terminal SHUTDOWN status.
type Status string

const (
	StatusSuccess        Status = "SUCCESS"
	StatusPartialSuccess  Status = "PARTIAL_SUCCESS"
	StatusFailure         Status = "FAILURE"
)

// RunSummary aggregates what a Run call did, surfaced to the CLI and the
// orchestrator's PipelineResult.
type RunSummary struct {
	Source         string
	Status         Status
	RecordsFetched int
	TablesWritten  int
	Warnings       []string
	Err            error
}

// Run drives one full collector lifecycle: STARTUP -> authenticate ->
// fetch -> validate -> transform -> save -> SHUTDOWN, all logged to the
// audit.Log.
func Run(ctx context.Context, c Collector, log *audit.Log, start, end time.Time, params map[string]string) RunSummary {
	cfg := c.Config()
	summary := RunSummary{Source: cfg.SourceName}

	_ = log.Startup(security.SanitizeMap(map[string]interface{}{
		"source_name":     cfg.SourceName,
		"source_url":      cfg.SourceURL,
		"auth_type":       cfg.AuthType,
		"frequency":       cfg.Frequency,
		"rate_limit_per_minute": cfg.RateLimitPerMinute,
	}))

	if err := c.Authenticate(ctx); err != nil {
		summary.Status = StatusFailure
		summary.Err = fmt.Errorf("authenticate: %w", err)
		_ = log.Error(summary.Err.Error(), nil)
		_ = log.Shutdown(string(StatusFailure), map[string]interface{}{"records_fetched": 0})
		return summary
	}

	result, err := c.FetchData(ctx, start, end, params)
	if err != nil {
		summary.Status = StatusFailure
		summary.Err = fmt.Errorf("fetch_data: %w", err)
		_ = log.Error(summary.Err.Error(), nil)
		_ = log.Shutdown(string(StatusFailure), map[string]interface{}{"records_fetched": 0})
		return summary
	}
	summary.RecordsFetched = result.RecordsFetched
	summary.Warnings = result.Warnings

	if !c.ValidateData(result.Data) {
		summary.Status = StatusFailure
		summary.Err = fmt.Errorf("validate_data rejected fetched payload")
		_ = log.Validation(map[string]interface{}{"passed": false})
		_ = log.Shutdown(string(StatusFailure), map[string]interface{}{"records_fetched": result.RecordsFetched})
		return summary
	}
	_ = log.Validation(map[string]interface{}{"passed": true})

	tables, err := c.TransformData(result.Data)
	if err != nil {
		summary.Status = StatusFailure
		summary.Err = fmt.Errorf("transform_data: %w", err)
		_ = log.Error(summary.Err.Error(), nil)
		_ = log.Shutdown(string(StatusFailure), map[string]interface{}{"records_fetched": result.RecordsFetched})
		return summary
	}

	if err := c.SaveData(ctx, tables); err != nil {
		summary.Status = StatusPartialSuccess
		summary.Err = fmt.Errorf("save_data: %w", err)
		_ = log.Error(summary.Err.Error(), nil)
		_ = log.Shutdown(string(StatusPartialSuccess), map[string]interface{}{"records_fetched": result.RecordsFetched})
		return summary
	}

	summary.TablesWritten = len(tables)
	summary.Status = StatusSuccess
	_ = log.Shutdown(string(StatusSuccess), map[string]interface{}{
		"records_fetched": result.RecordsFetched,
		"tables_written":  len(tables),
		"from_cache":      result.FromCache,
	})
	return summary
}

// RecordSaveBatch emits the DATA_SAVE/DATA_UPDATE audit record a save
// step owes for one batch.2's required fields.
func RecordSaveBatch(log *audit.Log, b SaveBatch, update bool) error {
	details := audit.SaveDetails{
		AffectedRecordIDs: b.AffectedRecordIDs,
		NewValues:         security.SanitizeMap(firstRecordOrEmpty(b.Records)),
		SourceEndpoint:    b.SourceEndpoint,
		FacilityName:      b.FacilityName,
	}
	if b.VerificationURLFunc != nil && len(b.AffectedRecordIDs) > 0 {
		details.VerificationURL = b.VerificationURLFunc(b.AffectedRecordIDs[0])
	}
	if update {
		return log.DataUpdate(details)
	}
	return log.DataSave(details)
}

func firstRecordOrEmpty(records []map[string]interface{}) map[string]interface{} {
	if len(records) == 0 {
		return map[string]interface{}{}
	}
	return records[0]
}
