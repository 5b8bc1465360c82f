// Package audit implements the append-only JSON-lines audit log.
// Its schema is a compatibility contract: the verifier
// (internal/collector/verifier.go) and external alerting parse these files,
// so fields are never renamed or removed without a schema-compatible
// reason.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action enumerates the audit log action types.
type Action string

const (
	ActionStartup            Action = "STARTUP"
	ActionAPICall             Action = "API_CALL"
	ActionDataSave            Action = "DATA_SAVE"
	ActionDataUpdate          Action = "DATA_UPDATE"
	ActionDataDelete          Action = "DATA_DELETE"
	ActionValidation          Action = "VALIDATION"
	ActionError               Action = "ERROR"
	ActionShutdown            Action = "SHUTDOWN"
	ActionVerificationStart   Action = "VERIFICATION_START"
	ActionVerificationResult  Action = "VERIFICATION_RESULT"
)

// Level enumerates the audit log severity levels.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Record is one JSON-lines audit entry.
type Record struct {
	Timestamp        time.Time              `json:"timestamp"`
	Level            Level                  `json:"level"`
	Collector        string                 `json:"collector"`
	Action           Action                 `json:"action"`
	Details          map[string]interface{} `json:"details"`
	DurationSeconds  *float64               `json:"duration_seconds,omitempty"`
	RunID            string                 `json:"run_id"`
}

// SaveDetails is the required shape of details for DATA_SAVE/DATA_UPDATE
// records: affected_record_ids, new_values, source_endpoint,
// verification_url must all be present.
type SaveDetails struct {
	AffectedRecordIDs []string               `json:"affected_record_ids"`
	NewValues         map[string]interface{} `json:"new_values"`
	SourceEndpoint    string                 `json:"source_endpoint"`
	VerificationURL   string                 `json:"verification_url"`
	FacilityName      string                 `json:"facility_name,omitempty"`
	EntityLabel       string                 `json:"entity_label,omitempty"`
}

// Log is a single-writer, append-only JSON-lines audit log file. One Log
// is opened per collector/checker execution.
type Log struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	collector string
	runID     string
}

// Open creates (or appends to, if somehow re-run with the same name)
// {logDir}/{collector}_{YYYY-MM-DD}_{HH-MM-SS}.log and returns a Log bound
// to a fresh run ID.
func Open(logDir, collector string) (*Log, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	now := time.Now().UTC()
	name := fmt.Sprintf("%s_%s_%s.log", collector, now.Format("2006-01-02"), now.Format("15-04-05"))
	path := filepath.Join(logDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}

	return &Log{
		file:      f,
		writer:    bufio.NewWriter(f),
		collector: collector,
		runID:     uuid.NewString()[:8],
	}, nil
}

// RunID returns the short run ID tagging every record written by this Log.
func (l *Log) RunID() string { return l.runID }

// Path returns the path of the underlying log file.
func (l *Log) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Record writes one JSON line. Safe for concurrent use.
func (l *Log) Record(level Level, action Action, details map[string]interface{}, duration *time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Collector: l.collector,
		Action:    action,
		Details:   details,
		RunID:     l.runID,
	}
	if duration != nil {
		secs := duration.Seconds()
		rec.DurationSeconds = &secs
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	b = append(b, '\n')
	if _, err := l.writer.Write(b); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return l.writer.Flush()
}

// Startup logs a STARTUP record with version and resolved config (caller
// must have already elided credentials from details).
func (l *Log) Startup(details map[string]interface{}) error {
	return l.Record(LevelInfo, ActionStartup, details, nil)
}

// APICall logs an API_CALL record.
func (l *Log) APICall(details map[string]interface{}, duration time.Duration) error {
	return l.Record(LevelInfo, ActionAPICall, details, &duration)
}

// DataSave logs a DATA_SAVE record. details must satisfy SaveDetails'
// shape; callers build it via NewSaveDetails to avoid schema drift.
func (l *Log) DataSave(d SaveDetails) error {
	return l.Record(LevelInfo, ActionDataSave, saveDetailsMap(d), nil)
}

// DataUpdate logs a DATA_UPDATE record.
func (l *Log) DataUpdate(d SaveDetails) error {
	return l.Record(LevelInfo, ActionDataUpdate, saveDetailsMap(d), nil)
}

// Validation logs a VALIDATION record.
func (l *Log) Validation(details map[string]interface{}) error {
	return l.Record(LevelInfo, ActionValidation, details, nil)
}

// Error logs an ERROR record.
func (l *Log) Error(message string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["message"] = message
	return l.Record(LevelError, ActionError, details, nil)
}

// VerificationStart logs a VERIFICATION_START record.
func (l *Log) VerificationStart(details map[string]interface{}) error {
	return l.Record(LevelInfo, ActionVerificationStart, details, nil)
}

// VerificationResult logs a VERIFICATION_RESULT record.
func (l *Log) VerificationResult(details map[string]interface{}) error {
	return l.Record(LevelInfo, ActionVerificationResult, details, nil)
}

// Shutdown logs the terminal SHUTDOWN record with aggregate counts.
func (l *Log) Shutdown(status string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["status"] = status
	return l.Record(LevelInfo, ActionShutdown, details, nil)
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

func saveDetailsMap(d SaveDetails) map[string]interface{} {
	m := map[string]interface{}{
		"affected_record_ids": d.AffectedRecordIDs,
		"new_values":          d.NewValues,
		"source_endpoint":     d.SourceEndpoint,
		"verification_url":   d.VerificationURL,
	}
	if d.FacilityName != "" {
		m["facility_name"] = d.FacilityName
	}
	if d.EntityLabel != "" {
		m["entity_label"] = d.EntityLabel
	}
	return m
}
