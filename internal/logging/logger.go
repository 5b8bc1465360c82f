// Package logging provides structured logging for operational output
// (process start/stop, HTTP call summaries, errors). It is deliberately
// separate from internal/audit, whose JSON-lines schema is a compatibility
// contract consumed by the verifier and downstream alerting.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried into log entries.
type ContextKey string

const (
	RunIDKey  ContextKey = "run_id"
	SourceKey ContextKey = "source"
)

// Logger wraps logrus.Logger with a fixed component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a Logger for the given component, level and format
// ("json" or "text").
func New(component, level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns a logrus.Entry carrying the run ID and source found
// in ctx, plus the logger's component.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		entry = entry.WithField("run_id", runID)
	}
	if source, ok := ctx.Value(SourceKey).(string); ok && source != "" {
		entry = entry.WithField("source", source)
	}
	return entry
}

// WithRunID adds a run_id value to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSource adds a source value to ctx.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// RunIDFrom retrieves the run ID from ctx, or "" if absent.
func RunIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(RunIDKey).(string); ok {
		return v
	}
	return ""
}
