// Package config loads process-wide configuration from environment
// variables and YAML files: env helpers with defaults, optional .env
// loading, and a validated, immutable Config struct built once at
// startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment selects the Development/Testing/Production tier, used to
// pick the .env file Load reads and the metrics default (no auth tiers).
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds every process-wide setting. It is built once via Load and
// never mutated afterward.
type Config struct {
	Env Environment

	// Database
	DatabaseURL      string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Storage layout
	DataDir string // parent of bronze/silver/raw/logs
	RawDir  string
	LogDir  string
	CacheDir string

	// Admin server
	AdminServerEnabled bool
	AdminServerPort    int

	// Metrics
	MetricsEnabled bool

	// Config file locations (YAML)
	ThresholdsFile      string
	EnsembleWeightsFile string
	SynonymsFile        string
	ReleaseCalendarFile string

	// Task queue / security guard
	TaskQueueDataRoots []string
	TaskQueueMaxRetries int
}

// Load builds Config from the APP_ENV-selected .env file plus process
// environment.
func Load() (*Config, error) {
	envStr := strings.TrimSpace(os.Getenv("APP_ENV"))
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(envStr)

	configFile := fmt.Sprintf("config/%s.env", env)
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.DatabaseURL = getEnv("DATABASE_URL", "postgres://localhost:5432/agriforecast?sslmode=disable")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	idleTimeout, err := time.ParseDuration(getEnv("DB_IDLE_TIMEOUT", "5m"))
	if err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}
	c.DBIdleTimeout = idleTimeout

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.DataDir = getEnv("DATA_DIR", "./data")
	c.RawDir = getEnv("RAW_DIR", c.DataDir+"/raw")
	c.LogDir = getEnv("AUDIT_LOG_DIR", c.DataDir+"/logs")
	c.CacheDir = getEnv("CACHE_DIR", c.DataDir+"/cache")

	c.AdminServerEnabled = getBoolEnv("ADMIN_SERVER_ENABLED", true)
	c.AdminServerPort = getIntEnv("ADMIN_SERVER_PORT", 9090)

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env != Testing)

	c.ThresholdsFile = getEnv("THRESHOLDS_FILE", "config/thresholds.yaml")
	c.EnsembleWeightsFile = getEnv("ENSEMBLE_WEIGHTS_FILE", "config/ensemble_weights.yaml")
	c.SynonymsFile = getEnv("SYNONYMS_FILE", "config/synonyms.yaml")
	c.ReleaseCalendarFile = getEnv("RELEASE_CALENDAR_FILE", "config/release_calendar.yaml")

	c.TaskQueueDataRoots = strings.Split(getEnv("TASKQUEUE_DATA_ROOTS", c.DataDir), ",")
	c.TaskQueueMaxRetries = getIntEnv("TASKQUEUE_MAX_RETRIES", 3)

	return nil
}

// IsProduction reports whether Env is Production.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate fails fast on nonsensical config instead of letting a bad
// value surface mid-run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AdminServerPort < 1024 || c.AdminServerPort > 65535 {
		return fmt.Errorf("invalid ADMIN_SERVER_PORT: %d", c.AdminServerPort)
	}
	if c.TaskQueueMaxRetries < 0 {
		return fmt.Errorf("TASKQUEUE_MAX_RETRIES must be >= 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
