package features

import (
	"context"
	"time"
)

// Reader is the bronze-layer read surface the feature engine needs. It
// is satisfied by internal/store/postgres.YieldReader in production and
// by an in-memory fake in tests, mirroring the internal/collector.Store
// abstraction's split between interface and concrete Postgres backend.
type Reader interface {
	// WeatherDaily returns every station-day observation for state in
	// [from, to], inclusive.
	WeatherDaily(ctx context.Context, state string, from, to time.Time) ([]WeatherDay, error)

	// StateCropCondition returns the single state-level condition row
	// reported for the week ending on weekEnding, or nil if none exists
	// (NASS good-excellent/progress).
	StateCropCondition(ctx context.Context, state, crop string, weekEnding time.Time) (*ConditionRow, error)

	// NationalCropCondition returns one row per reporting state for the
	// week ending on weekEnding, aggregated nationally by the caller
	// (CPC condition/progress mean).
	NationalCropCondition(ctx context.Context, crop string, weekEnding time.Time) ([]ConditionRow, error)

	// NDVI returns region-day observations within lookbackDays of asOf,
	// most recent first.
	NDVI(ctx context.Context, state string, asOf time.Time, lookbackDays int) ([]NDVIObs, error)

	// WorldWeatherEmailBodies returns every email body received in
	// [from, to].
	WorldWeatherEmailBodies(ctx context.Context, from, to time.Time) ([]string, error)

	// Climatology returns the 30-year-normal reference row for a
	// state/week, or nil if none is on file.
	Climatology(ctx context.Context, state string, week int) (*Climatology, error)

	// StatesGrowingCrop lists the states with at least one historical
	// yield row for crop, for build_all_features's discovery step.
	StatesGrowingCrop(ctx context.Context, crop string) ([]string, error)
}
