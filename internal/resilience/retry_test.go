package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
	attempts := 0
	err := Do(context.Background(), cfg, func(error) bool { return true }, func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	cfg := DefaultRetryConfig()
	attempts := 0
	err := Do(context.Background(), cfg, func(error) bool { return false }, func(attempt int) error {
		attempts++
		return errors.New("fatal")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	attempts := 0
	err := Do(context.Background(), cfg, func(error) bool { return true }, func(attempt int) error {
		attempts++
		return errors.New("still failing")
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoHonorsRetryAfter(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	start := time.Now()
	attempts := 0
	err := Do(context.Background(), cfg, func(error) bool { return true }, func(attempt int) error {
		attempts++
		if attempt == 0 {
			return &RetryAfter{Err: errors.New("rate limited"), After: 20 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
}
