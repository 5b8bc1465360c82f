package errors

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	require.True(t, ErrCodeTransientHTTP.Retryable())
	require.True(t, ErrCodeNotYetPublished.Retryable())
	require.False(t, ErrCodeAuthFailure.Retryable())
	require.False(t, ErrCodeValidation.Retryable())
}

func TestIsRetryableUnwraps(t *testing.T) {
	err := Wrap("usda_nass", ErrCodeTransientHTTP, "503 from upstream", nil)
	require.True(t, IsRetryable(err))

	fatal := Wrap("usda_nass", ErrCodeAuthFailure, "bad api key", nil)
	require.False(t, IsRetryable(fatal))

	require.False(t, IsRetryable(nil))
}

func TestMaxRetriesExceededMessage(t *testing.T) {
	require.Equal(t, "Max retries (3) exceeded for request", MaxRetriesExceeded(3))
}
