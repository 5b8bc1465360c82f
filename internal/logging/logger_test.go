package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithContextCarriesRunID(t *testing.T) {
	l := New("epa_echo", "info", "json")
	ctx := WithRunID(context.Background(), "run-123")
	ctx = WithSource(ctx, "epa_echo")

	entry := l.WithContext(ctx)
	require.Equal(t, "run-123", entry.Data["run_id"])
	require.Equal(t, "epa_echo", entry.Data["source"])
	require.Equal(t, "epa_echo", entry.Data["component"])
}

func TestRunIDFromEmptyContext(t *testing.T) {
	require.Equal(t, "", RunIDFrom(context.Background()))
}

func TestNewFromEnvDefaults(t *testing.T) {
	l := NewFromEnv("test")
	require.NotNil(t, l)
}
