package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryPerHostIsolation(t *testing.T) {
	reg := NewRegistry(600) // 10/sec default, fast for tests
	reg.SetLimit("slow.example.gov", 60)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, reg.For("fast.example.gov").Wait(ctx))
	require.NoError(t, reg.For("fast.example.gov").Wait(ctx))

	start := time.Now()
	require.NoError(t, reg.For("slow.example.gov").Wait(ctx))
	require.NoError(t, reg.For("slow.example.gov").Wait(ctx))
	// second call against the 60/min host must wait roughly one second
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestNewDefaultsOnNonPositive(t *testing.T) {
	l := New(0)
	require.NotNil(t, l)
}
