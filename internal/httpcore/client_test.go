package httpcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/audit"
)

func TestSessionRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	log, err := audit.Open(dir, "test_source")
	require.NoError(t, err)
	defer log.Close()

	cfg := DefaultConfig("test_source")
	cfg.RetryDelayBase = time.Millisecond
	cfg.BackoffCap = 5 * time.Millisecond
	cfg.RateLimitPerMinute = 6000
	sess := NewSession(cfg, log)

	resp, err := sess.Request(context.Background(), http.MethodGet, srv.URL, map[string]string{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Hash, 16)
	require.EqualValues(t, 2, calls)

	require.NoError(t, log.Close())
	records, _, err := audit.ReadAll(log.Path())
	require.NoError(t, err)
	apiCalls := audit.FilterByAction(records, audit.ActionAPICall)
	require.Len(t, apiCalls, 2)
}

func TestSessionAuthFailureNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := DefaultConfig("test_source")
	cfg.RateLimitPerMinute = 6000
	sess := NewSession(cfg, nil)

	_, err := sess.Request(context.Background(), http.MethodGet, srv.URL, map[string]string{}, nil, nil)
	require.Error(t, err)
	require.EqualValues(t, 1, calls)
}

func TestSessionExhaustsRetriesOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig("test_source")
	cfg.RetryAttempts = 2
	cfg.RetryDelayBase = time.Millisecond
	cfg.BackoffCap = 2 * time.Millisecond
	cfg.RateLimitPerMinute = 6000
	sess := NewSession(cfg, nil)

	_, err := sess.Request(context.Background(), http.MethodGet, srv.URL, map[string]string{}, nil, nil)
	require.ErrorContains(t, err, "Max retries")
}

func TestArchiverSavesWithNamingConvention(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchiver(dir)
	require.NoError(t, err)

	path, err := a.Save("epa_echo_facilities", "AIR123", "json", []byte(`{}`))
	require.NoError(t, err)
	require.Contains(t, path, "epa_echo_facilities_AIR123_")
	require.Contains(t, path, ".json")
}
