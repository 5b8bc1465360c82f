package adminserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/harvestline/agriforecast/internal/metrics"
)

type fakeLister struct {
	tasks map[string]TaskSummary
}

func (f *fakeLister) ListTasks(status string) ([]TaskSummary, error) {
	var out []TaskSummary
	for _, t := range f.tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeLister) GetTask(id string) (*TaskSummary, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func TestHealthzReflectsReadiness(t *testing.T) {
	ready := false
	s := New(nil, func() bool { return ready }, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	lister := &fakeLister{tasks: map[string]TaskSummary{
		"t1": {ID: "t1", TaskType: "SCRIPT", Status: "PENDING", CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	s := New(lister, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/tasks/t1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/tasks/missing", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsMiddlewareRecordsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s := New(nil, func() bool { return true }, m)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("adminserver/healthz", "200")))
}
