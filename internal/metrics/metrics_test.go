package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordCollectorRunIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordCollectorRun("epa_echo", "SUCCESS", 42, 2*time.Second)

	require.Equal(t, float64(1), testutil.ToFloat64(m.CollectorRunsTotal.WithLabelValues("epa_echo", "SUCCESS")))
	require.Equal(t, float64(42), testutil.ToFloat64(m.CollectorRecordsFetched.WithLabelValues("epa_echo")))
}

func TestSetQueueDepthOverwrites(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetQueueDepth("PENDING", 5)
	m.SetQueueDepth("PENDING", 3)

	require.Equal(t, float64(3), testutil.ToFloat64(m.TaskQueueDepth.WithLabelValues("PENDING")))
}
