package tracing_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/checkflow/internal/tracing"
	"github.com/tombee/checkflow/pkg/engine"
)

func TestMetrics_ListenerTracksCheckLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := tracing.NewMetrics(reg)
	listener := m.Listener()

	listener(context.Background(), &engine.Event{Type: engine.EventCheckStarted, Data: map[string]any{"check_id": "a"}})
	listener(context.Background(), &engine.Event{Type: engine.EventCheckCompleted, Data: map[string]any{"check_id": "a", "status": "ok"}})
	listener(context.Background(), &engine.Event{Type: engine.EventRunCompleted, Data: map[string]any{"state": "completed"}})

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	assert.True(t, byName["checkflow_checks_total"])
	assert.True(t, byName["checkflow_runs_total"])
}

func TestMetrics_RunningGaugeBalances(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := tracing.NewMetrics(reg)
	listener := m.Listener()

	listener(context.Background(), &engine.Event{Type: engine.EventCheckStarted, Data: map[string]any{"check_id": "a"}})
	listener(context.Background(), &engine.Event{Type: engine.EventCheckStarted, Data: map[string]any{"check_id": "b"}})
	listener(context.Background(), &engine.Event{Type: engine.EventCheckFailed, Data: map[string]any{"check_id": "b", "status": "failed"}})

	families, err := reg.Gather()
	require.NoError(t, err)

	var running float64
	for _, f := range families {
		if f.GetName() == "checkflow_checks_running" {
			require.Len(t, f.GetMetric(), 1)
			running = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 1.0, running, "two starts and one completion leave one check running")
}

func TestMetrics_ObserveStatistics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := tracing.NewMetrics(reg)

	stats := engine.ExecutionStatistics{
		PerCheck: map[string]time.Duration{
			"lint": 120 * time.Millisecond,
			"test": 3 * time.Second,
		},
	}
	m.ObserveStatistics(stats)

	count, err := testutil.GatherAndCount(reg, "checkflow_check_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
