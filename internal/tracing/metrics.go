package tracing

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/checkflow/pkg/engine"
)

// Metrics exposes ExecutionStatistics-shaped counters/gauges over
// Prometheus, registered via promauto. Check completions are labeled by
// terminal status, runs by terminal state, and durations by check id.
type Metrics struct {
	checksTotal   *prometheus.CounterVec
	checksRunning prometheus.Gauge
	runsTotal     *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	eventsDropped prometheus.Counter
}

// NewMetrics registers and returns a Metrics collector on reg (pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid cross-test collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkflow_checks_total",
			Help: "Total checks completed, by terminal status.",
		}, []string{"status"}),
		checksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "checkflow_checks_running",
			Help: "Checks currently dispatched to a worker.",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "checkflow_runs_total",
			Help: "Total runs completed, by terminal run state.",
		}, []string{"state"}),
		checkDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkflow_check_duration_seconds",
			Help:    "Per-check wall time from start to commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"check_id"}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkflow_events_dropped_total",
			Help: "Lifecycle events dropped due to a saturated subscriber queue.",
		}),
	}
}

// Listener returns an engine.Listener that updates checksTotal,
// checksRunning, and runsTotal from lifecycle events; subscribe it
// alongside any other frontend. A check that completes without a
// check.started event (skipped before dispatch) does not move
// checksRunning.
func (m *Metrics) Listener() engine.Listener {
	started := make(map[string]bool)
	return func(_ context.Context, ev *engine.Event) {
		checkID, _ := ev.Data["check_id"].(string)
		key := ev.RunID + "/" + checkID
		switch ev.Type {
		case engine.EventCheckStarted:
			started[key] = true
			m.checksRunning.Inc()
		case engine.EventCheckCompleted, engine.EventCheckFailed:
			if started[key] {
				delete(started, key)
				m.checksRunning.Dec()
			}
			status, _ := ev.Data["status"].(string)
			m.checksTotal.WithLabelValues(status).Inc()
		case engine.EventRunCompleted:
			state, _ := ev.Data["state"].(string)
			m.runsTotal.WithLabelValues(state).Inc()
		}
	}
}

// ObserveStatistics records a completed run's ExecutionStatistics as
// per-check duration histogram samples.
func (m *Metrics) ObserveStatistics(stats engine.ExecutionStatistics) {
	for checkID, d := range stats.PerCheck {
		m.checkDuration.WithLabelValues(checkID).Observe(d.Seconds())
	}
}

// RecordDroppedEvents adds n to the dropped-event counter, typically read
// from engine.EventBus.DroppedCount() after a run completes.
func (m *Metrics) RecordDroppedEvents(n uint64) {
	m.eventsDropped.Add(float64(n))
}
