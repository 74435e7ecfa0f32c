package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/checkflow/internal/tracing"
	"github.com/tombee/checkflow/pkg/engine"
)

func TestOTelBridge_OneSpanPerRunWithLifecycleEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	bridge := tracing.NewOTelBridge(tp.Tracer("checkflow/engine"))
	listener := bridge.Listener()

	ctx := context.Background()
	listener(ctx, &engine.Event{Type: engine.EventRunStarted, RunID: "run-1"})
	listener(ctx, &engine.Event{Type: engine.EventCheckStarted, RunID: "run-1", Data: map[string]any{"check_id": "lint"}})
	listener(ctx, &engine.Event{Type: engine.EventCheckCompleted, RunID: "run-1", Data: map[string]any{"check_id": "lint", "status": "ok"}})
	listener(ctx, &engine.Event{Type: engine.EventRunCompleted, RunID: "run-1", Data: map[string]any{"state": "completed"}})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1, "the whole run collapses into one root span")

	span := spans[0]
	assert.Equal(t, "run:run-1", span.Name)

	var eventNames []string
	for _, ev := range span.Events {
		eventNames = append(eventNames, ev.Name)
	}
	assert.Contains(t, eventNames, "check.started")
	assert.Contains(t, eventNames, "check.completed")
	assert.Contains(t, eventNames, "run.completed")
}

func TestOTelBridge_IgnoresEventsForUnknownRun(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	bridge := tracing.NewOTelBridge(tp.Tracer("checkflow/engine"))
	bridge.Listener()(context.Background(), &engine.Event{Type: engine.EventCheckStarted, RunID: "never-started"})

	assert.Empty(t, exporter.GetSpans())
}
