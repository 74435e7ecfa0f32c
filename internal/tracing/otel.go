package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/checkflow/pkg/engine"
)

// OTelBridge turns a run's lifecycle events into span events on one root
// span per run. Checks are numerous and short-lived, so each check
// lifecycle transition becomes a span event on the run's root span
// rather than its own span.
type OTelBridge struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelBridge wraps tracer (typically obtained from
// otel.Tracer("checkflow/engine")) as a bridge subscribers can hand to
// engine.EventBus.Subscribe.
func NewOTelBridge(tracer trace.Tracer) *OTelBridge {
	return &OTelBridge{tracer: tracer, spans: make(map[string]trace.Span)}
}

// Listener returns an engine.Listener suitable for EventBus.Subscribe.
func (b *OTelBridge) Listener() engine.Listener {
	return b.handle
}

func (b *OTelBridge) handle(ctx context.Context, ev *engine.Event) {
	switch ev.Type {
	case engine.EventRunStarted:
		_, span := b.tracer.Start(ctx, fmt.Sprintf("run:%s", ev.RunID), trace.WithAttributes(
			attribute.String("run.id", ev.RunID),
		))
		b.mu.Lock()
		b.spans[ev.RunID] = span
		b.mu.Unlock()
	case engine.EventRunCompleted:
		b.mu.Lock()
		span, ok := b.spans[ev.RunID]
		delete(b.spans, ev.RunID)
		b.mu.Unlock()
		if ok {
			span.AddEvent(string(ev.Type), trace.WithAttributes(toAttributes(ev.Data)...))
			span.End()
		}
	default:
		b.mu.Lock()
		span, ok := b.spans[ev.RunID]
		b.mu.Unlock()
		if ok {
			span.AddEvent(string(ev.Type), trace.WithAttributes(toAttributes(ev.Data)...))
		}
	}
}

// toAttributes converts an event's loosely-typed Data map into OTel
// attributes, matching WorkflowSpan.SetAttributes' type switch.
func toAttributes(data map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}
