// Package tracing provides optional observability sinks for an
// engine.Run: an NDJSON line-delimited event log, an OpenTelemetry
// span-event bridge, and Prometheus counters/gauges. None of this is
// required by the engine; every sink here is an engine.TraceSink or
// plain engine.Listener a caller opts into at construction.
package tracing

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/tombee/checkflow/pkg/engine"
)

// NDJSONSink writes every lifecycle Event as one JSON object per line,
// suitable for replay and offline inspection.
type NDJSONSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewNDJSONSink wraps w (typically an *os.File) as a TraceSink.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{w: w}
}

type ndjsonLine struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Write implements engine.TraceSink.
func (s *NDJSONSink) Write(ev *engine.Event) {
	line := ndjsonLine{
		Type:      string(ev.Type),
		RunID:     ev.RunID,
		Timestamp: ev.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"),
		Data:      ev.Data,
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, string(encoded))
}
