package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tombee/checkflow/pkg/engine"
	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// Client is the minimal synchronous completion call the LLM adapter
// needs. Streaming, tool calls, and health checks are deliberately
// absent: the engine treats a provider invocation as a single opaque
// call, so any vendor SDK can back this interface with a one-method
// shim.
type Client interface {
	Complete(ctx context.Context, prompt string) (text string, err error)
}

// LLM runs a rendered prompt through a Client and reports the response
// text as its CheckResult.Output, with no findings parsing of its own —
// a check author who wants structured findings pairs this provider with
// a downstream check (e.g. an `http` or `command` check templated
// against `outputs.<this>.output`) rather than the adapter guessing at a
// schema.
type LLM struct {
	Client  Client
	Limiter *rate.Limiter
}

// NewLLM constructs an LLM adapter around client, optionally rate
// limited (ratePerSecond <= 0 disables limiting).
func NewLLM(client Client, ratePerSecond float64) *LLM {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	return &LLM{Client: client, Limiter: rate.NewLimiter(limit, 1)}
}

// Execute implements engine.ProviderAdapter. The rendered payload must
// carry a "prompt" string field.
func (l *LLM) Execute(ctx context.Context, _ engine.CheckDefinition, payload map[string]any, _ map[string]engine.CheckResult, cancel engine.CancelHandle) engine.CheckResult {
	startedAt := time.Now()

	prompt, _ := payload["prompt"].(string)
	if prompt == "" {
		return engine.CheckResult{Status: engine.StatusError, FailureReason: "llm: payload missing required \"prompt\" field", StartedAt: startedAt, EndedAt: time.Now()}
	}

	if err := l.Limiter.Wait(ctx); err != nil {
		return engine.CheckResult{Status: engine.StatusError, FailureReason: err.Error(), StartedAt: startedAt, EndedAt: time.Now()}
	}

	text, err := l.Client.Complete(ctx, prompt)
	endedAt := time.Now()
	if err != nil {
		if cancel.Err() != nil {
			return engine.CheckResult{Status: engine.StatusError, FailureReason: cancel.Err().Error(), StartedAt: startedAt, EndedAt: endedAt}
		}
		perr := &checkflowerrors.ProviderError{Provider: "llm", Message: err.Error(), Cause: err}
		return engine.CheckResult{Status: engine.StatusError, FailureReason: perr.Error(), StartedAt: startedAt, EndedAt: endedAt}
	}

	return engine.CheckResult{Status: engine.StatusOK, Output: text, StartedAt: startedAt, EndedAt: endedAt}
}
