// Package providers implements the concrete ProviderAdapters the
// engine dispatches checks to: command (shell execution), http (fetch +
// jq extraction), llm (single-shot completion), and noop (tests and
// local experiments). Everything here sits behind the engine's
// ProviderRegistry; the engine itself never imports this package.
package providers

import (
	"context"

	"github.com/tombee/checkflow/pkg/engine"
)

// Noop always returns an ok CheckResult carrying the rendered payload as
// its output, without doing anything. Used by tests that want a
// deterministic provider and by callers that register "noop" in a
// ProviderRegistry for local testing. dry_run does not use it:
// engine.dryRunRegistry supplies its own planning adapter.
type Noop struct{}

// NewNoop constructs a Noop adapter.
func NewNoop() Noop { return Noop{} }

// Execute implements engine.ProviderAdapter.
func (Noop) Execute(_ context.Context, check engine.CheckDefinition, payload map[string]any, _ map[string]engine.CheckResult, _ engine.CancelHandle) engine.CheckResult {
	return engine.CheckResult{Status: engine.StatusOK, Output: payload}
}
