package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckRunner executes a single CheckDefinition against a RunContext:
// gate evaluation, event-kind filtering, forEach fanout, the
// retry/timeout attempt loop, fail_if promotion, and committing the
// result. Every path through Run honors the run's cooperative
// pause/stop flags at its suspension points.
type CheckRunner struct {
	Eval      *ExpressionEvaluator
	Templater *Templater
	Registry  *ProviderRegistry
	Bus       *EventBus
	Logger    *slog.Logger
}

// NewCheckRunner wires a runner from its collaborators.
func NewCheckRunner(eval *ExpressionEvaluator, tmpl *Templater, registry *ProviderRegistry, bus *EventBus, logger *slog.Logger) *CheckRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckRunner{Eval: eval, Templater: tmpl, Registry: registry, Bus: bus, Logger: logger}
}

// Run executes check to completion (including any forEach fanout) and
// returns its committed CheckResult. It never panics on provider
// failure; every failure mode maps to a CheckStatus.
func (r *CheckRunner) Run(ctx context.Context, check CheckDefinition, rc *RunContext, sm *StateMachine, promptCap int) CheckResult {
	startedAt := time.Now()
	view := rc.Store.ReadView()
	gateCtx := EvalContext{Outputs: view, Event: rc.Event}

	gateOK, err := r.Eval.EvaluateBool(check.If, gateCtx)
	if err != nil {
		return r.commit(rc, check, CheckResult{
			CheckID: check.ID, Status: StatusFailed, StartedAt: startedAt, EndedAt: time.Now(),
			FailureReason: err.Error(),
		})
	}
	if !gateOK {
		r.emitSkipped(rc, check, "condition_false")
		return r.commit(rc, check, CheckResult{
			CheckID: check.ID, Status: StatusSkipped, StartedAt: startedAt, EndedAt: time.Now(),
			FailureReason: "condition_false",
		})
	}
	if !check.matchesEvent(rc.Event.Kind) {
		r.emitSkipped(rc, check, "event_not_matched")
		return r.commit(rc, check, CheckResult{
			CheckID: check.ID, Status: StatusSkipped, StartedAt: startedAt, EndedAt: time.Now(),
			FailureReason: "event_not_matched",
		})
	}

	r.Bus.Emit(&Event{Type: EventCheckStarted, RunID: rc.RunID, Data: map[string]any{"check_id": check.ID}})

	var result CheckResult
	if check.ForEach != "" {
		result = r.runForEach(ctx, check, rc, sm, promptCap, gateCtx)
	} else {
		result = r.runAttempts(ctx, check, rc, sm, promptCap, gateCtx)
	}
	result = r.applyFailIf(check, result)
	result.CheckID = check.ID
	if result.StartedAt.IsZero() {
		result.StartedAt = startedAt
	}
	if result.EndedAt.IsZero() {
		result.EndedAt = time.Now()
	}

	return r.commit(rc, check, result)
}

// commit writes result to the store, appends its findings to the
// run-global issue list, and emits the terminal lifecycle event.
func (r *CheckRunner) commit(rc *RunContext, check CheckDefinition, result CheckResult) CheckResult {
	rc.Store.Put(check.ID, result)
	rc.AppendIssues(result.EndedAt, check.ID, result.Findings)

	evType := EventCheckCompleted
	if result.Status == StatusFailed || result.Status == StatusError || result.Status == StatusTimedOut {
		evType = EventCheckFailed
	}
	r.Bus.Emit(&Event{Type: evType, RunID: rc.RunID, Data: map[string]any{
		"check_id": check.ID,
		"status":   string(result.Status),
		"attempts": result.Attempts,
		"reason":   result.FailureReason,
	}})
	return result
}

func (r *CheckRunner) emitSkipped(rc *RunContext, check CheckDefinition, reason string) {
	r.Bus.Emit(&Event{Type: EventCheckSkipped, RunID: rc.RunID, Data: map[string]any{
		"check_id": check.ID,
		"reason":   reason,
	}})
}

// runAttempts implements the retry/timeout attempt loop, honoring
// pause/stop at every suspension point.
func (r *CheckRunner) runAttempts(ctx context.Context, check CheckDefinition, rc *RunContext, sm *StateMachine, promptCap int, evalCtx EvalContext) CheckResult {
	policy := check.Retry.normalized()
	startedAt := time.Now()

	var last CheckResult
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		sm.waitWhilePaused(10 * time.Millisecond)
		if rc.Cancelled() {
			return CheckResult{
				Status: StatusError, StartedAt: startedAt, EndedAt: time.Now(),
				Attempts: attempt - 1, FailureReason: "cancelled",
			}
		}

		adapter, ok := r.Registry.Lookup(check.Type)
		if !ok {
			return CheckResult{
				Status: StatusError, StartedAt: startedAt, EndedAt: time.Now(),
				Attempts: attempt, FailureReason: "unknown_provider",
			}
		}

		payload, err := r.Templater.RenderMap(check.Payload, evalCtx, promptCap)
		if err != nil {
			return CheckResult{
				Status: StatusFailed, StartedAt: startedAt, EndedAt: time.Now(),
				Attempts: attempt, FailureReason: err.Error(),
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if check.TimeoutMs > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(check.TimeoutMs)*time.Millisecond)
		} else {
			attemptCtx, cancel = context.WithCancel(ctx)
		}

		// The cancel handle composes the attempt timeout with the run's
		// stop flag, so a well-behaved provider aborts on either.
		go func() {
			select {
			case <-rc.Done():
				cancel()
			case <-attemptCtx.Done():
			}
		}()

		last = r.invoke(attemptCtx, adapter, check, payload, evalCtx.Outputs)
		cancel()
		last.Attempts = attempt

		if last.Status == StatusOK || last.Status == StatusSkipped {
			break
		}
		if last.Status == StatusError && last.FailureReason == "cancelled" {
			break
		}
		if attempt == policy.MaxAttempts {
			break
		}

		if !r.sleepBackoff(ctx, rc, sm, policy, attempt) {
			last.FailureReason = "cancelled"
			last.Status = StatusError
			break
		}
		r.Logger.Debug("check retrying", "check_id", check.ID, "attempt", attempt+1, "last_status", string(last.Status))
		r.Bus.Emit(&Event{Type: EventCheckRetry, RunID: rc.RunID, Data: map[string]any{
			"check_id": check.ID, "attempt": attempt + 1,
		}})
	}
	last.StartedAt = startedAt
	if last.EndedAt.IsZero() {
		last.EndedAt = time.Now()
	}
	return last
}

// invoke calls the provider adapter and maps a timed-out context into
// StatusTimedOut regardless of whatever status the adapter itself
// reports.
func (r *CheckRunner) invoke(ctx context.Context, adapter ProviderAdapter, check CheckDefinition, payload map[string]any, view map[string]CheckResult) (result CheckResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Logger.Error("provider panicked", "check_id", check.ID, "type", check.Type, "panic", rec)
			result = CheckResult{Status: StatusError, FailureReason: fmt.Sprintf("provider panic: %v", rec)}
		}
	}()

	result = adapter.Execute(ctx, check, payload, view, ctxCancelHandle{ctx: ctx})

	if ctx.Err() == context.DeadlineExceeded {
		result.Status = StatusTimedOut
		result.FailureReason = "timeout"
	} else if ctx.Err() == context.Canceled && result.Status != StatusOK {
		result.Status = StatusError
		result.FailureReason = "cancelled"
	}
	return result
}

// sleepBackoff waits backoff_ms * 2^(attempt-1) (with optional jitter),
// honoring cancellation. It returns false if the sleep was aborted by a
// stop request.
func (r *CheckRunner) sleepBackoff(ctx context.Context, rc *RunContext, sm *StateMachine, policy RetryPolicy, attempt int) bool {
	delay := time.Duration(policy.BackoffMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if policy.Jitter && delay > 0 {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	if delay <= 0 {
		return !rc.Cancelled()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		sm.waitWhilePaused(10 * time.Millisecond)
		return !rc.Cancelled()
	case <-ctx.Done():
		return false
	}
}

// applyFailIf evaluates check.FailIf against the produced result: `this`
// is the CheckResult plus aggregate metadata. A truthy result downgrades
// status to failed and records the expression as the failure reason.
// For a forEach check this runs once against the aggregated parent
// result, never against individual children.
func (r *CheckRunner) applyFailIf(check CheckDefinition, result CheckResult) CheckResult {
	if check.FailIf == "" || result.Status == StatusSkipped {
		return result
	}
	metadata := resultMetadata(result)
	ok, err := r.Eval.EvaluateBool(check.FailIf, EvalContext{This: resultView(result), Metadata: metadata})
	if err != nil {
		result.Status = StatusFailed
		result.FailureReason = err.Error()
		return result
	}
	if ok {
		result.Status = StatusFailed
		result.FailureReason = check.FailIf
	}
	return result
}

func resultView(r CheckResult) map[string]any {
	return map[string]any{
		"status":         string(r.Status),
		"output":         r.Output,
		"attempts":       r.Attempts,
		"failure_reason": r.FailureReason,
	}
}

// resultMetadata computes totalIssues/criticalIssues/counts-by-severity
// for fail_if's `metadata` binding.
func resultMetadata(r CheckResult) map[string]any {
	bySeverity := map[string]int{}
	for _, i := range r.Findings {
		bySeverity[string(i.Severity)]++
	}
	return map[string]any{
		"totalIssues":    len(r.Findings),
		"criticalIssues": bySeverity[string(SeverityCritical)],
		"bySeverity":     bySeverity,
	}
}

// runForEach evaluates ForEach to a list, runs one child per element
// concurrently, and aggregates the children into the parent's
// CheckResult. Each child's FailIf is cleared before it runs; Run
// applies fail_if once, to the aggregate, after this returns.
func (r *CheckRunner) runForEach(ctx context.Context, check CheckDefinition, rc *RunContext, sm *StateMachine, promptCap int, gateCtx EvalContext) CheckResult {
	startedAt := time.Now()
	items, err := r.Eval.EvaluateList(check.ForEach, gateCtx)
	if err != nil {
		return CheckResult{Status: StatusFailed, StartedAt: startedAt, EndedAt: time.Now(), FailureReason: err.Error()}
	}

	children := make([]CheckResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for idx, item := range items {
		idx, item := idx, item
		g.Go(func() error {
			childCtx := EvalContext{
				Outputs: gateCtx.Outputs, Event: gateCtx.Event,
				Each: item, Index: idx, Total: len(items),
			}
			childDef := check
			childDef.ID = fmt.Sprintf("%s[%d]", check.ID, idx)
			childDef.ForEach = ""
			childDef.FailIf = ""

			res := r.runAttempts(gctx, childDef, rc, sm, promptCap, childCtx)
			res.CheckID = childDef.ID
			// Pre-stamp child findings so the parent's single commit
			// attributes them to the child slot, not the parent.
			for i := range res.Findings {
				if res.Findings[i].CheckID == "" {
					res.Findings[i].CheckID = childDef.ID
				}
				if res.Findings[i].EndedAt.IsZero() {
					res.Findings[i].EndedAt = res.EndedAt
				}
			}
			rc.Store.Put(childDef.ID, res)
			children[idx] = res
			return nil
		})
	}
	_ = g.Wait() // children never return error; failures are encoded in CheckStatus

	outputs := make([]any, len(children))
	status := StatusOK
	var attempts int
	var findings []Issue
	for i, c := range children {
		outputs[i] = c.Output
		status = worstStatus(status, c.Status)
		attempts += c.Attempts
		findings = append(findings, c.Findings...)
	}

	return CheckResult{
		Status: status, Output: outputs, Children: children,
		StartedAt: startedAt, EndedAt: time.Now(), Attempts: attempts, Findings: findings,
	}
}
