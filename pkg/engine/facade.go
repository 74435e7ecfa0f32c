package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// TraceSink receives every lifecycle Event emitted during a run, in
// addition to whatever EventBus subscribers a frontend registers. It is
// optional; a nil sink means "emit nothing."
type TraceSink interface {
	Write(event *Event)
}

// TraceSinkFunc adapts a plain function to TraceSink.
type TraceSinkFunc func(event *Event)

func (f TraceSinkFunc) Write(event *Event) { f(event) }

// ExecutionEngine is the top-level facade: it receives a WorkflowConfig,
// a TriggerEvent, and RunOptions, and drives one run end-to-end,
// wiring ExpressionEvaluator, ContextStore, Templater, ProviderRegistry,
// CheckRunner, Scheduler, EventBus, StateMachine and failure aggregation
// together. One ExecutionEngine can drive many sequential or concurrent
// runs; the only per-engine state it keeps is the in-flight run count
// Drain needs for graceful shutdown.
type ExecutionEngine struct {
	Registry  *ProviderRegistry
	Logger    *slog.Logger
	TraceSink TraceSink

	mu        sync.Mutex
	draining  bool
	listeners []Listener
	inFlight  sync.WaitGroup
}

// NewExecutionEngine wires an engine around a populated ProviderRegistry.
func NewExecutionEngine(registry *ProviderRegistry, logger *slog.Logger, sink TraceSink) *ExecutionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionEngine{Registry: registry, Logger: logger, TraceSink: sink}
}

// AddListener registers a frontend Listener that is subscribed to every
// subsequent run's EventBus before the run's first event fires, so a
// frontend attached here never misses run.started. Listeners added
// mid-run only affect runs started afterwards.
func (e *ExecutionEngine) AddListener(fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Drain stops the engine from accepting new runs (Start returns an error
// for any caller arriving after Drain is called) and blocks until every
// run already in flight reaches a terminal state, or ctx is done first.
func (e *ExecutionEngine) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunResult is what engine.Run (or Run.Wait) returns: the run's terminal
// state, its statistics, the sorted global issue list, and every
// check's committed output.
type RunResult struct {
	State      RunState
	Statistics ExecutionStatistics
	Issues     []Issue
	Outputs    map[string]CheckResult
}

// Run is a handle to one in-flight (or completed) execution: the control
// API (Pause/Resume/Stop/Reset) plus Wait to block for the terminal
// result and EventBus to subscribe frontends before or during the run.
type Run struct {
	engine *ExecutionEngine
	config WorkflowConfig
	bus    *EventBus
	sm     *StateMachine

	mu  sync.Mutex
	rc  *RunContext
	ctx context.Context

	done chan RunResult
}

// EventBus exposes the run's pub/sub hub so frontends can Subscribe
// before calling Wait.
func (r *Run) EventBus() *EventBus { return r.bus }

// State returns the run's current top-level state.
func (r *Run) State() RunState { return r.sm.State() }

// Pause requests a transition to paused; in-flight checks run to
// completion but no new attempt or dispatch proceeds until Resume.
func (r *Run) Pause() error {
	_, err := r.sm.Trigger("pause")
	return err
}

// Resume clears a pause, letting the Scheduler dispatch again.
func (r *Run) Resume() error {
	_, err := r.sm.Trigger("resume")
	return err
}

// Stop requests cancellation. In-flight checks observe it at their next
// suspension point; the Scheduler marks everything not yet terminal as
// cancelled once workers drain.
func (r *Run) Stop() error {
	_, err := r.sm.Trigger("stop")
	return err
}

// Wait blocks until the run reaches a terminal state and returns its
// result. Calling Wait more than once returns the same result.
func (r *Run) Wait() RunResult {
	res := <-r.done
	r.done <- res
	return res
}

// Reset returns a terminal run to idle, clearing outputs, issues, and any
// queued work — equivalent to a freshly constructed engine bound to the
// same config and EventBus. Reset on a non-terminal run fails with
// InvalidStateTransitionError.
func (r *Run) Reset() error {
	if _, err := r.sm.Trigger("reset"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rc = newRunContext(r.rc.Event)
	r.sm.rc = r.rc
	r.done = make(chan RunResult, 1)
	return nil
}

func newRunContext(event TriggerEvent) *RunContext {
	return &RunContext{
		RunID:     uuid.NewString(),
		Event:     event,
		StartedAt: time.Now(),
		Store:     NewContextStore(false, nil),
	}
}

// Start builds a Run for config/event/options and begins executing it in
// the background; call Wait on the returned Run to block for the result.
// Unknown check-type names are an error here (at run start), but only
// for checks that would actually be selected.
func (e *ExecutionEngine) Start(ctx context.Context, config WorkflowConfig, event TriggerEvent, options RunOptions) (*Run, error) {
	e.mu.Lock()
	draining := e.draining
	if !draining {
		e.inFlight.Add(1)
	}
	e.mu.Unlock()
	if draining {
		return nil, &checkflowerrors.InvalidStateTransitionError{From: "engine", Event: "start_while_draining"}
	}

	selected, order, err := selectChecks(config, options)
	if err != nil {
		e.inFlight.Done()
		return nil, err
	}
	if err := validateDAG(selected); err != nil {
		e.inFlight.Done()
		return nil, err
	}
	for _, c := range selected {
		if c.Type == "" {
			continue
		}
		if _, ok := e.Registry.Lookup(c.Type); !ok {
			e.inFlight.Done()
			return nil, &checkflowerrors.ConfigError{Key: c.ID, Reason: fmt.Sprintf("unknown provider type %q", c.Type)}
		}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	rc := newRunContext(event)
	bus := NewEventBus(e.Logger)
	sm := NewStateMachine(rc)
	run := &Run{engine: e, config: config, bus: bus, sm: sm, rc: rc, ctx: ctx, done: make(chan RunResult, 1)}

	// The hook reads the run's current RunContext at emit time rather
	// than capturing rc: Reset installs a fresh context with a new
	// RunID, and state-change events must always carry the id of
	// whichever context is live.
	sm.SetHooks(Hooks{
		AfterTransition: func(from, to RunState, ev string) {
			run.mu.Lock()
			runID := run.rc.RunID
			run.mu.Unlock()
			bus.Emit(&Event{Type: EventRunStateChanged, RunID: runID, Data: map[string]any{
				"from": string(from), "to": string(to), "event": ev,
			}})
		},
	})

	if e.TraceSink != nil {
		bus.Subscribe(func(_ context.Context, ev *Event) { e.TraceSink.Write(ev) }, 0)
	}
	e.mu.Lock()
	listeners := append([]Listener(nil), e.listeners...)
	e.mu.Unlock()
	for _, fn := range listeners {
		bus.Subscribe(fn, 0)
	}

	if _, err := sm.Trigger("start"); err != nil {
		e.inFlight.Done()
		return nil, err
	}
	bus.Emit(&Event{Type: EventRunStarted, RunID: rc.RunID, Data: map[string]any{
		"event_kind": string(event.Kind), "check_count": len(selected),
	}})

	registry := e.Registry
	if options.DryRun {
		registry = dryRunRegistry(selected)
	}

	eval := NewExpressionEvaluator()
	tmpl := NewTemplater(eval)
	runner := NewCheckRunner(eval, tmpl, registry, bus, e.Logger)

	maxParallelism := config.MaxParallelism
	if options.MaxParallelism > 0 {
		maxParallelism = options.MaxParallelism
	}
	if maxParallelism < 1 {
		maxParallelism = 1
	}

	scheduler := NewScheduler(selected, order, runner, sm, rc, bus, maxParallelism, options.PromptCap, options.FailFast, e.Logger)

	go run.drive(scheduler, eval)
	return run, nil
}

// Run is the synchronous convenience form of Start+Wait, for callers
// that never need Pause/Resume while the run is in flight.
func (e *ExecutionEngine) Run(ctx context.Context, config WorkflowConfig, event TriggerEvent, options RunOptions) (RunResult, error) {
	run, err := e.Start(ctx, config, event, options)
	if err != nil {
		return RunResult{}, err
	}
	return run.Wait(), nil
}

// drive runs the scheduler to completion, evaluates global
// failure_conditions, transitions the StateMachine to its final state,
// and publishes the result on r.done.
func (r *Run) drive(scheduler *Scheduler, eval *ExpressionEvaluator) {
	statuses := scheduler.Run(r.ctx)

	r.mu.Lock()
	rc := r.rc
	r.mu.Unlock()

	outputs := rc.Store.ReadView()
	metadata := buildMetadata(outputs)

	stats := newExecutionStatistics()
	for id, st := range statuses {
		stats.CountByStatus[st]++
		if res, ok := outputs[id]; ok {
			stats.TotalAttempts += res.Attempts
			stats.PerCheck[id] = res.EndedAt.Sub(res.StartedAt)
		}
	}
	stats.WallTime = time.Since(rc.StartedAt)

	var finalState RunState
	var failureReason string

	switch {
	case r.sm.State() == StateStopped:
		finalState = StateStopped
	default:
		if reason := scheduler.PrimaryFailureReason(); reason != "" {
			finalState = StateFailed
			failureReason = reason
		} else {
			agg, err := evaluateFailureConditions(eval, r.config.FailureConditions, outputs, metadata)
			if err != nil {
				finalState = StateFailed
				failureReason = err.Error()
			} else if agg.Failed {
				finalState = StateFailed
				failureReason = agg.Reason
			} else {
				finalState = StateCompleted
			}
		}
		event := "complete"
		if finalState == StateFailed {
			event = "fail"
		}
		if _, err := r.sm.Trigger(event); err != nil {
			r.engine.Logger.Error("run: could not commit terminal transition", "error", err)
		}
	}

	r.bus.Emit(&Event{Type: EventRunCompleted, RunID: rc.RunID, Data: map[string]any{
		"state":          string(finalState),
		"failure_reason": failureReason,
	}})

	rc.IssuesMu.Lock()
	issues := append([]Issue(nil), rc.Issues...)
	rc.IssuesMu.Unlock()

	r.done <- RunResult{State: finalState, Statistics: stats, Issues: issues, Outputs: outputs}
	r.engine.inFlight.Done()
}

// selectChecks applies RunOptions.Only and include/exclude tag globs to
// config.Checks, returning the surviving subset plus its declaration
// order (a stable sub-sequence of config.CheckOrder).
func selectChecks(config WorkflowConfig, options RunOptions) (map[string]CheckDefinition, []string, error) {
	onlySet := map[string]bool{}
	for _, id := range options.Only {
		onlySet[id] = true
	}

	selected := make(map[string]CheckDefinition)
	var order []string
	for _, id := range config.CheckOrder {
		c, ok := config.Checks[id]
		if !ok {
			continue
		}
		if len(onlySet) > 0 && !onlySet[id] {
			continue
		}
		included, err := matchesTagFilters(c.Tags, options.IncludeTags, options.ExcludeTags)
		if err != nil {
			return nil, nil, err
		}
		if !included {
			continue
		}
		selected[id] = c
		order = append(order, id)
	}

	// Drop depends_on edges pointing outside the selected set: RunOptions
	// explicitly asks to run a subset "in isolation", so a dependency on a
	// check that was filtered out is satisfied vacuously rather than
	// treated as a dangling reference.
	for id, c := range selected {
		var kept []string
		for _, dep := range c.DependsOn {
			if _, ok := selected[dep]; ok {
				kept = append(kept, dep)
			}
		}
		c.DependsOn = kept
		selected[id] = c
	}

	return selected, order, nil
}

// matchesTagFilters reports whether a check's tags satisfy include/exclude
// glob patterns (doublestar.Match, gitignore-style). Include patterns are
// an any-match OR; an empty include list admits everything. Exclude
// always wins over include.
func matchesTagFilters(tags, include, exclude []string) (bool, error) {
	for _, pattern := range exclude {
		for _, tag := range tags {
			matched, err := doublestar.Match(pattern, tag)
			if err != nil {
				return false, &checkflowerrors.ConfigError{Key: "exclude_tags", Reason: err.Error()}
			}
			if matched {
				return false, nil
			}
		}
	}
	if len(include) == 0 {
		return true, nil
	}
	for _, pattern := range include {
		for _, tag := range tags {
			matched, err := doublestar.Match(pattern, tag)
			if err != nil {
				return false, &checkflowerrors.ConfigError{Key: "include_tags", Reason: err.Error()}
			}
			if matched {
				return true, nil
			}
		}
	}
	return false, nil
}

// dryRunRegistry builds a ProviderRegistry that answers every type name
// used by selected with a planning adapter: it never invokes a real
// provider, only reports what would have run.
func dryRunRegistry(selected map[string]CheckDefinition) *ProviderRegistry {
	reg := NewProviderRegistry()
	seen := map[string]bool{}
	for _, c := range selected {
		if c.Type == "" || seen[c.Type] {
			continue
		}
		seen[c.Type] = true
		reg.Register(c.Type, ProviderAdapterFunc(func(ctx context.Context, check CheckDefinition, payload map[string]any, view map[string]CheckResult, cancel CancelHandle) CheckResult {
			return CheckResult{Status: StatusOK, Output: map[string]any{"dry_run": true, "type": check.Type, "payload": payload}}
		}))
	}
	return reg
}
