package engine

import (
	"sync"
	"time"

	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// RunState is the top-level state of one engine run. The allowed
// transitions are exactly the entries of the transitions table;
// anything else is rejected with InvalidStateTransitionError.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StatePaused    RunState = "paused"
	StateStopped   RunState = "stopped"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

var validRunStates = map[RunState]bool{
	StateIdle: true, StateRunning: true, StatePaused: true,
	StateStopped: true, StateCompleted: true, StateFailed: true,
}

// IsTerminal reports whether s ends a run (no further scheduler work
// will run, though reset can still bring it back to idle).
func (s RunState) IsTerminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateFailed
}

// IsValid reports whether s is one of the six states this machine knows.
func (s RunState) IsValid() bool {
	return validRunStates[s]
}

// transition names one legal (from, event) -> to edge.
type transition struct {
	from, to RunState
	event    string
}

// transitions is the complete legal-edge table for a run.
var transitions = []transition{
	{StateIdle, StateRunning, "start"},
	{StateRunning, StatePaused, "pause"},
	{StatePaused, StateRunning, "resume"},
	{StateRunning, StateStopped, "stop"},
	{StatePaused, StateStopped, "stop"},
	{StateRunning, StateCompleted, "complete"},
	{StateRunning, StateFailed, "fail"},
	{StateStopped, StateIdle, "reset"},
	{StateCompleted, StateIdle, "reset"},
	{StateFailed, StateIdle, "reset"},
}

// Hooks lets callers observe every transition; AfterTransition is how
// the EventBus learns about run.state_changed.
type Hooks struct {
	BeforeTransition func(from, to RunState, event string)
	AfterTransition  func(from, to RunState, event string)
}

// StateMachine guards RunState transitions for one run. It is not
// goroutine-free: Trigger takes its own lock so the Scheduler's
// coordinator and any external control-API caller (pause/stop) can both
// call it safely.
type StateMachine struct {
	mu    sync.Mutex
	state RunState
	hooks Hooks
	rc    *RunContext
}

// NewStateMachine creates a machine in the idle state, bound to rc so
// that pause/stop transitions keep RunContext's cooperative flags in
// sync with the externally visible state.
func NewStateMachine(rc *RunContext) *StateMachine {
	return &StateMachine{state: StateIdle, rc: rc}
}

// SetHooks installs lifecycle hooks; nil fields are ignored.
func (m *StateMachine) SetHooks(h Hooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// State returns the current state.
func (m *StateMachine) State() RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Trigger attempts the named event from the current state. On success
// it returns the new state; on failure it returns
// *errors.InvalidStateTransitionError and leaves the state unchanged.
func (m *StateMachine) Trigger(event string) (RunState, error) {
	m.mu.Lock()
	from := m.state
	var to RunState
	found := false
	for _, t := range transitions {
		if t.from == from && t.event == event {
			to = t.to
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return from, &checkflowerrors.InvalidStateTransitionError{From: string(from), Event: event}
	}

	before := m.hooks.BeforeTransition
	m.mu.Unlock()
	if before != nil {
		before(from, to, event)
	}

	m.mu.Lock()
	// Re-check: another goroutine may have transitioned between unlock
	// and relock (e.g. a concurrent stop racing a pause). Only commit if
	// we're still leaving the state we planned from.
	if m.state != from {
		m.mu.Unlock()
		return from, &checkflowerrors.InvalidStateTransitionError{From: string(from), Event: event}
	}
	m.state = to
	m.mu.Unlock()

	m.applySideEffects(to)

	after := m.hooks.AfterTransition
	if after != nil {
		after(from, to, event)
	}
	return to, nil
}

// applySideEffects keeps RunContext's cooperative pause/cancel flags
// consistent with the state the machine just entered.
func (m *StateMachine) applySideEffects(to RunState) {
	if m.rc == nil {
		return
	}
	switch to {
	case StatePaused:
		m.rc.setPaused(true)
	case StateRunning:
		m.rc.setPaused(false)
	case StateStopped:
		m.rc.setCancelled(true)
		m.rc.setPaused(false)
	case StateIdle:
		m.rc.setCancelled(false)
		m.rc.setPaused(false)
	}
}

// AvailableEvents returns the events that can legally fire from the
// current state, useful for CLI help text and validation.
func (m *StateMachine) AvailableEvents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []string
	for _, t := range transitions {
		if t.from == m.state {
			events = append(events, t.event)
		}
	}
	return events
}

// waitWhilePaused blocks the calling goroutine (a Scheduler dispatch
// loop or a CheckRunner between attempts) until the state machine
// leaves StatePaused. It is a thin
// polling loop rather than a condition variable so it remains simple to
// reason about alongside Trigger's locking; pollInterval is kept short
// because the only cost is a mutex lock.
func (m *StateMachine) waitWhilePaused(pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	for m.State() == StatePaused {
		time.Sleep(pollInterval)
	}
}

// String implements fmt.Stringer for log lines.
func (s RunState) String() string { return string(s) }
