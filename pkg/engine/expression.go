package engine

import (
	"fmt"
	"reflect"
	"regexp"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// ExpressionEvaluator compiles and runs the small expression language
// used by `if`, `fail_if`, `forEach`, and global failure_conditions, and
// by the Templater for `{{ }}` interpolation. It has two entry points:
// EvaluateBool for predicates and EvaluateValue for anything forEach or
// a template fragment needs to produce.
//
// A compiled expression is cached by source string for the lifetime of
// the Evaluator; the engine constructs one Evaluator per run.
type ExpressionEvaluator struct {
	mu        sync.RWMutex
	boolCache map[string]*vm.Program
	valCache  map[string]*vm.Program
}

// NewExpressionEvaluator creates an empty evaluator.
func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{
		boolCache: make(map[string]*vm.Program),
		valCache:  make(map[string]*vm.Program),
	}
}

// EvalContext is the read-only view an expression runs against. It is
// built fresh for each evaluation (cheap: a handful of map copies) so
// helper closures like hasMinPermission can see the event currently in
// scope without threading it through expr's compile-time env.
type EvalContext struct {
	Outputs  map[string]CheckResult
	Event    TriggerEvent
	Metadata map[string]any
	This     any
	Each     any
	Index    int
	Total    int
}

// EvaluateBool compiles (or reuses a cached compile of) expression and
// runs it against ctx, requiring a boolean result — the mode used for
// `if`, `fail_if`, and failure_conditions. An empty expression is
// treated as true.
func (e *ExpressionEvaluator) EvaluateBool(expression string, ctx EvalContext) (bool, error) {
	if expression == "" {
		return true, nil
	}
	program, err := e.compile(expression, true)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, e.env(ctx))
	if err != nil {
		return false, &checkflowerrors.ExpressionError{Expression: expression, Reason: "evaluation failed", Cause: err}
	}
	b, ok := out.(bool)
	if !ok {
		return false, &checkflowerrors.ExpressionError{Expression: expression, Reason: fmt.Sprintf("expected bool result, got %T", out)}
	}
	return b, nil
}

// EvaluateValue compiles and runs expression, returning whatever value
// it produces (used for forEach's list-producing expressions and for
// template fragment interpolation).
func (e *ExpressionEvaluator) EvaluateValue(expression string, ctx EvalContext) (any, error) {
	if expression == "" {
		return nil, nil
	}
	program, err := e.compile(expression, false)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, e.env(ctx))
	if err != nil {
		return nil, &checkflowerrors.ExpressionError{Expression: expression, Reason: "evaluation failed", Cause: err}
	}
	return out, nil
}

// EvaluateList is a convenience wrapper for forEach: it requires the
// result to be a slice and returns it as []any.
func (e *ExpressionEvaluator) EvaluateList(expression string, ctx EvalContext) ([]any, error) {
	v, err := e.EvaluateValue(expression, ctx)
	if err != nil {
		return nil, err
	}
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, &checkflowerrors.ExpressionError{Expression: expression, Reason: fmt.Sprintf("forEach expression must produce a list, got %T", v)}
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// containsCall matches the call form contains(list, x) wherever a call
// can begin. expr lexes `contains` as its infix operator, so compile
// rewrites the call form to the containsFn helper before compiling.
var containsCall = regexp.MustCompile(`(^|[(\[{,!&|=<>+\-*/%?:]|\b(?:and|or|not))(\s*)contains\s*\(`)

func (e *ExpressionEvaluator) compile(expression string, asBool bool) (*vm.Program, error) {
	cache := e.valCache
	if asBool {
		cache = e.boolCache
	}

	e.mu.RLock()
	if p, ok := cache[expression]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	opts := []expr.Option{
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	}
	if asBool {
		opts = append(opts, expr.AsBool())
	}
	program, err := expr.Compile(containsCall.ReplaceAllString(expression, "${1}${2}containsFn("), opts...)
	if err != nil {
		return nil, &checkflowerrors.ExpressionError{Expression: expression, Reason: "parse failed", Cause: err}
	}

	e.mu.Lock()
	cache[expression] = program
	e.mu.Unlock()
	return program, nil
}

// ClearCache drops every compiled program; exposed for tests and for
// long-lived daemon processes that want to bound cache growth.
func (e *ExpressionEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.boolCache = make(map[string]*vm.Program)
	e.valCache = make(map[string]*vm.Program)
}

// CacheSize reports the number of distinct compiled expressions held.
func (e *ExpressionEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.boolCache) + len(e.valCache)
}

// env assembles the map expr.Run evaluates against: the read view plus
// the fixed helper functions. now is frozen from ctx.Event.Timestamp,
// never time.Now(), keeping evaluation hermetic.
func (e *ExpressionEvaluator) env(ctx EvalContext) map[string]any {
	outputs := make(map[string]any, len(ctx.Outputs))
	for id, r := range ctx.Outputs {
		outputs[id] = map[string]any{
			"status":         string(r.Status),
			"output":         r.Output,
			"attempts":       r.Attempts,
			"failure_reason": r.FailureReason,
		}
	}

	association := ctx.Event.ActorAssociation
	if association == "" {
		association = AssociationUnknown
	}

	return map[string]any{
		"outputs":  outputs,
		"event":    eventEnv(ctx.Event),
		"metadata": ctx.Metadata,
		"this":     ctx.This,
		"each":     ctx.Each,
		"index":    ctx.Index,
		"total":    ctx.Total,
		"now":      ctx.Event.Timestamp,

		"length":     lenFunc,
		"containsFn": containsFunc,
		"hasMinPermission": func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("hasMinPermission requires exactly 1 argument, got %d", len(args))
			}
			level, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("hasMinPermission: level must be a string")
			}
			want, known := associationRank[ActorAssociation(level)]
			if !known {
				return false, nil
			}
			return associationRank[association] >= want, nil
		},
		"isOwner": func(args ...any) (any, error) {
			if len(args) != 0 {
				return nil, fmt.Errorf("isOwner takes no arguments")
			}
			return association == AssociationOwner, nil
		},
	}
}

func eventEnv(ev TriggerEvent) map[string]any {
	return map[string]any{
		"kind":              string(ev.Kind),
		"payload":           ev.Payload,
		"actor_association": string(ev.ActorAssociation),
		"timestamp":         ev.Timestamp,
	}
}
