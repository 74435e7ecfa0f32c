package engine

import (
	"sort"

	"golang.org/x/sync/errgroup"
)

// aggregateResult is the outcome of evaluating every global
// failure_condition against the run's final read view.
type aggregateResult struct {
	Failed bool
	Reason string // the name of the first truthy condition encountered
}

// evaluateFailureConditions runs every named global expression
// concurrently via an errgroup, since each is a read-only evaluation
// over the same immutable view and has no reason to serialize. Despite
// running concurrently, the reported primary reason is deterministic:
// conditions are named, and ties (multiple truthy at once) resolve by
// lexical name order.
func evaluateFailureConditions(eval *ExpressionEvaluator, conditions map[string]string, outputs map[string]CheckResult, metadata map[string]any) (aggregateResult, error) {
	if len(conditions) == 0 {
		return aggregateResult{}, nil
	}

	names := make([]string, 0, len(conditions))
	for name := range conditions {
		names = append(names, name)
	}
	sort.Strings(names)

	truthy := make([]bool, len(names))
	g := new(errgroup.Group)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			ok, err := eval.EvaluateBool(conditions[name], EvalContext{Outputs: outputs, Metadata: metadata})
			if err != nil {
				return err
			}
			truthy[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return aggregateResult{}, err
	}

	for i, name := range names {
		if truthy[i] {
			return aggregateResult{Failed: true, Reason: name}, nil
		}
	}
	return aggregateResult{}, nil
}

// buildMetadata computes the aggregate counters failure_conditions and
// fail_if see as `metadata`: counts by status, total issues, and
// critical issue count across every committed check result.
func buildMetadata(results map[string]CheckResult) map[string]any {
	byStatus := map[string]int{}
	var totalIssues, criticalIssues int
	for _, r := range results {
		byStatus[string(r.Status)]++
		totalIssues += len(r.Findings)
		for _, f := range r.Findings {
			if f.Severity == SeverityCritical {
				criticalIssues++
			}
		}
	}
	return map[string]any{
		"totalChecks":    len(results),
		"failedChecks":   byStatus[string(StatusFailed)] + byStatus[string(StatusError)] + byStatus[string(StatusTimedOut)],
		"skippedChecks":  byStatus[string(StatusSkipped)],
		"okChecks":       byStatus[string(StatusOK)],
		"totalIssues":    totalIssues,
		"criticalIssues": criticalIssues,
		"byStatus":       byStatus,
	}
}
