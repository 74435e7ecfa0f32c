package engine

import (
	"fmt"
	"sort"

	checkflowerrors "github.com/tombee/checkflow/pkg/errors"
)

// ValidateDAG checks for dangling depends_on references and cycles,
// returning a *errors.ConfigError naming the offending cycle when one
// exists. The engine runs it once at run start, before the Scheduler is
// built; config loaders may call it earlier for a cheap pre-flight.
func ValidateDAG(checks map[string]CheckDefinition) error {
	return validateDAG(checks)
}

func validateDAG(checks map[string]CheckDefinition) error {
	for id, c := range checks {
		for _, dep := range c.DependsOn {
			if _, ok := checks[dep]; !ok {
				return &checkflowerrors.ConfigError{
					Key:    id,
					Reason: fmt.Sprintf("depends_on references unknown check %q", dep),
				}
			}
		}
	}

	// Kahn's algorithm; any check left with unresolved in-degree after
	// the queue drains is part of a cycle.
	inDegree := make(map[string]int, len(checks))
	for id := range checks {
		inDegree[id] = len(checks[id].DependsOn)
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	dependents := make(map[string][]string)
	for id, c := range checks {
		for _, dep := range c.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		next := append([]string(nil), dependents[id]...)
		sort.Strings(next)
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	if visited != len(checks) {
		// The unresolved checks are the cycle plus anything downstream of
		// it; peel off those with no unresolved dependent until only
		// checks that feed back into the cycle remain.
		residual := make(map[string]bool)
		for id, deg := range inDegree {
			if deg > 0 {
				residual[id] = true
			}
		}
		for changed := true; changed; {
			changed = false
			for id := range residual {
				feeds := false
				for _, d := range dependents[id] {
					feeds = feeds || residual[d]
				}
				if !feeds {
					delete(residual, id)
					changed = true
				}
			}
		}
		var cycle []string
		for id := range residual {
			cycle = append(cycle, id)
		}
		sort.Strings(cycle)
		return &checkflowerrors.ConfigError{
			Key:    "depends_on",
			Reason: fmt.Sprintf("cyclic dependency detected among checks: %v", cycle),
		}
	}
	return nil
}
