package engine

import "sort"

// sortIssuesStable orders issues by (ended_at, check_id, file, line), the
// ordering guarantee the core makes for the global issue list. It is
// stable so issues that tie on every key keep their append order.
func sortIssuesStable(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if !a.EndedAt.Equal(b.EndedAt) {
			return a.EndedAt.Before(b.EndedAt)
		}
		if a.CheckID != b.CheckID {
			return a.CheckID < b.CheckID
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
}
