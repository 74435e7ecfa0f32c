package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/checkflow/pkg/engine"
)

var stateStyle = map[engine.RunState]lipgloss.Style{
	engine.StateCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#2ECC71")).Bold(true),
	engine.StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
	engine.StateStopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F1C40F")).Bold(true),
}

// RenderSummary renders a one-screen terminal summary of a completed
// run: terminal state, per-status check counts, wall time, and issue
// count.
func RenderSummary(result engine.RunResult, isTTY bool) string {
	var b strings.Builder

	label := string(result.State)
	if isTTY {
		if style, ok := stateStyle[result.State]; ok {
			label = style.Render(label)
		}
	}
	fmt.Fprintf(&b, "run %s in %s\n", label, result.Statistics.WallTime.Round(0))

	statuses := make([]string, 0, len(result.Statistics.CountByStatus))
	for st := range result.Statistics.CountByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(&b, "  %-10s %d\n", st, result.Statistics.CountByStatus[engine.CheckStatus(st)])
	}
	fmt.Fprintf(&b, "%d issue(s) across %d check(s)\n", len(result.Issues), len(result.Outputs))
	return b.String()
}
