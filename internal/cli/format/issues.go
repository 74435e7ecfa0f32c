package format

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/tombee/checkflow/pkg/engine"
)

// Severity colors, scoped to this frontend.
var severityStyle = map[engine.IssueSeverity]lipgloss.Style{
	engine.SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
	engine.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")),
	engine.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F1C40F")),
	engine.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("#5DADE2")),
	engine.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
}

var severityLabel = map[engine.IssueSeverity]string{
	engine.SeverityCritical: "CRITICAL",
	engine.SeverityHigh:     "HIGH",
	engine.SeverityMedium:   "MEDIUM",
	engine.SeverityLow:      "LOW",
	engine.SeverityInfo:     "INFO",
}

// RenderIssues groups result.Issues by their Group field (falling back to
// CheckID when a finding carries no explicit group), deduplicates exact
// (file, line, message) repeats within a group, and renders a
// human-readable report: colorized severity badges when isTTY, a plain
// Markdown document otherwise (or after glamour rendering on top of it,
// when isTTY).
func RenderIssues(issues []engine.Issue, isTTY bool) (string, error) {
	groups := groupIssues(issues)

	var md strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&md, "## %s\n\n", g.name)
		for _, iss := range g.issues {
			loc := iss.CheckID
			if iss.File != "" {
				loc = iss.File
				if iss.Line > 0 {
					loc = fmt.Sprintf("%s:%d", iss.File, iss.Line)
				}
			}
			fmt.Fprintf(&md, "- **%s** `%s` — %s", badge(iss.Severity, isTTY), loc, iss.Message)
			if iss.Category != "" {
				fmt.Fprintf(&md, " _(%s)_", iss.Category)
			}
			md.WriteString("\n")
		}
		md.WriteString("\n")
	}

	content := md.String()
	if !isTTY {
		return content, nil
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return content, nil
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content, nil
	}
	return rendered, nil
}

func badge(sev engine.IssueSeverity, isTTY bool) string {
	label := severityLabel[sev]
	if label == "" {
		label = strings.ToUpper(string(sev))
	}
	if !isTTY {
		return label
	}
	style, ok := severityStyle[sev]
	if !ok {
		return label
	}
	return style.Render(label)
}

type issueGroup struct {
	name   string
	issues []engine.Issue
}

// groupIssues buckets by Group (or CheckID when Group is empty),
// ordering groups by first-seen order and deduplicating identical
// (file, line, message) findings within each group — the same pairing
// the core's global issue list is sorted by (ended_at, check_id, file,
// line), generalized here to "don't show the same finding twice."
func groupIssues(issues []engine.Issue) []issueGroup {
	order := []string{}
	byGroup := map[string][]engine.Issue{}
	seen := map[string]map[string]bool{}

	for _, iss := range issues {
		key := iss.Group
		if key == "" {
			key = iss.CheckID
		}
		if _, ok := byGroup[key]; !ok {
			order = append(order, key)
			seen[key] = map[string]bool{}
		}
		dedupKey := fmt.Sprintf("%s|%d|%s", iss.File, iss.Line, iss.Message)
		if seen[key][dedupKey] {
			continue
		}
		seen[key][dedupKey] = true
		byGroup[key] = append(byGroup[key], iss)
	}

	groups := make([]issueGroup, 0, len(order))
	for _, name := range order {
		issues := byGroup[name]
		sort.SliceStable(issues, func(i, j int) bool {
			return severityRank(issues[i].Severity) > severityRank(issues[j].Severity)
		})
		groups = append(groups, issueGroup{name: name, issues: issues})
	}
	return groups
}

func severityRank(sev engine.IssueSeverity) int {
	switch sev {
	case engine.SeverityCritical:
		return 4
	case engine.SeverityHigh:
		return 3
	case engine.SeverityMedium:
		return 2
	case engine.SeverityLow:
		return 1
	default:
		return 0
	}
}
