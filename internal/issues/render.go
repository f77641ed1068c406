package issues

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	critical = lipgloss.Color("#e53935") // Red
	warning  = lipgloss.Color("#FFC107") // Yellow
	info     = lipgloss.Color("#2196F3") // Blue
	muted    = lipgloss.Color("#6b7280")

	titleStyle = lipgloss.NewStyle().Bold(true)
	pathStyle  = lipgloss.NewStyle().Foreground(muted)
	bodyStyle  = lipgloss.NewStyle().PaddingLeft(2)
)

func severityStyle(s Severity) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	switch {
	case s.IsCritical():
		return style.Foreground(critical)
	case s == SeverityWarning:
		return style.Foreground(warning)
	default:
		return style.Foreground(info)
	}
}

// Render formats issues for a terminal, one block per issue, in slice order.
// Callers sort first if they want severity order.
func Render(list []Issue) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	for i, issue := range list {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderOne(issue))
	}
	return b.String()
}

func renderOne(issue Issue) string {
	label := severityStyle(issue.Severity).Render(strings.ToUpper(string(issue.Severity)))
	header := fmt.Sprintf("%s %s", label, titleStyle.Render(issue.Title))
	if issue.Category != "" {
		header += pathStyle.Render(fmt.Sprintf(" (%s)", issue.Category))
	}

	lines := []string{header}
	if loc := location(issue); loc != "" {
		lines = append(lines, bodyStyle.Render(pathStyle.Render(loc)))
	}
	if issue.Description != "" {
		lines = append(lines, bodyStyle.Render(issue.Description))
	}
	if issue.Detail != "" {
		lines = append(lines, bodyStyle.Render(issue.Detail))
	}
	if issue.DocumentationLink != "" {
		lines = append(lines, bodyStyle.Render(pathStyle.Render(issue.DocumentationLink)))
	}
	return strings.Join(lines, "\n") + "\n"
}

func location(issue Issue) string {
	if issue.Source != nil && issue.Source.FilePath != "" {
		if issue.Source.Line > 0 {
			return fmt.Sprintf("%s:%d:%d", issue.Source.FilePath, issue.Source.Line, issue.Source.Column)
		}
		return issue.Source.FilePath
	}
	return issue.FilePath
}
