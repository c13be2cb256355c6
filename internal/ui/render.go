package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	cardStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1)

	cardTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent)

	entryMetaStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
)

// RenderProjectsTable renders the project registry listing.
func RenderProjectsTable(rows [][]string, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No projects registered. Run: scribe project set <name>")
	}
	return NewTable(width).
		Headers("Project", "Status", "Entries", "Activity", "Last Entry").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 2 {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		String()
}

// RenderCard renders a titled key/value block, used for project views
// and daemon status output.
func RenderCard(title string, pairs [][2]string, width int) string {
	var lines []string
	lines = append(lines, cardTitleStyle.Render(title))

	keyWidth := 0
	for _, p := range pairs {
		if len(p[0]) > keyWidth {
			keyWidth = len(p[0])
		}
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-*s  %s", keyWidth, p[0], p[1]))
	}
	card := cardStyle
	if width > 4 {
		card = card.Width(width)
	}
	return card.Render(strings.Join(lines, "\n"))
}

// EntryView is one ledger line prepared for display.
type EntryView struct {
	Emoji   string
	TS      string
	Agent   string
	Project string
	Message string
	Meta    string
}

// RenderEntries renders query results as ledger lines, newest first.
// With showProject, each line carries its project (cross-project
// scopes).
func RenderEntries(entries []EntryView, showProject, emoji bool) string {
	var b strings.Builder
	for _, e := range entries {
		if emoji && e.Emoji != "" {
			b.WriteString(e.Emoji)
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "[%s]", e.TS)
		if showProject && e.Project != "" {
			fmt.Fprintf(&b, " [%s]", e.Project)
		}
		if e.Agent != "" {
			fmt.Fprintf(&b, " [%s]", e.Agent)
		}
		b.WriteByte(' ')
		b.WriteString(e.Message)
		if e.Meta != "" {
			b.WriteString(entryMetaStyle.Render(" | " + e.Meta))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderPagination renders the standard page footer.
func RenderPagination(page, pageSize, total int, hasNext bool) string {
	if total == 0 {
		return TableHintStyle.Render("No entries matched.")
	}
	footer := fmt.Sprintf("Page %d (%d per page, %d total)", page, pageSize, total)
	if hasNext {
		footer += fmt.Sprintf(" — next: --page %d", page+1)
	}
	return TableHintStyle.Render(footer)
}

// RenderWarnings renders non-fatal warnings after a command's output.
func RenderWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var b strings.Builder
	for _, w := range warnings {
		b.WriteString(TableWarningStyle.Render("⚠ " + w))
		b.WriteByte('\n')
	}
	return b.String()
}

// InitResult aggregates what scribe init set up for the final report.
type InitResult struct {
	ScribeDir   string
	DBPath      string
	Project     string
	DocsCreated []string
	LogTypes    []string
	Quickstart  []string
}

// RenderInitReport renders the post-init summary.
func RenderInitReport(res InitResult, width int) string {
	var sections []string
	sections = append(sections, TableSuccessStyle.Bold(true).Render("✓ scribe initialized"))

	pairs := [][2]string{
		{"Workspace", res.ScribeDir},
		{"Database", res.DBPath},
		{"Project", res.Project},
	}
	sections = append(sections, RenderCard("Layout", pairs, width))

	if len(res.DocsCreated) > 0 {
		var lines []string
		lines = append(lines, cardTitleStyle.Render("Documents"))
		for _, doc := range res.DocsCreated {
			lines = append(lines, "• "+doc)
		}
		sections = append(sections, cardStyle.Width(width).Render(strings.Join(lines, "\n")))
	}

	if len(res.Quickstart) > 0 {
		var lines []string
		lines = append(lines, cardTitleStyle.Render("Next steps"))
		for _, cmd := range res.Quickstart {
			lines = append(lines, "  "+lipgloss.NewStyle().Foreground(ColorAccent).Render(cmd))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
