package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/callpulse/internal/tui/theme"
)

// RenderStatusBar renders the bottom status bar. updated describes data
// freshness; note carries a transient message such as an error.
func RenderStatusBar(width int, updated, note string, refreshing, autoRefresh bool) string {
	t := theme.Active

	style := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface).
		Width(width)
	warn := lipgloss.NewStyle().Foreground(t.Orange).Background(t.Surface)

	left := " [?]help  [r]efresh  [q]uit"
	if note != "" {
		left += "  " + warn.Render(note)
	}

	var right []string
	switch {
	case refreshing:
		right = append(right, "refreshing…")
	case updated != "":
		right = append(right, "updated "+updated)
	}
	if autoRefresh {
		right = append(right, "auto")
	}
	r := strings.Join(right, " · ") + " "

	padding := max(width-lipgloss.Width(left)-lipgloss.Width(r), 0)
	return style.Render(left + strings.Repeat(" ", padding) + r)
}
