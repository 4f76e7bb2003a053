package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/callpulse/internal/tui/theme"
)

// ReachBar renders a reach percentage (0..100) as a bar of width cells
// followed by the value.
func ReachBar(pct float64, width int) string {
	t := theme.Active
	filled := min(max(int(pct/100*float64(width)), 0), width)

	color := t.ForReach(pct)
	filledStyle := lipgloss.NewStyle().Foreground(color)
	emptyStyle := lipgloss.NewStyle().Foreground(t.TextDim)
	pctStyle := lipgloss.NewStyle().Foreground(color).Bold(true)

	var b strings.Builder
	b.WriteString(filledStyle.Render(strings.Repeat("█", filled)))
	b.WriteString(emptyStyle.Render(strings.Repeat("░", width-filled)))
	return b.String() + " " + pctStyle.Render(fmt.Sprintf("%5.1f%%", pct))
}
