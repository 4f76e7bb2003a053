package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/callpulse/internal/tui/theme"
)

// Tab represents a single tab in the tab bar.
type Tab struct {
	Name   string
	Key    rune
	KeyPos int // byte position of the shortcut letter in Name
}

// Tabs defines all available tabs.
var Tabs = []Tab{
	{Name: "Today", Key: 't', KeyPos: 0},
	{Name: "Range", Key: 'g', KeyPos: 3},
	{Name: "Dates", Key: 'd', KeyPos: 0},
}

// RenderTabBar renders the tab bar with the given active index.
func RenderTabBar(activeIdx int, width int) string {
	t := theme.Active

	activeStyle := lipgloss.NewStyle().
		Foreground(t.Accent).
		Background(t.SurfaceHover).
		Bold(true).
		Padding(0, 1)
	inactiveStyle := lipgloss.NewStyle().
		Foreground(t.TextMuted).
		Background(t.Surface)
	keyStyle := lipgloss.NewStyle().
		Foreground(t.Accent).
		Background(t.Surface).
		Bold(true)
	pad := lipgloss.NewStyle().Background(t.Surface)

	parts := make([]string, len(Tabs))
	for i, tab := range Tabs {
		if i == activeIdx {
			parts[i] = activeStyle.Render(tab.Name)
			continue
		}
		before, key, after := tab.Name[:tab.KeyPos], tab.Name[tab.KeyPos:tab.KeyPos+1], tab.Name[tab.KeyPos+1:]
		parts[i] = pad.Render(" ") + inactiveStyle.Render(before) + keyStyle.Render(key) + inactiveStyle.Render(after) + pad.Render(" ")
	}

	row := pad.Render(" ") + strings.Join(parts, pad.Render(" "))
	return pad.Width(width).Render(row)
}

// TabIdxByKey returns the tab index for a given key press, or -1.
func TabIdxByKey(key rune) int {
	for i, tab := range Tabs {
		if tab.Key == key {
			return i
		}
	}
	return -1
}
