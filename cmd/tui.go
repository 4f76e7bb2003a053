package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/tui"
	"github.com/theirongolddev/callpulse/internal/tui/theme"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive dashboard",
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	// logs would tear the alt screen
	logPath := filepath.Join(config.DataDir(), "tui.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	//nolint:gosec // log path is under the user's data dir
	logf, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening tui log: %w", err)
	}
	defer func() { _ = logf.Close() }()
	logOutput = logf

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	theme.SetActive(rt.cfg.TUI.Theme)

	// Force TrueColor profile so all background styling produces ANSI codes
	// Without this, lipgloss may default to Ascii profile (no colors)
	lipgloss.SetColorProfile(termenv.TrueColor)

	branches := make([]string, 0, len(rt.cfg.Branches))
	for name := range rt.cfg.Branches {
		branches = append(branches, name)
	}
	slices.Sort(branches)

	app := tui.NewApp(rt.coord, tui.Options{
		Branches:        branches,
		RangeDays:       rt.cfg.TUI.RangeDays,
		AutoRefresh:     rt.cfg.TUI.AutoRefresh,
		RefreshInterval: time.Duration(rt.cfg.TUI.RefreshIntervalSec) * time.Second,
	})
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}
