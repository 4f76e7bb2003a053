package cmd

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive configuration wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// a broken file is replaced by the wizard's output
		cfg = config.DefaultConfig()
	}

	vals := tui.SetupValuesFrom(cfg)
	if err := tui.NewSetupForm(&vals).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup canceled; nothing saved.")
			return nil
		}
		return err
	}
	vals.Apply(&cfg)

	if err := config.Save(cfg, flagConfig); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", flagConfig)
	fmt.Println("  Run `callpulse setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}
