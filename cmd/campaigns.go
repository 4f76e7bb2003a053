package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/cli"
	"github.com/theirongolddev/callpulse/internal/telephony"
)

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "Compare configured active campaigns with the telephony campaign list",
	RunE:  runCampaigns,
}

func init() {
	rootCmd.AddCommand(campaignsCmd)
}

func runCampaigns(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set := cfg.Telephony.Campaigns

	fmt.Println()
	fmt.Printf("  Active:   %v\n", set.Active)
	fmt.Printf("  Inactive: %v (universe 1..%d)\n", set.Inactive(), set.Universe)
	if len(set.Active) == 0 {
		fmt.Println("  No active set configured; calls from every campaign are counted.")
	}

	tel := telephony.NewClient(telephony.Options{
		BaseURL:  cfg.Telephony.BaseURL,
		Token:    cfg.Telephony.Token,
		Location: cfg.Location(),
	})
	if tel == nil {
		fmt.Println()
		return nil
	}

	ctx, cancel := commandContext()
	defer cancel()
	list, err := tel.Campaigns(ctx)
	if err != nil {
		return fmt.Errorf("listing campaigns: %w", err)
	}

	t := cli.Table{Title: "Telephony campaigns", Headers: []string{"ID", "Name", "Upstream", "Counted"}}
	for _, c := range list {
		id, _ := strconv.Atoi(string(c.ID))
		counted := len(set.Active) == 0 || set.IsActive(id)
		t.Rows = append(t.Rows, []string{string(c.ID), c.Name, yesNo(c.Active), yesNo(counted)})
	}
	fmt.Println()
	fmt.Print(cli.RenderTable(t))
	fmt.Println()
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
