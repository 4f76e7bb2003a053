package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/cli"
)

var (
	flagTodayDate string
	flagTodayLive bool
	flagCRM       bool
	flagJSON      bool
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's per-operator metrics",
	Long:  "Show one day's metrics. Stored days are served from the store; a missing day is synced first.",
	RunE:  runToday,
}

func init() {
	todayCmd.Flags().StringVar(&flagTodayDate, "date", "", "Day to show instead of today (YYYY-MM-DD or DD.MM.YYYY)")
	todayCmd.Flags().BoolVar(&flagTodayLive, "live", false, "Include live operator status")
	rootCmd.PersistentFlags().BoolVar(&flagCRM, "crm", false, "Show sales CRM columns")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(todayCmd)
}

func runToday(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := commandContext()
	defer cancel()

	date := flagTodayDate
	if date == "" {
		date = rt.coord.TodayKey()
	}
	res, err := rt.coord.Day(ctx, date)
	if err != nil {
		return err
	}

	opts := cli.ReportOptions{CRM: flagCRM}
	if flagTodayLive && date == rt.coord.TodayKey() {
		live, err := rt.coord.Live(ctx)
		if err != nil {
			rt.log.Warn().Err(err).Msg("live status unavailable")
		}
		opts.Live = live.Statuses
	}

	if flagJSON {
		return printJSON(res)
	}
	fmt.Println()
	fmt.Print(cli.RenderReport(res.Report, opts))
	if res.Refreshing {
		fmt.Println("  (refreshing in background)")
	}
	fmt.Println()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
