package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/cli"
)

var (
	flagStart  string
	flagEnd    string
	flagDays   int
	flagBranch string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate metrics over a date range",
	Long:  "Backfill missing days of the range, then sum per-operator counters. Days that could not be synced are listed.",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&flagBranch, "branch", "", "Restrict to one branch")
	addRangeFlags(reportCmd)
	rootCmd.AddCommand(reportCmd)
}

func addRangeFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagStart, "start", "", "First day of the range")
	c.Flags().StringVar(&flagEnd, "end", "", "Last day of the range (default today)")
	c.Flags().IntVarP(&flagDays, "days", "n", 7, "Range length in days when --start is not given")
}

// rangeBounds resolves --start/--end/--days against the coordinator's today.
func (r *runtime) rangeBounds() (string, string) {
	if flagStart == "" {
		start, end := r.coord.BackfillWindow(flagDays)
		if flagEnd != "" {
			end = flagEnd
		}
		return start, end
	}
	end := flagEnd
	if end == "" {
		end = r.coord.TodayKey()
	}
	return flagStart, end
}

func runReport(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := commandContext()
	defer cancel()

	start, end := rt.rangeBounds()
	rep, err := rt.coord.Range(ctx, start, end, flagBranch)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(rep)
	}
	fmt.Println()
	fmt.Print(cli.RenderReport(rep, cli.ReportOptions{CRM: flagCRM}))
	fmt.Println()
	return nil
}
