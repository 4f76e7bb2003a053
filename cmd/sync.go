package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	flagSyncDate  string
	flagSyncForce bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Recompute stored metrics for a day or range",
	Long: "Sync one day (--date) or every day of a range (--start/--end). " +
		"A single day respects the cooldown unless --force is given; a range always resyncs.",
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&flagSyncDate, "date", "", "Day to sync (default today)")
	syncCmd.Flags().BoolVarP(&flagSyncForce, "force", "f", false, "Skip the cooldown")
	addRangeFlags(syncCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := commandContext()
	defer cancel()

	if cmd.Flags().Changed("start") || cmd.Flags().Changed("days") {
		start, end := rt.rangeBounds()
		res, err := rt.coord.SyncRange(ctx, start, end)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(res)
		}
		fmt.Printf("  Synced %d of %d days (%s – %s)\n", len(res.Synced), len(res.Requested), start, end)
		failed := make([]string, 0, len(res.Failed))
		for d := range res.Failed {
			failed = append(failed, d)
		}
		sort.Strings(failed)
		for _, d := range failed {
			fmt.Printf("  %s failed: %s\n", d, res.Failed[d])
		}
		if len(failed) > 0 {
			return fmt.Errorf("%d days failed", len(failed))
		}
		return nil
	}

	date := flagSyncDate
	if date == "" {
		date = rt.coord.TodayKey()
	}
	ran, err := rt.coord.SyncDate(ctx, date, flagSyncForce)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Printf("  %s was synced recently or is syncing now; use --force to override the cooldown\n", date)
		return nil
	}
	fmt.Printf("  Synced %s\n", date)
	return nil
}
