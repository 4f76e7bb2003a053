package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theirongolddev/callpulse/internal/cli"
)

var datesCmd = &cobra.Command{
	Use:   "dates",
	Short: "Show which days of a range are stored",
	RunE:  runDates,
}

func init() {
	addRangeFlags(datesCmd)
	rootCmd.AddCommand(datesCmd)
}

func runDates(_ *cobra.Command, _ []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := commandContext()
	defer cancel()

	start, end := rt.rangeBounds()
	cov, err := rt.coord.Dates(ctx, start, end)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cov)
	}

	calls := make([]float64, 0, len(cov.Present))
	dialogs := make([]float64, 0, len(cov.Present))
	for _, d := range cov.Present {
		recs, err := rt.store.DayRecords(ctx, d)
		if err != nil {
			return err
		}
		var c, dl int64
		for _, r := range recs {
			c += r.Counters.AllCalls
			dl += r.Counters.Dialogs
		}
		calls = append(calls, float64(c))
		dialogs = append(dialogs, float64(dl))
	}

	fmt.Println()
	fmt.Print(cli.RenderCoverage(cov))
	if len(calls) > 1 {
		fmt.Println(cli.RenderTrend("Звонки ", calls))
		fmt.Println(cli.RenderTrend("Диалоги", dialogs))
	}

	sum, err := rt.store.Summary(ctx)
	if err != nil {
		return err
	}
	if sum.Dates > 0 {
		fmt.Printf("\n  Store: %d days (%s – %s), %d rows, updated %s\n",
			sum.Dates, sum.FirstDate, sum.LastDate, sum.Rows, sum.LastUpdated.In(rt.coord.Location()).Format("02.01.2006 15:04"))
	}
	fmt.Println()
	return nil
}
