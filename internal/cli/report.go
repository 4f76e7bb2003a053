package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/theirongolddev/callpulse/internal/model"
)

// ReportOptions selects optional report columns.
type ReportOptions struct {
	// CRM adds the sales CRM columns.
	CRM bool
	// Live maps operator id to current status; shown when non-empty.
	Live map[string]string
}

// RenderReport renders a range or day report as title, table and branch
// summary.
func RenderReport(rep model.Report, opts ReportOptions) string {
	var b strings.Builder

	title := "Метрики " + rep.Start
	if rep.End != rep.Start {
		title += " – " + rep.End
	}
	if rep.Branch != "" {
		title += " · " + rep.Branch
	}
	b.WriteString(RenderTitle(title))
	b.WriteString("\n\n")

	headers := []string{"Оператор", "Звонки", "Диалоги", "Дозвон", "Ср.", "Согл.", "Перев.", "Лид", "На линии", "ЦК"}
	if opts.CRM {
		headers = append(headers, "CRM зв.", "CRM согл.", "Встречи", "Сделки", "Выручка")
	}
	if len(opts.Live) > 0 {
		headers = append(headers, "Статус")
	}

	t := Table{Headers: headers}
	for _, r := range rep.Rows {
		t.Rows = append(t.Rows, reportRow(r.Name, r.Counters, r.AvgTalk, r.Reach, opts, opts.Live[r.OperatorID]))
	}
	if len(rep.Rows) > 1 {
		t.Rows = append(t.Rows, []string{"---"})
	}
	tot := rep.Totals
	t.Rows = append(t.Rows, reportRow(fmt.Sprintf("Итого (%d)", tot.Operators), tot.Counters, tot.AvgTalk, tot.Reach, opts, ""))
	b.WriteString(RenderTable(t))

	if len(rep.Branches) > 0 {
		names := make([]string, 0, len(rep.Branches))
		for name := range rep.Branches {
			names = append(names, name)
		}
		sort.Strings(names)

		bt := Table{Title: "Филиалы", Headers: []string{"Филиал", "Операторы", "Звонки", "Диалоги", "Дозвон", "Ср."}}
		for _, name := range names {
			s := rep.Branches[name]
			bt.Rows = append(bt.Rows, []string{
				name,
				fmt.Sprint(s.Operators),
				FormatNumber(s.Counters.AllCalls),
				FormatNumber(s.Counters.Dialogs),
				FormatPercent(s.Reach),
				FormatTalk(s.AvgTalk),
			})
		}
		b.WriteString("\n")
		b.WriteString(RenderTable(bt))
	}

	if len(rep.MissingDates) > 0 {
		b.WriteString("\n  ")
		b.WriteString(warnStyle.Render("Нет данных за: " + strings.Join(rep.MissingDates, ", ")))
		b.WriteString("\n")
	}
	return b.String()
}

func reportRow(name string, c model.Counters, avg int64, reach float64, opts ReportOptions, status string) []string {
	row := []string{
		name,
		FormatNumber(c.AllCalls),
		FormatNumber(c.Dialogs),
		FormatPercent(reach),
		FormatTalk(avg),
		FormatNumber(c.Agreement),
		FormatNumber(c.Transfer),
		FormatNumber(c.LeadAgent),
		FormatDuration(c.LineTime),
		FormatNumber(c.Tagged),
	}
	if opts.CRM {
		row = append(row,
			FormatNumber(c.CRMCalls),
			FormatNumber(c.CRMAgreements),
			FormatNumber(c.MeetingsHeld),
			FormatNumber(c.DealsWon),
			FormatMoney(c.Revenue),
		)
	}
	if len(opts.Live) > 0 {
		row = append(row, status)
	}
	return row
}

// RenderCoverage renders which dates of a range are stored, with a
// one-character-per-day strip.
func RenderCoverage(cov model.DateCoverage) string {
	present := make(map[string]bool, len(cov.Present))
	for _, d := range cov.Present {
		present[d] = true
	}
	all := append(append([]string{}, cov.Present...), cov.Missing...)
	sort.Strings(all)

	var strip strings.Builder
	for _, d := range all {
		if present[d] {
			strip.WriteString(moneyStyle.Render("█"))
		} else {
			strip.WriteString(warnStyle.Render("░"))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  %s  %s … %s\n", headerStyle.Render("Даты"), cov.Start, cov.End)
	fmt.Fprintf(&b, "  %s\n", strip.String())
	fmt.Fprintf(&b, "  %s %s\n", countStyle.Render(fmt.Sprintf("%d", len(cov.Present))), mutedStyle.Render("сохранено"))
	if len(cov.Missing) > 0 {
		fmt.Fprintf(&b, "  %s %s\n", warnStyle.Render(fmt.Sprintf("%d", len(cov.Missing))), mutedStyle.Render("нет данных: "+strings.Join(cov.Missing, ", ")))
	}
	return b.String()
}

// RenderTrend renders a labelled sparkline of daily values.
func RenderTrend(label string, values []float64) string {
	return fmt.Sprintf("  %s %s", mutedStyle.Render(label), countStyle.Render(RenderSparkline(values)))
}
