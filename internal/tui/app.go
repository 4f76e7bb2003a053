// Package tui provides the interactive Bubble Tea dashboard for callpulse.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/callpulse/internal/cli"
	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/syncer"
	"github.com/theirongolddev/callpulse/internal/tui/components"
	"github.com/theirongolddev/callpulse/internal/tui/theme"
)

// Source is what the dashboard reads. *syncer.Coordinator satisfies it.
type Source interface {
	Today(ctx context.Context) (syncer.DayResult, error)
	Range(ctx context.Context, start, end, branch string) (model.Report, error)
	Dates(ctx context.Context, start, end string) (model.DateCoverage, error)
	Live(ctx context.Context) (syncer.Live, error)
	BackfillWindow(days int) (string, string)
}

// Options configure the dashboard.
type Options struct {
	Branches        []string
	RangeDays       int
	AutoRefresh     bool
	RefreshInterval time.Duration
}

// TodayMsg carries a loaded today view.
type TodayMsg struct {
	Result syncer.DayResult
	Live   syncer.Live
	Err    error
}

// RangeMsg carries a loaded range report and its date coverage.
type RangeMsg struct {
	Report   model.Report
	Coverage model.DateCoverage
	Err      error
}

type tickMsg time.Time

const (
	tabToday = iota
	tabRange
	tabDates
)

const (
	minTerminalWidth = 80
	maxContentWidth  = 180
	minContentHeight = 5
	requestTimeout   = 2 * time.Minute
)

// App is the root Bubble Tea model.
type App struct {
	src  Source
	opts Options

	today    syncer.DayResult
	live     syncer.Live
	report   model.Report
	coverage model.DateCoverage

	loaded      bool
	refreshing  bool
	lastRefresh time.Time
	lastErr     error

	width     int
	height    int
	activeTab int
	showHelp  bool
	branchIdx int // 0 means all branches

	table   table.Model
	spinner spinner.Model
}

// NewApp creates a new dashboard model.
func NewApp(src Source, opts Options) App {
	if opts.RangeDays < 1 {
		opts.RangeDays = 7
	}
	if opts.RefreshInterval < 10*time.Second {
		opts.RefreshInterval = 60 * time.Second
	}
	sort.Strings(opts.Branches)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	tbl := table.New(table.WithFocused(true))
	tbl.SetStyles(tableStyles())

	return App{src: src, opts: opts, spinner: sp, table: tbl}
}

func tableStyles() table.Styles {
	t := theme.Active
	s := table.DefaultStyles()
	s.Header = s.Header.
		Foreground(t.Accent).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border).
		BorderBottom(true).
		Bold(true)
	s.Cell = s.Cell.Foreground(t.TextPrimary)
	s.Selected = s.Selected.Foreground(t.TextPrimary).Background(t.SurfaceHover).Bold(false)
	return s
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.loadToday(), a.loadRange(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a App) loadToday() tea.Cmd {
	src := a.src
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		res, err := src.Today(ctx)
		if err != nil {
			return TodayMsg{Err: err}
		}
		// live status is an overlay; its failure does not fail the view
		live, _ := src.Live(ctx)
		return TodayMsg{Result: res, Live: live}
	}
}

func (a App) loadRange() tea.Cmd {
	src, days, branch := a.src, a.opts.RangeDays, a.branch()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		start, end := src.BackfillWindow(days)
		rep, err := src.Range(ctx, start, end, branch)
		if err != nil {
			return RangeMsg{Err: err}
		}
		cov, err := src.Dates(ctx, start, end)
		return RangeMsg{Report: rep, Coverage: cov, Err: err}
	}
}

func (a App) branch() string {
	if a.branchIdx <= 0 || a.branchIdx > len(a.opts.Branches) {
		return ""
	}
	return a.opts.Branches[a.branchIdx-1]
}

func (a App) refresh() (App, tea.Cmd) {
	if a.refreshing {
		return a, nil
	}
	a.refreshing = true
	return a, tea.Batch(a.loadToday(), a.loadRange())
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.syncTable()
		return a, nil

	case tea.KeyMsg:
		return a.updateKey(msg)

	case TodayMsg:
		a.loaded = true
		a.lastErr = msg.Err
		if msg.Err == nil {
			a.today, a.live = msg.Result, msg.Live
			a.lastRefresh = time.Now()
		}
		a.refreshing = false
		a.syncTable()
		return a, nil

	case RangeMsg:
		if msg.Err != nil {
			a.lastErr = msg.Err
		} else {
			a.report, a.coverage = msg.Report, msg.Coverage
		}
		a.syncTable()
		return a, nil

	case spinner.TickMsg:
		if a.loaded {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		if a.loaded && a.opts.AutoRefresh && !a.refreshing && time.Since(a.lastRefresh) >= a.opts.RefreshInterval {
			var cmd tea.Cmd
			a, cmd = a.refresh()
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)
	}
	return a, nil
}

func (a App) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return a, tea.Quit
	}
	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	switch key {
	case "r":
		return a.refresh()
	case "R":
		a.opts.AutoRefresh = !a.opts.AutoRefresh
		return a, nil
	case "b":
		if len(a.opts.Branches) == 0 {
			return a, nil
		}
		a.branchIdx = (a.branchIdx + 1) % (len(a.opts.Branches) + 1)
		return a, a.loadRange()
	case "+", "-":
		if key == "+" {
			a.opts.RangeDays = min(a.opts.RangeDays*2, 366)
		} else {
			a.opts.RangeDays = max(a.opts.RangeDays/2, 1)
		}
		return a, a.loadRange()
	case "left":
		a.activeTab = (a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs)
		a.syncTable()
		return a, nil
	case "right", "tab":
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
		a.syncTable()
		return a, nil
	}
	if len(key) == 1 {
		if idx := components.TabIdxByKey(rune(key[0])); idx >= 0 {
			a.activeTab = idx
			a.syncTable()
			return a, nil
		}
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// syncTable rebuilds the operator table for the active tab.
func (a *App) syncTable() {
	var rows []model.OperatorTotals
	withStatus := false
	switch a.activeTab {
	case tabToday:
		rows = a.today.Report.Rows
		withStatus = len(a.live.Statuses) > 0
	case tabRange:
		rows = a.report.Rows
	default:
		return
	}

	nameW := 22
	cols := []table.Column{
		{Title: "Оператор", Width: nameW},
		{Title: "Звонки", Width: 7},
		{Title: "Диалоги", Width: 8},
		{Title: "Дозвон", Width: 7},
		{Title: "Ср.", Width: 6},
		{Title: "Согл.", Width: 6},
		{Title: "Перев.", Width: 6},
		{Title: "Линия", Width: 6},
		{Title: "ЦК", Width: 4},
		{Title: "Сделки", Width: 6},
	}
	if withStatus {
		cols = append(cols, table.Column{Title: "Статус", Width: 10})
	}

	trows := make([]table.Row, len(rows))
	for i, r := range rows {
		row := table.Row{
			truncate(r.Name, nameW),
			cli.FormatNumber(r.Counters.AllCalls),
			cli.FormatNumber(r.Counters.Dialogs),
			cli.FormatPercent(r.Reach),
			cli.FormatTalk(r.AvgTalk),
			cli.FormatNumber(r.Counters.Agreement + r.Counters.CRMAgreements),
			cli.FormatNumber(r.Counters.Transfer),
			cli.FormatDuration(r.Counters.LineTime),
			cli.FormatNumber(r.Counters.Tagged),
			cli.FormatNumber(r.Counters.DealsWon),
		}
		if withStatus {
			row = append(row, a.live.Statuses[r.OperatorID])
		}
		trows[i] = row
	}

	// rows must shrink before columns or the table indexes past them
	a.table.SetRows(nil)
	a.table.SetColumns(cols)
	a.table.SetRows(trows)
	a.table.SetHeight(max(a.height-14, minContentHeight))
}

func truncate(s string, limit int) string {
	if lipgloss.Width(s) <= limit {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && lipgloss.Width(string(r))+1 > limit {
		r = r[:len(r)-1]
	}
	return string(r) + "…"
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return fmt.Sprintf("\n  Terminal too narrow (%d cols)\n\n  callpulse needs at least %d columns.\n", a.width, minTerminalWidth)
	}
	if !a.loaded {
		return a.viewLoading()
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewLoading() string {
	t := theme.Active
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(2, 4).
		Render(lipgloss.NewStyle().Foreground(t.AccentBright).Bold(true).Render("◈ callpulse") +
			lipgloss.NewStyle().Foreground(t.TextMuted).Render(" · operator metrics") +
			"\n\n" + a.spinner.View() + " Syncing today…")
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

func (a App) viewHelp() string {
	t := theme.Active
	keyStyle := lipgloss.NewStyle().Foreground(t.Cyan).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(t.TextMuted)

	bindings := []struct{ key, desc string }{
		{"t g d", "Today / Range / Dates"},
		{"← →", "Previous / Next tab"},
		{"j k", "Move through operators"},
		{"b", "Cycle branch filter"},
		{"+ -", "Widen / narrow range"},
		{"r", "Refresh now"},
		{"R", "Toggle auto-refresh"},
		{"q", "Quit"},
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(t.AccentBright).Bold(true).Render("◈ Keyboard Shortcuts"))
	b.WriteString("\n\n")
	for _, bind := range bindings {
		fmt.Fprintf(&b, "  %s  %s\n", keyStyle.Render(fmt.Sprintf("%-8s", bind.key)), descStyle.Render(bind.desc))
	}

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(1, 3).
		Render(b.String())
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

func (a App) viewMain() string {
	w := a.width
	cw := min(w, maxContentWidth)

	header := components.RenderTabBar(a.activeTab, w)

	updated := ""
	if !a.lastRefresh.IsZero() {
		updated = a.lastRefresh.Format("15:04:05")
	}
	note := ""
	if a.lastErr != nil {
		note = truncate(a.lastErr.Error(), max(cw/2, 20))
	}
	status := components.RenderStatusBar(w, updated, note, a.refreshing, a.opts.AutoRefresh)

	var content string
	switch a.activeTab {
	case tabToday:
		content = a.viewReport(a.today.Report, "Сегодня "+a.today.Report.Start, cw)
	case tabRange:
		title := fmt.Sprintf("%s – %s", a.report.Start, a.report.End)
		if b := a.branch(); b != "" {
			title += " · " + b
		}
		content = a.viewReport(a.report, title, cw)
	case tabDates:
		content = components.ContentCard("Даты", cli.RenderCoverage(a.coverage), cw)
	}

	contentH := max(a.height-lipgloss.Height(header)-lipgloss.Height(status), minContentHeight)
	content = lipgloss.NewStyle().Height(contentH).MaxHeight(contentH).Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, content, status)
}

func (a App) viewReport(rep model.Report, title string, cw int) string {
	t := theme.Active
	tot := rep.Totals

	metrics := []components.Metric{
		{Label: "Звонки", Value: cli.FormatNumber(tot.Counters.AllCalls), Hint: fmt.Sprintf("%d операторов", tot.Operators)},
		{Label: "Диалоги", Value: cli.FormatNumber(tot.Counters.Dialogs), Hint: "ср. " + cli.FormatTalk(tot.AvgTalk)},
		{Label: "Дозвон", Value: components.ReachBar(tot.Reach, 10)},
		{Label: "Согласия", Value: cli.FormatNumber(tot.Counters.Agreement + tot.Counters.CRMAgreements)},
		{Label: "Сделки", Value: cli.FormatNumber(tot.Counters.DealsWon), Hint: cli.FormatMoney(tot.Counters.Revenue)},
	}
	if a.activeTab == tabToday && a.live.NewNumbers > 0 {
		metrics = append(metrics, components.Metric{Label: "Новые номера", Value: cli.FormatNumber(int64(a.live.NewNumbers))})
	}

	titleStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Bold(true)
	var b strings.Builder
	b.WriteString(" " + titleStyle.Render(title))
	if len(rep.MissingDates) > 0 {
		b.WriteString("  " + lipgloss.NewStyle().Foreground(t.Orange).Render("нет данных: "+strings.Join(rep.MissingDates, ", ")))
	}
	b.WriteString("\n")
	b.WriteString(components.MetricCardRow(metrics, cw))
	if a.activeTab == tabToday && len(a.live.Statuses) > 0 {
		b.WriteString(a.statusLegend())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(a.table.View())
	return b.String()
}

// statusLegend counts operators per live state.
func (a App) statusLegend() string {
	t := theme.Active
	counts := make(map[string]int)
	for _, ev := range a.live.Statuses {
		counts[ev]++
	}
	events := make([]string, 0, len(counts))
	for ev := range counts {
		events = append(events, ev)
	}
	sort.Strings(events)

	parts := make([]string, len(events))
	for i, ev := range events {
		label := ev
		if label == "" {
			label = "unknown"
		}
		dot := lipgloss.NewStyle().Foreground(t.ForStatus(ev)).Render("●")
		parts[i] = dot + " " + lipgloss.NewStyle().Foreground(t.TextMuted).Render(fmt.Sprintf("%s %d", label, counts[ev]))
	}
	return " " + strings.Join(parts, "   ")
}
