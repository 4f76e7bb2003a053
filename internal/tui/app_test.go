package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/syncer"
)

type fakeSource struct {
	branches []string
}

func (f *fakeSource) Today(context.Context) (syncer.DayResult, error) {
	return syncer.DayResult{Report: sampleReport("2025-03-07", "2025-03-07", "")}, nil
}

func (f *fakeSource) Range(_ context.Context, start, end, branch string) (model.Report, error) {
	f.branches = append(f.branches, branch)
	return sampleReport(start, end, branch), nil
}

func (f *fakeSource) Dates(_ context.Context, start, end string) (model.DateCoverage, error) {
	return model.DateCoverage{Start: start, End: end, Present: []string{end}}, nil
}

func (f *fakeSource) Live(context.Context) (syncer.Live, error) {
	return syncer.Live{Statuses: map[string]string{"1": "online"}, NewNumbers: 4}, nil
}

func (f *fakeSource) BackfillWindow(days int) (string, string) {
	return "2025-03-01", "2025-03-07"
}

func sampleReport(start, end, branch string) model.Report {
	row := model.OperatorTotals{OperatorID: "1", Name: "Анна", Counters: model.Counters{AllCalls: 10, Dialogs: 5}}
	row.Derive()
	return model.Report{
		Start:  start,
		End:    end,
		Branch: branch,
		Rows:   []model.OperatorTotals{row},
		Totals: model.Totals{Operators: 1, Counters: row.Counters, Reach: row.Reach},
	}
}

func step(t *testing.T, m tea.Model, msg tea.Msg) (App, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	app, ok := next.(App)
	if !ok {
		t.Fatalf("Update returned %T, want App", next)
	}
	return app, cmd
}

func loadedApp(t *testing.T, src *fakeSource) App {
	t.Helper()
	app := NewApp(src, Options{Branches: []string{"south", "north"}})
	app, _ = step(t, app, tea.WindowSizeMsg{Width: 140, Height: 40})

	today, _ := src.Today(context.Background())
	live, _ := src.Live(context.Background())
	app, _ = step(t, app, TodayMsg{Result: today, Live: live})
	return app
}

func TestAppLoadsToday(t *testing.T) {
	app := loadedApp(t, &fakeSource{})

	if !app.loaded {
		t.Fatal("app should be loaded after TodayMsg")
	}
	if got := len(app.table.Rows()); got != 1 {
		t.Fatalf("table rows = %d, want 1", got)
	}
	if got := app.table.Rows()[0][len(app.table.Rows()[0])-1]; got != "online" {
		t.Fatalf("status column = %q, want online", got)
	}

	view := app.View()
	for _, want := range []string{"Анна", "Сегодня 2025-03-07", "Новые номера"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}
}

func TestAppTodayErrorKeepsPreviousData(t *testing.T) {
	app := loadedApp(t, &fakeSource{})

	app, _ = step(t, app, TodayMsg{Err: errors.New("upstream down")})
	if app.lastErr == nil {
		t.Fatal("error should be recorded")
	}
	if len(app.today.Report.Rows) != 1 {
		t.Fatal("failed refresh must not clear the last report")
	}
	if !strings.Contains(app.View(), "upstream down") {
		t.Fatal("status bar should show the error")
	}
}

func TestAppTabKeys(t *testing.T) {
	app := loadedApp(t, &fakeSource{})

	app, _ = step(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	if app.activeTab != tabRange {
		t.Fatalf("activeTab = %d, want %d", app.activeTab, tabRange)
	}
	app, _ = step(t, app, tea.KeyMsg{Type: tea.KeyRight})
	if app.activeTab != tabDates {
		t.Fatalf("activeTab = %d, want %d", app.activeTab, tabDates)
	}
	app, _ = step(t, app, tea.KeyMsg{Type: tea.KeyRight})
	if app.activeTab != tabToday {
		t.Fatalf("activeTab = %d, want wrap to %d", app.activeTab, tabToday)
	}
}

func TestAppBranchCycle(t *testing.T) {
	src := &fakeSource{}
	app := loadedApp(t, src)

	want := []string{"north", "south", ""}
	for _, w := range want {
		var cmd tea.Cmd
		app, cmd = step(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("b")})
		if cmd == nil {
			t.Fatal("branch change should reload the range")
		}
		msg, ok := cmd().(RangeMsg)
		if !ok {
			t.Fatal("reload should produce a RangeMsg")
		}
		if msg.Report.Branch != w {
			t.Fatalf("branch = %q, want %q", msg.Report.Branch, w)
		}
		app, _ = step(t, app, msg)
	}
}

func TestAppRefreshIsSingleFlight(t *testing.T) {
	app := loadedApp(t, &fakeSource{})

	app, cmd := step(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil || !app.refreshing {
		t.Fatal("first refresh should start")
	}
	_, cmd = step(t, app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd != nil {
		t.Fatal("second refresh should be ignored while one is running")
	}
}

func TestAppNarrowTerminal(t *testing.T) {
	app := loadedApp(t, &fakeSource{})
	app, _ = step(t, app, tea.WindowSizeMsg{Width: 60, Height: 20})
	if !strings.Contains(app.View(), "too narrow") {
		t.Fatal("narrow terminal should show a warning")
	}
}

func TestSetupValuesRoundTrip(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telephony.Token = "old"
	cfg.Telegram.ChatID = 42

	v := SetupValuesFrom(cfg)
	if v.ChatID != "42" || v.TelephonyToken != "" {
		t.Fatalf("seeded values = %+v", v)
	}

	v.TelephonyURL = "https://pbx.example.ru/api/ "
	v.ChatID = "-100500"
	v.Theme = "terminal"
	v.Apply(&cfg)

	if cfg.Telephony.Token != "old" {
		t.Fatalf("blank token should keep %q, got %q", "old", cfg.Telephony.Token)
	}
	if cfg.Telephony.BaseURL != "https://pbx.example.ru/api" {
		t.Fatalf("BaseURL = %q", cfg.Telephony.BaseURL)
	}
	if cfg.Telegram.ChatID != -100500 {
		t.Fatalf("ChatID = %d, want -100500", cfg.Telegram.ChatID)
	}
	if cfg.TUI.Theme != "terminal" {
		t.Fatalf("Theme = %q, want terminal", cfg.TUI.Theme)
	}
}

func TestSetupValidators(t *testing.T) {
	if validateTimezone("Europe/Samara") != nil || validateTimezone("") != nil {
		t.Fatal("valid timezone rejected")
	}
	if validateTimezone("Mars/Olympus") == nil {
		t.Fatal("invalid timezone accepted")
	}
	if validateChatID("abc") == nil {
		t.Fatal("non-numeric chat id accepted")
	}
}
