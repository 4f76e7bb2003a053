package pipeline

import (
	"errors"
	"testing"

	"github.com/theirongolddev/callpulse/internal/model"
)

func row(id string, all, dialogs, talkSum, talkCount int64) model.OperatorTotals {
	return model.OperatorTotals{
		OperatorID: id,
		Name:       "op " + id,
		Counters:   model.Counters{AllCalls: all, Dialogs: dialogs, TalkSum: talkSum, TalkCount: talkCount},
	}
}

func TestBuildReportBranchDisjointness(t *testing.T) {
	rows := []model.OperatorTotals{
		row("1", 10, 5, 500, 5),
		row("2", 4, 2, 300, 2),
		row("3", 100, 90, 9000, 90),
	}
	branches := map[string][]string{"M": {"1", "2"}, "K": {"3"}}

	rep, err := BuildReport("2025-03-01", "2025-03-07", rows, branches, "m")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if rep.Branch != "M" {
		t.Fatalf("Branch = %q, want M", rep.Branch)
	}
	if len(rep.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rep.Rows))
	}
	for _, r := range rep.Rows {
		if r.OperatorID == "3" {
			t.Fatal("operator outside branch M leaked into the report")
		}
	}
	if rep.Totals.Counters.AllCalls != 14 || rep.Totals.Counters.Dialogs != 7 {
		t.Fatalf("totals = %+v, want all 14 dialogs 7", rep.Totals.Counters)
	}
	if rep.Totals.AvgTalk != 114 || rep.Totals.Reach != 50.0 {
		t.Fatalf("avg = %d reach = %.1f, want 114 and 50.0", rep.Totals.AvgTalk, rep.Totals.Reach)
	}
	if rep.Branches != nil {
		t.Fatal("filtered report should not carry per-branch totals")
	}
}

func TestBuildReportCombined(t *testing.T) {
	rows := []model.OperatorTotals{row("1", 10, 5, 500, 5), row("3", 100, 90, 9000, 90), row("7", 1, 0, 0, 0)}
	branches := map[string][]string{"M": {"1"}, "K": {"3"}}

	rep, err := BuildReport("a", "b", rows, branches, "")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if len(rep.Rows) != 3 || rep.Totals.Operators != 3 {
		t.Fatalf("combined report should keep every row, got %d", len(rep.Rows))
	}
	if rep.Rows[0].OperatorID != "3" {
		t.Fatalf("rows not sorted by calls: first = %s", rep.Rows[0].OperatorID)
	}
	if rep.Rows[0].Reach != 90.0 || rep.Rows[0].AvgTalk != 100 {
		t.Fatalf("row ratios not derived: %+v", rep.Rows[0])
	}
	if got := rep.Branches["M"].Counters.AllCalls; got != 10 {
		t.Fatalf("branch M all = %d, want 10", got)
	}
	if got := rep.Branches["K"].Counters.AllCalls; got != 100 {
		t.Fatalf("branch K all = %d, want 100", got)
	}
}

func TestBuildReportUnknownBranch(t *testing.T) {
	_, err := BuildReport("a", "b", nil, map[string][]string{"M": {"1"}}, "Z")
	if !errors.Is(err, ErrUnknownBranch) {
		t.Fatalf("err = %v, want ErrUnknownBranch", err)
	}
}
