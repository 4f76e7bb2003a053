package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/theirongolddev/callpulse/internal/model"
)

// ErrUnknownBranch is returned for a branch name not in the configuration.
var ErrUnknownBranch = errors.New("pipeline: unknown branch")

// BuildReport derives ratios for rows and assembles a report. With a branch
// name only that branch's operators are kept and totals come from them
// alone; without one every row is kept and each branch gets its own totals.
func BuildReport(start, end string, rows []model.OperatorTotals, branches map[string][]string, branch string) (model.Report, error) {
	rep := model.Report{Start: start, End: end}

	if branch = strings.TrimSpace(branch); branch != "" {
		name, ids, ok := lookupBranch(branches, branch)
		if !ok {
			return rep, fmt.Errorf("%w: %q", ErrUnknownBranch, branch)
		}
		rep.Branch = name
		rows = filterRows(rows, ids)
	}

	rep.Rows = make([]model.OperatorTotals, len(rows))
	for i, r := range rows {
		r.Derive()
		rep.Rows[i] = r
	}
	sortRows(rep.Rows)
	rep.Totals = Sum(rep.Rows)

	if rep.Branch == "" && len(branches) > 0 {
		rep.Branches = make(map[string]model.Totals, len(branches))
		for name, ids := range branches {
			rep.Branches[name] = Sum(filterRows(rep.Rows, ids))
		}
	}
	return rep, nil
}

// Sum adds rows together and derives ratios from the sums.
func Sum(rows []model.OperatorTotals) model.Totals {
	var t model.Totals
	for _, r := range rows {
		t.Operators++
		t.Counters.Add(r.Counters)
	}
	t.AvgTalk = t.Counters.AvgTalk()
	t.Reach = t.Counters.Reach()
	return t
}

func lookupBranch(branches map[string][]string, name string) (string, []string, bool) {
	if ids, ok := branches[name]; ok {
		return name, ids, true
	}
	for k, ids := range branches {
		if strings.EqualFold(k, name) {
			return k, ids, true
		}
	}
	return "", nil, false
}

func filterRows(rows []model.OperatorTotals, ids []string) []model.OperatorTotals {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[strings.TrimSpace(id)] = true
	}
	out := make([]model.OperatorTotals, 0, len(ids))
	for _, r := range rows {
		if set[r.OperatorID] {
			out = append(out, r)
		}
	}
	return out
}

// sortRows orders by all calls descending, then operator id.
func sortRows(rows []model.OperatorTotals) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Counters.AllCalls != rows[j].Counters.AllCalls {
			return rows[i].Counters.AllCalls > rows[j].Counters.AllCalls
		}
		return rows[i].OperatorID < rows[j].OperatorID
	})
}
