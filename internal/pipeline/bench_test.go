package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/store"
)

// syntheticDay builds a busy day: ops operators with perOp calls each.
func syntheticDay(ops, perOp int) DayInput {
	statuses := []string{"8", "9", "20", "21", "3", ""}
	in := DayInput{
		LineTime: make(map[string]int64, ops),
		CRM:      make(map[string]model.CRMCounters, ops),
		Tags:     make(map[string]int64, ops),
	}
	start := time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC)
	for o := range ops {
		id := strconv.Itoa(100 + o)
		for i := range perOp {
			in.Calls = append(in.Calls, model.Call{
				ID:         fmt.Sprintf("%s-%d", id, i),
				OperatorID: id,
				Status:     statuses[i%len(statuses)],
				TalkSecs:   int64(i % 240),
				StartedAt:  start.Add(time.Duration(i) * time.Minute),
			})
		}
		in.LineTime[id] = 6 * 3600
		in.CRM[id] = model.CRMCounters{Calls: 12, Agreements: 2}
		in.Tags[id] = 3
	}
	return in
}

func BenchmarkAggregateDay(b *testing.B) {
	in := syntheticDay(60, 400)
	rules := RulesFromConfig(config.DefaultConfig())

	b.ResetTimer()
	for b.Loop() {
		_ = AggregateDay(in, rules)
	}
}

func BenchmarkBuildReport(b *testing.B) {
	rules := RulesFromConfig(config.DefaultConfig())
	counters := AggregateDay(syntheticDay(60, 400), rules)
	rows := make([]model.OperatorTotals, 0, len(counters))
	branches := map[string][]string{}
	for id, c := range counters {
		rows = append(rows, model.OperatorTotals{OperatorID: id, Name: "op " + id, Counters: *c})
		name := "b" + id[len(id)-1:]
		branches[name] = append(branches[name], id)
	}

	b.ResetTimer()
	for b.Loop() {
		if _, err := BuildReport("2025-03-01", "2025-03-07", rows, branches, ""); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStoreRangeAggregate(b *testing.B) {
	st, err := store.Open(b.TempDir() + "/metrics.db")
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	rules := RulesFromConfig(config.DefaultConfig())
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for d := range 90 {
		date := model.DateKey(day.AddDate(0, 0, d))
		recs := BuildRecords(date, AggregateDay(syntheticDay(40, 50), rules), nil, day)
		if err := st.Upsert(ctx, date, recs); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for b.Loop() {
		if _, err := st.RangeAggregate(ctx, "2025-01-01", "2025-03-31"); err != nil {
			b.Fatal(err)
		}
	}
}
