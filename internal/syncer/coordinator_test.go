package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/config"
	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/pipeline"
	"github.com/theirongolddev/callpulse/internal/reconcile"
	"github.com/theirongolddev/callpulse/internal/sheet"
	"github.com/theirongolddev/callpulse/internal/store"
	"github.com/theirongolddev/callpulse/internal/telephony"
)

var testNow = time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC)

type fakeTelephony struct {
	mu       sync.Mutex
	calls    map[string][]model.Call // by date key
	lineTime map[string]int64
	users    []telephony.User
	usersErr error
	failOn   map[string]bool
	runs     atomic.Int32
}

func (f *fakeTelephony) Calls(_ context.Context, from, _ time.Time, _ telephony.CallFilter) ([]model.Call, error) {
	f.runs.Add(1)
	key := model.DateKey(from)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[key] {
		return nil, errors.New("telephony unavailable")
	}
	return f.calls[key], nil
}

func (f *fakeTelephony) LineTime(context.Context, time.Time) (map[string]int64, error) {
	return f.lineTime, nil
}

func (f *fakeTelephony) Users(context.Context) ([]telephony.User, error) {
	return f.users, f.usersErr
}

type fakeCRM struct {
	counters map[string]model.CRMCounters
}

func (f fakeCRM) Reconstruct(context.Context, time.Time, time.Time) reconcile.Result {
	return reconcile.Result{Counters: f.counters}
}

type fakeCRMUsers map[string]string

func (f fakeCRMUsers) Users(context.Context) (map[string]string, error) { return f, nil }

type fakeSheet struct {
	names map[string]int64 // sheet name -> tagged rows
}

func (f fakeSheet) Tags(_ context.Context, _ time.Time, r sheet.Resolver) (sheet.Result, error) {
	res := sheet.Result{Tags: map[string]int64{}}
	for name, n := range f.names {
		id, ok := r.ResolveName(name)
		if !ok {
			res.Unmatched = append(res.Unmatched, name)
			continue
		}
		res.Tags[id] += n
	}
	return res, nil
}

func testRules() pipeline.Rules {
	return pipeline.Rules{
		Substantive:     config.NewStatusSet("8", "9", "20", "21"),
		Agreement:       "8",
		Transfer:        "20",
		LeadAgent:       "21",
		DialogFloorSecs: 20,
	}
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *quartz.Mock, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	clock := quartz.NewMock(t)
	clock.Set(testNow)

	opts.Store = s
	opts.Clock = clock
	opts.Location = time.UTC
	opts.Logger = zerolog.Nop()
	if opts.Rules.Substantive == nil {
		opts.Rules = testRules()
	}
	return New(opts), clock, s
}

func call(op, status string, secs int64) model.Call {
	return model.Call{OperatorID: op, OperatorName: "Op " + op, Status: status, TalkSecs: secs}
}

func TestSyncDateConcurrentRequestsRunOnce(t *testing.T) {
	tel := &fakeTelephony{calls: map[string][]model.Call{"2025-03-07": {call("1", "8", 60)}}}
	c, _, _ := newTestCoordinator(t, Options{Telephony: tel})

	var wg sync.WaitGroup
	var ran atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.SyncDate(context.Background(), "2025-03-07", false)
			if err != nil {
				t.Errorf("SyncDate: %v", err)
			}
			if ok {
				ran.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := ran.Load(); got != 1 {
		t.Fatalf("syncs executed = %d, want 1", got)
	}
	if got := tel.runs.Load(); got != 1 {
		t.Fatalf("upstream call fetches = %d, want 1", got)
	}
}

func TestSyncDateCooldownAndForce(t *testing.T) {
	tel := &fakeTelephony{}
	c, clock, _ := newTestCoordinator(t, Options{Telephony: tel, Cooldown: 50 * time.Second})
	ctx := context.Background()

	if ok, _ := c.SyncDate(ctx, "07.03.2025", false); !ok {
		t.Fatal("first sync suppressed")
	}

	clock.Advance(10 * time.Second)
	if ok, _ := c.SyncDate(ctx, "2025-03-07", false); ok {
		t.Fatal("sync 10s after completion should be suppressed")
	}
	if ok, _ := c.SyncDate(ctx, "2025-03-07", true); !ok {
		t.Fatal("forced sync should bypass the cooldown")
	}

	clock.Advance(60 * time.Second)
	if ok, _ := c.SyncDate(ctx, "2025-03-07", false); !ok {
		t.Fatal("sync 60s after completion should proceed")
	}
	if got := tel.runs.Load(); got != 3 {
		t.Fatalf("upstream call fetches = %d, want 3", got)
	}
}

func TestSyncDateMergesEverySource(t *testing.T) {
	tel := &fakeTelephony{
		calls: map[string][]model.Call{"2025-03-07": {
			call("1", "8", 60),
			call("1", "30", 5),
		}},
		lineTime: map[string]int64{"2": 3600},
		users: []telephony.User{
			{ID: "1", Name: "Anna Ivanova"},
			{ID: "2", Name: "Boris Orlov"},
			{ID: "4", Name: "Daria Sokolova"},
		},
	}
	c, _, s := newTestCoordinator(t, Options{
		Telephony: tel,
		CRM:       fakeCRM{counters: map[string]model.CRMCounters{"3": {DealsWon: 1, Revenue: 5000}}},
		Sheet:     fakeSheet{names: map[string]int64{"daria  SOKOLOVA": 2, "Stranger": 1}},
	})
	ctx := context.Background()

	if _, err := c.SyncDate(ctx, "2025-03-07", false); err != nil {
		t.Fatalf("SyncDate: %v", err)
	}
	got, err := s.DayRecords(ctx, "2025-03-07")
	if err != nil {
		t.Fatalf("DayRecords: %v", err)
	}

	ids := make([]string, len(got))
	byID := make(map[string]model.DailyOperatorRecord)
	for i, r := range got {
		ids[i] = r.OperatorID
		byID[r.OperatorID] = r
	}
	if !slices.Equal(ids, []string{"1", "2", "3", "4"}) {
		t.Fatalf("operators = %v, want [1 2 3 4]", ids)
	}

	if r := byID["1"]; r.Counters.AllCalls != 2 || r.Counters.Dialogs != 1 || r.Counters.Agreement != 1 || r.Name != "Anna Ivanova" {
		t.Fatalf("operator 1 = %+v", r)
	}
	if r := byID["2"]; r.Counters.LineTime != 3600 {
		t.Fatalf("operator 2 line time = %d, want 3600", r.Counters.LineTime)
	}
	if r := byID["3"]; r.Counters.Revenue != 5000 || r.Name != "3" {
		t.Fatalf("operator 3 = %+v, want revenue 5000 and id as name", r)
	}
	if r := byID["4"]; r.Counters.Tagged != 2 {
		t.Fatalf("operator 4 tagged = %d, want 2", r.Counters.Tagged)
	}
}

func TestSyncDateIsIdempotent(t *testing.T) {
	tel := &fakeTelephony{calls: map[string][]model.Call{"2025-03-07": {call("1", "8", 60), call("2", "9", 10)}}}
	c, _, s := newTestCoordinator(t, Options{Telephony: tel})
	ctx := context.Background()

	if _, err := c.SyncDate(ctx, "2025-03-07", true); err != nil {
		t.Fatalf("SyncDate: %v", err)
	}
	first, _ := s.DayRecords(ctx, "2025-03-07")
	if _, err := c.SyncDate(ctx, "2025-03-07", true); err != nil {
		t.Fatalf("SyncDate: %v", err)
	}
	second, _ := s.DayRecords(ctx, "2025-03-07")

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("re-sync changed stored rows (-first +second):\n%s", diff)
	}
}

func TestSyncDateCallFailureLeavesDateUnwritten(t *testing.T) {
	tel := &fakeTelephony{failOn: map[string]bool{"2025-03-07": true}}
	var events []SyncEvent
	c, _, s := newTestCoordinator(t, Options{
		Telephony: tel,
		OnSync:    func(ev SyncEvent) { events = append(events, ev) },
	})
	ctx := context.Background()

	ran, err := c.SyncDate(ctx, "2025-03-07", false)
	if !ran || err == nil {
		t.Fatalf("SyncDate = %v, %v; want ran with error", ran, err)
	}
	if has, _ := s.HasDate(ctx, "2025-03-07"); has {
		t.Fatal("failed date was written")
	}
	if len(events) != 1 || events[0].Err == "" || events[0].RunID == "" {
		t.Fatalf("events = %+v, want one failed event with a run id", events)
	}
}

func TestRangeReportsDatesThatFailedToBackfill(t *testing.T) {
	tel := &fakeTelephony{
		calls: map[string][]model.Call{
			"2025-03-05": {call("1", "8", 100), call("1", "9", 5)},
			"2025-03-07": {call("1", "8", 40)},
		},
		failOn: map[string]bool{"2025-03-06": true},
	}
	c, _, _ := newTestCoordinator(t, Options{Telephony: tel})

	rep, err := c.Range(context.Background(), "05.03.2025", "07.03.2025", "")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if !slices.Equal(rep.MissingDates, []string{"2025-03-06"}) {
		t.Fatalf("MissingDates = %v, want [2025-03-06]", rep.MissingDates)
	}
	if len(rep.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rep.Rows))
	}
	got := rep.Rows[0]
	if got.Counters.AllCalls != 3 || got.Counters.Dialogs != 2 || got.AvgTalk != 70 {
		t.Fatalf("row = %+v, want 3 calls, 2 dialogs, avg 70", got)
	}
	if rep.Start != "2025-03-05" || rep.End != "2025-03-07" {
		t.Fatalf("report window = %s..%s", rep.Start, rep.End)
	}
}

func TestRangeRejectsReversedBounds(t *testing.T) {
	c, _, _ := newTestCoordinator(t, Options{})
	if _, err := c.Range(context.Background(), "2025-03-07", "2025-03-01", ""); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("err = %v, want ErrInvalidRange", err)
	}
}

func TestBackfillSkipsStoredAndFutureDates(t *testing.T) {
	tel := &fakeTelephony{calls: map[string][]model.Call{"2025-03-06": {call("1", "8", 60)}}}
	c, _, _ := newTestCoordinator(t, Options{Telephony: tel})
	ctx := context.Background()

	if _, err := c.SyncDate(ctx, "2025-03-06", false); err != nil {
		t.Fatalf("SyncDate: %v", err)
	}
	res, err := c.Backfill(ctx, "2025-03-05", "2025-03-10")
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if !slices.Equal(res.Requested, []string{"2025-03-05", "2025-03-06", "2025-03-07"}) {
		t.Fatalf("Requested = %v", res.Requested)
	}
	// empty days store nothing and are attempted again on the next backfill
	if !slices.Equal(res.Synced, []string{"2025-03-05", "2025-03-07"}) {
		t.Fatalf("Synced = %v", res.Synced)
	}

	cov, err := c.Dates(ctx, "2025-03-05", "2025-03-10")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if !slices.Equal(cov.Present, []string{"2025-03-06"}) || !slices.Equal(cov.Missing, []string{"2025-03-05", "2025-03-07"}) {
		t.Fatalf("coverage = %+v", cov)
	}
}

func TestTodayServesCacheAndRefreshesInBackground(t *testing.T) {
	tel := &fakeTelephony{calls: map[string][]model.Call{"2025-03-07": {call("1", "8", 60)}}}
	c, clock, _ := newTestCoordinator(t, Options{Telephony: tel})
	ctx := context.Background()

	res, err := c.Today(ctx)
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if res.Cached || res.Refreshing {
		t.Fatalf("first Today = cached %v refreshing %v, want a foreground sync", res.Cached, res.Refreshing)
	}
	if res.Report.Totals.Counters.AllCalls != 1 {
		t.Fatalf("AllCalls = %d, want 1", res.Report.Totals.Counters.AllCalls)
	}

	clock.Advance(time.Minute)
	tel.mu.Lock()
	tel.calls["2025-03-07"] = append(tel.calls["2025-03-07"], call("1", "9", 5))
	tel.mu.Unlock()

	res, err = c.Today(ctx)
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if !res.Cached || !res.Refreshing {
		t.Fatalf("second Today = cached %v refreshing %v, want cached with refresh", res.Cached, res.Refreshing)
	}
	c.Wait()

	res, _ = c.Today(ctx)
	if res.Refreshing {
		t.Fatal("refresh started again inside the cooldown")
	}
	if res.Report.Totals.Counters.AllCalls != 2 {
		t.Fatalf("AllCalls after refresh = %d, want 2", res.Report.Totals.Counters.AllCalls)
	}
	if got := tel.runs.Load(); got != 2 {
		t.Fatalf("upstream call fetches = %d, want 2", got)
	}
}

func TestDaySyncsMissingPastDateOnce(t *testing.T) {
	tel := &fakeTelephony{calls: map[string][]model.Call{"2025-03-05": {call("1", "8", 60), call("2", "9", 30)}}}
	c, clock, _ := newTestCoordinator(t, Options{Telephony: tel})
	ctx := context.Background()

	res, err := c.Day(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if res.Cached || res.Refreshing {
		t.Fatalf("first Day = cached %v refreshing %v, want a foreground sync", res.Cached, res.Refreshing)
	}
	if len(res.Report.Rows) != 2 || len(res.Report.MissingDates) != 0 {
		t.Fatalf("report = %d rows, missing %v", len(res.Report.Rows), res.Report.MissingDates)
	}

	clock.Advance(time.Hour)
	res, err = c.Day(ctx, "2025-03-05")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if !res.Cached || res.Refreshing {
		t.Fatalf("second Day = cached %v refreshing %v, want cached without refresh", res.Cached, res.Refreshing)
	}
	c.Wait()
	if got := tel.runs.Load(); got != 1 {
		t.Fatalf("upstream call fetches = %d, want 1", got)
	}
}

func TestDayDoesNotSyncFutureDates(t *testing.T) {
	tel := &fakeTelephony{calls: map[string][]model.Call{"2099-01-01": {call("1", "8", 60)}}}
	c, _, _ := newTestCoordinator(t, Options{Telephony: tel})

	res, err := c.Day(context.Background(), "2099-01-01")
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	c.Wait()
	if got := tel.runs.Load(); got != 0 {
		t.Fatalf("upstream call fetches = %d, want 0", got)
	}
	if res.Cached || res.Refreshing || len(res.Report.Rows) != 0 {
		t.Fatalf("future Day = %+v", res)
	}
	if !slices.Equal(res.Report.MissingDates, []string{"2099-01-01"}) {
		t.Fatalf("MissingDates = %v", res.Report.MissingDates)
	}
}

func TestDirectoryFallsBackToCRMUsers(t *testing.T) {
	tel := &fakeTelephony{usersErr: errors.New("forbidden")}
	c, _, _ := newTestCoordinator(t, Options{
		Telephony:   tel,
		CRMUsers:    fakeCRMUsers{"9001": "Elena Kim", "9002": "Unmapped"},
		OperatorMap: map[string]string{"9001": "15"},
	})

	if err := c.RefreshDirectory(context.Background()); err != nil {
		t.Fatalf("RefreshDirectory: %v", err)
	}
	if got := c.Directory().Name("15"); got != "Elena Kim" {
		t.Fatalf("Name(15) = %q, want Elena Kim", got)
	}
	if got := c.Directory().Name("9002"); got != "Unmapped" {
		t.Fatalf("Name(9002) = %q, want Unmapped", got)
	}
}
