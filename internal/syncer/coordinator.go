// Package syncer decides when a date's metrics are (re)computed, runs the
// computation and serves cache-aware reads over the store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/pipeline"
	"github.com/theirongolddev/callpulse/internal/reconcile"
	"github.com/theirongolddev/callpulse/internal/sheet"
	"github.com/theirongolddev/callpulse/internal/telephony"
)

// ErrInvalidRange is returned when a range starts after it ends.
var ErrInvalidRange = errors.New("syncer: start is after end")

// CallSource is the telephony side of a sync.
type CallSource interface {
	Calls(ctx context.Context, from, to time.Time, f telephony.CallFilter) ([]model.Call, error)
	LineTime(ctx context.Context, day time.Time) (map[string]int64, error)
	Users(ctx context.Context) ([]telephony.User, error)
}

// LiveSource serves the live dashboard extras.
type LiveSource interface {
	LiveStatus(ctx context.Context, day time.Time) (map[string]telephony.UserStatus, error)
	Contacts(ctx context.Context, from, to time.Time) ([]telephony.Contact, error)
}

// Reconstructor produces CRM counters for a window.
type Reconstructor interface {
	Reconstruct(ctx context.Context, from, to time.Time) reconcile.Result
}

// UserSource lists CRM users, id to name.
type UserSource interface {
	Users(ctx context.Context) (map[string]string, error)
}

// TagSource counts spreadsheet tags for a day.
type TagSource interface {
	Tags(ctx context.Context, day time.Time, r sheet.Resolver) (sheet.Result, error)
}

// Store is the storage the coordinator reads and writes.
type Store interface {
	Upsert(ctx context.Context, date string, records []model.DailyOperatorRecord) error
	RangeAggregate(ctx context.Context, start, end string) ([]model.OperatorTotals, error)
	DayRecords(ctx context.Context, date string) ([]model.DailyOperatorRecord, error)
	HasDate(ctx context.Context, date string) (bool, error)
	ListSyncedDates(ctx context.Context) ([]string, error)
}

// Options wires a Coordinator. Nil sources are disabled and contribute
// nothing.
type Options struct {
	Store     Store
	Telephony CallSource
	Live      LiveSource
	CRM       Reconstructor
	CRMUsers  UserSource
	Sheet     TagSource

	Rules       pipeline.Rules
	CallFilter  telephony.CallFilter
	OperatorMap map[string]string
	Branches    map[string][]string
	PhoneRegion string

	Location *time.Location
	Clock    quartz.Clock
	Cooldown time.Duration
	Logger   zerolog.Logger

	// OnSync, if set, is called after every executed sync.
	OnSync func(SyncEvent)
}

// SyncEvent describes one executed sync.
type SyncEvent struct {
	RunID    string        `json:"run_id"`
	Date     string        `json:"date"`
	Rows     int           `json:"rows"`
	Forced   bool          `json:"forced"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Coordinator owns the debounce gate and the operator directory.
type Coordinator struct {
	opts  Options
	store Store
	gate  *Gate
	dir   *Directory
	loc   *time.Location
	clock quartz.Clock
	log   zerolog.Logger

	bg sync.WaitGroup
}

// New returns a Coordinator.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Coordinator{
		opts:  opts,
		store: opts.Store,
		gate:  NewGate(opts.Clock, opts.Cooldown),
		dir:   NewDirectory(),
		loc:   opts.Location,
		clock: opts.Clock,
		log:   opts.Logger.With().Str("component", "syncer").Logger(),
	}
}

// Directory returns the coordinator's operator directory.
func (c *Coordinator) Directory() *Directory { return c.dir }

// Gate returns the coordinator's debounce gate.
func (c *Coordinator) Gate() *Gate { return c.gate }

// SetOnSync replaces the sync hook. Call it before any sync starts.
func (c *Coordinator) SetOnSync(fn func(SyncEvent)) { c.opts.OnSync = fn }

// Location returns the reporting timezone.
func (c *Coordinator) Location() *time.Location { return c.loc }

// State is a point-in-time view of the coordinator.
type State struct {
	InFlight           []string  `json:"in_flight"`
	DirectorySize      int       `json:"directory_size"`
	DirectorySource    string    `json:"directory_source,omitempty"`
	DirectoryRefreshed time.Time `json:"directory_refreshed_at,omitzero"`
}

// State reports running syncs and directory freshness.
func (c *Coordinator) State() State {
	size, src, at := c.dir.Info()
	return State{
		InFlight:           c.gate.InFlight(),
		DirectorySize:      size,
		DirectorySource:    src,
		DirectoryRefreshed: at,
	}
}

// TodayKey returns today's date key in the reporting timezone.
func (c *Coordinator) TodayKey() string {
	return model.DateKey(c.clock.Now().In(c.loc))
}

// Wait blocks until background refreshes finish.
func (c *Coordinator) Wait() { c.bg.Wait() }

// SyncDate recomputes one date unless it is already running or, without
// force, still cooling down. It reports whether a sync ran.
func (c *Coordinator) SyncDate(ctx context.Context, date string, force bool) (bool, error) {
	key, err := model.NormalizeDateKey(date, c.loc)
	if err != nil {
		return false, err
	}
	if !c.gate.TryAcquire(key, force) {
		c.log.Debug().Str("date", key).Msg("sync suppressed by gate")
		return false, nil
	}
	defer c.gate.Release(key)

	return true, c.run(ctx, key, force)
}

// run performs one sync of key. The caller holds the gate.
func (c *Coordinator) run(ctx context.Context, key string, force bool) error {
	runID := uuid.NewString()
	log := c.log.With().Str("date", key).Str("run_id", runID).Logger()
	started := c.clock.Now()

	ev := SyncEvent{RunID: runID, Date: key, Forced: force}
	defer func() {
		ev.Duration = c.clock.Since(started)
		if c.opts.OnSync != nil {
			c.opts.OnSync(ev)
		}
	}()

	day, err := model.ParseDate(key, c.loc)
	if err != nil {
		ev.Err = err.Error()
		return err
	}
	from, to := model.DayBounds(day, c.loc)

	var (
		calls    []model.Call
		callsErr error
		lineTime map[string]int64
		crm      reconcile.Result
	)
	warn := func(source string, err error) {
		log.Warn().Err(err).Str("source", source).Msg("source failed, continuing with partial data")
		ev.Warnings = append(ev.Warnings, source+": "+err.Error())
	}

	// plain group: one failing source must not cancel the others
	var g errgroup.Group
	if c.opts.Telephony != nil {
		g.Go(func() error {
			calls, callsErr = c.opts.Telephony.Calls(ctx, from, to, c.opts.CallFilter)
			return nil
		})
		g.Go(func() error {
			var err error
			if lineTime, err = c.opts.Telephony.LineTime(ctx, day); err != nil {
				lineTime = nil
				return fmt.Errorf("line time: %w", err)
			}
			return nil
		})
	}
	if c.opts.CRM != nil {
		g.Go(func() error {
			crm = c.opts.CRM.Reconstruct(ctx, from, to)
			return nil
		})
	}
	g.Go(func() error {
		if err := c.RefreshDirectory(ctx); err != nil {
			return fmt.Errorf("directory: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		warn("fetch", err)
	}

	// a failed call list would overwrite stored telephony counters with
	// zeros, so the date is failed instead
	if callsErr != nil {
		log.Error().Err(callsErr).Int("partial_calls", len(calls)).Msg("call list failed, date not written")
		ev.Err = callsErr.Error()
		return fmt.Errorf("fetching calls for %s: %w", key, callsErr)
	}
	for _, e := range crm.Errors {
		warn("crm", e)
	}

	inline := make(map[string]string)
	for _, call := range calls {
		if call.OperatorID != "" && call.OperatorName != "" {
			inline[call.OperatorID] = call.OperatorName
		}
	}
	c.dir.Merge(inline)

	var tags map[string]int64
	if c.opts.Sheet != nil {
		res, err := c.opts.Sheet.Tags(ctx, day, c.dir)
		if err != nil {
			warn("sheet", err)
		} else {
			tags = res.Tags
			if len(res.Unmatched) > 0 {
				log.Warn().Strs("names", res.Unmatched).Msg("sheet names not in directory")
			}
		}
	}

	counters := pipeline.AggregateDay(pipeline.DayInput{
		Calls:    calls,
		LineTime: lineTime,
		CRM:      crm.Counters,
		Tags:     tags,
	}, c.opts.Rules)
	records := pipeline.BuildRecords(key, counters, c.dir, c.clock.Now())

	if err := c.store.Upsert(ctx, key, records); err != nil {
		ev.Err = err.Error()
		log.Error().Err(err).Msg("storing day")
		return fmt.Errorf("storing %s: %w", key, err)
	}
	ev.Rows = len(records)
	log.Info().Int("rows", len(records)).Int("calls", len(calls)).
		Dur("took", c.clock.Since(started)).Msg("date synced")
	return nil
}

// RefreshDirectory rebuilds the operator directory from the telephony user
// list, falling back to CRM users when that fails or is empty.
func (c *Coordinator) RefreshDirectory(ctx context.Context) error {
	var primaryErr error
	if c.opts.Telephony != nil {
		users, err := c.opts.Telephony.Users(ctx)
		if err == nil && len(users) > 0 {
			names := make(map[string]string, len(users))
			for _, u := range users {
				names[string(u.ID)] = u.Name
			}
			c.dir.Replace(names, "telephony", c.clock.Now())
			return nil
		}
		primaryErr = err
	}

	if c.opts.CRMUsers != nil {
		users, err := c.opts.CRMUsers.Users(ctx)
		if err == nil {
			names := make(map[string]string, len(users))
			for id, name := range users {
				if mapped, ok := c.opts.OperatorMap[id]; ok && mapped != "" {
					id = mapped
				}
				names[id] = name
			}
			c.dir.Merge(names)
			return nil
		}
		return errors.Join(primaryErr, err)
	}
	return primaryErr
}

// DayResult is a single-day view.
type DayResult struct {
	Report model.Report `json:"report"`
	// Cached is true when the store already held the date.
	Cached bool `json:"cached"`
	// Refreshing is true when a background refresh was started.
	Refreshing bool `json:"refreshing"`
}

// Today serves today's metrics. Cached data is returned at once and a
// background refresh is triggered; otherwise the day is synced first.
func (c *Coordinator) Today(ctx context.Context) (DayResult, error) {
	return c.Day(ctx, c.TodayKey())
}

// Day serves one date. A past date without rows is synced once in the
// foreground. Only today refreshes in the background and dates after
// today are never fetched.
func (c *Coordinator) Day(ctx context.Context, date string) (DayResult, error) {
	key, err := model.NormalizeDateKey(date, c.loc)
	if err != nil {
		return DayResult{}, err
	}

	var res DayResult
	has, err := c.store.HasDate(ctx, key)
	if err != nil {
		return res, err
	}
	switch {
	case has:
		res.Cached = true
		if key == c.TodayKey() {
			res.Refreshing = c.refreshAsync(ctx, key)
		}
	case key > c.TodayKey():
		c.log.Debug().Str("date", key).Msg("future date, skipping sync")
	default:
		if _, err := c.SyncDate(ctx, key, false); err != nil {
			c.log.Warn().Err(err).Str("date", key).Msg("foreground sync failed")
		}
	}

	records, err := c.store.DayRecords(ctx, key)
	if err != nil {
		return res, err
	}
	rows := make([]model.OperatorTotals, len(records))
	for i, r := range records {
		rows[i] = model.OperatorTotals{OperatorID: r.OperatorID, Name: r.Name, Counters: r.Counters}
	}
	res.Report, err = pipeline.BuildReport(key, key, rows, c.opts.Branches, "")
	if len(records) == 0 {
		res.Report.MissingDates = []string{key}
	}
	return res, err
}

// refreshAsync reserves key and syncs it on a background goroutine. It
// reports whether a refresh was started.
func (c *Coordinator) refreshAsync(ctx context.Context, key string) bool {
	if !c.gate.TryAcquire(key, false) {
		return false
	}
	bgCtx := context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer c.gate.Release(key)
		if err := c.run(bgCtx, key, false); err != nil {
			c.log.Warn().Err(err).Str("date", key).Msg("background refresh failed")
		}
	}()
	return true
}

// BackfillResult reports what a backfill or range sync did.
type BackfillResult struct {
	Requested []string          `json:"requested"`
	Synced    []string          `json:"synced"`
	Skipped   []string          `json:"skipped,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Backfill syncs every date in [start, end] that has no rows, oldest
// first, one at a time. Dates after today are ignored. A failing date is
// logged and the rest continue.
func (c *Coordinator) Backfill(ctx context.Context, start, end string) (BackfillResult, error) {
	keys, err := c.keys(start, end)
	if err != nil {
		return BackfillResult{}, err
	}
	synced, err := c.syncedSet(ctx)
	if err != nil {
		return BackfillResult{}, err
	}

	var missing []string
	for _, k := range keys {
		if !synced[k] {
			missing = append(missing, k)
		}
	}
	return c.syncSerial(ctx, keys, missing, false), nil
}

// SyncRange force-syncs every date in [start, end] up to today, serially.
func (c *Coordinator) SyncRange(ctx context.Context, start, end string) (BackfillResult, error) {
	keys, err := c.keys(start, end)
	if err != nil {
		return BackfillResult{}, err
	}
	return c.syncSerial(ctx, keys, keys, true), nil
}

func (c *Coordinator) syncSerial(ctx context.Context, requested, todo []string, force bool) BackfillResult {
	res := BackfillResult{Requested: requested}
	for _, k := range todo {
		if ctx.Err() != nil {
			res.Skipped = append(res.Skipped, k)
			continue
		}
		ran, err := c.SyncDate(ctx, k, force)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("date", k).Msg("backfill date failed, continuing")
			if res.Failed == nil {
				res.Failed = make(map[string]string)
			}
			res.Failed[k] = err.Error()
		case !ran:
			res.Skipped = append(res.Skipped, k)
		default:
			res.Synced = append(res.Synced, k)
		}
	}
	return res
}

// Range backfills gaps in [start, end] and returns the aggregated report,
// optionally filtered to one branch. Dates still absent afterwards are
// listed in MissingDates.
func (c *Coordinator) Range(ctx context.Context, start, end, branch string) (model.Report, error) {
	bf, err := c.Backfill(ctx, start, end)
	if err != nil {
		return model.Report{}, err
	}
	if len(bf.Requested) == 0 {
		// entirely in the future
		return pipeline.BuildReport(start, end, nil, c.opts.Branches, branch)
	}
	first, last := bf.Requested[0], bf.Requested[len(bf.Requested)-1]

	rows, err := c.store.RangeAggregate(ctx, first, last)
	if err != nil {
		return model.Report{}, err
	}
	rep, err := pipeline.BuildReport(first, last, rows, c.opts.Branches, branch)
	if err != nil {
		return rep, err
	}

	cov, err := c.Dates(ctx, first, last)
	if err != nil {
		return rep, err
	}
	rep.MissingDates = cov.Missing
	return rep, nil
}

// Dates reports which dates in [start, end] up to today have rows.
func (c *Coordinator) Dates(ctx context.Context, start, end string) (model.DateCoverage, error) {
	keys, err := c.keys(start, end)
	if err != nil {
		return model.DateCoverage{}, err
	}
	synced, err := c.syncedSet(ctx)
	if err != nil {
		return model.DateCoverage{}, err
	}

	cov := model.DateCoverage{Present: []string{}, Missing: []string{}}
	if len(keys) > 0 {
		cov.Start, cov.End = keys[0], keys[len(keys)-1]
	}
	for _, k := range keys {
		if synced[k] {
			cov.Present = append(cov.Present, k)
		} else {
			cov.Missing = append(cov.Missing, k)
		}
	}
	return cov, nil
}

// keys expands [start, end] into date keys, clipped at today.
func (c *Coordinator) keys(start, end string) ([]string, error) {
	s, err := model.ParseDate(start, c.loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	e, err := model.ParseDate(end, c.loc)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if s.After(e) {
		return nil, ErrInvalidRange
	}

	today := c.TodayKey()
	var out []string
	for _, k := range model.DateRange(s, e) {
		if k > today {
			break
		}
		out = append(out, k)
	}
	return out, nil
}

func (c *Coordinator) syncedSet(ctx context.Context) (map[string]bool, error) {
	dates, err := c.store.ListSyncedDates(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(dates))
	for _, d := range dates {
		set[d] = true
	}
	return set, nil
}

// Live is the real-time overlay for today's dashboard.
type Live struct {
	Statuses   map[string]string `json:"statuses"`
	NewNumbers int               `json:"new_numbers"`
}

// Live fetches current operator status and today's distinct new numbers.
// It bypasses the store.
func (c *Coordinator) Live(ctx context.Context) (Live, error) {
	out := Live{Statuses: map[string]string{}}
	if c.opts.Live == nil {
		return out, nil
	}
	now := c.clock.Now().In(c.loc)

	st, err := c.opts.Live.LiveStatus(ctx, now)
	for id, s := range st {
		out.Statuses[id] = s.Event
	}
	if err != nil {
		return out, err
	}

	from, to := model.DayBounds(now, c.loc)
	contacts, err := c.opts.Live.Contacts(ctx, from, to)
	out.NewNumbers = telephony.NewNumbers(contacts, c.opts.PhoneRegion)
	return out, err
}

// BackfillWindow returns [today-days+1, today] as date keys.
func (c *Coordinator) BackfillWindow(days int) (string, string) {
	if days <= 0 {
		days = 1
	}
	now := c.clock.Now().In(c.loc)
	return model.DateKey(now.AddDate(0, 0, -(days - 1))), model.DateKey(now)
}

// ParseDays parses a positive day count setting, returning def on failure.
func ParseDays(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
