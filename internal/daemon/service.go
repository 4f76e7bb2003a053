// Package daemon runs the long-lived metrics service: an HTTP/SSE API over
// the sync coordinator plus scheduled sync and report jobs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/syncer"
)

// Coordinator is the part of *syncer.Coordinator the daemon drives.
type Coordinator interface {
	Today(ctx context.Context) (syncer.DayResult, error)
	Day(ctx context.Context, date string) (syncer.DayResult, error)
	Range(ctx context.Context, start, end, branch string) (model.Report, error)
	Dates(ctx context.Context, start, end string) (model.DateCoverage, error)
	SyncDate(ctx context.Context, date string, force bool) (bool, error)
	SyncRange(ctx context.Context, start, end string) (syncer.BackfillResult, error)
	Backfill(ctx context.Context, start, end string) (syncer.BackfillResult, error)
	BackfillWindow(days int) (string, string)
	RefreshDirectory(ctx context.Context) error
	Live(ctx context.Context) (syncer.Live, error)
	State() syncer.State
	TodayKey() string
	Wait()
}

// Settings is the runtime key/value store.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	Settings(ctx context.Context) (map[string]string, error)
}

// Notifier delivers the daily report.
type Notifier interface {
	SendDaily(ctx context.Context, rep model.Report) error
}

// Schedule holds cron specs for the background jobs. Empty specs disable
// their job.
type Schedule struct {
	Nightly   string
	Today     string
	Directory string
	Report    string
}

// Config controls the daemon runtime behavior.
type Config struct {
	Addr         string
	AdminToken   string
	EventsBuffer int
	BackfillDays int
	Location     *time.Location
	Schedule     Schedule
}

// Event is emitted whenever something observable happens: a sync ran, a
// job failed or a report was sent.
type Event struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Sync      *syncer.SyncEvent `json:"sync,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// Event types.
const (
	EventSync       = "sync"
	EventSyncFailed = "sync_failed"
	EventJobFailed  = "job_failed"
	EventReportSent = "report_sent"
)

// JobStatus describes one scheduled job.
type JobStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitzero"`
	Prev time.Time `json:"prev,omitzero"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time    `json:"started_at"`
	Today           string       `json:"today"`
	LastSyncAt      time.Time    `json:"last_sync_at,omitzero"`
	SyncCount       int64        `json:"sync_count"`
	LastError       string       `json:"last_error,omitempty"`
	Coordinator     syncer.State `json:"coordinator"`
	Jobs            []JobStatus  `json:"jobs"`
	EventCount      int          `json:"event_count"`
	SubscriberCount int          `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg      Config
	coord    Coordinator
	settings Settings
	notifier Notifier
	clock    quartz.Clock
	log      zerolog.Logger

	cron *cron.Cron
	jobs map[string]cron.EntryID
	spec map[string]string
	seed sync.WaitGroup

	mu          sync.RWMutex
	startedAt   time.Time
	lastSyncAt  time.Time
	syncCount   int64
	lastError   string
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// Options are the collaborators of a Service. Settings and Notifier may
// be nil.
type Options struct {
	Coordinator Coordinator
	Settings    Settings
	Notifier    Notifier
	Clock       quartz.Clock
	Logger      zerolog.Logger
}

// New returns a new daemon service.
func New(cfg Config, opts Options) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8790"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.BackfillDays < 1 {
		cfg.BackfillDays = 7
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	return &Service{
		cfg:       cfg,
		coord:     opts.Coordinator,
		settings:  opts.Settings,
		notifier:  opts.Notifier,
		clock:     opts.Clock,
		log:       opts.Logger.With().Str("component", "daemon").Logger(),
		cron:      cron.New(cron.WithLocation(cfg.Location)),
		jobs:      make(map[string]cron.EntryID),
		spec:      make(map[string]string),
		startedAt: opts.Clock.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Run starts HTTP endpoints and the job scheduler until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.scheduleJobs(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.cron.Start()
	s.log.Info().Str("addr", s.cfg.Addr).Int("jobs", len(s.jobs)).Msg("daemon started")

	// seed today's figures so the first API call is warm
	s.seed.Go(func() { s.runToday(ctx) })

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("daemon http server: %w", err)
	}

	<-s.cron.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	s.seed.Wait()
	s.coord.Wait()
	s.log.Info().Msg("daemon stopped")
	return runErr
}

// RecordSync is the coordinator's OnSync hook.
func (s *Service) RecordSync(ev syncer.SyncEvent) {
	typ := EventSync
	s.mu.Lock()
	s.syncCount++
	s.lastSyncAt = s.clock.Now()
	if ev.Err != "" {
		typ = EventSyncFailed
		s.lastError = ev.Date + ": " + ev.Err
	}
	s.mu.Unlock()

	s.publish(typ, &ev, "")
}

func (s *Service) publish(typ string, ev *syncer.SyncEvent, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	s.appendEvent(Event{
		ID:        s.nextEventID,
		Type:      typ,
		Timestamp: s.clock.Now(),
		Sync:      ev,
		Message:   msg,
	})
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEvent(ev)
}

// appendEvent stores ev in the ring and fans it out. s.mu must be held.
func (s *Service) appendEvent(ev Event) {
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	st := Status{
		StartedAt:       s.startedAt,
		LastSyncAt:      s.lastSyncAt,
		SyncCount:       s.syncCount,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
	s.mu.RUnlock()

	st.Today = s.coord.TodayKey()
	st.Coordinator = s.coord.State()
	st.Jobs = s.jobStatuses()
	return st
}

func (s *Service) eventsSince(after int64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
