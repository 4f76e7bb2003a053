package daemon

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/normalize"
	"github.com/theirongolddev/callpulse/internal/syncer"
)

// SettingBackfillDays overrides Config.BackfillDays at runtime.
const SettingBackfillDays = "backfill_days"

// SettingReportEnabled turns the daily report job off when falsy.
const SettingReportEnabled = "report_enabled"

const jobTimeout = 30 * time.Minute

func (s *Service) scheduleJobs() error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"nightly", s.cfg.Schedule.Nightly, s.runNightly},
		{"today", s.cfg.Schedule.Today, s.runToday},
		{"directory", s.cfg.Schedule.Directory, s.runDirectory},
		{"report", s.cfg.Schedule.Report, s.runReport},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		fn := j.fn
		id, err := s.cron.AddFunc(j.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			fn(ctx)
		})
		if err != nil {
			return fmt.Errorf("scheduling %s job %q: %w", j.name, j.spec, err)
		}
		s.jobs[j.name] = id
		s.spec[j.name] = j.spec
	}
	return nil
}

func (s *Service) jobStatuses() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, JobStatus{Name: name, Spec: s.spec[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// runNightly force-syncs yesterday, whose figures may have been captured
// mid-day, then backfills any gap in the trailing window.
func (s *Service) runNightly(ctx context.Context) {
	days := s.backfillDays(ctx)
	start, end := s.coord.BackfillWindow(days + 1)
	yesterday := s.yesterday()

	if _, err := s.coord.SyncDate(ctx, yesterday, true); err != nil {
		s.jobFailed("nightly", err)
	}
	res, err := s.coord.Backfill(ctx, start, end)
	if err != nil {
		s.jobFailed("nightly", err)
		return
	}
	s.log.Info().Str("start", start).Str("end", end).
		Int("synced", len(res.Synced)).Int("failed", len(res.Failed)).
		Msg("nightly backfill done")
	for date, msg := range res.Failed {
		s.jobFailed("nightly", fmt.Errorf("%s: %s", date, msg))
	}
}

func (s *Service) runToday(ctx context.Context) {
	if _, err := s.coord.SyncDate(ctx, s.coord.TodayKey(), false); err != nil {
		s.jobFailed("today", err)
	}
}

func (s *Service) runDirectory(ctx context.Context) {
	if err := s.coord.RefreshDirectory(ctx); err != nil {
		s.jobFailed("directory", err)
	}
}

func (s *Service) runReport(ctx context.Context) {
	if s.notifier == nil || !s.reportEnabled(ctx) {
		return
	}
	today := s.coord.TodayKey()
	if _, err := s.coord.SyncDate(ctx, today, true); err != nil {
		s.jobFailed("report", err)
	}
	res, err := s.coord.Day(ctx, today)
	if err != nil {
		s.jobFailed("report", err)
		return
	}
	if err := s.notifier.SendDaily(ctx, res.Report); err != nil {
		s.jobFailed("report", err)
		return
	}
	s.publish(EventReportSent, nil, today)
}

func (s *Service) jobFailed(job string, err error) {
	s.log.Warn().Err(err).Str("job", job).Msg("job failed")
	msg := job + ": " + err.Error()
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.publish(EventJobFailed, nil, msg)
}

func (s *Service) yesterday() string {
	return model.DateKey(s.clock.Now().In(s.cfg.Location).AddDate(0, 0, -1))
}

func (s *Service) backfillDays(ctx context.Context) int {
	if s.settings == nil {
		return s.cfg.BackfillDays
	}
	v, ok, err := s.settings.GetSetting(ctx, SettingBackfillDays)
	if err != nil || !ok {
		return s.cfg.BackfillDays
	}
	return syncer.ParseDays(v, s.cfg.BackfillDays)
}

func (s *Service) reportEnabled(ctx context.Context) bool {
	if s.settings == nil {
		return true
	}
	v, ok, err := s.settings.GetSetting(ctx, SettingReportEnabled)
	if err != nil || !ok {
		return true
	}
	return normalize.Truthy(v)
}
