package daemon

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/pipeline"
	"github.com/theirongolddev/callpulse/internal/syncer"
)

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/today", s.handleToday)
		r.Get("/day/{date}", s.handleDay)
		r.Get("/report", s.handleReport)
		r.Get("/dates", s.handleDates)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)
		r.Get("/settings", s.handleSettings)
		r.Get("/settings/{key}", s.handleGetSetting)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/sync", s.handleSync)
			r.Post("/directory/refresh", s.handleDirectoryRefresh)
			r.Put("/settings/{key}", s.handlePutSetting)
		})
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			ev := log.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("request completed")
		})
	}
}

func (s *Service) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeError(w, http.StatusForbidden, errors.New("admin endpoints are disabled"))
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.Header.Get("X-Admin-Token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, syncer.ErrInvalidRange), errors.Is(err, errBadDate):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUnknownBranch):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

var errBadDate = errors.New("bad date")

// rangeParams reads start and end, defaulting both to today.
func (s *Service) rangeParams(r *http.Request) (string, string, error) {
	today := s.coord.TodayKey()
	start := strings.TrimSpace(r.URL.Query().Get("start"))
	end := strings.TrimSpace(r.URL.Query().Get("end"))
	if start == "" {
		start = today
	}
	if end == "" {
		end = start
	}
	var err error
	if start, err = model.NormalizeDateKey(start, s.cfg.Location); err != nil {
		return "", "", fmt.Errorf("%w: %w", errBadDate, err)
	}
	if end, err = model.NormalizeDateKey(end, s.cfg.Location); err != nil {
		return "", "", fmt.Errorf("%w: %w", errBadDate, err)
	}
	return start, end, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus())
}

type todayResponse struct {
	syncer.DayResult
	Live *syncer.Live `json:"live,omitempty"`
}

func (s *Service) handleToday(w http.ResponseWriter, r *http.Request) {
	res, err := s.coord.Today(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := todayResponse{DayResult: res}
	if b, _ := strconv.ParseBool(r.URL.Query().Get("live")); b {
		live, err := s.coord.Live(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("live overlay failed")
		}
		out.Live = &live
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleDay(w http.ResponseWriter, r *http.Request) {
	date, err := model.NormalizeDateKey(chi.URLParam(r, "date"), s.cfg.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.coord.Day(r.Context(), date)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.rangeParams(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	rep, err := s.coord.Range(r.Context(), start, end, r.URL.Query().Get("branch"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Service) handleDates(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.rangeParams(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	cov, err := s.coord.Dates(r.Context(), start, end)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.rangeParams(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	res, err := s.coord.SyncRange(r.Context(), start, end)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleDirectoryRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.RefreshDirectory(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, s.coord.State())
}

func (s *Service) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	all, err := s.settings.Settings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Service) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if s.settings == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("setting %q not found", key))
		return
	}
	v, ok, err := s.settings.GetSetting(r.Context(), key)
	switch {
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case !ok:
		writeError(w, http.StatusNotFound, fmt.Errorf("setting %q not found", key))
	default:
		writeJSON(w, http.StatusOK, setting{Key: key, Value: v})
	}
}

func (s *Service) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("settings store unavailable"))
		return
	}

	var body setting
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	if err := ValidateSetting(key, body.Value); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.settings.SetSetting(r.Context(), key, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, setting{Key: key, Value: body.Value})
}

// ValidateSetting checks a runtime setting before it is stored.
func ValidateSetting(key, value string) error {
	switch key {
	case SettingBackfillDays:
		if n, err := strconv.Atoi(value); err != nil || n < 1 || n > 366 {
			return fmt.Errorf("%s must be an integer in 1..366", key)
		}
	case SettingReportEnabled:
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	writeJSON(w, http.StatusOK, s.eventsSince(after))
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// replay what the client missed
	after, _ := strconv.ParseInt(r.Header.Get("Last-Event-ID"), 10, 64)
	if after > 0 {
		for _, ev := range s.eventsSince(after) {
			writeSSE(w, ev)
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
