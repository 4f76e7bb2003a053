// Package sheet reads manual call-quality tags from a spreadsheet published
// as CSV.
package sheet

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theirongolddev/callpulse/internal/model"
	"github.com/theirongolddev/callpulse/internal/normalize"
)

const (
	requestTimeout = 30 * time.Second
	maxBodySize    = 16 << 20 // 16 MB
)

// ErrNotConfigured is returned by a nil client.
var ErrNotConfigured = errors.New("sheet: not configured")

// Accepted header synonyms, compared after normalize.Header.
var (
	dateHeaders     = []string{"дата", "date", "день", "day"}
	operatorHeaders = []string{"оператор", "сотрудник", "фио", "operator", "employee", "name"}
	flagHeaders     = []string{"тег", "метка", "цк", "цклид", "tag", "tagged", "flag"}
)

// Resolver maps a free-text operator name onto an operator id.
type Resolver interface {
	ResolveName(name string) (string, bool)
}

// Result is the per-operator tag count for one day.
type Result struct {
	Tags      map[string]int64
	Unmatched []string
}

// Client fetches the CSV export. A nil *Client returns ErrNotConfigured.
type Client struct {
	url  string
	http *http.Client
	loc  *time.Location
}

// NewClient returns nil if csvURL is empty.
func NewClient(csvURL string, loc *time.Location, hc *http.Client) *Client {
	csvURL = strings.TrimSpace(csvURL)
	if csvURL == "" {
		return nil
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{url: csvURL, http: hc, loc: loc}
}

// Tags downloads the sheet and counts tagged rows for day per operator.
func (c *Client) Tags(ctx context.Context, day time.Time, r Resolver) (Result, error) {
	if c == nil {
		return Result{}, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("sheet: creating request: %w", err)
	}
	resp, err := c.http.Do(req) //nolint:gosec // URL comes from local config
	if err != nil {
		return Result{}, fmt.Errorf("sheet: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("sheet: unexpected status %d", resp.StatusCode)
	}
	return Parse(io.LimitReader(resp.Body, maxBodySize), model.DateKey(day.In(c.loc)), c.loc, r)
}

// Parse counts tagged rows dated dateKey. Rows whose operator name does not
// resolve are reported in Unmatched.
func Parse(rd io.Reader, dateKey string, loc *time.Location, r Resolver) (Result, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return Result{}, fmt.Errorf("sheet: reading header: %w", err)
	}
	dateCol := column(header, dateHeaders)
	nameCol := column(header, operatorHeaders)
	flagCol := column(header, flagHeaders)
	if dateCol < 0 || nameCol < 0 || flagCol < 0 {
		return Result{}, fmt.Errorf("sheet: missing columns in header %q", header)
	}

	res := Result{Tags: make(map[string]int64)}
	seenUnmatched := make(map[string]bool)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("sheet: reading row: %w", err)
		}
		if len(rec) <= max(dateCol, nameCol, flagCol) {
			continue
		}
		if !sameDay(rec[dateCol], dateKey, loc) || !normalize.Truthy(rec[flagCol]) {
			continue
		}

		name := strings.TrimSpace(rec[nameCol])
		id, ok := r.ResolveName(name)
		if !ok {
			if key := normalize.Name(name); key != "" && !seenUnmatched[key] {
				seenUnmatched[key] = true
				res.Unmatched = append(res.Unmatched, name)
			}
			continue
		}
		res.Tags[id]++
	}
	return res, nil
}

func column(header []string, synonyms []string) int {
	for i, h := range header {
		h = normalize.Header(h)
		for _, s := range synonyms {
			if h == normalize.Header(s) {
				return i
			}
		}
	}
	return -1
}

// sameDay accepts a bare date or a date followed by a time.
func sameDay(cell, dateKey string, loc *time.Location) bool {
	fields := strings.Fields(cell)
	if len(fields) == 0 {
		return false
	}
	key, err := model.NormalizeDateKey(fields[0], loc)
	return err == nil && key == dateKey
}
