// Package telephony is a client for the call-center telephony CRM: calls,
// live operator status, line occupancy, contacts, users and campaigns.
package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/time/rate"

	"github.com/theirongolddev/callpulse/internal/model"
)

const (
	requestTimeout  = 30 * time.Second
	maxBodySize     = 32 << 20 // 32 MB
	defaultPageSize = 1000
	maxPages        = 200

	// queryLayout is the API's date-time parameter format.
	queryLayout = "02-01-2006 15:04"
)

var (
	// ErrUnauthorized indicates the API token was rejected.
	ErrUnauthorized = errors.New("telephony: unauthorized")
	// ErrNotConfigured is returned by a nil client.
	ErrNotConfigured = errors.New("telephony: not configured")
)

// Options configures a Client.
type Options struct {
	BaseURL  string
	Token    string
	PageSize int
	Location *time.Location

	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// Client talks to the telephony CRM. A nil *Client is valid and returns
// ErrNotConfigured from every method.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	loc      *time.Location
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient returns nil if the base URL or token is empty.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	token := strings.TrimSpace(opts.Token)
	if base == "" || token == "" {
		return nil
	}

	c := &Client{
		baseURL:  base,
		token:    token,
		pageSize: opts.PageSize,
		loc:      opts.Location,
		http:     opts.HTTPClient,
		limiter:  opts.Limiter,
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 5)
	}
	return c
}

// Calls returns every call started in [from, to], following pagination.
// On a mid-walk failure the calls fetched so far are returned with the error.
func (c *Client) Calls(ctx context.Context, from, to time.Time, f CallFilter) ([]model.Call, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	params := c.window(from, to)
	for _, op := range f.Operators {
		params.Add("operators[]", op)
	}
	for _, st := range f.Statuses {
		params.Add("client_statuses[]", st)
	}
	for _, id := range f.Campaigns {
		params.Add("campaigns[]", strconv.Itoa(id))
	}

	items, err := list[CallItem](ctx, c, "/call/list", params)
	calls := make([]model.Call, 0, len(items))
	for _, it := range items {
		if it.TalkDuration < 0 {
			it.TalkDuration = 0
		}
		calls = append(calls, model.Call{
			ID:           string(it.ID),
			OperatorID:   string(it.Operator.ID),
			OperatorName: strings.TrimSpace(it.Operator.Name),
			Status:       string(it.ClientStatus),
			TalkSecs:     it.TalkDuration,
			StartedAt:    c.parseTime(it.StartAt),
		})
	}
	return calls, err
}

// LiveStatus returns each operator's current event for today, keyed by
// operator id.
func (c *Client) LiveStatus(ctx context.Context, day time.Time) (map[string]UserStatus, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	start, end := model.DayBounds(day, c.loc)
	items, err := list[UserStatus](ctx, c, "/user_report/list", c.window(start, end))

	out := make(map[string]UserStatus, len(items))
	for _, it := range items {
		if it.ID == "" || it.Event == "" {
			continue
		}
		out[string(it.ID)] = it
	}
	return out, err
}

// LineTime returns occupied line seconds per operator for one day.
func (c *Client) LineTime(ctx context.Context, day time.Time) (map[string]int64, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	start, end := model.DayBounds(day, c.loc)
	items, err := list[LineTime](ctx, c, "/user_report/line_time", c.window(start, end))

	out := make(map[string]int64, len(items))
	for _, it := range items {
		if it.ID == "" || it.LineTime <= 0 {
			continue
		}
		out[string(it.ID)] += it.LineTime
	}
	return out, err
}

// Contacts returns contacts created in [from, to].
func (c *Client) Contacts(ctx context.Context, from, to time.Time) ([]Contact, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	return list[Contact](ctx, c, "/contact/list", c.window(from, to))
}

// Users returns the operator directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	return list[User](ctx, c, "/user/list", url.Values{})
}

// Campaigns returns every dialing campaign.
func (c *Client) Campaigns(ctx context.Context) ([]Campaign, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	return list[Campaign](ctx, c, "/campaign/list", url.Values{})
}

// NewNumbers counts distinct phone numbers among contacts after E.164
// normalization. Numbers that fail to parse are compared by their digits.
func NewNumbers(contacts []Contact, region string) int {
	seen := make(map[string]struct{}, len(contacts))
	for _, ct := range contacts {
		if key := phoneKey(ct.Phone, region); key != "" {
			seen[key] = struct{}{}
		}
	}
	return len(seen)
}

func phoneKey(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if num, err := phonenumbers.Parse(raw, region); err == nil && phonenumbers.IsValidNumber(num) {
		return phonenumbers.Format(num, phonenumbers.E164)
	}
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
}

func (c *Client) window(from, to time.Time) url.Values {
	v := url.Values{}
	v.Set("start_at", from.In(c.loc).Format(queryLayout))
	v.Set("end_at", to.In(c.loc).Format(queryLayout))
	return v
}

var timeLayouts = []string{
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func (c *Client) parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// list walks page=1.. until a short page. Items fetched before an error
// are returned alongside it.
func list[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	var all []T
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(pageNum))
		q.Set("limit", strconv.Itoa(c.pageSize))

		body, err := c.get(ctx, path, q)
		if err != nil {
			return all, err
		}

		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return all, fmt.Errorf("telephony: parsing %s page %d: %w", path, pageNum, err)
		}
		all = append(all, p.Items...)
		if len(p.Items) < c.pageSize {
			break
		}
	}
	return all, nil
}

// get performs an authenticated GET request and returns the response body.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("telephony: rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("telephony: creating request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req) //nolint:gosec // base URL comes from local config
	if err != nil {
		return nil, fmt.Errorf("telephony: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNoContent:
		return []byte(`{"items":[]}`), nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("telephony: %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("telephony: reading response: %w", err)
	}
	return body, nil
}
