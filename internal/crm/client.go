// Package crm is a client for the sales CRM REST API (v4): leads, events,
// notes and users, with OAuth token refresh and bounded retries.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Retry ceilings for one logical request.
const (
	MaxNetworkRetries   = 3
	MaxTokenRefreshes   = 1
	MaxRateLimitRetries = 5
)

const (
	// PageLimit is the largest page and id-filter size the API accepts.
	PageLimit = 250
	// eventsPageLimit is the events endpoint's page ceiling.
	eventsPageLimit = 100

	requestTimeout = 30 * time.Second
	refreshTimeout = 20 * time.Second
	maxBodySize    = 16 << 20 // 16 MB
	maxPages       = 500
)

var (
	// ErrUnauthorized indicates the access token was rejected and could not be refreshed.
	ErrUnauthorized = errors.New("crm: unauthorized")
	// ErrForbidden indicates the token lacks rights for the endpoint.
	ErrForbidden = errors.New("crm: forbidden")
	// ErrRateLimited indicates 429 persisted past MaxRateLimitRetries.
	ErrRateLimited = errors.New("crm: rate limited")
	// ErrNotConfigured is returned by a nil client.
	ErrNotConfigured = errors.New("crm: not configured")
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// LongToken, when set, is used as a non-refreshable access token.
	LongToken    string
	TokensFile   string
	UsersMapFile string

	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Logger     zerolog.Logger
}

// Client talks to the sales CRM. A nil *Client is valid and returns
// ErrNotConfigured from every method.
type Client struct {
	opts    Options
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	tokens   Tokens
	longLive bool
}

// NewClient returns nil when no base URL or no access token is available.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil
	}

	c := &Client{
		opts:    opts,
		baseURL: base,
		http:    opts.HTTPClient,
		limiter: opts.Limiter,
		log:     opts.Logger.With().Str("component", "crm").Logger(),
		sleep:   sleepCtx,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.limiter == nil {
		// the API allows 7 requests per second per integration
		c.limiter = rate.NewLimiter(rate.Limit(6), 2)
	}

	if long := strings.TrimSpace(opts.LongToken); long != "" {
		c.tokens = Tokens{AccessToken: long}
		c.longLive = true
		return c
	}

	tokens, err := LoadTokens(opts.TokensFile)
	if err != nil || tokens.AccessToken == "" {
		return nil
	}
	c.tokens = tokens
	return c
}

// LoadTokens reads an OAuth token file.
func LoadTokens(path string) (Tokens, error) {
	var t Tokens
	if path == "" {
		return t, errors.New("crm: no tokens file")
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from local config
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("crm: parsing tokens file: %w", err)
	}
	return t, nil
}

// SaveTokens writes an OAuth token file with owner-only permissions.
func SaveTokens(path string, t Tokens) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Leads fetches leads by id in chunks of PageLimit. Leads fetched before an
// error are returned with it.
func (c *Client) Leads(ctx context.Context, ids []int64) ([]Lead, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	var out []Lead
	for _, chunk := range chunks(ids, PageLimit) {
		q := url.Values{}
		for _, id := range chunk {
			q.Add("filter[id][]", strconv.FormatInt(id, 10))
		}
		err := c.walk(ctx, "/api/v4/leads", q, PageLimit, func(p *halPage) int {
			out = append(out, p.Embedded.Leads...)
			return len(p.Embedded.Leads)
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// LeadsCreated returns leads created in [from, to].
func (c *Client) LeadsCreated(ctx context.Context, from, to time.Time) ([]Lead, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("filter[created_at][from]", strconv.FormatInt(from.Unix(), 10))
	q.Set("filter[created_at][to]", strconv.FormatInt(to.Unix(), 10))

	var out []Lead
	err := c.walk(ctx, "/api/v4/leads", q, PageLimit, func(p *halPage) int {
		out = append(out, p.Embedded.Leads...)
		return len(p.Embedded.Leads)
	})
	return out, err
}

// Events pages through events of the given types created in [from, to],
// calling fn for each. A failing page ends the walk with its error; events
// already delivered stay delivered.
func (c *Client) Events(ctx context.Context, types []string, from, to time.Time, fn func(Event)) error {
	if c == nil {
		return ErrNotConfigured
	}

	q := url.Values{}
	for _, t := range types {
		q.Add("filter[type][]", t)
	}
	q.Set("filter[created_at][from]", strconv.FormatInt(from.Unix(), 10))
	q.Set("filter[created_at][to]", strconv.FormatInt(to.Unix(), 10))

	return c.walk(ctx, "/api/v4/events", q, eventsPageLimit, func(p *halPage) int {
		for _, ev := range p.Embedded.Events {
			fn(ev)
		}
		return len(p.Embedded.Events)
	})
}

// Notes batch-fetches lead notes by id.
func (c *Client) Notes(ctx context.Context, ids []int64) ([]Note, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	var out []Note
	for _, chunk := range chunks(ids, PageLimit) {
		q := url.Values{}
		for _, id := range chunk {
			q.Add("filter[id][]", strconv.FormatInt(id, 10))
		}
		err := c.walk(ctx, "/api/v4/leads/notes", q, PageLimit, func(p *halPage) int {
			out = append(out, p.Embedded.Notes...)
			return len(p.Embedded.Notes)
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Users returns user id to name. A 403 falls back to the static users map
// file.
func (c *Client) Users(ctx context.Context) (map[string]string, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}

	users := make(map[string]string)
	err := c.walk(ctx, "/api/v4/users", url.Values{}, PageLimit, func(p *halPage) int {
		for _, u := range p.Embedded.Users {
			id := strconv.FormatInt(u.ID, 10)
			name := strings.TrimSpace(u.Name)
			if name == "" {
				name = "User " + id
			}
			users[id] = name
		}
		return len(p.Embedded.Users)
	})
	if errors.Is(err, ErrForbidden) {
		c.log.Warn().Msg("users endpoint forbidden, using static users map")
		return LoadUsersMap(c.opts.UsersMapFile)
	}
	return users, err
}

// LoadUsersMap reads a JSON object of user id to name. A missing file
// yields an empty map.
func LoadUsersMap(path string) (map[string]string, error) {
	out := make(map[string]string)
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from local config
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("crm: reading users map: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return out, fmt.Errorf("crm: parsing users map: %w", err)
	}
	for k, v := range raw {
		out[strings.TrimSpace(k)] = RawString(v)
	}
	return out, nil
}

// walk requests path page by page until an empty page, a short page or a
// page without a next link. consume returns the number of items it took.
func (c *Client) walk(ctx context.Context, path string, params url.Values, limit int, consume func(*halPage) int) error {
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(pageNum))
		q.Set("limit", strconv.Itoa(limit))

		body, err := c.do(ctx, http.MethodGet, path, q)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return nil
		}

		var p halPage
		if err := json.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("crm: parsing %s page %d: %w", path, pageNum, err)
		}
		n := consume(&p)
		c.log.Debug().Str("path", path).Int("page", pageNum).Int("items", n).Msg("page fetched")
		if n == 0 || n < limit || p.Links.Next.Href == "" {
			return nil
		}
	}
	return nil
}

// do executes one logical request. Network errors, 401 and 429 are retried
// in a bounded loop; a 204 yields a nil body.
func (c *Client) do(ctx context.Context, method, path string, q url.Values) ([]byte, error) {
	var netRetries, refreshes, rateRetries int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("crm: rate limiter: %w", err)
		}

		status, body, err := c.once(ctx, method, path, q)
		if err != nil {
			if ctx.Err() != nil || netRetries >= MaxNetworkRetries {
				return nil, err
			}
			netRetries++
			c.log.Warn().Err(err).Str("path", path).Int("attempt", netRetries).Msg("network error, retrying")
			if err := c.sleep(ctx, time.Duration(netRetries)*time.Second); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case status == http.StatusUnauthorized:
			if refreshes >= MaxTokenRefreshes || !c.canRefresh() {
				return nil, ErrUnauthorized
			}
			refreshes++
			if err := c.refresh(ctx); err != nil {
				return nil, fmt.Errorf("crm: refreshing token: %w", err)
			}
			continue
		case status == http.StatusTooManyRequests:
			if rateRetries >= MaxRateLimitRetries {
				return nil, ErrRateLimited
			}
			rateRetries++
			wait := time.Second + rand.N(2*time.Second)
			c.log.Debug().Str("path", path).Dur("wait", wait).Msg("rate limited")
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		case status == http.StatusForbidden:
			return nil, ErrForbidden
		case status == http.StatusNoContent:
			return nil, nil
		case status < 200 || status >= 300:
			return nil, fmt.Errorf("crm: %s %s: unexpected status %d", method, path, status)
		}
		return body, nil
	}
}

func (c *Client) once(ctx context.Context, method, path string, q url.Values) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("crm: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken())
	req.Header.Set("Accept", "application/hal+json")

	resp, err := c.http.Do(req) //nolint:gosec // base URL comes from local config
	if err != nil {
		return 0, nil, fmt.Errorf("crm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("crm: reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens.AccessToken
}

func (c *Client) canRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.longLive && c.tokens.RefreshToken != ""
}

// refresh exchanges the refresh token for a new pair and persists it.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.tokens.RefreshToken
	c.mu.Unlock()

	tokens, err := c.grant(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()

	if c.opts.TokensFile != "" {
		if err := SaveTokens(c.opts.TokensFile, tokens); err != nil {
			c.log.Warn().Err(err).Msg("saving refreshed tokens")
		}
	}
	c.log.Info().Msg("access token refreshed")
	return nil
}

// Exchange trades a one-time authorization code for a token pair and
// writes it to opts.TokensFile.
func Exchange(ctx context.Context, opts Options, code string) (Tokens, error) {
	c := &Client{
		opts:    opts,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		http:    opts.HTTPClient,
	}
	if c.baseURL == "" {
		return Tokens{}, ErrNotConfigured
	}
	if c.http == nil {
		c.http = &http.Client{}
	}

	tokens, err := c.grant(ctx, map[string]string{
		"grant_type": "authorization_code",
		"code":       strings.TrimSpace(code),
	})
	if err != nil {
		return tokens, err
	}
	if opts.TokensFile != "" {
		if err := SaveTokens(opts.TokensFile, tokens); err != nil {
			return tokens, fmt.Errorf("crm: saving tokens: %w", err)
		}
	}
	return tokens, nil
}

func (c *Client) grant(ctx context.Context, fields map[string]string) (Tokens, error) {
	payload := map[string]string{
		"client_id":     c.opts.ClientID,
		"client_secret": c.opts.ClientSecret,
		"redirect_uri":  c.opts.RedirectURI,
	}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Tokens{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/access_token", bytes.NewReader(data))
	if err != nil {
		return Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req) //nolint:gosec // base URL comes from local config
	if err != nil {
		return Tokens{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Tokens{}, fmt.Errorf("oauth endpoint returned %d", resp.StatusCode)
	}

	var raw Tokens
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&raw); err != nil {
		return Tokens{}, fmt.Errorf("parsing oauth response: %w", err)
	}
	if raw.AccessToken == "" {
		return Tokens{}, errors.New("oauth response missing access_token")
	}
	raw.UpdatedAt = time.Now().Unix()
	return raw, nil
}

func chunks(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
