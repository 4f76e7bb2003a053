package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, h http.HandlerFunc, mutate func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts := Options{
		BaseURL:   srv.URL,
		LongToken: "long",
		Limiter:   rate.NewLimiter(rate.Inf, 1),
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c := NewClient(opts)
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	if NewClient(Options{BaseURL: "https://x.example", TokensFile: filepath.Join(t.TempDir(), "none.json")}) != nil {
		t.Fatal("client without any token should be nil")
	}
	var c *Client
	if _, err := c.Leads(context.Background(), []int64{1}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestNoContentIsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}, nil)

	n := 0
	err := c.Events(context.Background(), []string{EventLeadStatusChanged}, time.Unix(0, 0), time.Unix(100, 0), func(Event) { n++ })
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
}

func TestRateLimitRetryCeiling(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, nil)

	_, err := c.Leads(context.Background(), []int64{1})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if got := hits.Load(); got != MaxRateLimitRetries+1 {
		t.Fatalf("hits = %d, want %d", got, MaxRateLimitRetries+1)
	}
}

func TestRateLimitRecovers(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"_embedded":{"leads":[{"id":1,"responsible_user_id":5}]}}`)
	}, nil)

	leads, err := c.Leads(context.Background(), []int64{1})
	if err != nil {
		t.Fatalf("Leads: %v", err)
	}
	if len(leads) != 1 || leads[0].ResponsibleUserID != 5 {
		t.Fatalf("leads = %+v", leads)
	}
}

func TestUnauthorizedRefreshesOnce(t *testing.T) {
	dir := t.TempDir()
	tokensPath := filepath.Join(dir, "tokens.json")
	if err := SaveTokens(tokensPath, Tokens{AccessToken: "old", RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}

	var refreshes atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/access_token" {
			refreshes.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["grant_type"] != "refresh_token" || body["refresh_token"] != "r1" {
				t.Errorf("refresh body = %v", body)
			}
			fmt.Fprint(w, `{"access_token":"new","refresh_token":"r2"}`)
			return
		}
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"_embedded":{"users":[{"id":7,"name":"Olga"}]}}`)
	}, func(o *Options) {
		o.LongToken = ""
		o.TokensFile = tokensPath
	})

	users, err := c.Users(context.Background())
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if users["7"] != "Olga" {
		t.Fatalf("users = %v", users)
	}
	if refreshes.Load() != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes.Load())
	}
	saved, err := LoadTokens(tokensPath)
	if err != nil {
		t.Fatal(err)
	}
	if saved.AccessToken != "new" || saved.RefreshToken != "r2" || saved.UpdatedAt == 0 {
		t.Fatalf("saved tokens = %+v", saved)
	}
}

func TestUnauthorizedAfterRefreshGivesUp(t *testing.T) {
	dir := t.TempDir()
	tokensPath := filepath.Join(dir, "tokens.json")
	_ = SaveTokens(tokensPath, Tokens{AccessToken: "old", RefreshToken: "r1"})

	var refreshes atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/access_token" {
			refreshes.Add(1)
			fmt.Fprint(w, `{"access_token":"still-bad","refresh_token":"r2"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}, func(o *Options) {
		o.LongToken = ""
		o.TokensFile = tokensPath
	})

	if _, err := c.Leads(context.Background(), []int64{1}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if refreshes.Load() != MaxTokenRefreshes {
		t.Fatalf("refreshes = %d, want %d", refreshes.Load(), MaxTokenRefreshes)
	}
}

func TestUsersForbiddenFallsBackToFile(t *testing.T) {
	mapPath := filepath.Join(t.TempDir(), "users_map.json")
	if err := os.WriteFile(mapPath, []byte(`{"11":"Static Name","12":"Other"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, func(o *Options) { o.UsersMapFile = mapPath })

	users, err := c.Users(context.Background())
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users["11"] != "Static Name" {
		t.Fatalf("users = %v", users)
	}
}

func TestLeadsChunksIDs(t *testing.T) {
	var requests atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		ids := r.URL.Query()["filter[id][]"]
		if len(ids) > PageLimit {
			t.Errorf("chunk of %d ids exceeds limit", len(ids))
		}
		fmt.Fprint(w, `{"_embedded":{"leads":[{"id":1}]}}`)
	}, nil)

	ids := make([]int64, PageLimit+10)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	leads, err := c.Leads(context.Background(), ids)
	if err != nil {
		t.Fatalf("Leads: %v", err)
	}
	if requests.Load() != 2 || len(leads) != 2 {
		t.Fatalf("requests = %d, leads = %d, want 2 and 2", requests.Load(), len(leads))
	}
}

func TestLeadFieldHelpers(t *testing.T) {
	var lead Lead
	data := `{"id":5,"custom_fields_values":[
		{"field_id":942511,"values":[{"value":"ЦК","enum_id":3619433}]},
		{"field_id":100,"values":[{"value":"15 000,50"}]},
		{"field_id":101,"values":[{"value":2500}]}
	]}`
	if err := json.Unmarshal([]byte(data), &lead); err != nil {
		t.Fatal(err)
	}
	if !lead.HasEnum(942511, 3619433, "") || !lead.HasEnum(942511, 0, "ЦК") {
		t.Fatal("HasEnum should match by enum id and by text")
	}
	if got := lead.FieldInt(100); got != 15000 {
		t.Fatalf("FieldInt(100) = %d, want 15000", got)
	}
	if got := lead.FieldInt(101); got != 2500 {
		t.Fatalf("FieldInt(101) = %d, want 2500", got)
	}
	if got := lead.FieldInt(999); got != 0 {
		t.Fatalf("FieldInt(999) = %d, want 0", got)
	}
}
