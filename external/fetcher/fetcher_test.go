package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskibarqy/matchsync/internal/platform/logging"
	"github.com/riskibarqy/matchsync/internal/platform/resilience"
	"github.com/riskibarqy/matchsync/internal/usecase"
)

func newTestFetcher(t *testing.T, handler http.Handler, maxRetries int) (*Fetcher, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	f := New(Config{
		Provider:   "testprovider",
		BaseURL:    server.URL,
		Token:      "secret-token",
		TokenParam: "apikey",
		MaxRetries: maxRetries,
		Logger:     logging.NewNop(),
		RateLimit:  resilience.RateLimitConfig{MaxRequests: 1000, Window: time.Minute},
	})
	return f, server
}

func TestFetcher_DecodesJSON(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"name":"Premier League"}`))
	}), 0)

	var out struct {
		Name string `json:"name"`
	}
	raw, err := f.GetJSON(context.Background(), "/league", nil, &out)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != "Premier League" || len(raw) == 0 {
		t.Fatalf("out = %+v raw = %q", out, raw)
	}
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}), 2)

	if _, err := f.GetJSON(context.Background(), "/flaky", nil, nil); err != nil {
		t.Fatalf("get: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want one retry", calls.Load())
	}
}

func TestFetcher_ExhaustedRetriesSurfaceTransient(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), 1)

	_, err := f.GetJSON(context.Background(), "/down", nil, nil)
	if !errors.Is(err, usecase.ErrTransientNetwork) {
		t.Fatalf("err = %v, want ErrTransientNetwork", err)
	}
}

func TestFetcher_RateLimitExceededAfterBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}), 1)

	start := time.Now()
	_, err := f.GetJSON(context.Background(), "/limited", nil, nil)
	if !errors.Is(err, usecase.ErrRateLimitExceeded) {
		t.Fatalf("err = %v, want ErrRateLimitExceeded", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want retry budget spent", calls.Load())
	}
	// The server-provided delay must have been honored between attempts.
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("elapsed = %s, want Retry-After honored", elapsed)
	}
}

func TestFetcher_ClientErrorsAreFatalImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}), 3)

	_, err := f.GetJSON(context.Background(), "/missing", nil, nil)
	if !errors.Is(err, usecase.ErrFatalRequest) {
		t.Fatalf("err = %v, want ErrFatalRequest", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, a 4xx must not be retried", calls.Load())
	}
}

func TestFetcher_SlidingWindowBlocksBurst(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	f := New(Config{
		Provider:  "testprovider",
		BaseURL:   server.URL,
		Logger:    logging.NewNop(),
		RateLimit: resilience.RateLimitConfig{MaxRequests: 2, Window: 300 * time.Millisecond},
	})

	start := time.Now()
	for range 3 {
		if _, err := f.GetJSON(context.Background(), "/burst", nil, nil); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("elapsed = %s, third call must wait for the window", elapsed)
	}
}

func TestFetcher_GetPagedStopsWhenDone(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"page":"` + r.URL.Query().Get("page") + `"}`))
	}), 0)

	var pages int
	err := f.GetPaged(context.Background(), "/list", nil, "page", func(page int, raw []byte) (bool, error) {
		pages = page
		return page < 3, nil
	})
	if err != nil {
		t.Fatalf("paged: %v", err)
	}
	if pages != 3 {
		t.Fatalf("pages = %d, want 3", pages)
	}
}

func TestFetcher_GetPagedHonorsCap(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}), 0)

	var pages int
	err := f.GetPaged(context.Background(), "/endless", nil, "page", func(page int, _ []byte) (bool, error) {
		pages = page
		return true, nil
	})
	if err != nil {
		t.Fatalf("paged: %v", err)
	}
	if pages != MaxPages {
		t.Fatalf("pages = %d, want cap at %d", pages, MaxPages)
	}
}

func TestFetcher_CircuitBreakerShortCircuits(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	f := New(Config{
		Provider:   "testprovider",
		BaseURL:    server.URL,
		MaxRetries: 1,
		Logger:     logging.NewNop(),
		RateLimit:  resilience.RateLimitConfig{MaxRequests: 1000, Window: time.Minute},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 1,
			OpenTimeout:      time.Minute,
			HalfOpenMaxReq:   1,
		},
	})

	if _, err := f.GetJSON(context.Background(), "/a", nil, nil); !errors.Is(err, usecase.ErrTransientNetwork) {
		t.Fatalf("first err = %v", err)
	}
	// Breaker is open now; the next call must not reach the server.
	if _, err := f.GetJSON(context.Background(), "/b", nil, nil); !errors.Is(err, usecase.ErrDependencyUnavailable) {
		t.Fatalf("second err = %v, want ErrDependencyUnavailable", err)
	}
}
