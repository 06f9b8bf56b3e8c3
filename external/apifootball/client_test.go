package apifootball

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/riskibarqy/matchsync/external/fetcher"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
	"github.com/riskibarqy/matchsync/internal/platform/resilience"
)

func TestClient_FetchLeaguesWalksPages(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = w.Write([]byte(`{
				"response": [{"league": {"id": 39, "name": "Premier League"}, "country": {"name": "England"}}],
				"paging": {"current": 1, "total": 2}
			}`))
		case "2":
			_, _ = w.Write([]byte(`{
				"response": [{"league": {"id": 140, "name": "La Liga"}, "country": {"name": "Spain"}}],
				"paging": {"current": 2, "total": 2}
			}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(server.Close)

	rawRepo := memory.NewRawDataRepository()
	client := NewClient(fetcher.New(fetcher.Config{
		Provider:  "apifootball",
		BaseURL:   server.URL,
		Logger:    logging.NewNop(),
		RateLimit: resilience.RateLimitConfig{MaxRequests: 1000, Window: time.Minute},
	}), rawRepo, logging.NewNop())

	records, err := client.Fetch(context.Background(), canonical.EntityLeague)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want both pages", len(records))
	}
	if records[0].NativeID != "39" || records[1].NativeID != "140" {
		t.Fatalf("records = %+v", records)
	}
	if rawRepo.Count() != 2 {
		t.Fatalf("retained payloads = %d, want one per page", rawRepo.Count())
	}
}

func TestClient_SkipsMalformedItems(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"response": [
				{"league": {"name": "No ID League"}},
				{"league": {"id": 39, "name": "Premier League"}}
			],
			"paging": {"current": 1, "total": 1}
		}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(fetcher.New(fetcher.Config{
		Provider:  "apifootball",
		BaseURL:   server.URL,
		Logger:    logging.NewNop(),
		RateLimit: resilience.RateLimitConfig{MaxRequests: 1000, Window: time.Minute},
	}), nil, logging.NewNop())

	records, err := client.Fetch(context.Background(), canonical.EntityLeague)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 || records[0].NativeID != "39" {
		t.Fatalf("records = %+v", records)
	}
}
