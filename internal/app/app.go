package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/riskibarqy/matchsync/external/alerting"
	"github.com/riskibarqy/matchsync/external/apifootball"
	"github.com/riskibarqy/matchsync/external/fetcher"
	"github.com/riskibarqy/matchsync/external/livescore"
	"github.com/riskibarqy/matchsync/external/thesportsdb"
	"github.com/riskibarqy/matchsync/internal/config"
	"github.com/riskibarqy/matchsync/internal/domain/alias"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/domain/rawdata"
	"github.com/riskibarqy/matchsync/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/matchsync/internal/infrastructure/repository/postgres"
	idgen "github.com/riskibarqy/matchsync/internal/platform/id"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
	"github.com/riskibarqy/matchsync/internal/platform/resilience"
	"github.com/riskibarqy/matchsync/internal/usecase"
)

// Pipeline bundles the wired pipeline service with its optional alert
// publisher and resource cleanup.
type Pipeline struct {
	Service *usecase.PipelineService
	Alerts  *alerting.WebhookPublisher

	db *sqlx.DB
}

func (p *Pipeline) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// NewPipeline builds the full reconciliation pipeline from configuration.
// With DB_ENABLED=false everything runs against in-memory repositories,
// which is how local one-off runs and tests work.
func NewPipeline(cfg config.Config, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Default()
	}

	var (
		db       *sqlx.DB
		entities canonical.Repository
		aliases  alias.Repository
		rawRepo  rawdata.Repository
	)
	if cfg.DBEnabled {
		opened, err := openDB(cfg)
		if err != nil {
			return nil, err
		}
		db = opened
		entities = postgres.NewCanonicalEntityRepository(db)
		aliases = postgres.NewAliasRepository(db)
		rawRepo = postgres.NewRawDataRepository(db)
	} else {
		entities = memory.NewEntityRepository()
		aliases = memory.NewAliasRepository(nil)
		rawRepo = memory.NewRawDataRepository()
	}

	sources, err := buildSources(cfg, rawRepo, logger)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}

	policies := canonical.DefaultPolicies(provider.APIFootball, provider.TheSportsDB, provider.LiveScore)
	if err := canonical.ValidatePolicies(policies, provider.KnownProviders()); err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("field priority policies: %w", err)
	}

	resolver := usecase.NewResolverService(aliases, idgen.NewRandomGenerator(), logger)
	merger := usecase.NewMergeService(policies, logger)
	committer := usecase.NewCommitService(entities, logger)

	svc := usecase.NewPipelineService(sources, resolver, merger, committer, aliases, logger, usecase.PipelineOptions{
		WorkerCount:  cfg.PipelineWorkerCount,
		StageTimeout: cfg.PipelineStageTimeout,
	})

	var alerts *alerting.WebhookPublisher
	if cfg.AlertWebhookEnabled {
		alerts = alerting.NewWebhookPublisher(alerting.WebhookPublisherConfig{
			URL:     cfg.AlertWebhookURL,
			Token:   cfg.AlertWebhookToken,
			Retries: cfg.AlertWebhookRetries,
			Timeout: cfg.AlertWebhookTimeout,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				Enabled:          cfg.AlertWebhookCircuitEnabled,
				FailureThreshold: cfg.AlertWebhookCircuitFailureCount,
				OpenTimeout:      cfg.AlertWebhookCircuitOpenTimeout,
				HalfOpenMaxReq:   cfg.AlertWebhookCircuitHalfOpenMaxReq,
			},
		}, logger)
	}

	return &Pipeline{Service: svc, Alerts: alerts, db: db}, nil
}

func buildSources(cfg config.Config, rawRepo rawdata.Repository, logger *logging.Logger) ([]usecase.ProviderSource, error) {
	var sources []usecase.ProviderSource

	if cfg.APIFootball.Enabled {
		f := fetcher.New(fetcherConfig(provider.APIFootball, cfg.APIFootball, logger, func(c *fetcher.Config) {
			// api-sports carries the key in a header, not the query string.
			c.TokenHeader = "x-apisports-key"
		}))
		sources = append(sources, apifootball.NewClient(f, rawRepo, logger))
	}

	if cfg.TheSportsDB.Enabled {
		f := fetcher.New(fetcherConfig(provider.TheSportsDB, cfg.TheSportsDB, logger, func(c *fetcher.Config) {
			// thesportsdb embeds the key as a path segment.
			c.BaseURL = strings.TrimRight(c.BaseURL, "/") + "/" + c.Token
			c.Token = ""
		}))
		sources = append(sources, thesportsdb.NewClient(f, rawRepo, logger))
	}

	if cfg.LiveScore.Enabled {
		loc, err := time.LoadLocation(cfg.LiveScoreTimezone)
		if err != nil {
			return nil, fmt.Errorf("load livescore timezone %q: %w", cfg.LiveScoreTimezone, err)
		}
		f := fetcher.New(fetcherConfig(provider.LiveScore, cfg.LiveScore, logger, func(c *fetcher.Config) {
			c.TokenParam = "key"
		}))
		sources = append(sources, livescore.NewClient(f, rawRepo, loc, logger))
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	return sources, nil
}

func fetcherConfig(name string, pc config.ProviderConfig, logger *logging.Logger, customize func(*fetcher.Config)) fetcher.Config {
	cfg := fetcher.Config{
		Provider:   name,
		BaseURL:    pc.BaseURL,
		Token:      pc.Token,
		Timeout:    pc.Timeout,
		MaxRetries: pc.MaxRetries,
		Logger:     logger,
		RateLimit: resilience.RateLimitConfig{
			MaxRequests: pc.RateLimitMaxRequests,
			Window:      pc.RateLimitWindow,
		},
		CircuitBreaker: resilience.CircuitBreakerConfig{
			Enabled:          pc.CircuitEnabled,
			FailureThreshold: pc.CircuitFailureCount,
			OpenTimeout:      pc.CircuitOpenTimeout,
			HalfOpenMaxReq:   pc.CircuitHalfOpenMaxReq,
		},
	}
	if customize != nil {
		customize(&cfg)
	}

	return cfg
}

func openDB(cfg config.Config) (*sqlx.DB, error) {
	dbURL := normalizeDBURL(cfg.DBURL, cfg.DBDisablePreparedBinary)

	db, err := otelsqlx.Connect("postgres", dbURL,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
