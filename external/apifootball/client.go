package apifootball

import (
	"context"
	"fmt"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/riskibarqy/matchsync/external/fetcher"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/domain/rawdata"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

// Client is the primary structured provider: numeric IDs, response
// envelopes, paged listings.
type Client struct {
	fetcher *fetcher.Fetcher
	rawData rawdata.Repository
	logger  *logging.Logger
	now     func() time.Time
}

func NewClient(f *fetcher.Fetcher, rawData rawdata.Repository, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		fetcher: f,
		rawData: rawData,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *Client) Name() string { return provider.APIFootball }

func (c *Client) Fetch(ctx context.Context, t canonical.EntityType) ([]provider.Record, error) {
	switch t {
	case canonical.EntityLeague:
		return c.fetchPaged(ctx, t, "/leagues", normalizeLeague)
	case canonical.EntityTeam:
		return c.fetchPaged(ctx, t, "/teams", normalizeTeam)
	case canonical.EntityPlayer:
		return c.fetchPaged(ctx, t, "/players", normalizePlayer)
	case canonical.EntityFixture:
		return c.fetchPaged(ctx, t, "/fixtures", normalizeFixture)
	case canonical.EntityStanding:
		return c.fetchPaged(ctx, t, "/standings", normalizeStanding)
	case canonical.EntityEvent:
		return c.fetchPaged(ctx, t, "/fixtures/events", normalizeEvent)
	default:
		return nil, fmt.Errorf("unsupported entity type %q", t)
	}
}

// envelope is the provider's standard response wrapper.
type envelope struct {
	Response []map[string]any `json:"response"`
	Paging   struct {
		Current int `json:"current"`
		Total   int `json:"total"`
	} `json:"paging"`
}

func (c *Client) fetchPaged(
	ctx context.Context,
	t canonical.EntityType,
	path string,
	normalize func(item map[string]any, retrievedAt time.Time) (provider.Record, bool),
) ([]provider.Record, error) {
	var records []provider.Record
	var payloads []rawdata.Payload

	err := c.fetcher.GetPaged(ctx, path, nil, "page", func(page int, raw []byte) (bool, error) {
		var env envelope
		if err := sonic.Unmarshal(raw, &env); err != nil {
			return false, fmt.Errorf("decode envelope: %w", err)
		}

		retrievedAt := c.now().UTC()
		payloads = append(payloads, rawdata.New(provider.APIFootball, string(t), path, page, raw, retrievedAt))

		for _, item := range env.Response {
			rec, ok := normalize(item, retrievedAt)
			if !ok {
				c.logger.WarnContext(ctx, "skipping unnormalizable item",
					"provider", provider.APIFootball,
					"entity_type", t,
					"endpoint", path,
				)
				continue
			}
			records = append(records, rec)
		}
		return env.Paging.Total > env.Paging.Current, nil
	})
	if err != nil {
		return nil, err
	}

	if c.rawData != nil && len(payloads) > 0 {
		if err := c.rawData.UpsertMany(ctx, payloads); err != nil {
			c.logger.WarnContext(ctx, "raw payload retention failed",
				"provider", provider.APIFootball,
				"entity_type", t,
				"error", err,
			)
		}
	}
	return records, nil
}
