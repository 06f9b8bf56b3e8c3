package livescore

import (
	"context"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/riskibarqy/matchsync/external/fetcher"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/domain/rawdata"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

// Client covers the live provider: opaque string IDs, the freshest in-play
// data, kickoff split into a local date and an "HH:MM" time.
type Client struct {
	fetcher *fetcher.Fetcher
	rawData rawdata.Repository
	logger  *logging.Logger
	// loc is the timezone local kickoff times are published in.
	loc *time.Location
	now func() time.Time
}

func NewClient(f *fetcher.Fetcher, rawData rawdata.Repository, loc *time.Location, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		fetcher: f,
		rawData: rawData,
		logger:  logger,
		loc:     loc,
		now:     time.Now,
	}
}

func (c *Client) Name() string { return provider.LiveScore }

func (c *Client) Fetch(ctx context.Context, t canonical.EntityType) ([]provider.Record, error) {
	switch t {
	case canonical.EntityLeague:
		return fetchList(ctx, c, t, "/competitions", "competitions", c.normalizeLeague)
	case canonical.EntityTeam:
		return fetchList(ctx, c, t, "/teams", "teams", c.normalizeTeam)
	case canonical.EntityFixture:
		return fetchList(ctx, c, t, "/matches", "matches", c.normalizeMatch)
	case canonical.EntityEvent:
		return fetchList(ctx, c, t, "/incidents", "incidents", c.normalizeIncident)
	default:
		// Squad and table data is not this provider's role.
		return nil, nil
	}
}

func fetchList(
	ctx context.Context,
	c *Client,
	t canonical.EntityType,
	path, listKey string,
	normalize func(item map[string]any, retrievedAt time.Time) (provider.Record, bool),
) ([]provider.Record, error) {
	raw, err := c.fetcher.GetJSON(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var body map[string][]map[string]any
	if err := sonic.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	retrievedAt := c.now().UTC()
	if c.rawData != nil {
		payload := rawdata.New(provider.LiveScore, string(t), path, 1, raw, retrievedAt)
		if err := c.rawData.UpsertMany(ctx, []rawdata.Payload{payload}); err != nil {
			c.logger.WarnContext(ctx, "raw payload retention failed",
				"provider", provider.LiveScore,
				"entity_type", t,
				"error", err,
			)
		}
	}

	items := body[listKey]
	records := make([]provider.Record, 0, len(items))
	for _, item := range items {
		rec, ok := normalize(item, retrievedAt)
		if !ok {
			c.logger.WarnContext(ctx, "skipping unnormalizable item",
				"provider", provider.LiveScore,
				"entity_type", t,
				"endpoint", path,
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
