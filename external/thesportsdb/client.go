package thesportsdb

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

// Client covers the community media provider: string-encoded IDs,
// str/int-prefixed field names, the richest logos and badges. It does not
// serve fixtures or live events.
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

func (c *Client) Name() string { return provider.TheSportsDB }

func (c *Client) Fetch(ctx context.Context, t canonical.EntityType) ([]provider.Record, error) {
	switch t {
	case canonical.EntityLeague:
		return c.fetchList(ctx, t, "/all_leagues.php", "leagues", normalizeLeague)
	case canonical.EntityTeam:
		return c.fetchList(ctx, t, "/search_all_teams.php", "teams", normalizeTeam)
	case canonical.EntityPlayer:
		return c.fetchList(ctx, t, "/lookup_all_players.php", "player", normalizePlayer)
	case canonical.EntityStanding:
		return c.fetchList(ctx, t, "/lookuptable.php", "table", normalizeStanding)
	default:
		// Live data is not this provider's role.
		return nil, nil
	}
}

func (c *Client) fetchList(
	ctx context.Context,
	t canonical.EntityType,
	path, listKey string,
	normalize func(item map[string]string, retrievedAt time.Time) (provider.Record, bool),
) ([]provider.Record, error) {
	raw, err := c.fetcher.GetJSON(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}

	// Every list endpoint wraps its items the same way; item fields are all
	// string-encoded.
	var body map[string][]map[string]string
	if err := sonic.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	retrievedAt := c.now().UTC()
	if c.rawData != nil {
		payload := rawdata.New(provider.TheSportsDB, string(t), path, 1, raw, retrievedAt)
		if err := c.rawData.UpsertMany(ctx, []rawdata.Payload{payload}); err != nil {
			c.logger.WarnContext(ctx, "raw payload retention failed",
				"provider", provider.TheSportsDB,
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
				"provider", provider.TheSportsDB,
				"entity_type", t,
				"endpoint", path,
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
