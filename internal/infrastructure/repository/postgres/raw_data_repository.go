package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/matchsync/internal/domain/rawdata"
	qb "github.com/riskibarqy/matchsync/internal/platform/querybuilder"
)

// RawDataRepository retains fetched provider payloads for replay and manual
// reconciliation. Upserts are idempotent on (provider, endpoint, payload_hash).
type RawDataRepository struct {
	db *sqlx.DB
}

func NewRawDataRepository(db *sqlx.DB) *RawDataRepository {
	return &RawDataRepository{db: db}
}

func (r *RawDataRepository) UpsertMany(ctx context.Context, items []rawdata.Payload) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx upsert raw payloads: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range items {
		insertModel := rawPayloadInsertModel{
			Provider:    item.Provider,
			EntityType:  item.EntityType,
			Endpoint:    item.Endpoint,
			Page:        item.Page,
			Payload:     item.PayloadJSON,
			PayloadHash: item.PayloadHash,
			RetrievedAt: item.RetrievedAt,
		}

		query, args, err := qb.InsertModel("raw_payloads", insertModel,
			"ON CONFLICT (provider, endpoint, payload_hash) DO NOTHING")
		if err != nil {
			return fmt.Errorf("build upsert raw payload query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert raw payload provider=%s endpoint=%s: %w", item.Provider, item.Endpoint, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert raw payloads tx: %w", err)
	}

	return nil
}

type rawPayloadInsertModel struct {
	Provider    string    `db:"provider"`
	EntityType  string    `db:"entity_type"`
	Endpoint    string    `db:"endpoint"`
	Page        int       `db:"page"`
	Payload     string    `db:"payload"`
	PayloadHash string    `db:"payload_hash"`
	RetrievedAt time.Time `db:"retrieved_at"`
}
