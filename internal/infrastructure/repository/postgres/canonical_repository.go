package postgres

import (
	"context"
	"fmt"

	sonic "github.com/bytedance/sonic"
	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	qb "github.com/riskibarqy/matchsync/internal/platform/querybuilder"
)

// CanonicalEntityRepository persists reconciled entities with partial-field
// merge semantics: an upsert only overwrites the fields it carries.
type CanonicalEntityRepository struct {
	db *sqlx.DB
}

func NewCanonicalEntityRepository(db *sqlx.DB) *CanonicalEntityRepository {
	return &CanonicalEntityRepository{db: db}
}

func (r *CanonicalEntityRepository) Upsert(ctx context.Context, result canonical.MergeResult) error {
	entity := result.Entity
	if err := entity.Validate(); err != nil {
		return fmt.Errorf("upsert canonical entity: %w", err)
	}

	fieldsJSON, err := sonic.MarshalString(entity.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields for entity %s: %w", entity.ID, err)
	}
	aliasesJSON, err := sonic.MarshalString(entity.Aliases)
	if err != nil {
		return fmt.Errorf("marshal aliases for entity %s: %w", entity.ID, err)
	}
	refsJSON, err := sonic.MarshalString(entity.Refs)
	if err != nil {
		return fmt.Errorf("marshal refs for entity %s: %w", entity.ID, err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx upsert canonical entity: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insertModel := canonicalEntityInsertModel{
		ID:         entity.ID,
		EntityType: string(entity.Type),
		Fields:     fieldsJSON,
		Aliases:    aliasesJSON,
		Refs:       refsJSON,
	}

	// jsonb concatenation keeps stored fields that this merge did not
	// observe; only incoming keys overwrite.
	query, args, err := qb.InsertModel("canonical_entities", insertModel, `ON CONFLICT (id)
DO UPDATE SET
    fields = canonical_entities.fields || EXCLUDED.fields,
    aliases = canonical_entities.aliases || EXCLUDED.aliases,
    refs = canonical_entities.refs || EXCLUDED.refs,
    updated_at = NOW()`)
	if err != nil {
		return fmt.Errorf("build upsert canonical entity query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert canonical entity %s: %w", entity.ID, err)
	}

	if err := upsertProvenance(ctx, tx, entity.ID, result.Provenance); err != nil {
		return err
	}
	if err := insertConflicts(ctx, tx, entity.ID, result.Conflicts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert canonical entity tx: %w", err)
	}

	return nil
}

func upsertProvenance(ctx context.Context, tx *sqlx.Tx, canonicalID string, provenance map[canonical.Field]canonical.Origin) error {
	for field, origin := range provenance {
		insertModel := provenanceInsertModel{
			CanonicalID: canonicalID,
			Field:       string(field),
			Provider:    origin.Provider,
			Confidence:  string(origin.Confidence),
			Fresh:       origin.Fresh,
		}

		query, args, err := qb.InsertModel("field_provenance", insertModel, `ON CONFLICT (canonical_id, field)
DO UPDATE SET
    provider = EXCLUDED.provider,
    confidence = EXCLUDED.confidence,
    fresh = EXCLUDED.fresh,
    updated_at = NOW()`)
		if err != nil {
			return fmt.Errorf("build upsert provenance query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert provenance %s/%s: %w", canonicalID, field, err)
		}
	}

	return nil
}

func insertConflicts(ctx context.Context, tx *sqlx.Tx, canonicalID string, conflicts []canonical.Conflict) error {
	for _, conflict := range conflicts {
		insertModel := conflictInsertModel{
			CanonicalID:    canonicalID,
			Field:          string(conflict.Field),
			ChosenBy:       conflict.ChosenBy,
			ChosenValue:    conflict.Chosen.Render(),
			DisagreedBy:    conflict.DisagreedBy,
			DisagreedValue: conflict.Disagreed.Render(),
		}

		// Replays of the same batch must not duplicate audit rows.
		query, args, err := qb.InsertModel("merge_conflicts", insertModel,
			"ON CONFLICT (canonical_id, field, chosen_by, disagreed_by, disagreed_value) DO NOTHING")
		if err != nil {
			return fmt.Errorf("build insert conflict query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert conflict %s/%s: %w", canonicalID, conflict.Field, err)
		}
	}

	return nil
}

func (r *CanonicalEntityRepository) Get(ctx context.Context, id string) (canonical.Entity, bool, error) {
	query, args, err := qb.Select("*").From("canonical_entities").
		Where(qb.Eq("id", id)).
		ToSQL()
	if err != nil {
		return canonical.Entity{}, false, fmt.Errorf("build select canonical entity query: %w", err)
	}

	var row canonicalEntityTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return canonical.Entity{}, false, nil
		}
		return canonical.Entity{}, false, fmt.Errorf("select canonical entity %s: %w", id, err)
	}

	entity := canonical.Entity{
		ID:      row.ID,
		Type:    canonical.EntityType(row.EntityType),
		Fields:  map[canonical.Field]canonical.Value{},
		Aliases: map[string]string{},
		Refs:    map[canonical.Field]string{},
	}
	if err := sonic.Unmarshal(row.Fields, &entity.Fields); err != nil {
		return canonical.Entity{}, false, fmt.Errorf("decode fields for entity %s: %w", id, err)
	}
	if err := sonic.Unmarshal(row.Aliases, &entity.Aliases); err != nil {
		return canonical.Entity{}, false, fmt.Errorf("decode aliases for entity %s: %w", id, err)
	}
	if err := sonic.Unmarshal(row.Refs, &entity.Refs); err != nil {
		return canonical.Entity{}, false, fmt.Errorf("decode refs for entity %s: %w", id, err)
	}

	return entity, true, nil
}

func (r *CanonicalEntityRepository) Exist(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	values := make([]any, 0, len(ids))
	for _, id := range ids {
		out[id] = false
		values = append(values, id)
	}

	query, args, err := qb.Select("id").From("canonical_entities").
		Where(qb.In("id", values)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select existing canonical ids query: %w", err)
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, fmt.Errorf("select existing canonical ids: %w", err)
	}
	for _, id := range found {
		out[id] = true
	}

	return out, nil
}
