package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/riskibarqy/matchsync/internal/domain/alias"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	qb "github.com/riskibarqy/matchsync/internal/platform/querybuilder"
)

// AliasRepository persists the alias table. Creating over an existing key is
// rejected; rebinding only happens through Reassign, which writes an audit row.
type AliasRepository struct {
	db *sqlx.DB
}

func NewAliasRepository(db *sqlx.DB) *AliasRepository {
	return &AliasRepository{db: db}
}

func (r *AliasRepository) Get(ctx context.Context, provider, nativeID string, t canonical.EntityType) (alias.Alias, bool, error) {
	query, args, err := qb.Select("*").From("entity_aliases").
		Where(
			qb.Eq("provider", provider),
			qb.Eq("native_id", nativeID),
			qb.Eq("entity_type", string(t)),
		).
		ToSQL()
	if err != nil {
		return alias.Alias{}, false, fmt.Errorf("build select alias query: %w", err)
	}

	var row aliasTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return alias.Alias{}, false, nil
		}
		return alias.Alias{}, false, fmt.Errorf("select alias %s/%s/%s: %w", provider, t, nativeID, err)
	}

	return aliasFromRow(row), true, nil
}

func (r *AliasRepository) Create(ctx context.Context, a alias.Alias) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("create alias: %w", err)
	}

	insertModel := aliasInsertModel{
		Provider:    a.Provider,
		NativeID:    a.NativeID,
		EntityType:  string(a.EntityType),
		CanonicalID: a.CanonicalID,
		Method:      string(a.Method),
	}

	query, args, err := qb.InsertModel("entity_aliases", insertModel, "")
	if err != nil {
		return fmt.Errorf("build insert alias query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert alias %s: %w", a.Key(), err)
	}

	return nil
}

func (r *AliasRepository) Reassign(ctx context.Context, provider, nativeID string, t canonical.EntityType, newCanonicalID, reason string) error {
	if newCanonicalID == "" {
		return fmt.Errorf("reassign alias: new canonical id is required")
	}
	if reason == "" {
		return fmt.Errorf("reassign alias: reason is required")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx reassign alias: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query, args, err := qb.Select("*").From("entity_aliases").
		Where(
			qb.Eq("provider", provider),
			qb.Eq("native_id", nativeID),
			qb.Eq("entity_type", string(t)),
		).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build select alias for reassign query: %w", err)
	}
	query += " FOR UPDATE"

	var row aliasTableModel
	if err := tx.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("reassign alias %s/%s/%s: alias does not exist", provider, t, nativeID)
		}
		return fmt.Errorf("select alias for reassign: %w", err)
	}

	auditModel := aliasReassignmentInsertModel{
		Provider:       provider,
		NativeID:       nativeID,
		EntityType:     string(t),
		OldCanonicalID: row.CanonicalID,
		NewCanonicalID: newCanonicalID,
		Reason:         reason,
	}
	auditQuery, auditArgs, err := qb.InsertModel("alias_reassignments", auditModel, "")
	if err != nil {
		return fmt.Errorf("build insert alias reassignment query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, auditQuery, auditArgs...); err != nil {
		return fmt.Errorf("insert alias reassignment: %w", err)
	}

	updateQuery, updateArgs, err := qb.Update("entity_aliases").
		Set("canonical_id", newCanonicalID).
		Set("method", string(alias.MethodReassigned)).
		SetExpr("updated_at", "NOW()").
		Where(qb.Eq("id", row.ID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update alias query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, updateQuery, updateArgs...); err != nil {
		return fmt.Errorf("update alias %d: %w", row.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reassign alias tx: %w", err)
	}

	return nil
}

func (r *AliasRepository) ListByCanonicalID(ctx context.Context, canonicalID string) ([]alias.Alias, error) {
	query, args, err := qb.Select("*").From("entity_aliases").
		Where(qb.Eq("canonical_id", canonicalID)).
		OrderBy("provider", "native_id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select aliases by canonical id query: %w", err)
	}

	var rows []aliasTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select aliases for %s: %w", canonicalID, err)
	}

	out := make([]alias.Alias, 0, len(rows))
	for _, row := range rows {
		out = append(out, aliasFromRow(row))
	}

	return out, nil
}

func aliasFromRow(row aliasTableModel) alias.Alias {
	return alias.Alias{
		Provider:    row.Provider,
		NativeID:    row.NativeID,
		EntityType:  canonical.EntityType(row.EntityType),
		CanonicalID: row.CanonicalID,
		Method:      alias.MatchMethod(row.Method),
		CreatedAt:   row.CreatedAt,
	}
}
