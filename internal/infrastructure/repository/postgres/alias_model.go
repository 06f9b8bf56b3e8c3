package postgres

import "time"

type aliasTableModel struct {
	ID          int64     `db:"id"`
	Provider    string    `db:"provider"`
	NativeID    string    `db:"native_id"`
	EntityType  string    `db:"entity_type"`
	CanonicalID string    `db:"canonical_id"`
	Method      string    `db:"method"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type aliasInsertModel struct {
	Provider    string `db:"provider"`
	NativeID    string `db:"native_id"`
	EntityType  string `db:"entity_type"`
	CanonicalID string `db:"canonical_id"`
	Method      string `db:"method"`
}

type aliasReassignmentInsertModel struct {
	Provider       string `db:"provider"`
	NativeID       string `db:"native_id"`
	EntityType     string `db:"entity_type"`
	OldCanonicalID string `db:"old_canonical_id"`
	NewCanonicalID string `db:"new_canonical_id"`
	Reason         string `db:"reason"`
}
