package postgres

import (
	"time"
)

type canonicalEntityTableModel struct {
	ID         string    `db:"id"`
	EntityType string    `db:"entity_type"`
	Fields     []byte    `db:"fields"`
	Aliases    []byte    `db:"aliases"`
	Refs       []byte    `db:"refs"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type canonicalEntityInsertModel struct {
	ID         string `db:"id"`
	EntityType string `db:"entity_type"`
	Fields     string `db:"fields"`
	Aliases    string `db:"aliases"`
	Refs       string `db:"refs"`
}

type provenanceInsertModel struct {
	CanonicalID string `db:"canonical_id"`
	Field       string `db:"field"`
	Provider    string `db:"provider"`
	Confidence  string `db:"confidence"`
	Fresh       bool   `db:"fresh"`
}

type conflictInsertModel struct {
	CanonicalID    string `db:"canonical_id"`
	Field          string `db:"field"`
	ChosenBy       string `db:"chosen_by"`
	ChosenValue    string `db:"chosen_value"`
	DisagreedBy    string `db:"disagreed_by"`
	DisagreedValue string `db:"disagreed_value"`
}
