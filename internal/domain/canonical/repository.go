package canonical

import "context"

// Repository is the narrow persistent-store boundary the upsert writer needs:
// upsert-by-key with partial-field merge semantics plus existence checks for
// referenced keys.
type Repository interface {
	// Upsert inserts or updates the canonical record keyed by its ID. Only
	// fields present in the result are written; stored fields absent from
	// this result are left untouched. Provenance and conflict audit rows are
	// written idempotently.
	Upsert(ctx context.Context, result MergeResult) error

	Get(ctx context.Context, id string) (Entity, bool, error)

	// Exist reports, for each given canonical ID, whether a committed row
	// exists.
	Exist(ctx context.Context, ids []string) (map[string]bool, error)
}
