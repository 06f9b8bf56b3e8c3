package alias

import (
	"context"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
)

// Repository persists the alias table. Implementations must reject a second
// Create for an existing key; rebinding goes through Reassign only.
type Repository interface {
	Get(ctx context.Context, provider, nativeID string, t canonical.EntityType) (Alias, bool, error)

	// Create inserts a new alias. Creating an alias whose key already exists
	// is an error regardless of the canonical ID it points to.
	Create(ctx context.Context, a Alias) error

	// Reassign deliberately moves an existing alias to another canonical ID
	// and records the previous binding plus the operator-supplied reason.
	Reassign(ctx context.Context, provider, nativeID string, t canonical.EntityType, newCanonicalID, reason string) error

	// ListByCanonicalID returns every alias bound to one canonical entity.
	ListByCanonicalID(ctx context.Context, canonicalID string) ([]Alias, error)
}
