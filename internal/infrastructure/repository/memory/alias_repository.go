package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/alias"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
)

// Reassignment is one audit row kept by the in-memory alias store.
type Reassignment struct {
	Alias          alias.Alias
	OldCanonicalID string
	Reason         string
	At             time.Time
}

type AliasRepository struct {
	mu            sync.RWMutex
	items         map[string]alias.Alias
	reassignments []Reassignment
}

func NewAliasRepository(seed []alias.Alias) *AliasRepository {
	items := make(map[string]alias.Alias, len(seed))
	for _, a := range seed {
		items[a.Key()] = a
	}
	return &AliasRepository{items: items}
}

func (r *AliasRepository) Get(_ context.Context, provider, nativeID string, t canonical.EntityType) (alias.Alias, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.items[alias.Key(provider, nativeID, t)]
	if !ok {
		return alias.Alias{}, false, nil
	}
	return a, true, nil
}

func (r *AliasRepository) Create(_ context.Context, a alias.Alias) error {
	if err := a.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.Key()
	if _, ok := r.items[key]; ok {
		return fmt.Errorf("alias %s already exists", key)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.items[key] = a
	return nil
}

func (r *AliasRepository) Reassign(_ context.Context, provider, nativeID string, t canonical.EntityType, newCanonicalID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := alias.Key(provider, nativeID, t)
	existing, ok := r.items[key]
	if !ok {
		return fmt.Errorf("alias %s not found", key)
	}

	old := existing.CanonicalID
	existing.CanonicalID = newCanonicalID
	existing.Method = alias.MethodReassigned
	r.items[key] = existing

	r.reassignments = append(r.reassignments, Reassignment{
		Alias:          existing,
		OldCanonicalID: old,
		Reason:         reason,
		At:             time.Now().UTC(),
	})
	return nil
}

func (r *AliasRepository) ListByCanonicalID(_ context.Context, canonicalID string) ([]alias.Alias, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []alias.Alias
	for _, a := range r.items {
		if a.CanonicalID == canonicalID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Reassignments exposes the audit trail for tests.
func (r *AliasRepository) Reassignments() []Reassignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Reassignment, len(r.reassignments))
	copy(out, r.reassignments)
	return out
}
