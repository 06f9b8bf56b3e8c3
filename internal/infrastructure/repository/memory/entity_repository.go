package memory

import (
	"context"
	"sync"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
)

// EntityRepository keeps merged canonical entities in memory with the same
// partial-merge upsert semantics as the postgres store.
type EntityRepository struct {
	mu         sync.RWMutex
	items      map[string]canonical.Entity
	provenance map[string]map[canonical.Field]canonical.Origin
	conflicts  map[string][]canonical.Conflict
}

func NewEntityRepository() *EntityRepository {
	return &EntityRepository{
		items:      make(map[string]canonical.Entity),
		provenance: make(map[string]map[canonical.Field]canonical.Origin),
		conflicts:  make(map[string][]canonical.Conflict),
	}
}

func (r *EntityRepository) Upsert(_ context.Context, result canonical.MergeResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := result.Entity
	stored, ok := r.items[incoming.ID]
	if !ok {
		stored = canonical.Entity{
			ID:      incoming.ID,
			Type:    incoming.Type,
			Fields:  make(map[canonical.Field]canonical.Value),
			Aliases: make(map[string]string),
			Refs:    make(map[canonical.Field]string),
		}
	}

	// Partial merge: only fields present in this result are overwritten.
	for f, v := range incoming.Fields {
		stored.Fields[f] = v
	}
	for p, nativeID := range incoming.Aliases {
		stored.Aliases[p] = nativeID
	}
	for f, id := range incoming.Refs {
		stored.Refs[f] = id
	}
	r.items[incoming.ID] = stored

	prov, ok := r.provenance[incoming.ID]
	if !ok {
		prov = make(map[canonical.Field]canonical.Origin)
		r.provenance[incoming.ID] = prov
	}
	for f, origin := range result.Provenance {
		prov[f] = origin
	}
	// Replays of the same batch must not duplicate audit rows; dedupe on the
	// same key as the merge_conflicts unique constraint.
	seen := make(map[string]struct{}, len(r.conflicts[incoming.ID]))
	for _, c := range r.conflicts[incoming.ID] {
		seen[conflictKey(c)] = struct{}{}
	}
	for _, c := range result.Conflicts {
		k := conflictKey(c)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		r.conflicts[incoming.ID] = append(r.conflicts[incoming.ID], c)
	}
	return nil
}

func conflictKey(c canonical.Conflict) string {
	return string(c.Field) + "\x00" + c.ChosenBy + "\x00" + c.DisagreedBy + "\x00" + c.Disagreed.Render()
}

func (r *EntityRepository) Get(_ context.Context, id string) (canonical.Entity, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.items[id]
	if !ok {
		return canonical.Entity{}, false, nil
	}
	return cloneEntity(stored), true, nil
}

func (r *EntityRepository) Exist(_ context.Context, ids []string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := r.items[id]
		out[id] = ok
	}
	return out, nil
}

// ProvenanceFor exposes stored provenance for tests.
func (r *EntityRepository) ProvenanceFor(id string) map[canonical.Field]canonical.Origin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[canonical.Field]canonical.Origin, len(r.provenance[id]))
	for f, o := range r.provenance[id] {
		out[f] = o
	}
	return out
}

// ConflictsFor exposes stored conflict rows for tests.
func (r *EntityRepository) ConflictsFor(id string) []canonical.Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]canonical.Conflict, len(r.conflicts[id]))
	copy(out, r.conflicts[id])
	return out
}

func cloneEntity(e canonical.Entity) canonical.Entity {
	out := canonical.Entity{
		ID:      e.ID,
		Type:    e.Type,
		Fields:  make(map[canonical.Field]canonical.Value, len(e.Fields)),
		Aliases: make(map[string]string, len(e.Aliases)),
		Refs:    make(map[canonical.Field]string, len(e.Refs)),
	}
	for f, v := range e.Fields {
		out.Fields[f] = v
	}
	for p, nativeID := range e.Aliases {
		out.Aliases[p] = nativeID
	}
	for f, id := range e.Refs {
		out.Refs[f] = id
	}
	return out
}
