package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/alias"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	idgen "github.com/riskibarqy/matchsync/internal/platform/id"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

// Resolution is the outcome of mapping one provider record onto the
// canonical ID space.
type Resolution struct {
	CanonicalID string
	Method      alias.MatchMethod
}

// ResolverService maps provider-native IDs to canonical IDs. It is the only
// component that mints canonical IDs, and the only writer of the alias table.
type ResolverService struct {
	aliases alias.Repository
	ids     idgen.Generator
	logger  *logging.Logger
	now     func() time.Time

	// keyMu serializes resolution per alias key so two workers can never
	// mint two canonical IDs for the same (provider, native_id).
	keyMu keyedMutex

	// indexMu guards the run-scoped name index used for cross-provider
	// matching.
	indexMu sync.Mutex
	index   map[canonical.EntityType][]nameCandidate
}

type nameCandidate struct {
	canonicalID string
	provider    string
	name        string // normalized, suffix-stripped
	bare        string // name without spaces
}

func NewResolverService(aliases alias.Repository, ids idgen.Generator, logger *logging.Logger) *ResolverService {
	if logger == nil {
		logger = logging.Default()
	}
	return &ResolverService{
		aliases: aliases,
		ids:     ids,
		logger:  logger,
		now:     time.Now,
		index:   make(map[canonical.EntityType][]nameCandidate),
	}
}

// Reset clears the run-scoped name index. The orchestrator calls it at the
// start of every run; persisted aliases are unaffected.
func (s *ResolverService) Reset() {
	s.indexMu.Lock()
	s.index = make(map[canonical.EntityType][]nameCandidate)
	s.indexMu.Unlock()
}

// Resolve maps one record to its canonical ID, first match wins:
// direct alias, cross-provider exact name match, fuzzy name match, mint.
// Fuzzy matches are provisional and logged for audit; ties between two
// distinct canonical IDs surface ErrAmbiguousResolution instead of a guess.
func (s *ResolverService) Resolve(ctx context.Context, rec provider.Record) (Resolution, error) {
	if err := rec.Validate(); err != nil {
		return Resolution{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	key := alias.Key(rec.Provider, rec.NativeID, rec.EntityType)
	unlock := s.keyMu.lock(key)
	defer unlock()

	existing, found, err := s.aliases.Get(ctx, rec.Provider, rec.NativeID, rec.EntityType)
	if err != nil {
		return Resolution{}, fmt.Errorf("alias lookup provider=%s native_id=%s: %w", rec.Provider, rec.NativeID, err)
	}
	if found {
		s.remember(rec, existing.CanonicalID)
		return Resolution{CanonicalID: existing.CanonicalID, Method: alias.MethodDirect}, nil
	}

	canonicalID, method, err := s.matchOrMint(ctx, rec)
	if err != nil {
		return Resolution{}, err
	}

	entry := alias.Alias{
		Provider:    rec.Provider,
		NativeID:    rec.NativeID,
		EntityType:  rec.EntityType,
		CanonicalID: canonicalID,
		Method:      method,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.aliases.Create(ctx, entry); err != nil {
		// The candidate registered while matching must not outlive a failed
		// alias write, or later records could match a canonical ID that was
		// never persisted.
		s.forget(rec, canonicalID)
		return Resolution{}, fmt.Errorf("create alias provider=%s native_id=%s canonical_id=%s: %w",
			rec.Provider, rec.NativeID, canonicalID, err)
	}

	if method == alias.MethodFuzzy {
		s.logger.WarnContext(ctx, "fuzzy identity match, provisional alias created",
			"provider", rec.Provider,
			"native_id", rec.NativeID,
			"entity_type", rec.EntityType,
			"name", rec.Name,
			"canonical_id", canonicalID,
		)
	}

	return Resolution{CanonicalID: canonicalID, Method: method}, nil
}

// Reassign deliberately rebinds a mismatched alias onto another canonical
// entity. This is the only sanctioned way to move an alias.
func (s *ResolverService) Reassign(ctx context.Context, providerName, nativeID string, t canonical.EntityType, newCanonicalID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reassignment reason is required", ErrInvalidInput)
	}

	key := alias.Key(providerName, nativeID, t)
	unlock := s.keyMu.lock(key)
	defer unlock()

	if err := s.aliases.Reassign(ctx, providerName, nativeID, t, newCanonicalID, reason); err != nil {
		return fmt.Errorf("reassign alias provider=%s native_id=%s: %w", providerName, nativeID, err)
	}

	s.logger.InfoContext(ctx, "alias reassigned",
		"provider", providerName,
		"native_id", nativeID,
		"entity_type", t,
		"new_canonical_id", newCanonicalID,
		"reason", reason,
	)
	return nil
}

func (s *ResolverService) matchOrMint(ctx context.Context, rec provider.Record) (string, alias.MatchMethod, error) {
	name := NormalizeEntityName(rec.Name)

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	if name != "" {
		id, method, ok, err := s.matchLocked(rec, name)
		if err != nil {
			return "", "", err
		}
		if ok {
			s.rememberLocked(rec, id)
			return id, method, nil
		}
	}

	newID, err := s.ids.NewID(string(rec.EntityType))
	if err != nil {
		return "", "", fmt.Errorf("mint canonical id: %w", err)
	}
	s.rememberLocked(rec, newID)
	s.logger.DebugContext(ctx, "minted canonical id",
		"provider", rec.Provider,
		"native_id", rec.NativeID,
		"entity_type", rec.EntityType,
		"canonical_id", newID,
	)
	return newID, alias.MethodMinted, nil
}

// matchLocked runs cross-provider exact then fuzzy matching against this
// run's already-resolved records. Same-provider candidates are skipped: two
// records from one provider with the same name are distinct entities, or the
// direct alias lookup would have caught them.
func (s *ResolverService) matchLocked(rec provider.Record, name string) (string, alias.MatchMethod, bool, error) {
	bare := strings.ReplaceAll(name, " ", "")

	exactIDs := make(map[string]struct{}, 1)
	fuzzyIDs := make(map[string]struct{}, 1)
	for _, cand := range s.index[rec.EntityType] {
		if cand.provider == rec.Provider {
			continue
		}
		if cand.name == name {
			exactIDs[cand.canonicalID] = struct{}{}
			continue
		}
		if fuzzyNameMatch(name, bare, cand) {
			fuzzyIDs[cand.canonicalID] = struct{}{}
		}
	}

	if id, ok, err := pickSingle(rec, name, exactIDs); err != nil || ok {
		return id, alias.MethodExact, ok, err
	}
	if id, ok, err := pickSingle(rec, name, fuzzyIDs); err != nil || ok {
		return id, alias.MethodFuzzy, ok, err
	}
	return "", "", false, nil
}

func pickSingle(rec provider.Record, name string, ids map[string]struct{}) (string, bool, error) {
	switch len(ids) {
	case 0:
		return "", false, nil
	case 1:
		for id := range ids {
			return id, true, nil
		}
		return "", false, nil
	default:
		return "", false, fmt.Errorf(
			"%w: provider=%s native_id=%s entity_type=%s name=%q matches %d distinct canonical entities",
			ErrAmbiguousResolution, rec.Provider, rec.NativeID, rec.EntityType, name, len(ids),
		)
	}
}

// fuzzyNameMatch treats two suffix-stripped names as the same entity when
// they are equal ignoring spaces, or one contains the other. Short names are
// excluded so that e.g. two unrelated clubs both shortened to "east" never
// merge silently.
func fuzzyNameMatch(name, bare string, cand nameCandidate) bool {
	const minFuzzyLen = 4
	if len(bare) < minFuzzyLen || len(cand.bare) < minFuzzyLen {
		return false
	}
	if bare == cand.bare {
		return true
	}
	return strings.Contains(bare, cand.bare) || strings.Contains(cand.bare, bare)
}

func (s *ResolverService) remember(rec provider.Record, canonicalID string) {
	s.indexMu.Lock()
	s.rememberLocked(rec, canonicalID)
	s.indexMu.Unlock()
}

// forget removes the newest index entry registered for rec under canonicalID.
func (s *ResolverService) forget(rec provider.Record, canonicalID string) {
	name := NormalizeEntityName(rec.Name)
	if name == "" {
		return
	}
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	cands := s.index[rec.EntityType]
	for i := len(cands) - 1; i >= 0; i-- {
		c := cands[i]
		if c.canonicalID == canonicalID && c.provider == rec.Provider && c.name == name {
			s.index[rec.EntityType] = append(cands[:i], cands[i+1:]...)
			return
		}
	}
}

func (s *ResolverService) rememberLocked(rec provider.Record, canonicalID string) {
	name := NormalizeEntityName(rec.Name)
	if name == "" {
		return
	}
	s.index[rec.EntityType] = append(s.index[rec.EntityType], nameCandidate{
		canonicalID: canonicalID,
		provider:    rec.Provider,
		name:        name,
		bare:        strings.ReplaceAll(name, " ", ""),
	})
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

var clubSuffixes = map[string]struct{}{
	"fc": {}, "cf": {}, "sc": {}, "afc": {}, "cfc": {}, "ac": {},
	"club": {}, "united": {}, "city": {},
}

// NormalizeEntityName lowers, strips punctuation and trailing club suffixes
// ("FC", "United", "City", ...), and collapses whitespace. Used for
// cross-provider identity comparison only, never for display.
func NormalizeEntityName(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if _, ok := clubSuffixes[last]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}
