package usecase

import (
	"fmt"
	"sort"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

// freshnessAdvantage is how much newer a lower-priority provider's retrieval
// must be before it displaces the static priority on a time-sensitive field.
const freshnessAdvantage = 30 * time.Second

// MergeService combines same-canonical-ID records from multiple providers
// into one canonical record under a static field-priority policy.
type MergeService struct {
	policies map[canonical.EntityType]canonical.FieldPriority
	logger   *logging.Logger
}

func NewMergeService(policies map[canonical.EntityType]canonical.FieldPriority, logger *logging.Logger) *MergeService {
	if logger == nil {
		logger = logging.Default()
	}
	return &MergeService{policies: policies, logger: logger}
}

// Merge folds the given records into one MergeResult. For each schema field
// the first provider in priority order that supplied a value wins; absent
// stays absent. Material disagreements are recorded as conflicts but never
// block. Time-sensitive fields honor the freshness override, and reported
// values always outrank adapter-derived ones.
func (s *MergeService) Merge(canonicalID string, records []provider.Record, refs map[canonical.Field]string) (canonical.MergeResult, error) {
	if canonicalID == "" {
		return canonical.MergeResult{}, fmt.Errorf("%w: canonical id is required", ErrInvalidInput)
	}
	if len(records) == 0 {
		return canonical.MergeResult{}, fmt.Errorf("%w: no records to merge for canonical_id=%s", ErrInvalidInput, canonicalID)
	}

	entityType := records[0].EntityType
	for _, rec := range records[1:] {
		if rec.EntityType != entityType {
			return canonical.MergeResult{}, fmt.Errorf(
				"%w: mixed entity types %s and %s for canonical_id=%s",
				ErrInvalidInput, entityType, rec.EntityType, canonicalID,
			)
		}
	}

	schema, ok := canonical.SchemaFor(entityType)
	if !ok {
		return canonical.MergeResult{}, fmt.Errorf("%w: no schema for entity type %q", ErrInvalidInput, entityType)
	}
	policy, ok := s.policies[entityType]
	if !ok {
		return canonical.MergeResult{}, fmt.Errorf("%w: no field priority policy for entity type %q", ErrInvalidInput, entityType)
	}

	byProvider := make(map[string]provider.Record, len(records))
	for _, rec := range records {
		byProvider[rec.Provider] = rec
	}

	result := canonical.MergeResult{
		Entity: canonical.Entity{
			ID:      canonicalID,
			Type:    entityType,
			Fields:  make(map[canonical.Field]canonical.Value, len(schema.Fields)),
			Aliases: make(map[string]string, len(records)),
			Refs:    refs,
		},
		Provenance: make(map[canonical.Field]canonical.Origin, len(schema.Fields)),
	}
	for _, rec := range records {
		result.Entity.Aliases[rec.Provider] = rec.NativeID
	}

	for _, field := range schema.Fields {
		chosen, origin, ok := pickFieldValue(field, schema, policy, byProvider)
		if !ok {
			continue
		}
		result.Entity.Fields[field] = chosen
		result.Provenance[field] = origin
		result.Conflicts = append(result.Conflicts,
			collectConflicts(field, schema, policy, byProvider, origin.Provider, chosen)...)
	}

	return result, nil
}

// pickFieldValue applies static priority, then the derived-value demotion,
// then the freshness override.
func pickFieldValue(
	field canonical.Field,
	schema canonical.Schema,
	policy canonical.FieldPriority,
	byProvider map[string]provider.Record,
) (canonical.Value, canonical.Origin, bool) {
	order := policy.Order(field)

	var (
		chosen         canonical.Value
		chosenProvider string
		chosenAt       time.Time
		found          bool
	)

	// First provider in priority order with a reported (non-derived) value
	// wins; a derived value is only a fallback.
	var derivedValue canonical.Value
	var derivedProvider string
	for _, name := range order {
		rec, ok := byProvider[name]
		if !ok {
			continue
		}
		value, ok := rec.Fields[field]
		if !ok {
			continue
		}
		if value.Derived {
			if derivedProvider == "" {
				derivedValue, derivedProvider = value, name
			}
			continue
		}
		chosen, chosenProvider, chosenAt, found = value, name, rec.RetrievedAt, true
		break
	}

	if !found {
		if derivedProvider == "" {
			return canonical.Value{}, canonical.Origin{}, false
		}
		return derivedValue, canonical.Origin{
			Provider:   derivedProvider,
			Confidence: canonical.ConfidenceDerived,
		}, true
	}

	origin := canonical.Origin{Provider: chosenProvider, Confidence: canonical.ConfidenceReported}
	if !schema.IsTimeSensitive(field) {
		return chosen, origin, true
	}

	// Freshness override: a materially newer retrieval beats static priority
	// on live fields. Stale live data is worse than second-choice data.
	for _, name := range order {
		if name == chosenProvider {
			continue
		}
		rec, ok := byProvider[name]
		if !ok {
			continue
		}
		value, ok := rec.Fields[field]
		if !ok || value.Derived {
			continue
		}
		if rec.RetrievedAt.Sub(chosenAt) >= freshnessAdvantage {
			chosen, chosenProvider, chosenAt = value, name, rec.RetrievedAt
			origin = canonical.Origin{
				Provider:   name,
				Confidence: canonical.ConfidenceReported,
				Fresh:      true,
			}
		}
	}

	return chosen, origin, true
}

// collectConflicts records every provider that materially disagrees with the
// chosen value. Conflicts are observational: the chosen value stands.
func collectConflicts(
	field canonical.Field,
	schema canonical.Schema,
	policy canonical.FieldPriority,
	byProvider map[string]provider.Record,
	chosenProvider string,
	chosen canonical.Value,
) []canonical.Conflict {
	var out []canonical.Conflict
	tolerance := schema.ToleranceFor(field)

	names := make([]string, 0, len(byProvider))
	for name := range byProvider {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == chosenProvider {
			continue
		}
		if !providerInOrder(policy.Order(field), name) {
			continue
		}
		value, ok := byProvider[name].Fields[field]
		if !ok || value.Derived {
			continue
		}
		if chosen.Equal(value, tolerance) {
			continue
		}
		out = append(out, canonical.Conflict{
			Field:       field,
			ChosenBy:    chosenProvider,
			Chosen:      chosen,
			DisagreedBy: name,
			Disagreed:   value,
		})
	}
	return out
}

func providerInOrder(order []string, name string) bool {
	for _, item := range order {
		if item == name {
			return true
		}
	}
	return false
}
