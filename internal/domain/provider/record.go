package provider

import (
	"fmt"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
)

// Known provider names. These are the only values that appear in alias rows
// and field priority policies.
const (
	APIFootball = "apifootball"
	TheSportsDB = "thesportsdb"
	LiveScore   = "livescore"
)

func KnownProviders() []string {
	return []string{APIFootball, TheSportsDB, LiveScore}
}

// Record is the adapter-normalized, pre-merge view of one entity as seen by
// one provider. Fields the provider did not supply are absent from the map,
// never zero-valued placeholders.
type Record struct {
	Provider   string
	NativeID   string
	EntityType canonical.EntityType
	// Name is the provider's display name for the entity, used by identity
	// resolution. Entity types without a natural name (standings, events)
	// leave it empty and resolve through NativeRefs instead.
	Name   string
	Fields map[canonical.Field]canonical.Value
	// NativeRefs holds provider-native IDs of referenced entities
	// (home team, league, fixture). The resolver translates them to
	// canonical IDs before merge.
	NativeRefs map[canonical.Field]string
	// RetrievedAt is when the payload was fetched, driving the freshness
	// override for time-sensitive fields.
	RetrievedAt time.Time
}

func (r Record) Validate() error {
	if r.Provider == "" {
		return fmt.Errorf("record provider is required")
	}
	if r.NativeID == "" {
		return fmt.Errorf("record native id is required")
	}
	if r.EntityType == "" {
		return fmt.Errorf("record entity type is required")
	}
	return nil
}

// Set stores a field value, allocating the map on first use.
func (r *Record) Set(f canonical.Field, v canonical.Value) {
	if r.Fields == nil {
		r.Fields = make(map[canonical.Field]canonical.Value, 8)
	}
	r.Fields[f] = v
}

// SetRef stores a provider-native reference.
func (r *Record) SetRef(f canonical.Field, nativeID string) {
	if nativeID == "" {
		return
	}
	if r.NativeRefs == nil {
		r.NativeRefs = make(map[canonical.Field]string, 4)
	}
	r.NativeRefs[f] = nativeID
}
