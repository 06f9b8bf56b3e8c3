package canonical

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EntityType identifies one reconciled record family.
type EntityType string

const (
	EntityLeague   EntityType = "league"
	EntityTeam     EntityType = "team"
	EntityPlayer   EntityType = "player"
	EntityFixture  EntityType = "fixture"
	EntityStanding EntityType = "standing"
	EntityEvent    EntityType = "event"
)

// EntityTypesInDependencyOrder lists entity types so that every type only
// references canonical IDs of types committed before it.
func EntityTypesInDependencyOrder() []EntityType {
	return []EntityType{
		EntityLeague,
		EntityTeam,
		EntityPlayer,
		EntityFixture,
		EntityStanding,
		EntityEvent,
	}
}

// Field names one typed attribute of an entity schema.
type Field string

type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindTime
	KindBool
)

// Value is one typed attribute value. Absent fields are not represented at
// all; a Value always carries a real observation.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Time time.Time
	Bool bool
	// Derived marks values inferred by an adapter heuristic instead of being
	// reported by the provider. Reported values always outrank derived ones.
	Derived bool
}

func StringValue(v string) Value    { return Value{Kind: KindString, Str: v} }
func NumberValue(v float64) Value   { return Value{Kind: KindNumber, Num: v} }
func TimeValue(v time.Time) Value   { return Value{Kind: KindTime, Time: v} }
func BoolValue(v bool) Value        { return Value{Kind: KindBool, Bool: v} }

// AsDerived returns a copy flagged as heuristic-derived.
func (v Value) AsDerived() Value {
	v.Derived = true
	return v
}

// Equal reports whether two values agree within tolerance. Numbers compare
// with an absolute tolerance, strings after trimming and case folding, times
// to the second.
func (v Value) Equal(other Value, tolerance float64) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return math.Abs(v.Num-other.Num) <= tolerance
	case KindString:
		return strings.EqualFold(strings.TrimSpace(v.Str), strings.TrimSpace(other.Str))
	case KindTime:
		return v.Time.Truncate(time.Second).Equal(other.Time.Truncate(time.Second))
	case KindBool:
		return v.Bool == other.Bool
	default:
		return false
	}
}

// Render formats the value for logs and audit rows.
func (v Value) Render() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindTime:
		return v.Time.UTC().Format(time.RFC3339)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	default:
		return ""
	}
}

// Entity is the one internal record for a real-world league/team/player/
// fixture/standing/event, independent of any provider ID space.
type Entity struct {
	ID     string
	Type   EntityType
	Fields map[Field]Value
	// Aliases maps provider name to that provider's native ID for this entity.
	Aliases map[string]string
	// Refs maps reference fields (home_team_id, league_id, ...) to canonical
	// IDs of already-reconciled entities.
	Refs map[Field]string
}

func (e Entity) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entity id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("entity type is required")
	}
	return nil
}

// Confidence grades how a merged field value was obtained.
type Confidence string

const (
	ConfidenceReported Confidence = "reported"
	ConfidenceDerived  Confidence = "derived"
	ConfidenceReduced  Confidence = "reduced"
)

// Origin records which provider supplied a merged field and how trustworthy
// the value is.
type Origin struct {
	Provider   string
	Confidence Confidence
	// Fresh is set when the freshness override displaced the static priority.
	Fresh bool
}

// Conflict is an observational record of two providers materially
// disagreeing on one field. The higher-priority (or fresher) value still won.
type Conflict struct {
	Field       Field
	ChosenBy    string
	Chosen      Value
	DisagreedBy string
	Disagreed   Value
}

// MergeResult is the canonical entity plus per-field provenance and the
// conflicts observed while merging.
type MergeResult struct {
	Entity     Entity
	Provenance map[Field]Origin
	Conflicts  []Conflict
}
