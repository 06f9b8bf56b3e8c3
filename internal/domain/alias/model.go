package alias

import (
	"fmt"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
)

// MatchMethod records how a (provider, native ID) pair was bound to its
// canonical ID. Fuzzy bindings carry strictly lower confidence and stay
// distinguishable for audit.
type MatchMethod string

const (
	MethodDirect     MatchMethod = "direct"
	MethodExact      MatchMethod = "exact"
	MethodFuzzy      MatchMethod = "fuzzy"
	MethodMinted     MatchMethod = "minted"
	MethodReassigned MatchMethod = "reassigned"
)

// Alias is one persisted mapping from a provider-native ID to a canonical ID.
// Entries are created once and never silently overwritten; moving an alias to
// another canonical ID goes through Repository.Reassign and leaves an audit
// trail.
type Alias struct {
	Provider    string
	NativeID    string
	EntityType  canonical.EntityType
	CanonicalID string
	Method      MatchMethod
	CreatedAt   time.Time
}

func (a Alias) Validate() error {
	if a.Provider == "" {
		return fmt.Errorf("alias provider is required")
	}
	if a.NativeID == "" {
		return fmt.Errorf("alias native id is required")
	}
	if a.EntityType == "" {
		return fmt.Errorf("alias entity type is required")
	}
	if a.CanonicalID == "" {
		return fmt.Errorf("alias canonical id is required")
	}
	return nil
}

// Key is the uniqueness key of the alias table.
func (a Alias) Key() string {
	return Key(a.Provider, a.NativeID, a.EntityType)
}

func Key(provider, nativeID string, t canonical.EntityType) string {
	return provider + "/" + string(t) + "/" + nativeID
}
