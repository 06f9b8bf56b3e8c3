package canonical

import "fmt"

// FieldPriority is the ordered provider preference per field for one entity
// type. The first provider in a field's list that supplied a value wins,
// unless the freshness override applies. Static configuration: built once at
// startup and validated against the schema, never adjusted per record.
type FieldPriority struct {
	// Default is used for every field without an explicit override.
	Default []string
	// Overrides lists provider order per field.
	Overrides map[Field][]string
}

// Order returns the provider preference for a field.
func (p FieldPriority) Order(f Field) []string {
	if order, ok := p.Overrides[f]; ok {
		return order
	}
	return p.Default
}

// Validate checks the policy only references known providers and fields the
// schema actually carries.
func (p FieldPriority) Validate(t EntityType, knownProviders []string) error {
	schema, ok := SchemaFor(t)
	if !ok {
		return fmt.Errorf("no schema for entity type %q", t)
	}

	known := make(map[string]struct{}, len(knownProviders))
	for _, name := range knownProviders {
		known[name] = struct{}{}
	}
	if len(p.Default) == 0 {
		return fmt.Errorf("entity type %q: default provider order is empty", t)
	}
	for _, name := range p.Default {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("entity type %q: unknown provider %q in default order", t, name)
		}
	}

	schemaFields := make(map[Field]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		schemaFields[f] = struct{}{}
	}
	for f, order := range p.Overrides {
		if _, ok := schemaFields[f]; !ok {
			return fmt.Errorf("entity type %q: override for field %q not in schema", t, f)
		}
		if len(order) == 0 {
			return fmt.Errorf("entity type %q: override for field %q is empty", t, f)
		}
		for _, name := range order {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("entity type %q: unknown provider %q for field %q", t, name, f)
			}
		}
	}
	return nil
}

// DefaultPolicies returns the standard provider priorities. apifootball is
// the structured primary, thesportsdb owns media fields, livescore owns
// in-play fields.
func DefaultPolicies(apifootball, thesportsdb, livescore string) map[EntityType]FieldPriority {
	primary := []string{apifootball, thesportsdb, livescore}
	media := []string{thesportsdb, apifootball, livescore}
	live := []string{livescore, apifootball, thesportsdb}

	return map[EntityType]FieldPriority{
		EntityLeague: {
			Default: primary,
			Overrides: map[Field][]string{
				FieldLogoURL: media,
			},
		},
		EntityTeam: {
			Default: primary,
			Overrides: map[Field][]string{
				FieldLogoURL:  media,
				FieldBadgeURL: media,
				FieldStadium:  media,
			},
		},
		EntityPlayer: {
			Default: primary,
			Overrides: map[Field][]string{
				FieldPhotoURL: media,
			},
		},
		EntityFixture: {
			Default: primary,
			Overrides: map[Field][]string{
				FieldStatus:    live,
				FieldHomeScore: live,
				FieldAwayScore: live,
				FieldMinute:    live,
			},
		},
		EntityStanding: {
			Default: primary,
		},
		EntityEvent: {
			Default: live,
		},
	}
}

// ValidatePolicies runs Validate over a full policy set and requires every
// entity type to be covered.
func ValidatePolicies(policies map[EntityType]FieldPriority, knownProviders []string) error {
	for _, t := range EntityTypesInDependencyOrder() {
		policy, ok := policies[t]
		if !ok {
			return fmt.Errorf("missing field priority policy for entity type %q", t)
		}
		if err := policy.Validate(t, knownProviders); err != nil {
			return err
		}
	}
	return nil
}
