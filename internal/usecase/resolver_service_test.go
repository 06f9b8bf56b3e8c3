package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/alias"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	idgen "github.com/riskibarqy/matchsync/internal/platform/id"
	"github.com/riskibarqy/matchsync/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

type sequenceIDGenerator struct {
	n int
}

func (g *sequenceIDGenerator) NewID(prefix string) (string, error) {
	g.n++
	return prefix + "_" + string(rune('a'+g.n-1)), nil
}

var _ idgen.Generator = (*sequenceIDGenerator)(nil)

func newTestResolver(seed []alias.Alias) (*ResolverService, *memory.AliasRepository) {
	repo := memory.NewAliasRepository(seed)
	svc := NewResolverService(repo, &sequenceIDGenerator{}, logging.NewNop())
	return svc, repo
}

func record(p, nativeID, name string, t canonical.EntityType) provider.Record {
	return provider.Record{
		Provider:    p,
		NativeID:    nativeID,
		EntityType:  t,
		Name:        name,
		RetrievedAt: time.Now(),
	}
}

func TestResolverService_DirectAliasIsStable(t *testing.T) {
	t.Parallel()

	svc, repo := newTestResolver([]alias.Alias{{
		Provider:    provider.APIFootball,
		NativeID:    "33",
		EntityType:  canonical.EntityTeam,
		CanonicalID: "team_x",
		Method:      alias.MethodExact,
	}})

	// Even with a changed display name the stored alias wins.
	res, err := svc.Resolve(context.Background(), record(provider.APIFootball, "33", "Renamed United", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.CanonicalID != "team_x" || res.Method != alias.MethodDirect {
		t.Fatalf("resolution = %+v", res)
	}

	rows, err := repo.ListByCanonicalID(context.Background(), "team_x")
	if err != nil || len(rows) != 1 {
		t.Fatalf("aliases = %v err = %v, direct hit must not create rows", rows, err)
	}
}

func TestResolverService_ExactCrossProviderMatch(t *testing.T) {
	t.Parallel()

	svc, repo := newTestResolver(nil)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, record(provider.APIFootball, "33", "Manchester United FC", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve primary: %v", err)
	}
	if first.Method != alias.MethodMinted {
		t.Fatalf("first resolution = %+v, want minted", first)
	}

	// Suffix-stripped, case-insensitive equality.
	second, err := svc.Resolve(ctx, record(provider.TheSportsDB, "133612", "manchester united", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve secondary: %v", err)
	}
	if second.CanonicalID != first.CanonicalID {
		t.Fatalf("canonical ids differ: %q vs %q", first.CanonicalID, second.CanonicalID)
	}
	if second.Method != alias.MethodExact {
		t.Fatalf("method = %s, want exact", second.Method)
	}

	rows, err := repo.ListByCanonicalID(ctx, first.CanonicalID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("alias rows = %d err = %v, want one per provider", len(rows), err)
	}
}

func TestResolverService_FuzzyContainmentMatch(t *testing.T) {
	t.Parallel()

	svc, repo := newTestResolver(nil)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, record(provider.APIFootball, "77", "Seoul E-Land FC", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve primary: %v", err)
	}

	// The live feed writes it without the hyphen; equality of the
	// space-stripped names binds it to the same canonical entity.
	second, err := svc.Resolve(ctx, record(provider.LiveScore, "E-Land", "Seoul ELand", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve live: %v", err)
	}
	if second.CanonicalID != first.CanonicalID {
		t.Fatalf("canonical ids differ: %q vs %q", first.CanonicalID, second.CanonicalID)
	}
	if second.Method != alias.MethodFuzzy {
		t.Fatalf("method = %s, want fuzzy", second.Method)
	}

	rows, err := repo.ListByCanonicalID(ctx, first.CanonicalID)
	if err != nil || len(rows) != 2 {
		t.Fatalf("alias rows = %d err = %v", len(rows), err)
	}

	// Replays hit the alias table directly from now on.
	again, err := svc.Resolve(ctx, record(provider.LiveScore, "E-Land", "Seoul ELand", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.Method != alias.MethodDirect || again.CanonicalID != first.CanonicalID {
		t.Fatalf("replay = %+v", again)
	}
}

func TestResolverService_AmbiguityIsNotGuessed(t *testing.T) {
	t.Parallel()

	svc, _ := newTestResolver(nil)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, record(provider.APIFootball, "1", "Nacional Montevideo", canonical.EntityTeam)); err != nil {
		t.Fatalf("seed 1: %v", err)
	}
	if _, err := svc.Resolve(ctx, record(provider.TheSportsDB, "2", "Atletico Nacional", canonical.EntityTeam)); err != nil {
		t.Fatalf("seed 2: %v", err)
	}

	// "Nacional" is contained in both seeded names, so it matches two
	// distinct canonical entities and must come back unresolved rather than
	// bound to either one.
	_, err := svc.Resolve(ctx, record(provider.LiveScore, "3", "Nacional", canonical.EntityTeam))
	if !errors.Is(err, ErrAmbiguousResolution) {
		t.Fatalf("err = %v, want ErrAmbiguousResolution", err)
	}
}

func TestResolverService_ShortNamesNeverFuzzyMatch(t *testing.T) {
	t.Parallel()

	svc, _ := newTestResolver(nil)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, record(provider.APIFootball, "10", "Ee FC", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := svc.Resolve(ctx, record(provider.TheSportsDB, "20", "Eel", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.CanonicalID == second.CanonicalID {
		t.Fatal("short names must not merge by containment")
	}
}

func TestResolverService_SameProviderNamesStayDistinct(t *testing.T) {
	t.Parallel()

	svc, _ := newTestResolver(nil)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, record(provider.APIFootball, "100", "United FC", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := svc.Resolve(ctx, record(provider.APIFootball, "200", "United FC", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.CanonicalID == second.CanonicalID {
		t.Fatal("two native ids from one provider are distinct entities")
	}
}

func TestResolverService_EntityTypesDoNotCrossMatch(t *testing.T) {
	t.Parallel()

	svc, _ := newTestResolver(nil)
	ctx := context.Background()

	team, err := svc.Resolve(ctx, record(provider.APIFootball, "1", "Santos", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve team: %v", err)
	}
	player, err := svc.Resolve(ctx, record(provider.TheSportsDB, "p9", "Santos", canonical.EntityPlayer))
	if err != nil {
		t.Fatalf("resolve player: %v", err)
	}
	if team.CanonicalID == player.CanonicalID {
		t.Fatal("a team and a player must never share a canonical id")
	}
}

func TestResolverService_Reassign(t *testing.T) {
	t.Parallel()

	svc, repo := newTestResolver([]alias.Alias{{
		Provider:    provider.LiveScore,
		NativeID:    "E-Land",
		EntityType:  canonical.EntityTeam,
		CanonicalID: "team_wrong",
		Method:      alias.MethodFuzzy,
	}})
	ctx := context.Background()

	if err := svc.Reassign(ctx, provider.LiveScore, "E-Land", canonical.EntityTeam, "team_right", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput for empty reason", err)
	}
	if err := svc.Reassign(ctx, provider.LiveScore, "E-Land", canonical.EntityTeam, "team_right", "manual audit: wrong fuzzy bind"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	got, ok, err := repo.Get(ctx, provider.LiveScore, "E-Land", canonical.EntityTeam)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.CanonicalID != "team_right" || got.Method != alias.MethodReassigned {
		t.Fatalf("alias = %+v", got)
	}
	if audits := repo.Reassignments(); len(audits) != 1 || audits[0].OldCanonicalID != "team_wrong" {
		t.Fatalf("audit trail = %+v", audits)
	}
}

type flakyAliasRepository struct {
	*memory.AliasRepository
	failNext bool
}

func (r *flakyAliasRepository) Create(ctx context.Context, a alias.Alias) error {
	if r.failNext {
		r.failNext = false
		return errors.New("alias store unavailable")
	}
	return r.AliasRepository.Create(ctx, a)
}

func TestResolverService_FailedAliasWriteLeavesNoCandidate(t *testing.T) {
	t.Parallel()

	repo := &flakyAliasRepository{AliasRepository: memory.NewAliasRepository(nil), failNext: true}
	svc := NewResolverService(repo, &sequenceIDGenerator{}, logging.NewNop())
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, record(provider.APIFootball, "33", "Manchester United FC", canonical.EntityTeam)); err == nil {
		t.Fatal("resolve must fail when the alias write fails")
	}

	// The minted entity has no persisted alias, so a later record with the
	// same name must not bind to it; it gets its own canonical ID.
	res, err := svc.Resolve(ctx, record(provider.TheSportsDB, "133612", "Manchester United", canonical.EntityTeam))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Method != alias.MethodMinted {
		t.Fatalf("resolution = %+v, want a fresh mint", res)
	}
	rows, err := repo.ListByCanonicalID(ctx, res.CanonicalID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("alias rows = %v err = %v", rows, err)
	}
}

func TestNormalizeEntityName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Manchester United FC", "manchester"},
		{"Manchester City", "manchester"},
		{"FC Barcelona", "fc barcelona"},
		{"Seoul E-Land FC", "seoul e land"},
		{"Seoul ELand", "seoul eland"},
		{"Leeds United", "leeds"},
		{"United", "united"},
		{"  AFC   Bournemouth  ", "afc bournemouth"},
	}
	for _, tc := range cases {
		if got := NormalizeEntityName(tc.in); got != tc.want {
			t.Errorf("NormalizeEntityName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
