package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

type stubSource struct {
	name    string
	records map[canonical.EntityType][]provider.Record
	errs    map[canonical.EntityType]error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(_ context.Context, t canonical.EntityType) ([]provider.Record, error) {
	if err := s.errs[t]; err != nil {
		return nil, err
	}
	return s.records[t], nil
}

type pipelineFixture struct {
	svc      *PipelineService
	aliases  *memory.AliasRepository
	entities *memory.EntityRepository
}

func newPipelineFixture(sources ...ProviderSource) pipelineFixture {
	logger := logging.NewNop()
	aliases := memory.NewAliasRepository(nil)
	entities := memory.NewEntityRepository()
	resolver := NewResolverService(aliases, &sequenceIDGenerator{}, logger)
	merger := NewMergeService(canonical.DefaultPolicies(provider.APIFootball, provider.TheSportsDB, provider.LiveScore), logger)
	committer := NewCommitService(entities, logger)

	svc := NewPipelineService(sources, resolver, merger, committer, aliases, logger, PipelineOptions{WorkerCount: 2})
	return pipelineFixture{svc: svc, aliases: aliases, entities: entities}
}

func leagueRecord(p, nativeID, name string) provider.Record {
	rec := provider.Record{
		Provider:    p,
		NativeID:    nativeID,
		EntityType:  canonical.EntityLeague,
		Name:        name,
		RetrievedAt: time.Now(),
	}
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	return rec
}

func teamRecordWithLeague(p, nativeID, name, leagueNativeID string) provider.Record {
	rec := provider.Record{
		Provider:    p,
		NativeID:    nativeID,
		EntityType:  canonical.EntityTeam,
		Name:        name,
		RetrievedAt: time.Now(),
	}
	rec.Set(canonical.FieldName, canonical.StringValue(name))
	rec.SetRef(canonical.FieldLeagueID, leagueNativeID)
	return rec
}

func fixtureRecord(p, nativeID, leagueNativeID, homeNativeID, awayNativeID string) provider.Record {
	rec := provider.Record{
		Provider:    p,
		NativeID:    nativeID,
		EntityType:  canonical.EntityFixture,
		Name:        "home vs away " + nativeID,
		RetrievedAt: time.Now(),
	}
	rec.Set(canonical.FieldStatus, canonical.StringValue("NS"))
	rec.SetRef(canonical.FieldLeagueID, leagueNativeID)
	rec.SetRef(canonical.FieldHomeTeamID, homeNativeID)
	rec.SetRef(canonical.FieldAwayTeamID, awayNativeID)
	return rec
}

func reportFor(t *testing.T, report RunReport, entityType canonical.EntityType) EntityTypeReport {
	t.Helper()
	for _, tr := range report.EntityTypes {
		if tr.EntityType == entityType {
			return tr
		}
	}
	t.Fatalf("no report for entity type %s", entityType)
	return EntityTypeReport{}
}

func TestPipelineService_HappyPathAcrossProviders(t *testing.T) {
	t.Parallel()

	primary := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.APIFootball, "39", "Premier League")},
			canonical.EntityTeam: {
				teamRecordWithLeague(provider.APIFootball, "33", "Manchester United FC", "39"),
				teamRecordWithLeague(provider.APIFootball, "42", "Arsenal FC", "39"),
			},
			canonical.EntityFixture: {fixtureRecord(provider.APIFootball, "f100", "39", "33", "42")},
		},
	}
	media := &stubSource{
		name: provider.TheSportsDB,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.TheSportsDB, "4328", "Premier League")},
			canonical.EntityTeam: {
				teamRecordWithLeague(provider.TheSportsDB, "133612", "Manchester United", "4328"),
			},
		},
	}

	f := newPipelineFixture(primary, media)
	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != RunCompleted {
		t.Fatalf("status = %s, report = %+v", report.Status, report)
	}

	leagues := reportFor(t, report, canonical.EntityLeague)
	if leagues.Fetched != 2 || leagues.Resolved != 2 || leagues.Minted != 1 || leagues.Committed != 1 {
		t.Fatalf("league report = %+v", leagues)
	}

	teams := reportFor(t, report, canonical.EntityTeam)
	if teams.Resolved != 3 || teams.Minted != 2 || teams.Committed != 2 {
		t.Fatalf("team report = %+v", teams)
	}

	fixtures := reportFor(t, report, canonical.EntityFixture)
	if fixtures.Committed != 1 || len(fixtures.Unresolved) != 0 {
		t.Fatalf("fixture report = %+v", fixtures)
	}

	// Both provider aliases for Manchester United point at one entity
	// carrying both native IDs.
	res, ok, err := f.aliases.Get(context.Background(), provider.TheSportsDB, "133612", canonical.EntityTeam)
	if err != nil || !ok {
		t.Fatalf("alias get: ok=%v err=%v", ok, err)
	}
	merged, ok, err := f.entities.Get(context.Background(), res.CanonicalID)
	if err != nil || !ok {
		t.Fatalf("entity get: ok=%v err=%v", ok, err)
	}
	if merged.Aliases[provider.APIFootball] != "33" || merged.Aliases[provider.TheSportsDB] != "133612" {
		t.Fatalf("aliases = %v", merged.Aliases)
	}
	if merged.Refs[canonical.FieldLeagueID] == "" {
		t.Fatal("team must carry its canonical league reference")
	}
}

func TestPipelineService_ProviderFailureDegradesNotAborts(t *testing.T) {
	t.Parallel()

	primary := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.APIFootball, "39", "Premier League")},
			canonical.EntityTeam: {
				teamRecordWithLeague(provider.APIFootball, "33", "Manchester United FC", "39"),
			},
		},
	}
	flaky := &stubSource{
		name: provider.TheSportsDB,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.TheSportsDB, "4328", "Premier League")},
		},
		errs: map[canonical.EntityType]error{
			canonical.EntityTeam: errors.New("connection reset"),
		},
	}

	f := newPipelineFixture(primary, flaky)
	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != RunCompletedWithErrors {
		t.Fatalf("status = %s", report.Status)
	}

	teams := reportFor(t, report, canonical.EntityTeam)
	if len(teams.DegradedProviders) != 1 || teams.DegradedProviders[0] != provider.TheSportsDB {
		t.Fatalf("degraded = %v", teams.DegradedProviders)
	}
	if teams.Committed != 1 {
		t.Fatalf("team report = %+v, remaining provider data must still commit", teams)
	}

	// Data merged during a degraded pass carries reduced confidence.
	res, _, err := f.aliases.Get(context.Background(), provider.APIFootball, "33", canonical.EntityTeam)
	if err != nil {
		t.Fatalf("alias get: %v", err)
	}
	prov := f.entities.ProvenanceFor(res.CanonicalID)
	if got := prov[canonical.FieldName].Confidence; got != canonical.ConfidenceReduced {
		t.Fatalf("name confidence = %s, want reduced", got)
	}
}

func TestPipelineService_DependencyViolationAbortsDependentType(t *testing.T) {
	t.Parallel()

	source := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague:  {leagueRecord(provider.APIFootball, "39", "Premier League")},
			canonical.EntityFixture: {fixtureRecord(provider.APIFootball, "f100", "39", "33", "42")},
		},
	}

	f := newPipelineFixture(source)
	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Status != RunCompletedWithErrors {
		t.Fatalf("status = %s", report.Status)
	}

	fixtures := reportFor(t, report, canonical.EntityFixture)
	if !fixtures.Aborted {
		t.Fatalf("fixture report = %+v, want aborted with zero committed teams", fixtures)
	}
	if fixtures.Fetched != 0 {
		t.Fatal("an aborted stage must not spend fetch budget")
	}
}

func TestPipelineService_UnresolvableReferenceIsReportedNotGuessed(t *testing.T) {
	t.Parallel()

	source := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.APIFootball, "39", "Premier League")},
			canonical.EntityTeam: {
				teamRecordWithLeague(provider.APIFootball, "33", "Manchester United FC", "39"),
			},
			// Away team 999 was never fetched, so its alias cannot exist.
			canonical.EntityFixture: {fixtureRecord(provider.APIFootball, "f100", "39", "33", "999")},
		},
	}

	f := newPipelineFixture(source)
	report, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	fixtures := reportFor(t, report, canonical.EntityFixture)
	if fixtures.Committed != 0 {
		t.Fatalf("fixture report = %+v", fixtures)
	}
	if len(fixtures.Unresolved) != 1 {
		t.Fatalf("unresolved = %+v", fixtures.Unresolved)
	}
	if fixtures.Unresolved[0].NativeID != "f100" {
		t.Fatalf("unresolved record = %+v", fixtures.Unresolved[0])
	}
}

func TestPipelineService_IdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	source := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.APIFootball, "39", "Premier League")},
			canonical.EntityTeam: {
				teamRecordWithLeague(provider.APIFootball, "33", "Manchester United FC", "39"),
			},
		},
	}

	f := newPipelineFixture(source)
	first, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	firstTeams := reportFor(t, first, canonical.EntityTeam)
	secondTeams := reportFor(t, second, canonical.EntityTeam)
	if firstTeams.Minted != 1 || secondTeams.Minted != 0 {
		t.Fatalf("minted: first=%d second=%d, aliases must be stable", firstTeams.Minted, secondTeams.Minted)
	}

	res, _, err := f.aliases.Get(context.Background(), provider.APIFootball, "33", canonical.EntityTeam)
	if err != nil {
		t.Fatalf("alias get: %v", err)
	}
	rows, err := f.aliases.ListByCanonicalID(context.Background(), res.CanonicalID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("alias rows = %d err = %v, want no duplicates", len(rows), err)
	}
}

type failingEntityRepository struct {
	*memory.EntityRepository
	fail bool
}

func (r *failingEntityRepository) Upsert(ctx context.Context, result canonical.MergeResult) error {
	if r.fail {
		return errors.New("db unavailable")
	}
	return r.EntityRepository.Upsert(ctx, result)
}

func TestPipelineService_AliasesSurviveFailedCommit(t *testing.T) {
	t.Parallel()

	source := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.APIFootball, "39", "Premier League")},
		},
	}

	logger := logging.NewNop()
	aliases := memory.NewAliasRepository(nil)
	entities := &failingEntityRepository{EntityRepository: memory.NewEntityRepository(), fail: true}
	resolver := NewResolverService(aliases, &sequenceIDGenerator{}, logger)
	merger := NewMergeService(canonical.DefaultPolicies(provider.APIFootball, provider.TheSportsDB, provider.LiveScore), logger)
	committer := NewCommitService(entities, logger)
	svc := NewPipelineService([]ProviderSource{source}, resolver, merger, committer, aliases, logger, PipelineOptions{WorkerCount: 2})

	first, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	leagues := reportFor(t, first, canonical.EntityLeague)
	if leagues.Committed != 0 || len(leagues.CommitFailures) == 0 {
		t.Fatalf("league report = %+v, want failed commit", leagues)
	}

	// Alias rows are written while resolving, ahead of the entity row, so a
	// failed commit must not take the alias down with it.
	a, ok, err := aliases.Get(context.Background(), provider.APIFootball, "39", canonical.EntityLeague)
	if err != nil || !ok {
		t.Fatalf("alias get: ok=%v err=%v", ok, err)
	}

	entities.fail = false
	second, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	leagues = reportFor(t, second, canonical.EntityLeague)
	if leagues.Minted != 0 || leagues.Committed != 1 {
		t.Fatalf("league report = %+v, want direct-alias resolution and commit", leagues)
	}
	if _, ok, err := entities.Get(context.Background(), a.CanonicalID); err != nil || !ok {
		t.Fatalf("entity get: ok=%v err=%v, entity must land under the pre-existing alias", ok, err)
	}
}

func TestPipelineService_CancelledRunStopsBetweenStages(t *testing.T) {
	t.Parallel()

	source := &stubSource{
		name: provider.APIFootball,
		records: map[canonical.EntityType][]provider.Record{
			canonical.EntityLeague: {leagueRecord(provider.APIFootball, "39", "Premier League")},
		},
	}

	f := newPipelineFixture(source)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPipelineService_NoSources(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture()
	if _, err := f.svc.Run(context.Background()); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
