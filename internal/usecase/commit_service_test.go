package usecase

import (
	"context"
	"testing"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

func teamResult(id, name string) canonical.MergeResult {
	return canonical.MergeResult{
		Entity: canonical.Entity{
			ID:   id,
			Type: canonical.EntityTeam,
			Fields: map[canonical.Field]canonical.Value{
				canonical.FieldName: canonical.StringValue(name),
			},
			Aliases: map[string]string{provider.APIFootball: id + "-native"},
		},
		Provenance: map[canonical.Field]canonical.Origin{
			canonical.FieldName: {Provider: provider.APIFootball, Confidence: canonical.ConfidenceReported},
		},
	}
}

func fixtureResult(id, homeTeamID, awayTeamID string) canonical.MergeResult {
	return canonical.MergeResult{
		Entity: canonical.Entity{
			ID:   id,
			Type: canonical.EntityFixture,
			Fields: map[canonical.Field]canonical.Value{
				canonical.FieldStatus: canonical.StringValue("NS"),
			},
			Aliases: map[string]string{provider.APIFootball: id + "-native"},
			Refs: map[canonical.Field]string{
				canonical.FieldHomeTeamID: homeTeamID,
				canonical.FieldAwayTeamID: awayTeamID,
			},
		},
		Provenance: map[canonical.Field]canonical.Origin{
			canonical.FieldStatus: {Provider: provider.APIFootball, Confidence: canonical.ConfidenceReported},
		},
	}
}

func TestCommitService_CommitsBatch(t *testing.T) {
	t.Parallel()

	entities := memory.NewEntityRepository()
	svc := NewCommitService(entities, logging.NewNop())

	report, err := svc.Commit(context.Background(), []canonical.MergeResult{
		teamResult("team_a", "Alpha"),
		teamResult("team_b", "Beta"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if report.Committed != 2 || len(report.Deferred) != 0 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}

	stored, ok, err := entities.Get(context.Background(), "team_a")
	if err != nil || !ok {
		t.Fatalf("get team_a: ok=%v err=%v", ok, err)
	}
	if stored.Fields[canonical.FieldName].Str != "Alpha" {
		t.Fatalf("stored = %+v", stored.Fields)
	}
}

func TestCommitService_DefersMissingRefs(t *testing.T) {
	t.Parallel()

	entities := memory.NewEntityRepository()
	svc := NewCommitService(entities, logging.NewNop())

	report, err := svc.Commit(context.Background(), []canonical.MergeResult{
		fixtureResult("fixture_x", "team_missing", "team_also_missing"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if report.Committed != 0 {
		t.Fatalf("committed = %d, want 0", report.Committed)
	}
	missing, ok := report.Deferred["fixture_x"]
	if !ok || len(missing) != 2 {
		t.Fatalf("deferred = %+v", report.Deferred)
	}
	if _, found, _ := entities.Get(context.Background(), "fixture_x"); found {
		t.Fatal("fixture with dangling refs must not be written")
	}
}

func TestCommitService_SecondPassPicksUpBatchSiblings(t *testing.T) {
	t.Parallel()

	entities := memory.NewEntityRepository()
	svc := NewCommitService(entities, logging.NewNop())

	// The fixture comes first in the slice; its teams land later in the same
	// batch, so the retry pass must commit it.
	report, err := svc.Commit(context.Background(), []canonical.MergeResult{
		fixtureResult("fixture_x", "team_a", "team_b"),
		teamResult("team_a", "Alpha"),
		teamResult("team_b", "Beta"),
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if report.Committed != 3 {
		t.Fatalf("report = %+v", report)
	}
	if len(report.Deferred) != 0 {
		t.Fatalf("deferred = %+v", report.Deferred)
	}
}

func TestCommitService_PartialMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	entities := memory.NewEntityRepository()
	svc := NewCommitService(entities, logging.NewNop())

	first := teamResult("team_a", "Alpha")
	first.Entity.Fields[canonical.FieldCountry] = canonical.StringValue("England")
	if _, err := svc.Commit(context.Background(), []canonical.MergeResult{first}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Second run carries name only; country must survive.
	second := teamResult("team_a", "Alpha FC")
	for range 2 {
		if _, err := svc.Commit(context.Background(), []canonical.MergeResult{second}); err != nil {
			t.Fatalf("repeat commit: %v", err)
		}
	}

	stored, _, err := entities.Get(context.Background(), "team_a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Fields[canonical.FieldName].Str != "Alpha FC" {
		t.Fatalf("name = %q", stored.Fields[canonical.FieldName].Str)
	}
	if stored.Fields[canonical.FieldCountry].Str != "England" {
		t.Fatal("field absent from a later run must be left untouched")
	}
}

func TestCommitService_FailedWriteDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	entities := memory.NewEntityRepository()
	svc := NewCommitService(entities, logging.NewNop())

	bad := teamResult("", "Nameless")
	good := teamResult("team_ok", "Okay")
	report, err := svc.Commit(context.Background(), []canonical.MergeResult{bad, good})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if report.Committed != 1 {
		t.Fatalf("committed = %d, want 1", report.Committed)
	}
	if len(report.Failed) != 1 {
		t.Fatalf("failed = %+v", report.Failed)
	}
}
