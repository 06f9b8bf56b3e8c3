package usecase

import (
	"context"
	"fmt"
	"sort"

	crerr "github.com/cockroachdb/errors"

	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

// CommitReport summarizes one commit batch.
type CommitReport struct {
	Committed int
	// Deferred lists canonical IDs skipped because a referenced entity does
	// not exist yet, keyed by the missing reference.
	Deferred map[string][]string
	// Failed lists canonical IDs whose writes failed, with the error text.
	Failed map[string]string
}

// CommitService is the upsert writer: it persists merge results with
// partial-field merge semantics, enforcing that cross-entity references
// point at committed rows.
type CommitService struct {
	entities canonical.Repository
	logger   *logging.Logger
}

func NewCommitService(entities canonical.Repository, logger *logging.Logger) *CommitService {
	if logger == nil {
		logger = logging.Default()
	}
	return &CommitService{entities: entities, logger: logger}
}

// Commit upserts the batch. A record whose references are not yet committed
// is deferred and retried once at the end of the batch, since the missing
// row may land earlier in the same batch. A failed write never aborts the
// batch; it is reported per record.
func (s *CommitService) Commit(ctx context.Context, results []canonical.MergeResult) (CommitReport, error) {
	ctx, span := startUsecaseSpan(ctx, "CommitService.Commit")
	defer span.End()

	report := CommitReport{
		Deferred: map[string][]string{},
		Failed:   map[string]string{},
	}
	if len(results) == 0 {
		return report, nil
	}

	known, err := s.lookupRefs(ctx, results)
	if err != nil {
		return report, err
	}

	var deferred []canonical.MergeResult
	for _, result := range results {
		if missing := missingRefs(result, known); len(missing) > 0 {
			deferred = append(deferred, result)
			continue
		}
		s.upsertOne(ctx, result, known, &report)
	}

	// Second pass: rows committed above may satisfy what was missing.
	for _, result := range deferred {
		if missing := missingRefs(result, known); len(missing) > 0 {
			report.Deferred[result.Entity.ID] = missing
			s.logger.WarnContext(ctx, "commit deferred, referenced entities missing",
				"canonical_id", result.Entity.ID,
				"entity_type", string(result.Entity.Type),
				"missing_refs", missing,
			)
			continue
		}
		s.upsertOne(ctx, result, known, &report)
	}

	return report, nil
}

func (s *CommitService) upsertOne(
	ctx context.Context,
	result canonical.MergeResult,
	known map[string]bool,
	report *CommitReport,
) {
	if err := result.Entity.Validate(); err != nil {
		report.Failed[result.Entity.ID] = err.Error()
		return
	}
	if err := s.entities.Upsert(ctx, result); err != nil {
		wrapped := crerr.Wrapf(err, "upsert canonical_id=%s", result.Entity.ID)
		report.Failed[result.Entity.ID] = wrapped.Error()
		s.logger.ErrorContext(ctx, "commit failed",
			"canonical_id", result.Entity.ID,
			"entity_type", string(result.Entity.Type),
			"error", wrapped,
		)
		return
	}
	known[result.Entity.ID] = true
	report.Committed++
}

// lookupRefs resolves existence for every referenced canonical ID in one
// round trip. IDs committed later in this batch are added as they land.
func (s *CommitService) lookupRefs(ctx context.Context, results []canonical.MergeResult) (map[string]bool, error) {
	seen := map[string]bool{}
	var ids []string
	for _, result := range results {
		for _, refID := range result.Entity.Refs {
			if refID == "" || seen[refID] {
				continue
			}
			seen[refID] = true
			ids = append(ids, refID)
		}
	}
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	known, err := s.entities.Exist(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: checking %d referenced entities: %v", ErrPersistence, len(ids), err)
	}
	if known == nil {
		known = map[string]bool{}
	}
	return known, nil
}

func missingRefs(result canonical.MergeResult, known map[string]bool) []string {
	var missing []string
	for _, refID := range result.Entity.Refs {
		if refID == "" {
			continue
		}
		if !known[refID] {
			missing = append(missing, refID)
		}
	}
	sort.Strings(missing)
	return missing
}
