package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sourcegraph/conc"

	"github.com/riskibarqy/matchsync/internal/domain/alias"
	"github.com/riskibarqy/matchsync/internal/domain/canonical"
	"github.com/riskibarqy/matchsync/internal/domain/provider"
	"github.com/riskibarqy/matchsync/internal/platform/logging"
)

// Stage names one phase of an entity type's pass through the pipeline.
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageAdapting   Stage = "adapting"
	StageResolving  Stage = "resolving"
	StageMerging    Stage = "merging"
	StageCommitting Stage = "committing"
	StageReporting  Stage = "reporting"
)

// Run terminal states.
const (
	RunCompleted           = "completed"
	RunCompletedWithErrors = "completed_with_errors"
)

const (
	defaultWorkerCount  = 4
	defaultStageTimeout = 5 * time.Minute
)

// ProviderSource is one provider's fetch-and-adapt boundary: it returns
// normalized records for an entity type, applying its own rate limiting.
type ProviderSource interface {
	Name() string
	Fetch(ctx context.Context, t canonical.EntityType) ([]provider.Record, error)
}

// UnresolvedRecord is one record set aside during a run, with enough context
// for manual reconciliation.
type UnresolvedRecord struct {
	Provider   string
	NativeID   string
	EntityType canonical.EntityType
	Name       string
	Reason     string
}

// ConflictRecord ties a merge conflict to the canonical entity it occurred on.
type ConflictRecord struct {
	CanonicalID string
	Conflict    canonical.Conflict
}

// EntityTypeReport aggregates one entity type's pass.
type EntityTypeReport struct {
	EntityType        canonical.EntityType
	Fetched           int
	Resolved          int
	FuzzyResolved     int
	Minted            int
	Unresolved        []UnresolvedRecord
	Conflicts         []ConflictRecord
	Committed         int
	Deferred          map[string][]string
	CommitFailures    map[string]string
	DegradedProviders []string
	Aborted           bool
	AbortReason       string
}

func (r EntityTypeReport) clean() bool {
	return len(r.Unresolved) == 0 && len(r.CommitFailures) == 0 &&
		len(r.Deferred) == 0 && len(r.DegradedProviders) == 0 && !r.Aborted
}

// RunReport is the final structured summary of one pipeline run.
type RunReport struct {
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
	EntityTypes []EntityTypeReport
}

// PipelineOptions tune one PipelineService instance.
type PipelineOptions struct {
	// WorkerCount bounds the resolve and merge worker pool.
	WorkerCount int
	// StageTimeout caps each stage of each entity type's pass.
	StageTimeout time.Duration
}

func (o PipelineOptions) normalize() PipelineOptions {
	if o.WorkerCount <= 0 {
		o.WorkerCount = defaultWorkerCount
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = defaultStageTimeout
	}
	return o
}

// PipelineService drives one reconciliation run: entity types strictly in
// dependency order, providers fetched concurrently within a type, resolution
// and merging spread over a bounded worker pool.
type PipelineService struct {
	sources   []ProviderSource
	resolver  *ResolverService
	merger    *MergeService
	committer *CommitService
	aliases   alias.Repository
	logger    *logging.Logger
	opts      PipelineOptions
}

func NewPipelineService(
	sources []ProviderSource,
	resolver *ResolverService,
	merger *MergeService,
	committer *CommitService,
	aliases alias.Repository,
	logger *logging.Logger,
	opts PipelineOptions,
) *PipelineService {
	if logger == nil {
		logger = logging.Default()
	}
	return &PipelineService{
		sources:   sources,
		resolver:  resolver,
		merger:    merger,
		committer: committer,
		aliases:   aliases,
		logger:    logger,
		opts:      opts.normalize(),
	}
}

// Run executes one full pass over every entity type. Provider failures
// degrade, they never abort; only a dependency violation (an upstream type
// committing nothing) aborts the dependent type. Cancellation is observed
// between stages.
func (s *PipelineService) Run(ctx context.Context) (RunReport, error) {
	ctx, span := startUsecaseSpan(ctx, "PipelineService.Run")
	defer span.End()

	if len(s.sources) == 0 {
		return RunReport{}, fmt.Errorf("%w: no provider sources configured", ErrInvalidInput)
	}

	s.resolver.Reset()

	report := RunReport{StartedAt: time.Now().UTC()}
	committedByType := make(map[canonical.EntityType]int)

	for _, entityType := range canonical.EntityTypesInDependencyOrder() {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			report.Status = RunCompletedWithErrors
			return report, fmt.Errorf("run cancelled before %s stage: %w", entityType, err)
		}

		typeReport := s.runEntityType(ctx, entityType, committedByType)
		committedByType[entityType] = typeReport.Committed
		report.EntityTypes = append(report.EntityTypes, typeReport)
	}

	report.FinishedAt = time.Now().UTC()
	report.Status = RunCompleted
	for _, tr := range report.EntityTypes {
		if !tr.clean() {
			report.Status = RunCompletedWithErrors
			break
		}
	}

	s.logger.InfoContext(ctx, "pipeline run finished",
		"status", report.Status,
		"elapsed", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

func (s *PipelineService) runEntityType(
	ctx context.Context,
	entityType canonical.EntityType,
	committedByType map[canonical.EntityType]int,
) EntityTypeReport {
	report := EntityTypeReport{
		EntityType:     entityType,
		Deferred:       map[string][]string{},
		CommitFailures: map[string]string{},
	}

	if reason := dependencyViolation(entityType, committedByType); reason != "" {
		report.Aborted = true
		report.AbortReason = reason
		s.logger.WarnContext(ctx, "entity type stage aborted",
			"entity_type", entityType,
			"reason", reason,
		)
		return report
	}

	records := s.fetchStage(ctx, entityType, &report)
	if len(records) == 0 {
		return report
	}

	records = s.adaptStage(ctx, entityType, records, &report)
	groups := s.resolveStage(ctx, entityType, records, &report)
	results := s.mergeStage(ctx, entityType, groups, &report)
	s.commitStage(ctx, entityType, results, &report)
	return report
}

// dependencyViolation reports why an entity type cannot run given what its
// upstream types committed. A type referencing players is exempt from the
// player requirement since event payloads may omit players entirely.
func dependencyViolation(t canonical.EntityType, committed map[canonical.EntityType]int) string {
	schema, ok := canonical.SchemaFor(t)
	if !ok {
		return fmt.Sprintf("unknown entity type %q", t)
	}
	for _, f := range schema.RefFields {
		target, ok := canonical.RefTarget(f)
		if !ok || target == canonical.EntityPlayer {
			continue
		}
		if committed[target] == 0 {
			return fmt.Sprintf("no committed %s entities to reference", target)
		}
	}
	return ""
}

func (s *PipelineService) fetchStage(ctx context.Context, entityType canonical.EntityType, report *EntityTypeReport) []provider.Record {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	s.logStage(ctx, StageFetching, entityType)

	var (
		mu      sync.Mutex
		records []provider.Record
		wg      conc.WaitGroup
	)
	for _, source := range s.sources {
		source := source
		wg.Go(func() {
			start := time.Now()
			fetched, err := source.Fetch(ctx, entityType)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.DegradedProviders = append(report.DegradedProviders, source.Name())
				s.logger.WarnContext(ctx, "provider degraded for entity type",
					"provider", source.Name(),
					"entity_type", entityType,
					"elapsed", time.Since(start).String(),
					"error", err,
				)
				return
			}
			records = append(records, fetched...)
		})
	}
	wg.Wait()

	sort.Strings(report.DegradedProviders)
	report.Fetched = len(records)
	return records
}

// adaptStage drops records that fail basic validation. Adapters normalize
// payloads before this point; this is the last gate before resolution.
func (s *PipelineService) adaptStage(ctx context.Context, entityType canonical.EntityType, records []provider.Record, report *EntityTypeReport) []provider.Record {
	s.logStage(ctx, StageAdapting, entityType)

	kept := records[:0]
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			report.Unresolved = append(report.Unresolved, UnresolvedRecord{
				Provider:   rec.Provider,
				NativeID:   rec.NativeID,
				EntityType: entityType,
				Name:       rec.Name,
				Reason:     fmt.Sprintf("invalid record: %s", err),
			})
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// resolvedGroup is every record bound to one canonical ID, plus the
// translated cross-entity references.
type resolvedGroup struct {
	canonicalID string
	records     []provider.Record
	refs        map[canonical.Field]string
}

// resolveStage maps each record to its canonical ID on the worker pool and
// groups records by canonical ID. Records with untranslatable references or
// ambiguous identity are set aside, never guessed.
func (s *PipelineService) resolveStage(
	ctx context.Context,
	entityType canonical.EntityType,
	records []provider.Record,
	report *EntityTypeReport,
) []resolvedGroup {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	s.logStage(ctx, StageResolving, entityType)

	type outcome struct {
		record     provider.Record
		resolution Resolution
		refs       map[canonical.Field]string
		failReason string
	}

	outcomes := make([]outcome, len(records))

	pool, err := ants.NewPool(s.opts.WorkerCount)
	if err != nil {
		// Pool creation only fails on invalid size; resolve inline instead.
		s.logger.ErrorContext(ctx, "worker pool unavailable, resolving inline", "error", err)
	} else {
		defer pool.Release()
	}

	var workers sync.WaitGroup
	for i := range records {
		i := i
		task := func() {
			defer workers.Done()
			rec := records[i]

			refs, missing, refErr := s.translateRefs(ctx, rec)
			if refErr != nil {
				outcomes[i] = outcome{record: rec, failReason: refErr.Error()}
				return
			}
			if missing != "" {
				outcomes[i] = outcome{record: rec, failReason: fmt.Sprintf("reference %s not resolved", missing)}
				return
			}

			if rec.Name == "" {
				rec.Name = identityNameFromRefs(rec, refs)
			}

			resolution, resErr := s.resolver.Resolve(ctx, rec)
			if resErr != nil {
				outcomes[i] = outcome{record: rec, failReason: resErr.Error()}
				return
			}
			outcomes[i] = outcome{record: rec, resolution: resolution, refs: refs}
		}

		workers.Add(1)
		if pool != nil {
			if submitErr := pool.Submit(task); submitErr != nil {
				workers.Done()
				rec := records[i]
				outcomes[i] = outcome{record: rec, failReason: fmt.Sprintf("submit to worker pool: %s", submitErr)}
			}
			continue
		}
		task()
	}
	workers.Wait()

	groupIndex := make(map[string]int)
	var groups []resolvedGroup
	for _, out := range outcomes {
		if out.failReason != "" {
			report.Unresolved = append(report.Unresolved, UnresolvedRecord{
				Provider:   out.record.Provider,
				NativeID:   out.record.NativeID,
				EntityType: entityType,
				Name:       out.record.Name,
				Reason:     out.failReason,
			})
			continue
		}

		switch out.resolution.Method {
		case alias.MethodFuzzy:
			report.FuzzyResolved++
		case alias.MethodMinted:
			report.Minted++
		}
		report.Resolved++

		idx, ok := groupIndex[out.resolution.CanonicalID]
		if !ok {
			idx = len(groups)
			groupIndex[out.resolution.CanonicalID] = idx
			groups = append(groups, resolvedGroup{
				canonicalID: out.resolution.CanonicalID,
				refs:        map[canonical.Field]string{},
			})
		}
		groups[idx].records = append(groups[idx].records, out.record)
		for f, id := range out.refs {
			if _, exists := groups[idx].refs[f]; !exists {
				groups[idx].refs[f] = id
			}
		}
	}
	return groups
}

// translateRefs turns a record's provider-native references into canonical
// IDs through the alias table. missing names the first reference field whose
// alias does not exist yet.
func (s *PipelineService) translateRefs(ctx context.Context, rec provider.Record) (map[canonical.Field]string, string, error) {
	if len(rec.NativeRefs) == 0 {
		return nil, "", nil
	}

	refs := make(map[canonical.Field]string, len(rec.NativeRefs))
	fields := make([]canonical.Field, 0, len(rec.NativeRefs))
	for f := range rec.NativeRefs {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	for _, f := range fields {
		target, ok := canonical.RefTarget(f)
		if !ok {
			return nil, "", fmt.Errorf("field %s is not a reference field", f)
		}
		bound, found, err := s.aliases.Get(ctx, rec.Provider, rec.NativeRefs[f], target)
		if err != nil {
			return nil, "", fmt.Errorf("looking up %s alias: %w", f, err)
		}
		if !found {
			return nil, string(f), nil
		}
		refs[f] = bound.CanonicalID
	}
	return refs, "", nil
}

// identityNameFromRefs builds a synthetic identity for nameless entity types
// (standings, events) out of their canonical references, so cross-provider
// records of the same real-world entity still resolve to one canonical ID.
func identityNameFromRefs(rec provider.Record, refs map[canonical.Field]string) string {
	fields := make([]canonical.Field, 0, len(refs))
	for f := range refs {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	parts := make([]string, 0, len(refs)+2)
	for _, f := range fields {
		parts = append(parts, refs[f])
	}
	// References alone can collide: the same two teams meet twice a season,
	// and one fixture has many events. Discriminate with the fields that
	// pin the real-world occurrence.
	if kickoff, ok := rec.Fields[canonical.FieldKickoffAt]; ok {
		parts = append(parts, kickoff.Time.UTC().Format("2006-01-02"))
	}
	if minute, ok := rec.Fields[canonical.FieldEventMinute]; ok {
		parts = append(parts, minute.Render())
	}
	if kind, ok := rec.Fields[canonical.FieldEventType]; ok {
		parts = append(parts, kind.Render())
	}
	return strings.Join(parts, " ")
}

func (s *PipelineService) mergeStage(
	ctx context.Context,
	entityType canonical.EntityType,
	groups []resolvedGroup,
	report *EntityTypeReport,
) []canonical.MergeResult {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	s.logStage(ctx, StageMerging, entityType)

	var (
		mu      sync.Mutex
		results []canonical.MergeResult
		wg      conc.WaitGroup
	)
	for _, group := range groups {
		group := group
		wg.Go(func() {
			result, err := s.merger.Merge(group.canonicalID, group.records, group.refs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, rec := range group.records {
					report.Unresolved = append(report.Unresolved, UnresolvedRecord{
						Provider:   rec.Provider,
						NativeID:   rec.NativeID,
						EntityType: entityType,
						Name:       rec.Name,
						Reason:     fmt.Sprintf("merge failed: %s", err),
					})
				}
				return
			}
			if len(report.DegradedProviders) > 0 {
				reduceConfidence(&result)
			}
			for _, conflict := range result.Conflicts {
				report.Conflicts = append(report.Conflicts, ConflictRecord{
					CanonicalID: result.Entity.ID,
					Conflict:    conflict,
				})
			}
			results = append(results, result)
		})
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Entity.ID < results[j].Entity.ID })
	return results
}

// reduceConfidence downgrades reported provenance when the entity type ran
// without its full provider set.
func reduceConfidence(result *canonical.MergeResult) {
	for f, origin := range result.Provenance {
		if origin.Confidence == canonical.ConfidenceReported {
			origin.Confidence = canonical.ConfidenceReduced
			result.Provenance[f] = origin
		}
	}
}

func (s *PipelineService) commitStage(
	ctx context.Context,
	entityType canonical.EntityType,
	results []canonical.MergeResult,
	report *EntityTypeReport,
) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	s.logStage(ctx, StageCommitting, entityType)

	if len(results) == 0 {
		return
	}

	commitReport, err := s.committer.Commit(ctx, results)
	if err != nil {
		for _, result := range results {
			report.CommitFailures[result.Entity.ID] = err.Error()
		}
		s.logger.ErrorContext(ctx, "commit stage failed",
			"entity_type", entityType,
			"error", err,
		)
		return
	}

	report.Committed = commitReport.Committed
	for id, missing := range commitReport.Deferred {
		report.Deferred[id] = missing
	}
	for id, reason := range commitReport.Failed {
		report.CommitFailures[id] = reason
	}
}

func (s *PipelineService) logStage(ctx context.Context, stage Stage, entityType canonical.EntityType) {
	s.logger.DebugContext(ctx, "pipeline stage",
		"stage", string(stage),
		"entity_type", string(entityType),
	)
}
