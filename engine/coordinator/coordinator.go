// Package coordinator exposes the two diff-engine entry points:
// incremental branch-diff updates and arbitrary-timeframe diffs. It
// owns the checkpoint discipline, the per-branch-pair write lock, and
// the enricher ordering.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/enrich"
	"github.com/plexgraph/plexgraph/engine/schema"
	"github.com/plexgraph/plexgraph/pkg/fn"
	"github.com/plexgraph/plexgraph/pkg/metrics"
)

// PathReader is the boundary with the temporal graph storage layer.
type PathReader interface {
	// DiffWindow returns every elementary change on branch relative to
	// baseBranch within [from, to).
	DiffWindow(ctx context.Context, baseBranch, branch string, from, to time.Time) ([]diff.PathRow, error)
	// BranchCreatedAt returns the time the branch diverged from its base.
	BranchCreatedAt(ctx context.Context, branch string) (time.Time, error)
}

// SchemaProvider returns the schema snapshot for a branch.
type SchemaProvider interface {
	Snapshot(ctx context.Context, branch string) (*schema.Context, error)
}

// StoredDiff is one persisted diff pair. Raw is the unenriched
// accumulation that later windows are combined onto; Pair is the
// enriched form served to callers and the one conflict resolutions live
// on. Combining enriched trees would not commute with a from-scratch
// computation, so both forms are kept. Checkpoint is the upper bound of
// the window covered so far; for incremental diffs it is the point the
// next update resumes from.
type StoredDiff struct {
	Raw        *diff.CalculatedPair `json:"raw"`
	Pair       *diff.CalculatedPair `json:"pair"`
	Checkpoint time.Time            `json:"checkpoint"`
}

// Store persists the incremental checkpoint and named timeframe diffs.
type Store interface {
	LoadTracked(ctx context.Context, base, branch string) (*StoredDiff, bool, error)
	SaveTracked(ctx context.Context, base, branch string, sd *StoredDiff) error
	LoadNamed(ctx context.Context, base, branch, name string) (*StoredDiff, bool, error)
	SaveNamed(ctx context.Context, base, branch, name string, sd *StoredDiff) error
}

// Service is the diff coordinator.
type Service struct {
	reader   PathReader
	schemas  SchemaProvider
	store    Store
	labels   enrich.LabelRenderer
	parents  enrich.ParentFetcher
	transfer *enrich.Transferer
	locks    *keyedMutex
	logger   *slog.Logger
	now      func() time.Time

	computations *metrics.Counter
	duration     *metrics.Histogram
	conflicts    *metrics.Counter
	transferred  *metrics.Counter
}

// New creates a coordinator Service.
func New(reader PathReader, schemas SchemaProvider, store Store,
	labels enrich.LabelRenderer, parents enrich.ParentFetcher,
	logger *slog.Logger, reg *metrics.Registry) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Service{
		reader:       reader,
		schemas:      schemas,
		store:        store,
		labels:       labels,
		parents:      parents,
		transfer:     enrich.NewTransferer(logger),
		locks:        newKeyedMutex(),
		logger:       logger,
		now:          time.Now,
		computations: reg.Counter("diff_computations_total", "Diff computations finished"),
		duration:     reg.Histogram("diff_computation_seconds", "Diff computation duration", nil),
		conflicts:    reg.Counter("diff_conflicts_total", "Conflicts detected across computations"),
		transferred:  reg.Counter("diff_resolutions_transferred_total", "Conflict resolutions carried across recomputations"),
	}
}

// UpdateBranchDiff extends the incremental diff for (base, branch) from
// the last recorded checkpoint to now, runs the full enricher pipeline
// plus conflict detection and transfer, and persists the result as the
// new checkpoint. A failed computation never advances the checkpoint.
func (s *Service) UpdateBranchDiff(ctx context.Context, base, branch string) (*diff.CalculatedPair, error) {
	unlock := s.locks.Lock(base + "\x00" + branch)
	defer unlock()

	ctx, span := otel.Tracer("engine/coordinator").Start(ctx, "diff.update_branch")
	defer span.End()
	start := s.now()

	stored, tracked, err := s.store.LoadTracked(ctx, base, branch)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("update diff %s..%s: load checkpoint: %w", base, branch, err))
	}

	var from time.Time
	if tracked {
		from = stored.Checkpoint
	} else if from, err = s.reader.BranchCreatedAt(ctx, branch); err != nil {
		return nil, s.fail(span, fmt.Errorf("update diff %s..%s: branch creation time: %w", base, branch, err))
	}
	to := s.now()

	raw, err := s.compute(ctx, base, branch, from, to)
	if err != nil {
		return nil, s.fail(span, err)
	}

	if tracked {
		if raw.Base, err = diff.Combine(stored.Raw.Base, raw.Base); err != nil {
			return nil, s.fail(span, fmt.Errorf("update diff %s..%s: combine base: %w", base, branch, err))
		}
		if raw.Diff, err = diff.Combine(stored.Raw.Diff, raw.Diff); err != nil {
			return nil, s.fail(span, fmt.Errorf("update diff %s..%s: combine: %w", base, branch, err))
		}
	}

	pair := &diff.CalculatedPair{Base: raw.Base.Clone(), Diff: raw.Diff.Clone()}
	if err := s.enrichPair(ctx, branch, pair); err != nil {
		return nil, s.fail(span, fmt.Errorf("update diff %s..%s: %w", base, branch, err))
	}
	if tracked {
		s.transferred.Add(int64(s.transfer.Transfer(stored.Pair.Diff, pair.Diff)))
	}

	if err := ctx.Err(); err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.store.SaveTracked(ctx, base, branch, &StoredDiff{Raw: raw, Pair: pair, Checkpoint: to}); err != nil {
		return nil, s.fail(span, fmt.Errorf("update diff %s..%s: persist: %w", base, branch, err))
	}

	s.observe("incremental", start, pair)
	return pair, nil
}

// CreateOrUpdateTimeframeDiff computes a diff for an arbitrary window
// from scratch and stores it under (base, branch, name). The
// incremental checkpoint is not advanced. For the same window it is
// observationally equal to what UpdateBranchDiff accumulates.
func (s *Service) CreateOrUpdateTimeframeDiff(ctx context.Context, base, branch string, from, to time.Time, name string) (*diff.CalculatedPair, error) {
	if to.Before(from) {
		return nil, &diff.ValidationError{
			Wrapped: diff.ErrWindowMismatch,
			Detail:  fmt.Sprintf("from %s after to %s", from, to),
		}
	}

	unlock := s.locks.Lock(base + "\x00" + branch + "\x00" + name)
	defer unlock()

	ctx, span := otel.Tracer("engine/coordinator").Start(ctx, "diff.timeframe")
	defer span.End()
	start := s.now()

	raw, err := s.compute(ctx, base, branch, from, to)
	if err != nil {
		return nil, s.fail(span, err)
	}
	pair := &diff.CalculatedPair{Base: raw.Base.Clone(), Diff: raw.Diff.Clone()}
	if err := s.enrichPair(ctx, branch, pair); err != nil {
		return nil, s.fail(span, fmt.Errorf("timeframe diff %s..%s: %w", base, branch, err))
	}

	previous, found, err := s.store.LoadNamed(ctx, base, branch, name)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("timeframe diff %s..%s: load %q: %w", base, branch, name, err))
	}
	if found {
		s.transferred.Add(int64(s.transfer.Transfer(previous.Pair.Diff, pair.Diff)))
	}

	if err := ctx.Err(); err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.store.SaveNamed(ctx, base, branch, name, &StoredDiff{Raw: raw, Pair: pair, Checkpoint: to}); err != nil {
		return nil, s.fail(span, fmt.Errorf("timeframe diff %s..%s: persist %q: %w", base, branch, name, err))
	}

	s.observe("timeframe", start, pair)
	return pair, nil
}

// compute fetches and parses both sides of the pair concurrently.
func (s *Service) compute(ctx context.Context, base, branch string, from, to time.Time) (*diff.CalculatedPair, error) {
	baseSchema, err := s.schemas.Snapshot(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("schema snapshot for %s: %w", base, err)
	}
	branchSchema, err := s.schemas.Snapshot(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("schema snapshot for %s: %w", branch, err)
	}

	roots := fn.FanOutResult(
		func() fn.Result[*diff.Root] { return s.parseSide(ctx, baseSchema, base, base, from, to) },
		func() fn.Result[*diff.Root] { return s.parseSide(ctx, branchSchema, base, branch, from, to) },
	)
	sides, err := roots.Unwrap()
	if err != nil {
		return nil, err
	}
	return &diff.CalculatedPair{Base: sides[0], Diff: sides[1]}, nil
}

// parseSide reads the raw path rows for one branch and parses them into
// its diff root. A branch with no changes yields an empty root.
func (s *Service) parseSide(ctx context.Context, sc *schema.Context, base, branch string, from, to time.Time) fn.Result[*diff.Root] {
	rows, err := s.reader.DiffWindow(ctx, base, branch, from, to)
	if err != nil {
		return fn.Errf[*diff.Root]("read diff window for %s: %w", branch, err)
	}
	roots, err := diff.NewParser(sc, s.logger).Parse(base, rows, from, to)
	if err != nil {
		return fn.Errf[*diff.Root]("parse diff for %s: %w", branch, err)
	}
	root, ok := roots[branch]
	if !ok {
		root = &diff.Root{BaseBranch: base, DiffBranch: branch, FromTime: from, ToTime: to}
	}
	return fn.Ok(root)
}

// enrichPair runs the fixed enricher order: cardinality-one collapsing
// and hierarchy insertion reshape the tree, labels and path identifiers
// depend on the final shape, conflicts need both fully enriched sides.
func (s *Service) enrichPair(ctx context.Context, branch string, pair *diff.CalculatedPair) error {
	sc, err := s.schemas.Snapshot(ctx, branch)
	if err != nil {
		return fmt.Errorf("schema snapshot for %s: %w", branch, err)
	}
	pipeline := enrich.NewPipeline(s.logger,
		enrich.NewCardinalityOne(),
		enrich.NewHierarchy(sc, s.parents),
		enrich.NewLabels(sc, s.labels),
		enrich.NewPathIdentifier(),
		enrich.NewConflicts(),
	)
	return pipeline.Run(ctx, pair)
}

func (s *Service) observe(mode string, start time.Time, pair *diff.CalculatedPair) {
	detected := enrich.CountConflicts(pair.Diff)
	s.computations.Inc()
	s.conflicts.Add(int64(detected))
	s.duration.Since(start)
	s.logger.Info("diff computation complete",
		"mode", mode,
		"base", pair.Diff.BaseBranch,
		"branch", pair.Diff.DiffBranch,
		"nodes", len(pair.Diff.Nodes),
		"conflicts", detected,
		"duration", time.Since(start),
	)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
