// Package enrich implements the ordered enrichment stages that run over
// a calculated diff pair: cardinality-one collapsing, hierarchy context,
// display labels, path identifiers, conflict detection, and conflict
// resolution transfer.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/plexgraph/plexgraph/engine/diff"
)

// Enricher is one stage of the pipeline. Stages mutate the pair in
// place; a stage either succeeds fully or fails the whole computation.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, pair *diff.CalculatedPair) error
}

// LabelRenderer resolves the human display label for a node on a
// branch. Implementations must be idempotent and side-effect free.
type LabelRenderer interface {
	RenderDisplayLabel(ctx context.Context, branch, nodeUUID string) (string, error)
}

// ParentRef identifies one ancestor in a hierarchical schema.
type ParentRef struct {
	UUID string
	Kind string
}

// ParentFetcher returns a node's ancestor chain, nearest parent first.
type ParentFetcher interface {
	Parents(ctx context.Context, branch, nodeUUID string) ([]ParentRef, error)
}

// Pipeline runs enrichers in a fixed order. Later stages depend on the
// shape produced by earlier ones, so the order given at construction is
// the order of execution. Cancellation is checked at stage boundaries.
type Pipeline struct {
	stages []Enricher
	logger *slog.Logger
}

// NewPipeline creates a pipeline over the given stages.
func NewPipeline(logger *slog.Logger, stages ...Enricher) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Run executes every stage against the pair.
func (p *Pipeline) Run(ctx context.Context, pair *diff.CalculatedPair) error {
	for _, st := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		stageCtx, span := otel.Tracer("engine/enrich").Start(ctx, "enrich."+st.Name())
		start := time.Now()
		err := st.Enrich(stageCtx, pair)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("enricher %s: %w", st.Name(), err)
		}
		span.End()
		p.logger.Debug("enricher complete", "stage", st.Name(), "duration", time.Since(start))
	}
	return nil
}

// bothRoots returns the non-nil roots of a pair, base first.
func bothRoots(pair *diff.CalculatedPair) []*diff.Root {
	var roots []*diff.Root
	if pair.Base != nil {
		roots = append(roots, pair.Base)
	}
	if pair.Diff != nil {
		roots = append(roots, pair.Diff)
	}
	return roots
}
