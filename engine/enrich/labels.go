package enrich

import (
	"context"
	"fmt"

	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/schema"
)

// Labels attaches human display labels to nodes, relationships, and
// relationship peers. Re-running it does not change a label already set.
type Labels struct {
	schema   *schema.Context
	renderer LabelRenderer
}

// NewLabels creates the labels enricher.
func NewLabels(sc *schema.Context, renderer LabelRenderer) *Labels {
	return &Labels{schema: sc, renderer: renderer}
}

func (l *Labels) Name() string { return "labels" }

func (l *Labels) Enrich(ctx context.Context, pair *diff.CalculatedPair) error {
	for _, root := range bothRoots(pair) {
		for _, node := range root.Nodes {
			if err := l.enrichNode(ctx, root.DiffBranch, node); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Labels) enrichNode(ctx context.Context, branch string, node *diff.Node) error {
	if node.Label == "" {
		label, err := l.renderer.RenderDisplayLabel(ctx, branch, node.UUID)
		if err != nil {
			return fmt.Errorf("render label for node %s: %w", node.UUID, err)
		}
		node.Label = label
	}
	for _, rel := range node.Relationships {
		if rel.Label == "" {
			if rs, ok := l.schema.Relationship(node.Kind, rel.Name); ok {
				rel.Label = rs.Label
			}
		}
		for _, e := range rel.Elements {
			if e.PeerLabel != "" {
				continue
			}
			label, err := l.renderer.RenderDisplayLabel(ctx, branch, e.PeerID)
			if err != nil {
				return fmt.Errorf("render label for peer %s: %w", e.PeerID, err)
			}
			e.PeerLabel = label
		}
	}
	return nil
}
