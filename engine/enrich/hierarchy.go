package enrich

import (
	"context"
	"fmt"

	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/schema"
	"github.com/plexgraph/plexgraph/pkg/fn"
)

// Hierarchy adds ancestry context for hierarchical schemas: when a node
// with a parent relationship changes, synthetic unchanged nodes and
// relationship entries are inserted for its existing parent chain so
// consumers can render where a change occurred. Nodes already present
// in the diff are never duplicated, only extended with the missing
// relationship context.
type Hierarchy struct {
	schema  *schema.Context
	parents ParentFetcher
}

// NewHierarchy creates the hierarchy enricher.
func NewHierarchy(sc *schema.Context, parents ParentFetcher) *Hierarchy {
	return &Hierarchy{schema: sc, parents: parents}
}

func (h *Hierarchy) Name() string { return "hierarchy" }

func (h *Hierarchy) Enrich(ctx context.Context, pair *diff.CalculatedPair) error {
	for _, root := range bothRoots(pair) {
		// Snapshot: the loop appends synthetic parents to root.Nodes.
		nodes := make([]*diff.Node, len(root.Nodes))
		copy(nodes, root.Nodes)
		for _, node := range nodes {
			if err := h.extend(ctx, root, node); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Hierarchy) extend(ctx context.Context, root *diff.Root, node *diff.Node) error {
	ns, err := h.schema.Node(node.Kind)
	if err != nil {
		return fmt.Errorf("hierarchy enrich node %s: %w", node.UUID, err)
	}
	if !ns.Hierarchical || ns.ParentRelationship == "" {
		return nil
	}

	chain, err := h.parents.Parents(ctx, root.DiffBranch, node.UUID)
	if err != nil {
		return fmt.Errorf("hierarchy enrich node %s: fetch parents: %w", node.UUID, err)
	}

	visited := map[string]bool{node.UUID: true}
	child := node
	childSchema := ns
	for _, parent := range chain {
		if visited[parent.UUID] {
			break
		}
		visited[parent.UUID] = true

		rel := child.GetRelationship(childSchema.ParentRelationship)
		if rel == nil {
			rel = &diff.Relationship{
				Name:        childSchema.ParentRelationship,
				Cardinality: schema.CardinalityOne,
				Action:      diff.ActionUnchanged,
			}
			child.Relationships = append(child.Relationships, rel)
		}
		rel.ContextNodes = fn.UniqueBy(append(rel.ContextNodes, parent.UUID),
			func(uuid string) string { return uuid })

		next := root.GetNode(parent.UUID)
		if next == nil {
			next = &diff.Node{
				UUID:   parent.UUID,
				Kind:   parent.Kind,
				Action: diff.ActionUnchanged,
			}
			root.Nodes = append(root.Nodes, next)
		}

		parentSchema, err := h.schema.Node(parent.Kind)
		if err != nil {
			return fmt.Errorf("hierarchy enrich parent %s: %w", parent.UUID, err)
		}
		if !parentSchema.Hierarchical || parentSchema.ParentRelationship == "" {
			break
		}
		child = next
		childSchema = parentSchema
	}
	return nil
}
