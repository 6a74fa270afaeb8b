package enrich

import (
	"context"
	"sort"

	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/schema"
	"github.com/plexgraph/plexgraph/pkg/fn"
)

// CardinalityOne collapses the raw elements of a cardinality-one
// relationship into a single representative element. The raw graph may
// show an old peer being removed and a new peer being added as two
// separate elements; after this stage at most one element remains.
type CardinalityOne struct{}

// NewCardinalityOne creates the cardinality-one enricher.
func NewCardinalityOne() *CardinalityOne { return &CardinalityOne{} }

func (c *CardinalityOne) Name() string { return "cardinality-one" }

func (c *CardinalityOne) Enrich(_ context.Context, pair *diff.CalculatedPair) error {
	for _, root := range bothRoots(pair) {
		for _, node := range root.Nodes {
			for _, rel := range node.Relationships {
				if rel.Cardinality != schema.CardinalityOne || len(rel.Elements) <= 1 {
					continue
				}
				collapse(rel)
			}
		}
	}
	return nil
}

// collapse merges all raw elements into the one with the latest
// changed_at. Ties break on peer id so the result is deterministic.
func collapse(rel *diff.Relationship) {
	elements := make([]*diff.RelationshipElement, len(rel.Elements))
	copy(elements, rel.Elements)
	sort.Slice(elements, func(i, j int) bool {
		if !elements[i].ChangedAt.Equal(elements[j].ChangedAt) {
			return elements[i].ChangedAt.After(elements[j].ChangedAt)
		}
		return elements[i].PeerID > elements[j].PeerID
	})

	winner := elements[0]
	losers := elements[1:]

	simultaneous := false
	samePeer := true
	for _, loser := range losers {
		if loser.ChangedAt.Equal(winner.ChangedAt) {
			simultaneous = true
		}
		if loser.PeerID != winner.PeerID {
			samePeer = false
		}
		mergeLoserProperties(winner, loser)
	}

	switch {
	case samePeer:
		// The same peer was removed and re-added: a no-op at the
		// relationship level, but individual properties may have
		// changed asymmetrically, so the merged per-property diffs
		// decide the action.
		winner.Action = elementAction(winner)
	case simultaneous:
		winner.Action = diff.ActionUpdated
	}

	rel.Elements = []*diff.RelationshipElement{winner}
	actions := []diff.Action{winner.Action}
	rel.Action = diff.PropagateAction(actions)
	rel.ChangedAt = winner.ChangedAt
}

// mergeLoserProperties folds the removed side's properties into the
// surviving element: a property present on both sides becomes a single
// change carrying the removed side's previous value and the surviving
// side's new value; a property present on one side only is kept as-is.
func mergeLoserProperties(winner, loser *diff.RelationshipElement) {
	for _, lp := range loser.Properties {
		wp := winner.GetProperty(lp.Type)
		if wp == nil {
			winner.Properties = append(winner.Properties, &diff.Property{
				Type:          lp.Type,
				PreviousValue: lp.PreviousValue,
				NewValue:      lp.NewValue,
				Action:        lp.Action,
				ChangedAt:     lp.ChangedAt,
			})
			continue
		}
		wp.PreviousValue = lp.PreviousValue
		wp.Action = diff.DeriveAction(wp.PreviousValue, wp.NewValue)
	}
	fn.SortBy(winner.Properties, func(p *diff.Property) diff.PropertyType { return p.Type })
}

// elementAction re-derives an element's action from its membership
// property, falling back to property propagation.
func elementAction(e *diff.RelationshipElement) diff.Action {
	if m := e.GetProperty(diff.PropIsRelated); m != nil && m.Action.Changed() {
		return m.Action
	}
	return diff.PropagateAction(fn.Map(e.Properties, func(p *diff.Property) diff.Action { return p.Action }))
}
