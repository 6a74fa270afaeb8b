package enrich

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/plexgraph/plexgraph/engine/diff"
	"github.com/plexgraph/plexgraph/engine/schema"
)

// Conflicts walks matching node/attribute/relationship/property pairs
// of the base-branch and diff-branch roots and flags a conflict
// wherever both sides changed the same addressable element to different
// effective values. Identical convergent changes produce no conflict.
// Conflicts are attached to the diff-branch root.
type Conflicts struct{}

// NewConflicts creates the conflicts enricher.
func NewConflicts() *Conflicts { return &Conflicts{} }

func (c *Conflicts) Name() string { return "conflicts" }

func (c *Conflicts) Enrich(_ context.Context, pair *diff.CalculatedPair) error {
	if pair.Base == nil || pair.Diff == nil {
		return nil
	}
	for _, dn := range pair.Diff.Nodes {
		bn := pair.Base.GetNode(dn.UUID)
		if bn == nil {
			continue
		}
		conflictNode(bn, dn)
	}
	return nil
}

func conflictNode(bn, dn *diff.Node) {
	// Node level: one side deleting while the other keeps editing.
	if bn.Action.Changed() && dn.Action.Changed() && bn.Action != dn.Action &&
		(bn.Action == diff.ActionRemoved || dn.Action == diff.ActionRemoved) {
		dn.Conflict = newConflict(bn.Action, nil, bn.ChangedAt, dn.Action, nil, dn.ChangedAt)
	}

	for _, da := range dn.Attributes {
		ba := bn.GetAttribute(da.Name)
		if ba == nil {
			continue
		}
		conflictProperties(ba.Properties, da.Properties, nil)
	}

	for _, dr := range dn.Relationships {
		br := bn.GetRelationship(dr.Name)
		if br == nil {
			continue
		}
		if dr.Cardinality == schema.CardinalityOne {
			conflictCardinalityOne(br, dr)
		} else {
			conflictCardinalityMany(br, dr)
		}
	}
}

// conflictCardinalityOne compares the resulting peer id, not the raw
// membership property: removing the relationship on one branch while
// the other points it at a different peer is a conflict; both branches
// converging on the same peer is not.
func conflictCardinalityOne(br, dr *diff.Relationship) {
	if !br.Action.Changed() || !dr.Action.Changed() || len(dr.Elements) == 0 {
		return
	}
	basePeer := resultingPeer(br)
	diffPeer := resultingPeer(dr)
	de := dr.Elements[0]

	if !diff.ValueEqual(basePeer, diffPeer) {
		var baseAction, baseChanged = diff.ActionRemoved, br.ChangedAt
		if len(br.Elements) > 0 {
			baseAction = br.Elements[0].Action
			baseChanged = br.Elements[0].ChangedAt
		}
		de.Conflict = newConflict(baseAction, basePeer, baseChanged, de.Action, diffPeer, de.ChangedAt)
		return
	}

	// Same resulting peer on both sides: the edge survives identically,
	// but flag properties (protection, ownership) changed divergently.
	if len(br.Elements) > 0 {
		conflictProperties(br.Elements[0].Properties, de.Properties, []diff.PropertyType{diff.PropIsRelated})
	}
}

func conflictCardinalityMany(br, dr *diff.Relationship) {
	for _, de := range dr.Elements {
		be := br.GetElement(de.PeerID)
		if be == nil {
			continue
		}
		if be.Action.Changed() && de.Action.Changed() {
			bm := be.GetProperty(diff.PropIsRelated)
			dm := de.GetProperty(diff.PropIsRelated)
			if bm != nil && dm != nil && bm.Action.Changed() && dm.Action.Changed() &&
				(bm.Action != dm.Action || !diff.ValueEqual(bm.NewValue, dm.NewValue)) {
				de.Conflict = newConflict(bm.Action, bm.NewValue, bm.ChangedAt, dm.Action, dm.NewValue, dm.ChangedAt)
			}
		}
		conflictProperties(be.Properties, de.Properties, []diff.PropertyType{diff.PropIsRelated})
	}
}

// conflictProperties flags divergent concurrent edits on matched
// property pairs. Types listed in skip are handled at a higher level.
func conflictProperties(base, other []*diff.Property, skip []diff.PropertyType) {
	skipped := make(map[diff.PropertyType]bool, len(skip))
	for _, t := range skip {
		skipped[t] = true
	}
	index := make(map[diff.PropertyType]*diff.Property, len(base))
	for _, bp := range base {
		index[bp.Type] = bp
	}
	for _, dp := range other {
		if skipped[dp.Type] || !dp.Action.Changed() {
			continue
		}
		bp, ok := index[dp.Type]
		if !ok || !bp.Action.Changed() {
			continue
		}
		if bp.Action == dp.Action && diff.ValueEqual(bp.NewValue, dp.NewValue) {
			continue // convergent edit
		}
		dp.Conflict = newConflict(bp.Action, bp.NewValue, bp.ChangedAt, dp.Action, dp.NewValue, dp.ChangedAt)
	}
}

// resultingPeer returns the peer id a cardinality-one relationship ends
// up pointing at, nil when the relationship was removed.
func resultingPeer(rel *diff.Relationship) *string {
	if len(rel.Elements) == 0 {
		return nil
	}
	e := rel.Elements[0]
	if e.Action == diff.ActionRemoved {
		return nil
	}
	return diff.Ptr(e.PeerID)
}

func newConflict(baseAction diff.Action, baseValue *string, baseChangedAt time.Time,
	diffAction diff.Action, diffValue *string, diffChangedAt time.Time) *diff.Conflict {
	return &diff.Conflict{
		UUID:          uuid.NewString(),
		BaseAction:    baseAction,
		BaseValue:     baseValue,
		BaseChangedAt: baseChangedAt,
		DiffAction:    diffAction,
		DiffValue:     diffValue,
		DiffChangedAt: diffChangedAt,
	}
}
