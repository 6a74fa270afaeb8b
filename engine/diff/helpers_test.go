package diff

import (
	"time"

	"github.com/plexgraph/plexgraph/engine/schema"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func testSchema(branch string) *schema.Context {
	return schema.NewContext(branch, []schema.Node{
		{
			Kind: "Car",
			Relationships: map[string]schema.Relationship{
				"owner": {Name: "owner", Label: "Owner", Cardinality: schema.CardinalityOne, PeerKind: "Person"},
				"tags":  {Name: "tags", Label: "Tags", Cardinality: schema.CardinalityMany, PeerKind: "Tag"},
			},
		},
		{Kind: "Person"},
		{Kind: "Tag"},
		{
			Kind:               "Rack",
			Hierarchical:       true,
			ParentRelationship: "site",
			Relationships: map[string]schema.Relationship{
				"site": {Name: "site", Label: "Site", Cardinality: schema.CardinalityOne, PeerKind: "Site"},
			},
		},
		{Kind: "Site", Hierarchical: true},
	})
}

// nodeRow is a node membership row (IS_PART_OF, no element).
func nodeRow(branch, node, kind string, prev, cur *string, ts time.Time) PathRow {
	return PathRow{
		Branch:        branch,
		NodeUUID:      node,
		NodeKind:      kind,
		PropertyType:  PropIsPartOf,
		PreviousValue: prev,
		NewValue:      cur,
		ChangedAt:     ts,
		ValidFrom:     ts,
	}
}

// attrRow is one property row on an attribute.
func attrRow(branch, node, kind, attr string, pt PropertyType, prev, cur *string, ts time.Time) PathRow {
	return PathRow{
		Branch:        branch,
		NodeUUID:      node,
		NodeKind:      kind,
		ElementName:   attr,
		ElementKind:   ElementAttribute,
		PropertyType:  pt,
		PreviousValue: prev,
		NewValue:      cur,
		ChangedAt:     ts,
		ValidFrom:     ts,
	}
}

// relRow is one property row on a relationship element.
func relRow(branch, node, kind, rel, peer string, pt PropertyType, prev, cur *string, ts time.Time) PathRow {
	return PathRow{
		Branch:        branch,
		NodeUUID:      node,
		NodeKind:      kind,
		ElementName:   rel,
		ElementKind:   ElementRelationship,
		PeerID:        peer,
		PropertyType:  pt,
		PreviousValue: prev,
		NewValue:      cur,
		ChangedAt:     ts,
		ValidFrom:     ts,
	}
}

func mustParse(sc *schema.Context, base string, rows []PathRow, from, to time.Time) (map[string]*Root, error) {
	return NewParser(sc, nil).Parse(base, rows, from, to)
}
