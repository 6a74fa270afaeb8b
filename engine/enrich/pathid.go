package enrich

import (
	"context"

	"github.com/plexgraph/plexgraph/engine/diff"
)

// PathIdentifier assigns a stable addressable path string to every
// node, attribute, relationship, element, and property:
//
//	node:     data/<uuid>
//	element:  <node>/<name>
//	peer:     <relationship>/<peer_id>
//	property: <owner>/value for HAS_VALUE, <owner>/property/<type> otherwise
//
// Paths are stable across recomputation for the same logical element
// and are the join key used by the conflict transferer.
type PathIdentifier struct{}

// NewPathIdentifier creates the path-identifier enricher.
func NewPathIdentifier() *PathIdentifier { return &PathIdentifier{} }

func (p *PathIdentifier) Name() string { return "path-identifier" }

func (p *PathIdentifier) Enrich(_ context.Context, pair *diff.CalculatedPair) error {
	for _, root := range bothRoots(pair) {
		for _, node := range root.Nodes {
			assignNodePaths(node)
		}
	}
	return nil
}

func assignNodePaths(node *diff.Node) {
	node.PathID = "data/" + node.UUID
	for _, attr := range node.Attributes {
		attr.PathID = node.PathID + "/" + attr.Name
		for _, prop := range attr.Properties {
			prop.PathID = propertyPath(attr.PathID, prop.Type)
		}
	}
	for _, rel := range node.Relationships {
		rel.PathID = node.PathID + "/" + rel.Name
		for _, e := range rel.Elements {
			e.PathID = rel.PathID + "/" + e.PeerID
			for _, prop := range e.Properties {
				prop.PathID = propertyPath(e.PathID, prop.Type)
			}
		}
	}
}

func propertyPath(owner string, t diff.PropertyType) string {
	if t == diff.PropHasValue {
		return owner + "/value"
	}
	return owner + "/property/" + string(t)
}
