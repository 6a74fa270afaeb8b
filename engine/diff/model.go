// Package diff implements the branch-aware temporal diff model, the
// query parser that builds diff trees from raw path rows, and the
// combiner that nets two diffs into one.
package diff

import (
	"time"

	"github.com/plexgraph/plexgraph/engine/schema"
)

// PropertyType is the database edge kind representing one facet of an
// attribute or relationship.
type PropertyType string

const (
	PropHasValue     PropertyType = "HAS_VALUE"
	PropHasOwner     PropertyType = "HAS_OWNER"
	PropHasSource    PropertyType = "HAS_SOURCE"
	PropIsRelated    PropertyType = "IS_RELATED"
	PropIsProtected  PropertyType = "IS_PROTECTED"
	PropIsVisible    PropertyType = "IS_VISIBLE"
	PropIsPartOf     PropertyType = "IS_PART_OF"
	PropHasAttribute PropertyType = "HAS_ATTRIBUTE"
)

var knownPropertyTypes = map[PropertyType]struct{}{
	PropHasValue: {}, PropHasOwner: {}, PropHasSource: {},
	PropIsRelated: {}, PropIsProtected: {}, PropIsVisible: {},
	PropIsPartOf: {}, PropHasAttribute: {},
}

// KnownPropertyType reports whether t is a recognized database edge kind.
func KnownPropertyType(t PropertyType) bool {
	_, ok := knownPropertyTypes[t]
	return ok
}

// ElementKind distinguishes the two element variants under a node.
type ElementKind string

const (
	ElementAttribute    ElementKind = "attribute"
	ElementRelationship ElementKind = "relationship"
)

// BranchSide identifies which side of a branch pair a value belongs to.
type BranchSide string

const (
	SideBase BranchSide = "base"
	SideDiff BranchSide = "diff"
)

// PathRow is one elementary change returned by the temporal path reader:
// one (node, element, property, branch) combination with its values and
// validity timestamps. This is the engine's single point of contact with
// the storage layer.
type PathRow struct {
	Branch        string       `json:"branch"`
	NodeUUID      string       `json:"node_uuid"`
	NodeKind      string       `json:"node_kind"`
	ElementName   string       `json:"element_name"`
	ElementKind   ElementKind  `json:"element_kind"`
	PeerID        string       `json:"peer_id,omitempty"`
	PropertyType  PropertyType `json:"property_type"`
	PreviousValue *string      `json:"previous_value"`
	NewValue      *string      `json:"new_value"`
	ChangedAt     time.Time    `json:"changed_at"`
	ValidFrom     time.Time    `json:"valid_from"`
	ValidTo       *time.Time   `json:"valid_to,omitempty"`
}

// Root is one branch's diff for a time window. Enrichment stages fill in
// labels, path identifiers, and conflicts after parsing.
type Root struct {
	BaseBranch string    `json:"base_branch_name"`
	DiffBranch string    `json:"diff_branch_name"`
	FromTime   time.Time `json:"from_time"`
	ToTime     time.Time `json:"to_time"`
	Nodes      []*Node   `json:"nodes"`
}

// GetNode looks a node up by uuid within the root.
func (r *Root) GetNode(uuid string) *Node {
	for _, n := range r.Nodes {
		if n.UUID == uuid {
			return n
		}
	}
	return nil
}

// Node is one graph node that changed (or provides context).
type Node struct {
	UUID          string          `json:"uuid"`
	Kind          string          `json:"kind"`
	Label         string          `json:"label,omitempty"`
	Action        Action          `json:"action"`
	ChangedAt     time.Time       `json:"changed_at"`
	Attributes    []*Attribute    `json:"attributes"`
	Relationships []*Relationship `json:"relationships"`
	Conflict      *Conflict       `json:"conflict,omitempty"`
	PathID        string          `json:"path_identifier,omitempty"`
}

// GetAttribute looks an attribute up by name.
func (n *Node) GetAttribute(name string) *Attribute {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// GetRelationship looks a relationship grouping up by name.
func (n *Node) GetRelationship(name string) *Relationship {
	for _, r := range n.Relationships {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Attribute is one attribute of a node, owning its property diffs.
type Attribute struct {
	Name       string      `json:"name"`
	Action     Action      `json:"action"`
	ChangedAt  time.Time   `json:"changed_at"`
	Properties []*Property `json:"properties"`
	PathID     string      `json:"path_identifier,omitempty"`
}

// GetProperty looks a property up by type.
func (a *Attribute) GetProperty(t PropertyType) *Property {
	for _, p := range a.Properties {
		if p.Type == t {
			return p
		}
	}
	return nil
}

// Relationship is one relationship name grouping on a node, owning the
// individual peer elements. ContextNodes holds uuids of related nodes
// added by the hierarchy enricher, resolved within the same Root.
type Relationship struct {
	Name         string                 `json:"name"`
	Label        string                 `json:"label,omitempty"`
	Cardinality  schema.Cardinality     `json:"cardinality"`
	Action       Action                 `json:"action"`
	ChangedAt    time.Time              `json:"changed_at"`
	Elements     []*RelationshipElement `json:"relationships"`
	ContextNodes []string               `json:"nodes,omitempty"`
	PathID       string                 `json:"path_identifier,omitempty"`
}

// GetElement looks a peer element up by peer id.
func (r *Relationship) GetElement(peerID string) *RelationshipElement {
	for _, e := range r.Elements {
		if e.PeerID == peerID {
			return e
		}
	}
	return nil
}

// RelationshipElement is one edge to one peer.
type RelationshipElement struct {
	PeerID     string      `json:"peer_id"`
	PeerLabel  string      `json:"peer_label,omitempty"`
	Action     Action      `json:"action"`
	ChangedAt  time.Time   `json:"changed_at"`
	Properties []*Property `json:"properties"`
	Conflict   *Conflict   `json:"conflict,omitempty"`
	PathID     string      `json:"path_identifier,omitempty"`
}

// GetProperty looks a property up by type.
func (e *RelationshipElement) GetProperty(t PropertyType) *Property {
	for _, p := range e.Properties {
		if p.Type == t {
			return p
		}
	}
	return nil
}

// Property is the finest-grained change unit, and the unit at which
// conflicts are detected. A nil value means absent.
type Property struct {
	Type          PropertyType `json:"property_type"`
	PreviousValue *string      `json:"previous_value"`
	NewValue      *string      `json:"new_value"`
	Action        Action       `json:"action"`
	ChangedAt     time.Time    `json:"changed_at"`
	Conflict      *Conflict    `json:"conflict,omitempty"`
	PathID        string       `json:"path_identifier,omitempty"`
}

// Conflict records a pair of divergent concurrent edits to the same
// addressable element. SelectedBranch is nil until a human resolves it;
// resolutions are carried across recomputations by logical path, never
// by UUID.
type Conflict struct {
	UUID           string      `json:"uuid"`
	BaseAction     Action      `json:"base_branch_action"`
	BaseValue      *string     `json:"base_branch_value"`
	BaseChangedAt  time.Time   `json:"base_branch_changed_at"`
	DiffAction     Action      `json:"diff_branch_action"`
	DiffValue      *string     `json:"diff_branch_value"`
	DiffChangedAt  time.Time   `json:"diff_branch_changed_at"`
	SelectedBranch *BranchSide `json:"selected_branch"`
}

// CalculatedPair pairs the base-branch and diff-branch roots for the
// same window; the unit the enrichers operate on together.
type CalculatedPair struct {
	Base *Root `json:"base"`
	Diff *Root `json:"diff"`
}

// Ptr returns a pointer to the given string; convenience for building
// property values.
func Ptr(s string) *string { return &s }

// ValueEqual compares two optional values, treating nil as absent.
func ValueEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
