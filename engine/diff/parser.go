package diff

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/plexgraph/plexgraph/engine/schema"
	"github.com/plexgraph/plexgraph/pkg/fn"
)

// nullSentinel is the literal some storage layers emit in place of a
// true null. It is normalized to absent at this boundary and never
// forwarded downstream.
const nullSentinel = "NULL"

// Parser transforms raw temporal path rows into one Root per branch
// present in the rows.
type Parser struct {
	schema *schema.Context
	logger *slog.Logger
}

// NewParser creates a Parser bound to a schema snapshot.
func NewParser(sc *schema.Context, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{schema: sc, logger: logger}
}

type elementKey struct {
	kind ElementKind
	name string
	peer string
}

// Parse builds one Root per distinct branch in rows, for the window
// [from, to). A node, attribute, or element that both appeared and
// disappeared inside the window is absent from the result. The whole
// parse fails on the first schema or row error; no partial diff is
// returned.
func (p *Parser) Parse(base string, rows []PathRow, from, to time.Time) (map[string]*Root, error) {
	normalized := make([]PathRow, len(rows))
	for i, row := range rows {
		if err := p.validateRow(i, row); err != nil {
			return nil, err
		}
		row.PreviousValue = p.normalize(row, row.PreviousValue)
		row.NewValue = p.normalize(row, row.NewValue)
		normalized[i] = row
	}

	roots := make(map[string]*Root)
	for branch, branchRows := range fn.GroupBy(normalized, func(r PathRow) string { return r.Branch }) {
		root := &Root{
			BaseBranch: base,
			DiffBranch: branch,
			FromTime:   from,
			ToTime:     to,
		}
		for uuid, nodeRows := range fn.GroupBy(branchRows, func(r PathRow) string { return r.NodeUUID }) {
			node, err := p.parseNode(uuid, nodeRows)
			if err != nil {
				return nil, err
			}
			if node == nil {
				continue
			}
			root.Nodes = append(root.Nodes, node)
		}
		sortRoot(root)
		roots[branch] = root
	}
	return roots, nil
}

func (p *Parser) validateRow(i int, row PathRow) error {
	if row.Branch == "" {
		return &MalformedPathError{Row: i, Field: "branch", Wrapped: ErrMalformedPath}
	}
	if row.NodeUUID == "" {
		return &MalformedPathError{Row: i, Field: "node_uuid", Wrapped: ErrMalformedPath}
	}
	if row.PropertyType == "" {
		return &MalformedPathError{Row: i, Field: "property_type", Wrapped: ErrMalformedPath}
	}
	if !KnownPropertyType(row.PropertyType) {
		return &MalformedPathError{Row: i, Field: string(row.PropertyType), Wrapped: ErrUnknownProperty}
	}
	if row.PropertyType == PropIsPartOf {
		// Node membership is addressed by the node alone.
		if row.ElementName != "" {
			return &MalformedPathError{Row: i, Field: "element_name", Wrapped: ErrMalformedPath}
		}
		return nil
	}
	if row.ElementName == "" {
		return &MalformedPathError{Row: i, Field: "element_name", Wrapped: ErrMalformedPath}
	}
	if row.ElementKind != ElementAttribute && row.ElementKind != ElementRelationship {
		return &MalformedPathError{Row: i, Field: "element_kind", Wrapped: ErrMalformedPath}
	}
	if row.ElementKind == ElementRelationship && row.PeerID == "" {
		return &MalformedPathError{Row: i, Field: "peer_id", Wrapped: ErrMalformedPath}
	}
	return nil
}

// normalize maps the literal "NULL" sentinel to absent, logging the
// leak so the storage layer can be fixed upstream.
func (p *Parser) normalize(row PathRow, v *string) *string {
	if v != nil && *v == nullSentinel {
		p.logger.Warn("literal NULL sentinel in path row, normalizing to absent",
			"branch", row.Branch,
			"node", row.NodeUUID,
			"element", row.ElementName,
			"property", string(row.PropertyType),
		)
		return nil
	}
	return v
}

// parseNode builds one node from its rows. It returns a nil node when
// the node was created and deleted inside the window: such a node never
// existed at either window boundary and does not appear in the diff.
func (p *Parser) parseNode(uuid string, rows []PathRow) (*Node, error) {
	kind := rows[0].NodeKind
	if _, err := p.schema.Node(kind); err != nil {
		return nil, fmt.Errorf("parse node %s: %w", uuid, err)
	}

	membershipRows := fn.Filter(rows, func(r PathRow) bool { return r.PropertyType == PropIsPartOf })
	elementRows := fn.Filter(rows, func(r PathRow) bool { return r.PropertyType != PropIsPartOf })

	membership, gone := p.parseProperties(membershipRows, PropIsPartOf)
	if gone {
		return nil, nil
	}

	node := &Node{UUID: uuid, Kind: kind}
	for key, group := range fn.GroupBy(elementRows, func(r PathRow) elementKey {
		k := elementKey{kind: r.ElementKind, name: r.ElementName}
		if r.ElementKind == ElementRelationship {
			k.peer = r.PeerID
		}
		return k
	}) {
		elementMembership := PropHasAttribute
		if key.kind == ElementRelationship {
			elementMembership = PropIsRelated
		}
		props, gone := p.parseProperties(group, elementMembership)
		if gone || len(props) == 0 {
			continue
		}
		switch key.kind {
		case ElementAttribute:
			node.Attributes = append(node.Attributes, buildAttribute(key.name, props))
		case ElementRelationship:
			element := buildElement(key.peer, props)
			rel := node.GetRelationship(key.name)
			if rel == nil {
				rel = &Relationship{
					Name:        key.name,
					Cardinality: p.schema.Cardinality(kind, key.name),
				}
				node.Relationships = append(node.Relationships, rel)
			}
			rel.Elements = append(rel.Elements, element)
		}
	}

	for _, rel := range node.Relationships {
		resolveRelationship(rel)
	}
	resolveNode(node, membership)
	// Edits that netted out still advance the node's change time.
	for _, r := range rows {
		if r.ChangedAt.After(node.ChangedAt) {
			node.ChangedAt = r.ChangedAt
		}
	}
	return node, nil
}

// parseProperties collapses possibly overlapping edits per property type:
// the chronologically latest changed_at supplies the current value, the
// earliest pre-window value supplies the previous value. A property whose
// chained previous and new values are both absent appeared and disappeared
// inside the window and is dropped; membershipDropped is true when that
// property is the membership type, meaning its owner vanishes with it.
func (p *Parser) parseProperties(rows []PathRow, membership PropertyType) (props []*Property, membershipDropped bool) {
	for t, group := range fn.GroupBy(rows, func(r PathRow) PropertyType { return r.PropertyType }) {
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].ChangedAt.Equal(group[j].ChangedAt) {
				return group[i].ChangedAt.Before(group[j].ChangedAt)
			}
			return group[i].ValidFrom.Before(group[j].ValidFrom)
		})
		first, last := group[0], group[len(group)-1]
		if first.PreviousValue == nil && last.NewValue == nil {
			if t == membership {
				membershipDropped = true
			}
			continue
		}
		prop := &Property{
			Type:          t,
			PreviousValue: first.PreviousValue,
			NewValue:      last.NewValue,
			ChangedAt:     last.ChangedAt,
		}
		prop.Action = DeriveAction(prop.PreviousValue, prop.NewValue)
		props = append(props, prop)
	}
	sortProperties(props)
	return props, membershipDropped
}

func buildAttribute(name string, props []*Property) *Attribute {
	attr := &Attribute{Name: name, Properties: props}
	attr.ChangedAt = latestChange(props)
	if m := attr.GetProperty(PropHasAttribute); m != nil && (m.Action == ActionAdded || m.Action == ActionRemoved) {
		attr.Action = m.Action
	} else {
		attr.Action = PropagateAction(propertyActions(props))
	}
	return attr
}

func buildElement(peerID string, props []*Property) *RelationshipElement {
	e := &RelationshipElement{PeerID: peerID, Properties: props}
	e.ChangedAt = latestChange(props)
	if m := e.GetProperty(PropIsRelated); m != nil && m.Action.Changed() {
		e.Action = m.Action
	} else {
		e.Action = PropagateAction(propertyActions(props))
	}
	return e
}

func resolveRelationship(rel *Relationship) {
	actions := make([]Action, len(rel.Elements))
	for i, e := range rel.Elements {
		actions[i] = e.Action
		if e.ChangedAt.After(rel.ChangedAt) {
			rel.ChangedAt = e.ChangedAt
		}
	}
	rel.Action = PropagateAction(actions)
}

// resolveNode assigns the node action from its membership property, and
// forces every child to the same action when the node itself was created
// or deleted: deleting a node deletes all its attributes.
func resolveNode(node *Node, membership []*Property) {
	var actions []Action
	for _, a := range node.Attributes {
		actions = append(actions, a.Action)
		if a.ChangedAt.After(node.ChangedAt) {
			node.ChangedAt = a.ChangedAt
		}
	}
	for _, r := range node.Relationships {
		actions = append(actions, r.Action)
		if r.ChangedAt.After(node.ChangedAt) {
			node.ChangedAt = r.ChangedAt
		}
	}
	node.Action = PropagateAction(actions)

	for _, m := range membership {
		if m.Type != PropIsPartOf {
			continue
		}
		if m.ChangedAt.After(node.ChangedAt) {
			node.ChangedAt = m.ChangedAt
		}
		if m.Action == ActionAdded || m.Action == ActionRemoved {
			ForceAction(node, m.Action)
		}
	}
}

// ForceAction sets the node and its entire subtree to a single action.
func ForceAction(node *Node, a Action) {
	node.Action = a
	for _, attr := range node.Attributes {
		attr.Action = a
		for _, p := range attr.Properties {
			p.Action = a
		}
	}
	for _, rel := range node.Relationships {
		rel.Action = a
		for _, e := range rel.Elements {
			e.Action = a
			for _, p := range e.Properties {
				p.Action = a
			}
		}
	}
}

func propertyActions(props []*Property) []Action {
	return fn.Map(props, func(p *Property) Action { return p.Action })
}

func latestChange(props []*Property) time.Time {
	var t time.Time
	for _, p := range props {
		if p.ChangedAt.After(t) {
			t = p.ChangedAt
		}
	}
	return t
}

// sortRoot orders the whole tree deterministically: nodes by uuid,
// attributes and relationships by name, elements by peer, properties by
// type. Identical changed_at values inside a transaction therefore
// always render in the same order.
func sortRoot(root *Root) {
	fn.SortBy(root.Nodes, func(n *Node) string { return n.UUID })
	for _, n := range root.Nodes {
		sortNode(n)
	}
}

func sortNode(n *Node) {
	fn.SortBy(n.Attributes, func(a *Attribute) string { return a.Name })
	fn.SortBy(n.Relationships, func(r *Relationship) string { return r.Name })
	for _, a := range n.Attributes {
		sortProperties(a.Properties)
	}
	for _, r := range n.Relationships {
		fn.SortBy(r.Elements, func(e *RelationshipElement) string { return e.PeerID })
		for _, e := range r.Elements {
			sortProperties(e.Properties)
		}
	}
}

func sortProperties(props []*Property) {
	fn.SortBy(props, func(p *Property) PropertyType { return p.Type })
}
