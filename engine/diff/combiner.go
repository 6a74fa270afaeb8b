package diff

import (
	"fmt"
)

// Combine merges two diff roots for the same branch pair, covering
// adjacent or overlapping windows, into one root logically equivalent
// to a single from-scratch computation over the union window.
//
// Values are chained (previous from the earlier root, new from the
// later root) and actions re-derived with the same rule the parser
// uses, which makes Combine associative. An element added in one
// window and removed in the next nets to absence. Enrichment output
// (labels, path identifiers, conflicts) is not carried; callers
// re-run the enricher pipeline on the combined root.
func Combine(earlier, later *Root) (*Root, error) {
	if earlier.BaseBranch != later.BaseBranch || earlier.DiffBranch != later.DiffBranch {
		return nil, &ValidationError{
			Wrapped: ErrBranchMismatch,
			Detail: fmt.Sprintf("(%s, %s) vs (%s, %s)",
				earlier.BaseBranch, earlier.DiffBranch, later.BaseBranch, later.DiffBranch),
		}
	}
	if later.ToTime.Before(earlier.FromTime) {
		return nil, &ValidationError{
			Wrapped: ErrWindowMismatch,
			Detail:  fmt.Sprintf("[%s, %s) before [%s, %s)", later.FromTime, later.ToTime, earlier.FromTime, earlier.ToTime),
		}
	}

	out := &Root{
		BaseBranch: earlier.BaseBranch,
		DiffBranch: earlier.DiffBranch,
		FromTime:   earlier.FromTime,
		ToTime:     later.ToTime,
	}
	if later.FromTime.Before(out.FromTime) {
		out.FromTime = later.FromTime
	}
	if earlier.ToTime.After(out.ToTime) {
		out.ToTime = earlier.ToTime
	}

	for _, en := range earlier.Nodes {
		ln := later.GetNode(en.UUID)
		if ln == nil {
			out.Nodes = append(out.Nodes, cloneNode(en))
			continue
		}
		if combined := combineNodes(en, ln); combined != nil {
			out.Nodes = append(out.Nodes, combined)
		}
	}
	for _, ln := range later.Nodes {
		if earlier.GetNode(ln.UUID) == nil {
			out.Nodes = append(out.Nodes, cloneNode(ln))
		}
	}
	sortRoot(out)
	return out, nil
}

// netAction nets two sequential actions on the same element. keep is
// false when the element vanishes from the combined diff entirely.
func netAction(first, second Action) (net Action, keep bool) {
	switch {
	case first == ActionAdded && second == ActionRemoved:
		return ActionUnchanged, false
	case first == ActionAdded:
		return ActionAdded, true
	case first == ActionRemoved && second == ActionAdded:
		return ActionUpdated, true
	case second == ActionRemoved:
		return ActionRemoved, true
	case first.Changed() || second.Changed():
		return ActionUpdated, true
	default:
		return ActionUnchanged, true
	}
}

// combineNodes nets one node present on both sides; returns nil when
// the node nets out (created and deleted inside the union window).
func combineNodes(en, ln *Node) *Node {
	action, keep := netAction(en.Action, ln.Action)
	if !keep {
		return nil
	}

	node := &Node{UUID: en.UUID, Kind: en.Kind, ChangedAt: en.ChangedAt}
	if ln.ChangedAt.After(node.ChangedAt) {
		node.ChangedAt = ln.ChangedAt
	}

	for _, ea := range en.Attributes {
		la := ln.GetAttribute(ea.Name)
		if la == nil {
			node.Attributes = append(node.Attributes, cloneAttribute(ea))
			continue
		}
		if combined := combineAttributes(ea, la); combined != nil {
			node.Attributes = append(node.Attributes, combined)
		}
	}
	for _, la := range ln.Attributes {
		if en.GetAttribute(la.Name) == nil {
			node.Attributes = append(node.Attributes, cloneAttribute(la))
		}
	}

	for _, er := range en.Relationships {
		lr := ln.GetRelationship(er.Name)
		if lr == nil {
			node.Relationships = append(node.Relationships, cloneRelationship(er))
			continue
		}
		if combined := combineRelationships(er, lr); combined != nil {
			node.Relationships = append(node.Relationships, combined)
		}
	}
	for _, lr := range ln.Relationships {
		if en.GetRelationship(lr.Name) == nil {
			node.Relationships = append(node.Relationships, cloneRelationship(lr))
		}
	}

	switch action {
	case ActionAdded, ActionRemoved:
		ForceAction(node, action)
	default:
		var actions []Action
		for _, a := range node.Attributes {
			actions = append(actions, a.Action)
		}
		for _, r := range node.Relationships {
			actions = append(actions, r.Action)
		}
		node.Action = PropagateAction(actions)
	}
	return node
}

func combineAttributes(ea, la *Attribute) *Attribute {
	props, membershipDropped := combineProperties(ea.Properties, la.Properties, PropHasAttribute)
	if membershipDropped || len(props) == 0 {
		return nil
	}
	attr := &Attribute{Name: ea.Name, Properties: props, ChangedAt: latestChange(props)}
	if m := attr.GetProperty(PropHasAttribute); m != nil && (m.Action == ActionAdded || m.Action == ActionRemoved) {
		attr.Action = m.Action
	} else {
		attr.Action = PropagateAction(propertyActions(props))
	}
	return attr
}

func combineRelationships(er, lr *Relationship) *Relationship {
	rel := &Relationship{Name: er.Name, Cardinality: er.Cardinality}
	for _, ee := range er.Elements {
		le := lr.GetElement(ee.PeerID)
		if le == nil {
			rel.Elements = append(rel.Elements, cloneElement(ee))
			continue
		}
		if combined := combineElements(ee, le); combined != nil {
			rel.Elements = append(rel.Elements, combined)
		}
	}
	for _, le := range lr.Elements {
		if er.GetElement(le.PeerID) == nil {
			rel.Elements = append(rel.Elements, cloneElement(le))
		}
	}
	if len(rel.Elements) == 0 {
		return nil
	}
	resolveRelationship(rel)
	return rel
}

func combineElements(ee, le *RelationshipElement) *RelationshipElement {
	props, membershipDropped := combineProperties(ee.Properties, le.Properties, PropIsRelated)
	if membershipDropped || len(props) == 0 {
		return nil
	}
	e := &RelationshipElement{PeerID: ee.PeerID, Properties: props, ChangedAt: latestChange(props)}
	if m := e.GetProperty(PropIsRelated); m != nil && m.Action.Changed() {
		e.Action = m.Action
	} else {
		e.Action = PropagateAction(propertyActions(props))
	}
	return e
}

// combineProperties chains matched properties by type. membershipDropped
// is true when the membership property (the one holding the element in
// existence) netted to add-then-remove, meaning the owner vanishes.
func combineProperties(earlier, later []*Property, membership PropertyType) (out []*Property, membershipDropped bool) {
	index := make(map[PropertyType]*Property, len(later))
	for _, p := range later {
		index[p.Type] = p
	}
	for _, ep := range earlier {
		lp, ok := index[ep.Type]
		if !ok {
			out = append(out, cloneProperty(ep))
			continue
		}
		delete(index, ep.Type)
		combined := chainProperty(ep, lp)
		if combined == nil {
			if ep.Type == membership {
				membershipDropped = true
			}
			continue
		}
		out = append(out, combined)
	}
	for _, lp := range later {
		if _, ok := index[lp.Type]; ok {
			out = append(out, cloneProperty(lp))
		}
	}
	sortProperties(out)
	return out, membershipDropped
}

// chainProperty nets one property edited in both windows: previous from
// the earlier edit, new from the later one. Returns nil when the value
// appeared and disappeared inside the union window.
func chainProperty(ep, lp *Property) *Property {
	prev, cur := ep.PreviousValue, lp.NewValue
	if prev == nil && cur == nil {
		return nil
	}
	p := &Property{
		Type:          ep.Type,
		PreviousValue: prev,
		NewValue:      cur,
		ChangedAt:     lp.ChangedAt,
	}
	if ep.ChangedAt.After(p.ChangedAt) {
		p.ChangedAt = ep.ChangedAt
	}
	p.Action = DeriveAction(prev, cur)
	return p
}

// Clone returns a deep copy of the root sharing no structure with it.
// Enrichment output (labels, path identifiers, conflicts) is not copied.
func (r *Root) Clone() *Root {
	if r == nil {
		return nil
	}
	out := &Root{
		BaseBranch: r.BaseBranch,
		DiffBranch: r.DiffBranch,
		FromTime:   r.FromTime,
		ToTime:     r.ToTime,
	}
	for _, n := range r.Nodes {
		out.Nodes = append(out.Nodes, cloneNode(n))
	}
	return out
}

// --- deep copies; combined output never aliases its inputs ---

func cloneProperty(p *Property) *Property {
	return &Property{
		Type:          p.Type,
		PreviousValue: p.PreviousValue,
		NewValue:      p.NewValue,
		Action:        p.Action,
		ChangedAt:     p.ChangedAt,
	}
}

func cloneElement(e *RelationshipElement) *RelationshipElement {
	out := &RelationshipElement{PeerID: e.PeerID, Action: e.Action, ChangedAt: e.ChangedAt}
	for _, p := range e.Properties {
		out.Properties = append(out.Properties, cloneProperty(p))
	}
	return out
}

func cloneRelationship(r *Relationship) *Relationship {
	out := &Relationship{
		Name:        r.Name,
		Cardinality: r.Cardinality,
		Action:      r.Action,
		ChangedAt:   r.ChangedAt,
	}
	for _, e := range r.Elements {
		out.Elements = append(out.Elements, cloneElement(e))
	}
	return out
}

func cloneAttribute(a *Attribute) *Attribute {
	out := &Attribute{Name: a.Name, Action: a.Action, ChangedAt: a.ChangedAt}
	for _, p := range a.Properties {
		out.Properties = append(out.Properties, cloneProperty(p))
	}
	return out
}

func cloneNode(n *Node) *Node {
	out := &Node{UUID: n.UUID, Kind: n.Kind, Action: n.Action, ChangedAt: n.ChangedAt}
	for _, a := range n.Attributes {
		out.Attributes = append(out.Attributes, cloneAttribute(a))
	}
	for _, r := range n.Relationships {
		out.Relationships = append(out.Relationships, cloneRelationship(r))
	}
	return out
}
