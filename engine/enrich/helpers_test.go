package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/plexgraph/plexgraph/engine/diff"
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

func prop(t diff.PropertyType, prev, cur *string, ts time.Time) *diff.Property {
	return &diff.Property{
		Type:          t,
		PreviousValue: prev,
		NewValue:      cur,
		Action:        diff.DeriveAction(prev, cur),
		ChangedAt:     ts,
	}
}

func attr(name string, props ...*diff.Property) *diff.Attribute {
	a := &diff.Attribute{Name: name, Properties: props}
	var actions []diff.Action
	for _, p := range props {
		actions = append(actions, p.Action)
		if p.ChangedAt.After(a.ChangedAt) {
			a.ChangedAt = p.ChangedAt
		}
	}
	a.Action = diff.PropagateAction(actions)
	return a
}

func element(peer string, action diff.Action, ts time.Time, props ...*diff.Property) *diff.RelationshipElement {
	return &diff.RelationshipElement{PeerID: peer, Action: action, ChangedAt: ts, Properties: props}
}

func relationship(name string, card schema.Cardinality, elements ...*diff.RelationshipElement) *diff.Relationship {
	r := &diff.Relationship{Name: name, Cardinality: card, Elements: elements}
	var actions []diff.Action
	for _, e := range elements {
		actions = append(actions, e.Action)
		if e.ChangedAt.After(r.ChangedAt) {
			r.ChangedAt = e.ChangedAt
		}
	}
	r.Action = diff.PropagateAction(actions)
	return r
}

func node(uuid, kind string, action diff.Action) *diff.Node {
	return &diff.Node{UUID: uuid, Kind: kind, Action: action}
}

func root(branch string, nodes ...*diff.Node) *diff.Root {
	return &diff.Root{
		BaseBranch: "main",
		DiffBranch: branch,
		FromTime:   at(0),
		ToTime:     at(60),
		Nodes:      nodes,
	}
}

// fakeRenderer resolves labels from a map, falling back to a derived
// value, and counts calls.
type fakeRenderer struct {
	labels map[string]string
	calls  int
	err    error
}

func (f *fakeRenderer) RenderDisplayLabel(_ context.Context, _, nodeUUID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if l, ok := f.labels[nodeUUID]; ok {
		return l, nil
	}
	return "label:" + nodeUUID, nil
}

// fakeParents serves ancestor chains from a map.
type fakeParents struct {
	chains map[string][]ParentRef
	err    error
}

func (f *fakeParents) Parents(_ context.Context, _, nodeUUID string) ([]ParentRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chains[nodeUUID], nil
}

// recordingEnricher records execution order for pipeline tests.
type recordingEnricher struct {
	name string
	log  *[]string
	err  error
}

func (r *recordingEnricher) Name() string { return r.name }

func (r *recordingEnricher) Enrich(_ context.Context, _ *diff.CalculatedPair) error {
	*r.log = append(*r.log, r.name)
	if r.err != nil {
		return fmt.Errorf("stage %s: %w", r.name, r.err)
	}
	return nil
}
