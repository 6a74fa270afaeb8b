package schema

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileNode mirrors the on-disk schema document.
type fileNode struct {
	Kind               string             `yaml:"kind"`
	Hierarchical       bool               `yaml:"hierarchical"`
	ParentRelationship string             `yaml:"parent_relationship"`
	Relationships      []fileRelationship `yaml:"relationships"`
}

type fileRelationship struct {
	Name        string `yaml:"name"`
	Label       string `yaml:"label"`
	Cardinality string `yaml:"cardinality"`
	PeerKind    string `yaml:"peer_kind"`
}

// LoadFile reads node kind definitions from a YAML schema file.
func LoadFile(path string) ([]Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var doc struct {
		Nodes []fileNode `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", path, err)
	}

	nodes := make([]Node, 0, len(doc.Nodes))
	for _, fn := range doc.Nodes {
		if fn.Kind == "" {
			return nil, fmt.Errorf("schema: %s: node with empty kind", path)
		}
		n := Node{
			Kind:               fn.Kind,
			Hierarchical:       fn.Hierarchical,
			ParentRelationship: fn.ParentRelationship,
		}
		if len(fn.Relationships) > 0 {
			n.Relationships = make(map[string]Relationship, len(fn.Relationships))
			for _, fr := range fn.Relationships {
				card := CardinalityMany
				if fr.Cardinality == string(CardinalityOne) {
					card = CardinalityOne
				}
				n.Relationships[fr.Name] = Relationship{
					Name:        fr.Name,
					Label:       fr.Label,
					Cardinality: card,
					PeerKind:    fr.PeerKind,
				}
			}
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// StaticProvider serves the same kind definitions for every branch.
// Branch-specific schema changes are out of scope for file-backed
// deployments.
type StaticProvider struct {
	kinds []Node
}

// NewStaticProvider wraps a fixed kind list.
func NewStaticProvider(kinds []Node) *StaticProvider {
	return &StaticProvider{kinds: kinds}
}

// Snapshot returns a Context for the branch over the static kinds.
func (p *StaticProvider) Snapshot(_ context.Context, branch string) (*Context, error) {
	return NewContext(branch, p.kinds), nil
}
