// Package schema provides the per-branch schema snapshot the diff engine
// needs to interpret raw path rows: node kinds, relationship cardinality,
// and hierarchy flags. A Context is built once per computation and passed
// explicitly into the parser and enrichers; there is no process-wide
// registry.
package schema

import (
	"errors"
	"fmt"
)

// Cardinality says how many peers a relationship allows.
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Relationship describes one relationship name on a node kind.
type Relationship struct {
	Name        string      `json:"name"`
	Label       string      `json:"label"`
	Cardinality Cardinality `json:"cardinality"`
	PeerKind    string      `json:"peer_kind"`
}

// Node describes one node kind.
type Node struct {
	Kind string `json:"kind"`
	// Hierarchical marks kinds that form a parent/child tree.
	Hierarchical bool `json:"hierarchical"`
	// ParentRelationship is the relationship name pointing at the parent
	// for hierarchical kinds, empty otherwise.
	ParentRelationship string                  `json:"parent_relationship,omitempty"`
	Relationships      map[string]Relationship `json:"relationships,omitempty"`
}

// Context is an immutable schema snapshot for one branch.
type Context struct {
	branch string
	kinds  map[string]Node
}

// NewContext builds a snapshot from the given node kinds.
func NewContext(branch string, kinds []Node) *Context {
	m := make(map[string]Node, len(kinds))
	for _, k := range kinds {
		m[k.Kind] = k
	}
	return &Context{branch: branch, kinds: m}
}

// Branch returns the branch this snapshot was taken for.
func (c *Context) Branch() string { return c.branch }

// Node returns the schema for a kind, or a NotFoundError.
func (c *Context) Node(kind string) (Node, error) {
	n, ok := c.kinds[kind]
	if !ok {
		return Node{}, &NotFoundError{Kind: kind}
	}
	return n, nil
}

// Relationship returns the schema for a relationship name on a kind.
// The second return is false when either the kind or the name is unknown.
func (c *Context) Relationship(kind, name string) (Relationship, bool) {
	n, ok := c.kinds[kind]
	if !ok {
		return Relationship{}, false
	}
	r, ok := n.Relationships[name]
	return r, ok
}

// Cardinality resolves the cardinality of a relationship, defaulting to
// many when the relationship is not declared.
func (c *Context) Cardinality(kind, name string) Cardinality {
	if r, ok := c.Relationship(kind, name); ok && r.Cardinality == CardinalityOne {
		return CardinalityOne
	}
	return CardinalityMany
}

// ErrKindNotFound is the sentinel wrapped by NotFoundError.
var ErrKindNotFound = errors.New("schema kind not found")

// NotFoundError reports a node kind unknown to the snapshot. It is fatal
// for the whole diff computation.
type NotFoundError struct {
	Kind string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schema: %s: %q", ErrKindNotFound, e.Kind)
}

func (e *NotFoundError) Unwrap() error { return ErrKindNotFound }
