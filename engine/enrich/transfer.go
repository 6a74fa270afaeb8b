package enrich

import (
	"log/slog"

	"github.com/plexgraph/plexgraph/engine/diff"
)

// Transferer carries forward conflict resolutions when a diff is
// recomputed: a conflict in the new diff inherits selected_branch from
// the previous computation's conflict at the same logical path.
// Conflicts are matched by path identifier, never by uuid.
type Transferer struct {
	logger *slog.Logger
}

// NewTransferer creates a conflict transferer.
func NewTransferer(logger *slog.Logger) *Transferer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transferer{logger: logger}
}

// Transfer copies non-nil selected_branch values from previous onto the
// matching conflicts of current, returning how many resolutions were
// carried over. A conflict with no prior match stays unresolved; a
// previously resolved conflict that no longer exists is dropped
// silently. More than one previous conflict at the same path is a bug:
// it is logged and treated as no match rather than crashing.
func (t *Transferer) Transfer(previous, current *diff.Root) int {
	if previous == nil || current == nil {
		return 0
	}

	prior := make(map[string]*diff.Conflict)
	ambiguous := make(map[string]bool)
	forEachConflict(previous, func(path string, c *diff.Conflict) {
		if _, seen := prior[path]; seen {
			ambiguous[path] = true
			return
		}
		prior[path] = c
	})

	carried := 0
	forEachConflict(current, func(path string, c *diff.Conflict) {
		if ambiguous[path] {
			t.logger.Error("ambiguous conflict match, leaving unresolved", "path", path)
			return
		}
		if prev, ok := prior[path]; ok && prev.SelectedBranch != nil {
			selected := *prev.SelectedBranch
			c.SelectedBranch = &selected
			carried++
		}
	})
	return carried
}

// CountConflicts returns the number of conflicts attached anywhere in
// the root.
func CountConflicts(root *diff.Root) int {
	if root == nil {
		return 0
	}
	n := 0
	forEachConflict(root, func(string, *diff.Conflict) { n++ })
	return n
}

// forEachConflict visits every conflict in the root together with the
// path identifier of the element it is attached to.
func forEachConflict(root *diff.Root, visit func(path string, c *diff.Conflict)) {
	for _, node := range root.Nodes {
		if node.Conflict != nil {
			visit(node.PathID, node.Conflict)
		}
		for _, attr := range node.Attributes {
			for _, prop := range attr.Properties {
				if prop.Conflict != nil {
					visit(prop.PathID, prop.Conflict)
				}
			}
		}
		for _, rel := range node.Relationships {
			for _, e := range rel.Elements {
				if e.Conflict != nil {
					visit(e.PathID, e.Conflict)
				}
				for _, prop := range e.Properties {
					if prop.Conflict != nil {
						visit(prop.PathID, prop.Conflict)
					}
				}
			}
		}
	}
}
