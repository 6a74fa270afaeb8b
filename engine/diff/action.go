package diff

// Action classifies a change at any level of the diff tree.
type Action string

const (
	ActionAdded     Action = "added"
	ActionRemoved   Action = "removed"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Changed reports whether the action represents an actual change.
func (a Action) Changed() bool { return a != ActionUnchanged && a != "" }

// DeriveAction computes the leaf action from a previous and new value.
// A nil value means absent. This is the single derivation rule shared by
// the parser, the combiner, and the enrichers.
func DeriveAction(previous, current *string) Action {
	switch {
	case previous == nil && current == nil:
		return ActionUnchanged
	case previous == nil:
		return ActionAdded
	case current == nil:
		return ActionRemoved
	case *previous != *current:
		return ActionUpdated
	default:
		return ActionUnchanged
	}
}

// PropagateAction rolls child actions up to their parent: any changed
// child makes the parent updated, otherwise the parent is unchanged.
// Callers that know the parent itself was created or deleted override
// the result with ActionAdded or ActionRemoved.
func PropagateAction(children []Action) Action {
	for _, a := range children {
		if a.Changed() {
			return ActionUpdated
		}
	}
	return ActionUnchanged
}
