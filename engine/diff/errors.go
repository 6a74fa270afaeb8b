package diff

import (
	"errors"
	"fmt"
)

// Sentinel errors for diff computation failures.
var (
	ErrMalformedPath   = errors.New("malformed path row")
	ErrBranchMismatch  = errors.New("diff roots cover different branch pairs")
	ErrWindowMismatch  = errors.New("diff windows are not adjacent or overlapping")
	ErrUnknownProperty = errors.New("unrecognized property type")
)

// MalformedPathError wraps a sentinel with the offending row position.
// It is fatal: the whole parse fails, no partial diff is returned.
type MalformedPathError struct {
	Row     int
	Field   string
	Wrapped error
}

func (e *MalformedPathError) Error() string {
	return fmt.Sprintf("diff: %s: row %d field %q", e.Wrapped, e.Row, e.Field)
}

func (e *MalformedPathError) Unwrap() error { return e.Wrapped }

// ValidationError reports a programming error in how the combiner was
// invoked, such as combining diffs for different branch pairs.
type ValidationError struct {
	Detail  string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("diff: %s: %s", e.Wrapped, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }
