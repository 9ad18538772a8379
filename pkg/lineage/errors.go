package lineage

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPath is returned when the target of a path query is not a
	// descendant of its source.
	ErrNoPath = errors.New("no lineage path")

	// ErrNoAncestorOfKind is returned when no strict ancestor of a message has
	// the requested kind.
	ErrNoAncestorOfKind = errors.New("no ancestor of kind")
)

// NoPathError names the endpoints of a failed path query.
type NoPathError struct {
	From string
	To   string
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no lineage path from %s to %s", e.From, e.To)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *NoPathError) Unwrap() error {
	return ErrNoPath
}

// NoAncestorError reports that the parent chain of Message reached a root
// without passing a message of Kind.
type NoAncestorError struct {
	Message string
	Kind    string
}

func (e *NoAncestorError) Error() string {
	return fmt.Sprintf("message %s has no ancestor of kind %q", e.Message, e.Kind)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *NoAncestorError) Unwrap() error {
	return ErrNoAncestorOfKind
}
