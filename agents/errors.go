package agents

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLookahead is returned when a forward pass is asked to look
	// fewer than one step ahead.
	ErrInvalidLookahead = errors.New("invalid lookahead")

	// ErrNoCandidates is returned when the action model proposes nothing.
	ErrNoCandidates = errors.New("no candidate actions")

	// ErrNoPrediction is returned when a realized percept matches no
	// prediction in the loss landscape.
	ErrNoPrediction = errors.New("no prediction for realized step")
)

// InvalidLookaheadError carries the rejected depth.
type InvalidLookaheadError struct {
	Depth int
}

func (e *InvalidLookaheadError) Error() string {
	return fmt.Sprintf("lookahead must be at least 1, got %d", e.Depth)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *InvalidLookaheadError) Unwrap() error {
	return ErrInvalidLookahead
}
