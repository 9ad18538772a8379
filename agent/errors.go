package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchCapability is returned when the receiving agent has no handler for
	// a message's intent.
	ErrNoSuchCapability = errors.New("no such capability")

	// ErrMalformedHandlerResult is returned when a handler returns a value that is
	// not one of the recognized reply shapes.
	ErrMalformedHandlerResult = errors.New("malformed handler result")

	// ErrDepthExceeded is returned when propagation goes deeper than the engine's
	// configured maximum depth.
	ErrDepthExceeded = errors.New("propagation depth exceeded")

	// ErrMessageBudgetExceeded is returned when propagation produces more replies
	// than the engine's configured budget.
	ErrMessageBudgetExceeded = errors.New("propagation message budget exceeded")

	// ErrInvalidLineage is returned when a message is constructed as a reply to
	// a parent of the wrong kind.
	ErrInvalidLineage = errors.New("invalid message lineage")

	// ErrUnencodablePayload is reported for a payload json cannot encode.
	ErrUnencodablePayload = errors.New("payload cannot be encoded")

	// ErrNegativeCost is returned when a cost or outcome carries a negative value.
	ErrNegativeCost = errors.New("cost must be non-negative")
)

// NoSuchCapabilityError identifies the agent and intent of a failed dispatch.
type NoSuchCapabilityError struct {
	Agent  string
	Intent string
}

func (e *NoSuchCapabilityError) Error() string {
	return fmt.Sprintf("agent %s has no handler for intent %q", e.Agent, e.Intent)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *NoSuchCapabilityError) Unwrap() error {
	return ErrNoSuchCapability
}

// MalformedHandlerResultError records the unexpected result type of a handler.
type MalformedHandlerResultError struct {
	Agent  string
	Intent string
	Type   string
}

func (e *MalformedHandlerResultError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("malformed handler result of type %s", e.Type)
	}
	return fmt.Sprintf("agent %s handler for %q returned malformed result of type %s", e.Agent, e.Intent, e.Type)
}

// Unwrap returns the base error for errors.Is compatibility.
func (e *MalformedHandlerResultError) Unwrap() error {
	return ErrMalformedHandlerResult
}
