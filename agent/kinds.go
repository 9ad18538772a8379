package agent

import (
	"fmt"
	"math"
)

// Message kinds used by the executive loop. A kind is the message's intent.
const (
	// KindPercept is an observation of world state, predicted or realized.
	KindPercept = "percept"

	// KindAction is a candidate or chosen action; always a reply to a percept.
	KindAction = "action"

	// KindCost is a non-negative loss; a reply to a percept or an action.
	KindCost = "cost"

	// KindReward is a scalar reward; always a reply to a cost.
	KindReward = "reward"

	// KindOutcome reports the realized loss of a percept; a reply to that percept.
	KindOutcome = "outcome"
)

// NewPercept creates a root percept.
func NewPercept(payload any, opts ...MessageOption) *Message {
	return NewMessage(KindPercept, payload, opts...)
}

// ReplyPercept creates a percept that replies to parent, typically a
// predicted or realized consequence of an action.
func ReplyPercept(parent *Message, payload any, opts ...MessageOption) *Message {
	return ReplyTo(parent, KindPercept, payload, opts...)
}

// NewAction creates an action replying to percept.
func NewAction(percept *Message, payload any, opts ...MessageOption) (*Message, error) {
	if !percept.Is(KindPercept) {
		return nil, fmt.Errorf("%w: action must reply to a percept, got %s", ErrInvalidLineage, describe(percept))
	}
	return ReplyTo(percept, KindAction, payload, opts...), nil
}

// NewCost creates a cost replying to a percept or an action.
func NewCost(parent *Message, value float64, opts ...MessageOption) (*Message, error) {
	if !parent.Is(KindPercept) && !parent.Is(KindAction) {
		return nil, fmt.Errorf("%w: cost must reply to a percept or action, got %s", ErrInvalidLineage, describe(parent))
	}
	if value < 0 || math.IsNaN(value) {
		return nil, fmt.Errorf("%w: %v", ErrNegativeCost, value)
	}
	return ReplyTo(parent, KindCost, nil, append(opts, WithValue(value))...), nil
}

// NewReward creates a reward replying to cost.
func NewReward(cost *Message, value float64, opts ...MessageOption) (*Message, error) {
	if !cost.Is(KindCost) {
		return nil, fmt.Errorf("%w: reward must reply to a cost, got %s", ErrInvalidLineage, describe(cost))
	}
	return ReplyTo(cost, KindReward, nil, append(opts, WithValue(value))...), nil
}

// NewOutcome reports the actual loss observed for a realized percept.
func NewOutcome(realized *Message, actual float64, opts ...MessageOption) (*Message, error) {
	if !realized.Is(KindPercept) {
		return nil, fmt.Errorf("%w: outcome must reply to a percept, got %s", ErrInvalidLineage, describe(realized))
	}
	if actual < 0 || math.IsNaN(actual) {
		return nil, fmt.Errorf("%w: %v", ErrNegativeCost, actual)
	}
	return ReplyTo(realized, KindOutcome, nil, append(opts, WithValue(actual))...), nil
}

func describe(m *Message) string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%q", m.intent)
}
