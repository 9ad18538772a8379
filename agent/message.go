package agent

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// Message is the unit of communication between agents.
//
// A Message is immutable once constructed. Its parent is the message it replies
// to; following parents upward yields the message's causal lineage. Sender and
// receiver are references to agents resolved at send time: the message does not
// own them and they do not own the message.
type Message struct {
	id        string
	intent    string
	parent    *Message
	sender    Agent
	receiver  Agent
	value     float64
	payload   string
	encodeErr error
	timestamp time.Time
	metadata  map[string]any
}

// MessageOption customizes a message during construction.
type MessageOption func(*Message)

// WithSender sets the agent that produced the message.
func WithSender(a Agent) MessageOption {
	return func(m *Message) { m.sender = a }
}

// WithReceiver sets the agent the message is addressed to.
func WithReceiver(a Agent) MessageOption {
	return func(m *Message) { m.receiver = a }
}

// WithValue sets the scalar value carried by Cost, Reward and Outcome messages.
func WithValue(v float64) MessageOption {
	return func(m *Message) { m.value = v }
}

// WithMetadata attaches a key-value pair for routing, tracing or correlation.
func WithMetadata(key string, value any) MessageOption {
	return func(m *Message) {
		if m.metadata == nil {
			m.metadata = make(map[string]any)
		}
		m.metadata[key] = value
	}
}

// NewMessage creates a root message with the given intent and payload.
// The payload is serialized to JSON; a nil payload leaves it empty. A payload
// that cannot be encoded also leaves it empty, and PayloadErr and
// UnmarshalPayload report ErrUnencodablePayload.
func NewMessage(intent string, payload any, opts ...MessageOption) *Message {
	m := &Message{
		id:        uuid.NewString(),
		intent:    intent,
		timestamp: time.Now().UTC(),
	}
	m.payload, m.encodeErr = encodePayload(payload)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ReplyTo creates a reply to parent. The reply's sender is the parent's
// receiver and its receiver is the parent's sender, unless opts override them.
// The payload is encoded as in NewMessage.
func ReplyTo(parent *Message, intent string, payload any, opts ...MessageOption) *Message {
	m := &Message{
		id:        uuid.NewString(),
		intent:    intent,
		parent:    parent,
		timestamp: time.Now().UTC(),
	}
	m.payload, m.encodeErr = encodePayload(payload)
	if parent != nil {
		m.sender = parent.receiver
		m.receiver = parent.sender
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func encodePayload(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnencodablePayload, err)
	}
	return string(data), nil
}

// ID returns the message's unique identifier.
func (m *Message) ID() string { return m.id }

// Intent returns the tag that selects the receiving agent's handler.
func (m *Message) Intent() string { return m.intent }

// Parent returns the message this one replies to, or nil for a root.
func (m *Message) Parent() *Message { return m.parent }

// Sender returns the agent that produced the message, if known.
func (m *Message) Sender() Agent { return m.sender }

// Receiver returns the agent the message is addressed to, if any.
func (m *Message) Receiver() Agent { return m.receiver }

// Value returns the scalar carried by Cost, Reward and Outcome messages.
func (m *Message) Value() float64 { return m.value }

// Payload returns the raw JSON payload.
func (m *Message) Payload() string { return m.payload }

// Timestamp returns the UTC creation time.
func (m *Message) Timestamp() time.Time { return m.timestamp }

// Is reports whether the message is of the given kind.
func (m *Message) Is(kind string) bool { return m != nil && m.intent == kind }

// Metadata returns the metadata value stored under key.
func (m *Message) Metadata(key string) (any, bool) {
	v, ok := m.metadata[key]
	return v, ok
}

// MetadataString returns the metadata value under key as a string, or def.
func (m *Message) MetadataString(key, def string) string {
	if s, ok := m.metadata[key].(string); ok {
		return s
	}
	return def
}

// AllMetadata returns a copy of the message metadata.
func (m *Message) AllMetadata() map[string]any {
	return maps.Clone(m.metadata)
}

// PayloadErr returns the error from encoding the payload, if any.
func (m *Message) PayloadErr() error { return m.encodeErr }

// UnmarshalPayload deserializes the message payload into v.
//
//	var obs Observation
//	if err := msg.UnmarshalPayload(&obs); err != nil {
//	    return err
//	}
func (m *Message) UnmarshalPayload(v any) error {
	if m.encodeErr != nil {
		return fmt.Errorf("message %s: %w", m.id, m.encodeErr)
	}
	if m.payload == "" {
		return fmt.Errorf("message %s payload is empty", m.id)
	}
	return json.Unmarshal([]byte(m.payload), v)
}

// Depth returns the number of ancestors; a root has depth 0.
func (m *Message) Depth() int {
	d := 0
	for p := m.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Root returns the root of the message's lineage.
func (m *Message) Root() *Message {
	r := m
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// String returns a human-readable representation for debugging.
func (m *Message) String() string {
	parent := "-"
	if m.parent != nil {
		parent = m.parent.id
	}
	return fmt.Sprintf("Message{ID:%s, Intent:%s, Parent:%s}", m.id, m.intent, parent)
}
