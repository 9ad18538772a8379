package agent

import (
	"context"
	"slices"
	"sync"
)

// Handler processes one message and returns its replies.
//
// The result may be nil, a *Message, a []*Message, an iter.Seq[*Message], an
// iter.Seq2[*Message, error], a receive channel of messages, or a Deferred.
// See Replies for how each shape is interpreted.
type Handler func(ctx context.Context, msg *Message) (any, error)

// Agent is an addressable entity with one handler per supported intent.
//
// Agents do not own messages; messages reference agents as sender and
// receiver. An agent that also implements sync.Locker has its handler
// execution serialized by the Engine.
type Agent interface {
	// Name returns the agent's identifier.
	Name() string

	// Handler returns the handler for intent, if the agent declares one.
	Handler(intent string) (Handler, bool)

	// Events returns the bus notified on every dispatch to this agent.
	// It may return nil when the agent has no observers.
	Events() *EventBus
}

// Base is an embeddable Agent with a closed table of intent handlers.
//
// Base implements sync.Locker; the Engine holds the lock while the agent's
// handler runs and while each reply is produced, so state owned by the
// embedding type sees at most one in-flight handler step at a time.
type Base struct {
	name   string
	events *EventBus

	mu       sync.Mutex
	hmu      sync.RWMutex
	handlers map[string]Handler
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithEventBus injects the bus that observes dispatches to the agent.
func WithEventBus(bus *EventBus) BaseOption {
	return func(b *Base) { b.events = bus }
}

// WithHandler declares a handler at construction time.
func WithHandler(intent string, h Handler) BaseOption {
	return func(b *Base) { b.handlers[intent] = h }
}

// NewBase creates a Base named name. Without WithEventBus the agent gets a
// private bus.
func NewBase(name string, opts ...BaseOption) *Base {
	b := &Base{
		name:     name,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.events == nil {
		b.events = NewEventBus()
	}
	return b
}

// Name returns the agent's identifier.
func (b *Base) Name() string { return b.name }

// Events returns the agent's event bus.
func (b *Base) Events() *EventBus { return b.events }

// Handle declares the handler for intent, replacing any previous one.
func (b *Base) Handle(intent string, h Handler) {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.handlers[intent] = h
}

// Handler returns the handler declared for intent.
func (b *Base) Handler(intent string) (Handler, bool) {
	b.hmu.RLock()
	defer b.hmu.RUnlock()
	h, ok := b.handlers[intent]
	return h, ok && h != nil
}

// Intents returns the sorted set of intents the agent can receive.
func (b *Base) Intents() []string {
	b.hmu.RLock()
	defer b.hmu.RUnlock()
	intents := make([]string, 0, len(b.handlers))
	for intent := range b.handlers {
		intents = append(intents, intent)
	}
	slices.Sort(intents)
	return intents
}

// Lock acquires the agent's dispatch lock.
func (b *Base) Lock() { b.mu.Lock() }

// Unlock releases the agent's dispatch lock.
func (b *Base) Unlock() { b.mu.Unlock() }
