package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AllIntents subscribes a listener to every intent.
const AllIntents = "*"

// Event is emitted once per dispatch, before the handler runs.
type Event struct {
	Agent   string
	Intent  string
	Message *Message
	Time    time.Time
}

// Listener observes dispatch events. Returned errors are reported but never
// abort the dispatch.
type Listener func(ctx context.Context, ev Event) error

// ListenerID identifies a registered listener for removal.
type ListenerID uint64

type subscription struct {
	id ListenerID
	fn Listener
}

// EventBus fans dispatch events out to listeners keyed by intent.
// Emit and Listeners are safe to call on a nil *EventBus.
type EventBus struct {
	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[string][]subscription
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[string][]subscription)}
}

// On registers fn for events of intent, or for every event when intent is
// AllIntents.
func (b *EventBus) On(intent string, fn Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[intent] = append(b.listeners[intent], subscription{id: b.nextID, fn: fn})
	return b.nextID
}

// Off removes the listener registered under id for intent.
func (b *EventBus) Off(intent string, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.listeners[intent]
	for i, s := range subs {
		if s.id == id {
			b.listeners[intent] = append(subs[:i:i], subs[i+1:]...)
			if len(b.listeners[intent]) == 0 {
				delete(b.listeners, intent)
			}
			return true
		}
	}
	return false
}

// Listeners returns the number of listeners registered for intent.
func (b *EventBus) Listeners(intent string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[intent])
}

// Emit delivers ev to the listeners of its intent and to AllIntents listeners,
// in registration order. Every listener runs even if an earlier one fails or
// panics; the failures are joined into the returned error.
func (b *EventBus) Emit(ctx context.Context, ev Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.listeners[ev.Intent])+len(b.listeners[AllIntents]))
	subs = append(subs, b.listeners[ev.Intent]...)
	if ev.Intent != AllIntents {
		subs = append(subs, b.listeners[AllIntents]...)
	}
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := deliver(ctx, s, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(ctx context.Context, s subscription, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener %d panicked: %v", s.id, r)
		}
	}()
	return s.fn(ctx, ev)
}
