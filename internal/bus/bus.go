// Package bus is the minimal observer used by the registry and the session
// lifecycle manager. Emission is synchronous with the state change that
// produced the event; handler panics are recovered and logged, never
// rethrown. Subscribe returns an unsubscribe func.
package bus

import (
	"log/slog"
	"sync"
)

// Event is one published occurrence.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// Handler receives published events.
type Handler func(Event)

// Bus fan-outs events to subscribers. Safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]subscription
}

type subscription struct {
	name    string // empty = all events
	handler Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[int]subscription)}
}

// Subscribe registers handler for events with the given name; an empty name
// matches everything. The returned func removes the subscription.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = subscription{name: name, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Emit delivers the event to matching subscribers, synchronously, in
// unspecified order. Handlers must not re-enter the emitting component with
// a mutating call on the same path.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers))
	for _, s := range b.handlers {
		if s.name == "" || s.name == event.Name {
			subs = append(subs, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "event", event.Name, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
