package realtime

import (
	"encoding/json"
	"sync"
)

// Event is one named delivery from the push channel. Payload is left
// raw; subscribers decode the shape they expect. Deliveries carry no
// ordering guarantee across reconnects, so a handler must treat each
// one as a possibly-stale snapshot.
type Event struct {
	Type    string
	Payload json.RawMessage
}

type Handler func(event Event)

// Channel delivers named events to registered handlers. Subscribe
// returns a disposable handle; after it runs, the handler receives no
// further deliveries.
type Channel interface {
	Subscribe(eventType string, handler Handler) (unsubscribe func())
}

// Dispatcher is an in-process Channel fan-out. It backs the SSE client
// and doubles as an injectable fake in tests.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]map[int]Handler),
	}
}

func (d *Dispatcher) Subscribe(eventType string, handler Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	if d.handlers[eventType] == nil {
		d.handlers[eventType] = make(map[int]Handler)
	}
	d.handlers[eventType][id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[eventType], id)
	}
}

// Publish invokes every handler registered for the event's type.
// Handlers run synchronously on the caller's goroutine.
func (d *Dispatcher) Publish(event Event) {
	d.mu.Lock()
	registered := d.handlers[event.Type]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
