package events

import (
	"sync"

	"atlas-consolidation/internal/logging"
)

// Handler receives published events. It must not block for long; the bus
// invokes handlers synchronously on the publishing goroutine.
type Handler func(Event)

// Bus is a minimal in-process pub/sub for consolidation lifecycle events.
// There is no buffering, persistence, or delivery guarantee: a handler
// that panics or a publish with no subscribers is simply a no-op beyond
// a log line.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	log      logging.Logger
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{log: logging.WithComponent("events")}
}

// Subscribe registers handler for every future Publish call. The
// returned func removes it.
func (b *Bus) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, handler)
	idx := len(b.handlers) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.handlers) {
			b.handlers[idx] = nil
		}
	}
}

// Publish fans event out to every live subscriber, recovering from a
// panicking handler so one bad subscriber can't take down a
// consolidation pass.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		b.dispatch(h, event)
	}
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("event handler panicked", "event_type", string(event.Type), "recover", r)
		}
	}()
	h(event)
}
