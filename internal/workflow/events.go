package workflow

import (
	"sync"
	"time"
)

// EventKind identifies a session event.
type EventKind string

const (
	EventCaptureTriggered EventKind = "capture-triggered"
	EventCaptureSucceeded EventKind = "capture-succeeded"
	EventStatusUpdated    EventKind = "status-updated"
)

// Event is delivered to Bus subscribers.
type Event struct {
	Kind   EventKind
	Pages  []Page
	Retake bool
	Step   Step
	Time   time.Time
}

// Bus fans session events out to subscribers. Handlers run synchronously on
// the publishing goroutine in subscription order.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(Event)
	order    []uint64
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[uint64]func(Event))}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *Bus) Subscribe(fn func(Event)) func() {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, existing := range b.order {
				if existing == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers ev to every current subscriber.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// Len reports the number of active subscribers.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}
