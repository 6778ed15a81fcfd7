package events

import (
	"log/slog"
	"sync"
)

// TopicReceiptsChanged is published after a receipt is created, updated or
// deleted so other screens can refresh their lists.
const TopicReceiptsChanged = "receipts.changed"

// Handler receives the payload published to a topic.
type Handler func(payload any)

// Publisher is the narrow interface collaborators depend on.
type Publisher interface {
	Publish(topic string, payload any)
}

// Bus is a best-effort, in-process publish/subscribe bus. Delivery is
// synchronous and each handler is isolated, so a panicking listener cannot
// break the publisher or the other listeners.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers payload to every handler registered for topic.
// There are no delivery guarantees; publishing to a topic with no
// subscribers is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[topic]))
	copy(handlers, b.handlers[topic])
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(topic, h, payload)
	}
}

func (b *Bus) dispatch(topic string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "topic", topic, "panic", r)
		}
	}()
	h(payload)
}
