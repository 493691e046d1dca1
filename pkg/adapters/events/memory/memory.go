package memory

import (
	"context"
	"sync"

	"github.com/icarrero/agentpool/pkg/ports"
)

type subscription struct {
	handler ports.EventHandler
}

// EventBus implements ports.EventBus with in-process handlers. Handlers run
// synchronously in emission order, which gives tests deterministic delivery.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	closed      bool
}

// NewEventBus creates a new in-memory event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]*subscription),
	}
}

// Publish delivers an event to all subscribers of a topic. Handler errors
// are swallowed; delivery is at-least-once, in emission order per publisher.
func (e *EventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil
	}
	subs := make([]*subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.handler(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for a topic until ctx is cancelled.
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	sub := &subscription{handler: handler}

	e.mu.Lock()
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, sub)
	}()

	return nil
}

// Close drops all subscriptions.
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.subscribers = make(map[string][]*subscription)
	return nil
}

func (e *EventBus) unsubscribe(topic string, sub *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, cur := range subs {
		if cur == sub {
			e.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
