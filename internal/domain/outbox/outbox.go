// Package outbox carries order lifecycle events from the checkout saga to background consumers.
package outbox

import "context"

// Event is a fact about one order, published after the order row is persisted.
type Event interface {
	EventName() string
	// OrderKey identifies the order the event belongs to. Consumers partition and
	// correlate on it.
	OrderKey() string
}

type Handler func(ctx context.Context, e Event) error

// Publisher hands events to the bus without waiting for consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// SubscribeAll registers h for every name.
func SubscribeAll(s Subscriber, h Handler, names ...string) {
	for _, name := range names {
		s.Subscribe(name, h)
	}
}
