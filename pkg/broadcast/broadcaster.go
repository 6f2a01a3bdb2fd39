package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// Subscriber is one listener's handle for a single order's events.
// Send must not block indefinitely; a send error is treated as a
// disconnect, never as a pipeline failure.
type Subscriber interface {
	Send(event core.ProgressEvent) error
}

// Broadcaster routes progress events to the single active subscriber
// registered for each order ID. Events for orders with no subscriber
// are dropped; there is no buffering or replay, so a subscriber that
// connects late misses earlier events.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	logger zerolog.Logger
}

// NewBroadcaster creates an empty subscriber registry
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]Subscriber),
		logger: logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Register installs sub as the active subscriber for the order,
// replacing any previous registration.
func (b *Broadcaster) Register(orderID string, sub Subscriber) {
	b.mu.Lock()
	b.subs[orderID] = sub
	b.mu.Unlock()
	b.logger.Debug().Str("order_id", orderID).Msg("Subscriber registered")
}

// Unregister removes the subscription if sub is still the active one.
// A handle that was already replaced is left alone.
func (b *Broadcaster) Unregister(orderID string, sub Subscriber) {
	b.mu.Lock()
	if current, ok := b.subs[orderID]; ok && current == sub {
		delete(b.subs, orderID)
	}
	b.mu.Unlock()
	b.logger.Debug().Str("order_id", orderID).Msg("Subscriber unregistered")
}

// Publish delivers the event to the order's subscriber, if any. After
// a terminal event the registration is dropped: nothing further will
// be published for that order.
func (b *Broadcaster) Publish(event core.ProgressEvent) {
	b.mu.RLock()
	sub, ok := b.subs[event.OrderID]
	b.mu.RUnlock()

	if !ok {
		return
	}

	if err := sub.Send(event); err != nil {
		// Subscriber is gone; disconnects are a normal condition
		b.logger.Debug().
			Str("order_id", event.OrderID).
			Err(err).
			Msg("Subscriber send failed, dropping registration")
		b.Unregister(event.OrderID, sub)
		return
	}

	if terminalEvent(event) {
		b.Unregister(event.OrderID, sub)
	}
}

// Subscribers returns the number of active registrations
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// terminalEvent reports whether no further events can follow: a
// completed event, or a failed event marking retry exhaustion. A
// per-attempt failure keeps the subscription open for the redelivery.
func terminalEvent(event core.ProgressEvent) bool {
	if event.Status == core.StatusCompleted {
		return true
	}
	return event.Status == core.StatusFailed && event.Failed != nil && event.Failed.Final
}
