// Package hooks provides an in-process, synchronous fan-out bus for SystemEvent telemetry.
// It is a direct structural adaptation of goa-ai's runtime/agent/hooks event bus: events
// are delivered synchronously in the publisher's goroutine, subscribers are invoked in
// registration order, and delivery is strictly downstream of decision-making — no
// subscriber can influence a Pipeline's SafetyDecision.
package hooks

import (
	"context"
	"errors"
	"sync"
)

// ErrNilSubscriber is returned by Register when sub is nil.
var ErrNilSubscriber = errors.New("hooks: subscriber must not be nil")

type (
	// Bus publishes SystemEvent telemetry to registered subscribers in a fan-out pattern.
	// The bus is thread-safe and supports concurrent Publish, Register, and Close calls.
	Bus interface {
		// Publish delivers the event to every currently registered subscriber, in
		// registration order. Iteration stops at the first subscriber error, and that
		// error is returned to the caller. The pipeline treats a Publish error as
		// non-fatal telemetry noise: it logs and continues (see pipeline.Pipeline.publish).
		Publish(ctx context.Context, event Event) error

		// Register adds a subscriber and returns a Subscription that can be closed to
		// unregister it. Returns ErrNilSubscriber if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published SystemEvent records.
	Subscriber interface {
		// HandleEvent processes a single event. Returning an error stops delivery to
		// remaining subscribers for that Publish call.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus.
	Subscription interface {
		// Close removes the subscriber from the bus. Idempotent and safe to call from
		// multiple goroutines; always returns nil.
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
		order       []*subscription
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs an in-memory event bus ready for immediate use.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

// Publish delivers event to every registered subscriber in registration order, stopping at
// the first error.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	order := make([]*subscription, len(b.order))
	copy(order, b.order)
	subs := make(map[*subscription]Subscriber, len(b.subscribers))
	for k, v := range b.subscribers {
		subs[k] = v
	}
	b.mu.RUnlock()

	for _, sub := range order {
		handler, ok := subs[sub]
		if !ok {
			continue // unregistered between snapshot and delivery
		}
		if err := handler.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Register adds sub to the bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, ErrNilSubscriber
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscription from its bus.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		for i, o := range s.bus.order {
			if o == s {
				s.bus.order = append(s.bus.order[:i], s.bus.order[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
