package services

import (
	"context"

	"github.com/ewilliams-labs/pulselight/internal/core/domain"
)

// DefaultBusCapacity keeps at most one pending event so the poller never
// runs far ahead of the engine.
const DefaultBusCapacity = 1

// EventBus is a bounded FIFO between the poller and the engine.
// Publish blocks when full; nothing is ever dropped by the bus itself.
type EventBus struct {
	ch chan domain.Event
}

// NewEventBus returns a bus holding up to capacity pending events.
func NewEventBus(capacity int) *EventBus {
	if capacity < 1 {
		capacity = DefaultBusCapacity
	}
	return &EventBus{ch: make(chan domain.Event, capacity)}
}

// Publish enqueues ev, waiting for room. It returns ctx.Err() if ctx ends first.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events is the consumer side of the bus.
func (b *EventBus) Events() <-chan domain.Event {
	return b.ch
}

// Len is the number of pending events.
func (b *EventBus) Len() int {
	return len(b.ch)
}

// Cap is the bus capacity.
func (b *EventBus) Cap() int {
	return cap(b.ch)
}
