// Package eventbus is the many-to-many publish/subscribe mechanism the
// deploy engine uses to fan lifecycle notifications out to observers
// (front-ends, audit loggers, metrics collectors) without coupling to any
// of them directly. Handlers register additively, in the order they're
// added, and Trigger calls them in that same order, awaiting each one
// before moving to the next — so Trigger only returns once every handler
// for the event has settled. That "publisher awaits subscribers" contract
// is what lets a front-end stall deploy.enqueue between hosts to implement
// operator pause points.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Payload is the keyword-argument bag delivered with an event. Remote
// command results and other dynamic values travel as untyped map entries;
// callers type-assert the keys they know about.
type Payload map[string]any

// Handler reacts to one event. An error it returns is logged but never
// aborts the trigger and never propagates to the publisher.
type Handler func(ctx context.Context, payload Payload) error

// Bus is a registration-ordered, synchronous event dispatcher.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// New creates an empty bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[string][]Handler), logger: logger}
}

// Register adds handler for event. Registration is additive; there is no
// deregistration, matching the reference event bus.
func (b *Bus) Register(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Trigger runs every handler registered for event, in registration order,
// each awaited before the next starts. It always returns nil: handler
// errors are logged, not propagated, so one failing subscriber never
// prevents its siblings from running or blocks the publisher.
func (b *Bus) Trigger(ctx context.Context, event string, payload Payload) error {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers[event]))
	copy(handlers, b.handlers[event])
	b.mu.Unlock()

	for i, h := range handlers {
		if err := b.runHandler(ctx, h, payload); err != nil {
			b.logger.Error("event handler failed", "event", event, "handler_index", i, "error", err)
		}
	}
	return nil
}

func (b *Bus) runHandler(ctx context.Context, h Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError{r}
		}
	}()
	return h(ctx, payload)
}

type recoveredError struct{ v any }

func (e recoveredError) Error() string { return fmt.Sprintf("panic in event handler: %v", e.v) }
