package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Event is implemented by every domain event dispatched on the bus.
type Event interface {
	Name() string
}

// Handler consumes a dispatched event. A non-nil error vetoes the dispatch:
// the bus stops, and the caller's surrounding transaction is expected to abort.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts ordinary functions to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle invokes the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Dispatcher is the publishing side of the bus consumed by services.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Bus is a synchronous in-process publish/subscribe keyed by event name.
// Handlers run inline in registration order; failures are logged and then
// returned so side effects can abort the triggering transaction.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	logger   func(ctx context.Context, event string, fields map[string]any)
}

type subscription struct {
	label   string
	handler Handler
}

// NewBus constructs an empty bus. The logger may be nil.
func NewBus(logger func(ctx context.Context, event string, fields map[string]any)) *Bus {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a handler for the named event. Registration is expected
// at process startup; handlers are typed values, never resolved by reflection.
func (b *Bus) Subscribe(eventName string, handler Handler) error {
	name := strings.TrimSpace(eventName)
	if name == "" {
		return errors.New("event bus: event name is required")
	}
	if handler == nil {
		return errors.New("event bus: handler is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], subscription{
		label:   fmt.Sprintf("%T", handler),
		handler: handler,
	})
	return nil
}

// SubscribeFunc registers a plain function handler.
func (b *Bus) SubscribeFunc(eventName string, fn func(ctx context.Context, event Event) error) error {
	if fn == nil {
		return errors.New("event bus: handler is required")
	}
	return b.Subscribe(eventName, HandlerFunc(fn))
}

// Dispatch invokes every handler registered for the event's name in
// registration order. The first handler error is logged with event and handler
// identity and returned; the bus never swallows listener failures.
func (b *Bus) Dispatch(ctx context.Context, event Event) error {
	if event == nil {
		return errors.New("event bus: event is required")
	}

	b.mu.RLock()
	subs := b.handlers[event.Name()]
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler.Handle(ctx, event); err != nil {
			b.logger(ctx, "event_handler_failed", map[string]any{
				"event":   event.Name(),
				"handler": sub.label,
				"error":   err.Error(),
			})
			return fmt.Errorf("event bus: handler %s for %s: %w", sub.label, event.Name(), err)
		}
	}
	return nil
}
