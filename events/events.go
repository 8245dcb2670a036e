// Package events carries workflow side effects (assignee notifications,
// closure notices) to subscribers outside the transition path.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Type names an event.
type Type string

const (
	// TransitionApplied is published for every accepted action.
	TransitionApplied Type = "transition_applied"
	// AssigneeChanged is published when responsibility moves to another user.
	AssigneeChanged Type = "assignee_changed"
	// ApplicationClosed is published when an application reaches a terminal status.
	ApplicationClosed Type = "application_closed"
)

// Event is one workflow notification. UserID and RoleID name the party the
// event is addressed to, if any.
type Event struct {
	Type          Type
	ApplicationID string
	UserID        string
	RoleID        string
	Data          map[string]interface{}
}

// Handler receives events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription identifies a registered handler.
type Subscription struct {
	Type Type
	id   uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// EventBus fans events out to subscribers on a background goroutine.
type EventBus struct {
	handlers map[Type][]subscriber
	nextID   uint64
	mu       sync.RWMutex

	eventCh      chan Event
	syncTimeout  time.Duration
	logger       zerolog.Logger
	errHandler   func(event Event, err error)
	errHandlerMu sync.RWMutex

	wg      sync.WaitGroup
	closed  bool
	closeMu sync.RWMutex
}

// EventBusOption defines functional options for configuring EventBus.
type EventBusOption func(*EventBus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) EventBusOption {
	return func(eb *EventBus) {
		eb.eventCh = make(chan Event, size)
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger zerolog.Logger) EventBusOption {
	return func(eb *EventBus) {
		eb.logger = logger
	}
}

// WithSyncTimeout bounds PublishSync. The default is 5s.
func WithSyncTimeout(d time.Duration) EventBusOption {
	return func(eb *EventBus) {
		eb.syncTimeout = d
	}
}

// WithErrorHandler replaces the default error handler, which logs.
func WithErrorHandler(handler func(event Event, err error)) EventBusOption {
	return func(eb *EventBus) {
		eb.errHandlerMu.Lock()
		defer eb.errHandlerMu.Unlock()
		eb.errHandler = handler
	}
}

// NewEventBus creates a bus and starts its processing goroutine. Call Stop
// to release it.
func NewEventBus(options ...EventBusOption) *EventBus {
	eb := &EventBus{
		handlers:    make(map[Type][]subscriber),
		eventCh:     make(chan Event, 100),
		syncTimeout: 5 * time.Second,
		logger:      zerolog.Nop(),
	}
	eb.errHandler = eb.logError

	for _, option := range options {
		option(eb)
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for an event type.
func (eb *EventBus) Subscribe(eventType Type, handler Handler) Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.handlers[eventType] = append(eb.handlers[eventType], subscriber{id: eb.nextID, handler: handler})
	return Subscription{Type: eventType, id: eb.nextID}
}

// SubscribeFunc registers a function as a handler.
func (eb *EventBus) SubscribeFunc(eventType Type, fn func(ctx context.Context, event Event) error) Subscription {
	return eb.Subscribe(eventType, HandlerFunc(fn))
}

// Unsubscribe removes a handler. It reports whether the subscription existed.
func (eb *EventBus) Unsubscribe(sub Subscription) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[sub.Type]
	for i, s := range subs {
		if s.id != sub.id {
			continue
		}
		rest := make([]subscriber, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(eb.handlers, sub.Type)
		} else {
			eb.handlers[sub.Type] = rest
		}
		return true
	}
	return false
}

// HasSubscribers checks if there are any subscribers for a given event type.
func (eb *EventBus) HasSubscribers(eventType Type) bool {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) > 0
}

func (eb *EventBus) subscribers(eventType Type) []subscriber {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.handlers[eventType]
}

// Publish queues an event for asynchronous delivery. It never blocks: a full
// buffer returns ErrChannelFull.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return ErrBusClosed
	}

	if len(eb.subscribers(event.Type)) == 0 {
		return ErrNoHandler
	}

	select {
	case eb.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync delivers an event on the caller's goroutine and returns every
// handler error.
func (eb *EventBus) PublishSync(ctx context.Context, event Event) []error {
	eb.closeMu.RLock()
	closed := eb.closed
	eb.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	subs := eb.subscribers(event.Type)
	if len(subs) == 0 {
		return []error{ErrNoHandler}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, eb.syncTimeout)
	defer cancel()

	return eb.executeHandlers(timeoutCtx, subs, event)
}

// Stop closes the bus, drops undelivered events and waits for the
// processing goroutine to exit.
func (eb *EventBus) Stop() {
	eb.closeMu.Lock()
	if !eb.closed {
		eb.closed = true
		for len(eb.eventCh) > 0 {
			<-eb.eventCh
		}
		close(eb.eventCh)
	}
	eb.closeMu.Unlock()

	eb.wg.Wait()
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for event := range eb.eventCh {
		subs := eb.subscribers(event.Type)
		if len(subs) == 0 {
			continue
		}

		errs := eb.executeHandlers(context.Background(), subs, event)

		eb.errHandlerMu.RLock()
		handler := eb.errHandler
		eb.errHandlerMu.RUnlock()

		for _, err := range errs {
			handler(event, err)
		}
	}
}

// executeHandlers runs all handlers concurrently and collects their errors.
func (eb *EventBus) executeHandlers(ctx context.Context, subs []subscriber, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))

	for _, s := range subs {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(s.handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func (eb *EventBus) logError(event Event, err error) {
	eb.logger.Error().
		Err(err).
		Str("event", string(event.Type)).
		Str("application_id", event.ApplicationID).
		Str("user_id", event.UserID).
		Msg("event handler failed")
}
