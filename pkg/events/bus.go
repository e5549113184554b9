// Package events provides the type-indexed publish/subscribe bus used to
// gate workflow nodes on external occurrences.
//
// The bus keeps a bounded history so late subscribers can ask whether an
// event has already occurred, and supports blocking waits with timeout
// and predicate filtering.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stateflow/stateflow/internal/infrastructure/logger"
	"github.com/stateflow/stateflow/pkg/clock"
	"github.com/stateflow/stateflow/pkg/models"
)

// DefaultHistoryLimit bounds the event history unless overridden.
const DefaultHistoryLimit = 1000

// WildcardType subscribes a handler to every event type.
const WildcardType = "*"

// Handler consumes an event. Handlers run synchronously on the goroutine
// calling Emit; they must be short and must not re-enter the bus under
// scheduler locks.
type Handler func(event *models.Event)

// Predicate filters events for waits and history lookups.
type Predicate func(event *models.Event) bool

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	id        uint64
	eventType string
	bus       *Bus
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	if s != nil && s.bus != nil {
		s.bus.Off(s)
	}
}

// Bus is a type-indexed event bus with bounded history.
type Bus struct {
	mu           sync.Mutex
	nextID       uint64
	subscribers  map[string][]*subscriber
	waiters      map[uint64]*waiter
	history      []*models.Event
	historyLimit int
	clk          clock.Clock
	log          *logger.Logger
}

type subscriber struct {
	id      uint64
	handler Handler
}

type waiter struct {
	id        uint64
	types     map[string]bool
	predicate Predicate
	ch        chan *models.Event
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistoryLimit overrides the bounded history size.
func WithHistoryLimit(limit int) Option {
	return func(b *Bus) { b.historyLimit = limit }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clk = c }
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l *logger.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers:  make(map[string][]*subscriber),
		waiters:      make(map[uint64]*waiter),
		historyLimit: DefaultHistoryLimit,
		clk:          clock.System(),
		log:          logger.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a handler for an event type. The wildcard type "*"
// subscribes to every event.
func (b *Bus) On(eventType string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, handler: handler}
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	return &Subscription{id: sub.id, eventType: eventType, bus: b}
}

// Off removes a previously registered handler.
func (b *Bus) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit publishes an event: it is appended to history, delivered to every
// subscriber of its type in registration order, and offered to pending
// waiters. Delivery is synchronous on the caller; a panicking handler is
// logged and does not affect the others.
func (b *Bus) Emit(event *models.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.clk.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if b.historyLimit > 0 && len(b.history) > b.historyLimit {
		b.history = b.history[len(b.history)-b.historyLimit:]
	}

	subs := make([]*subscriber, 0, len(b.subscribers[event.Type])+len(b.subscribers[WildcardType]))
	subs = append(subs, b.subscribers[event.Type]...)
	subs = append(subs, b.subscribers[WildcardType]...)

	var matched []*waiter
	for id, w := range b.waiters {
		if !w.types[event.Type] {
			continue
		}
		if w.predicate != nil && !w.predicate(event) {
			continue
		}
		matched = append(matched, w)
		delete(b.waiters, id)
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.safeInvoke(s.handler, event)
	}
	for _, w := range matched {
		w.ch <- event
	}
}

func (b *Bus) safeInvoke(h Handler, event *models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panic recovered",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	h(event)
}

// WaitForEvent blocks until the next event of the given type matching the
// predicate arrives, the timeout expires, or ctx is cancelled. A zero
// timeout waits indefinitely.
func (b *Bus) WaitForEvent(ctx context.Context, eventType string, timeout time.Duration, predicate Predicate) (*models.Event, error) {
	return b.WaitForAnyEvent(ctx, []string{eventType}, timeout, predicate)
}

// WaitForAnyEvent blocks until the next event whose type is in types and
// that matches the predicate arrives; first match wins and the waiter is
// fully deregistered.
func (b *Bus) WaitForAnyEvent(ctx context.Context, types []string, timeout time.Duration, predicate Predicate) (*models.Event, error) {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	b.mu.Lock()
	b.nextID++
	w := &waiter{
		id:        b.nextID,
		types:     typeSet,
		predicate: predicate,
		ch:        make(chan *models.Event, 1),
	}
	b.waiters[w.id] = w
	b.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timeoutCh = b.clk.After(timeout)
	}

	select {
	case event := <-w.ch:
		return event, nil
	case <-timeoutCh:
		b.removeWaiter(w.id)
		return nil, models.ErrEventWaitTimeout
	case <-ctx.Done():
		b.removeWaiter(w.id)
		return nil, ctx.Err()
	}
}

func (b *Bus) removeWaiter(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, id)
}

// HasEventOccurred returns the most recent historical event of the given
// type matching the predicate, observed at or after since. Nil when none.
func (b *Bus) HasEventOccurred(eventType string, predicate Predicate, since *time.Time) *models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.history) - 1; i >= 0; i-- {
		e := b.history[i]
		if e.Type != eventType {
			continue
		}
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		if predicate != nil && !predicate(e) {
			continue
		}
		return e
	}
	return nil
}

// GetEventHistory returns historical events, optionally filtered by type
// and by a [since, until] window. Events are in emission order.
func (b *Bus) GetEventHistory(eventType string, since, until *time.Time) []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*models.Event
	for _, e := range b.history {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if since != nil && e.Timestamp.Before(*since) {
			continue
		}
		if until != nil && e.Timestamp.After(*until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ClearHistory drops all recorded events.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = nil
}
