// Package eventbus provides the synchronous publish/subscribe primitive that
// the protocol clients use to decouple socket transport from the code that
// reacts to inbound frames.
//
// Handlers registered for an event name run synchronously inside [Bus.Emit],
// in registration order, on the emitting goroutine. A handler that panics is
// recovered and logged; the remaining handlers still run. Handlers may
// register or remove handlers (including themselves) while being invoked:
// Emit iterates over a snapshot of the listener list taken before the first
// handler runs.
//
// All methods are safe for concurrent use.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler receives the payload passed to [Bus.Emit].
type Handler func(payload any)

// Subscription identifies one registered handler. The zero value is an
// inactive subscription; removing it is a no-op.
type Subscription struct {
	bus   *Bus
	event string
	id    uint64
}

// Event returns the event name the subscription was registered for.
func (s Subscription) Event() string { return s.event }

// Unsubscribe removes the handler. It reports whether a handler was removed.
func (s Subscription) Unsubscribe() bool {
	if s.bus == nil {
		return false
	}
	return s.bus.Off(s)
}

type listener struct {
	id uint64
	fn Handler
}

// Bus is an in-memory event dispatcher keyed by event name.
type Bus struct {
	log *slog.Logger

	mu        sync.Mutex
	listeners map[string][]listener
	nextID    uint64
}

// Option configures a [Bus].
type Option func(*Bus)

// WithLogger sets the logger used to report recovered handler panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

// New returns an empty [Bus].
func New(opts ...Option) *Bus {
	b := &Bus{
		log:       slog.Default(),
		listeners: make(map[string][]listener),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// On registers fn for event and returns its subscription handle.
func (b *Bus) On(event string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], listener{id: id, fn: fn})
	return Subscription{bus: b, event: event, id: id}
}

// Once registers fn for event and removes it before its first invocation,
// so fn runs at most once even when the event is emitted concurrently.
func (b *Bus) Once(event string, fn Handler) Subscription {
	var fired atomic.Bool
	var sub Subscription
	var subMu sync.Mutex

	subMu.Lock()
	defer subMu.Unlock()
	sub = b.On(event, func(payload any) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		subMu.Lock()
		s := sub
		subMu.Unlock()
		b.Off(s)
		fn(payload)
	})
	return sub
}

// Off removes the handler identified by sub. It reports whether a handler
// was removed.
func (b *Bus) Off(sub Subscription) bool {
	if sub.bus != b {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ls := b.listeners[sub.event]
	for i, l := range ls {
		if l.id != sub.id {
			continue
		}
		// Build a fresh slice so snapshots held by in-flight Emit calls
		// keep their original contents.
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(b.listeners, sub.event)
		} else {
			b.listeners[sub.event] = next
		}
		return true
	}
	return false
}

// RemoveAll drops every handler registered for event.
func (b *Bus) RemoveAll(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, event)
}

// Emit invokes every handler registered for event with payload, in
// registration order. It reports whether at least one handler ran.
func (b *Bus) Emit(event string, payload any) bool {
	b.mu.Lock()
	snapshot := b.listeners[event]
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return false
	}
	for _, l := range snapshot {
		b.invoke(event, l.fn, payload)
	}
	return true
}

// ListenerCount returns the number of handlers registered for event.
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}

func (b *Bus) invoke(event string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: handler panicked",
				"event", event,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(payload)
}

// Subscribe registers a typed handler for event. Payloads that are not of
// type T are logged and skipped.
func Subscribe[T any](b *Bus, event string, fn func(T)) Subscription {
	return b.On(event, typed(b, event, fn))
}

// SubscribeOnce is the typed counterpart of [Bus.Once].
func SubscribeOnce[T any](b *Bus, event string, fn func(T)) Subscription {
	return b.Once(event, typed(b, event, fn))
}

func typed[T any](b *Bus, event string, fn func(T)) Handler {
	return func(payload any) {
		v, ok := payload.(T)
		if !ok {
			b.log.Warn("eventbus: unexpected payload type",
				"event", event,
				"type", fmt.Sprintf("%T", payload),
			)
			return
		}
		fn(v)
	}
}
