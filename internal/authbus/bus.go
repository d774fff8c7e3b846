// Package authbus is a small in-process publish/subscribe channel used to
// tell observers that the session state changed without coupling the client
// core to any particular host surface.
package authbus

import (
	"sync"

	"github.com/fleetops/console-client/internal/logger"
)

// Type identifies an event class.
type Type string

const (
	SignedIn       Type = "signed_in"
	SignedOut      Type = "signed_out"
	TokenRefreshed Type = "token_refreshed"
)

// Reason explains why a signed_out event was published.
type Reason string

const (
	ReasonRefreshFailed  Reason = "refresh_failed"
	ReasonNoRefreshToken Reason = "no_refresh_token"
	ReasonTokenRejected  Reason = "token_rejected"
	ReasonRemote         Reason = "remote"
	ReasonUserRequested  Reason = "user_requested"
)

// Event is delivered to subscribers synchronously, in subscription order.
type Event struct {
	Type   Type
	Reason Reason
}

// Handler receives events. A panicking handler is recovered and logged so it
// cannot break unrelated subscribers.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus routes events to subscribers. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[Type][]subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Type][]subscription)}
}

// Subscribe registers a handler for an event type and returns a function that
// removes it. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(t Type, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[t]
		for i, sub := range list {
			if sub.id == id {
				b.subs[t] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to every subscriber of its type, synchronously
// and in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	list := make([]subscription, len(b.subs[e.Type]))
	copy(list, b.subs[e.Type])
	b.mu.Unlock()

	for _, sub := range list {
		deliver(sub.fn, e)
	}
}

func deliver(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Get().Error().
				Interface("panic", r).
				Str("event", string(e.Type)).
				Msg("auth bus subscriber panicked")
		}
	}()
	fn(e)
}
