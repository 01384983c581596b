package identity

import (
	"context"
	"sync"
)

// EventType identifies a provider auth event.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is pushed on the provider's auth-event stream. Identity is nil for
// EventSignedOut.
type Event struct {
	Type     EventType
	Identity *Identity
}

// EventHandler receives auth events in provider delivery order.
type EventHandler func(Event)

// SignupMetadata is the typed profile seed embedded in a sign-up request.
// The provider stores it opaquely; the application reads it back when
// synthesizing a profile.
type SignupMetadata struct {
	FirstName string
	LastName  string
	Role      string
	TenantID  string
}

// Provider is the capability set consumed from the identity collaborator.
//
// GetCurrentSession and the event stream are independent asynchronous
// channels: both can fire for the same initial session. Callers own the
// synchronization (see the coordinator's READY gate).
type Provider interface {
	// GetCurrentSession returns the current authenticated identity, or
	// (nil, nil) when no session exists.
	GetCurrentSession(ctx context.Context) (*Identity, error)

	// SubscribeAuthEvents registers a handler for auth events and returns an
	// unsubscribe function. Events are delivered synchronously in order.
	SubscribeAuthEvents(h EventHandler) (unsubscribe func())

	// SignInWithPassword verifies credentials and establishes a session.
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)

	// SignUp creates an account. Returns the new identity when the provider
	// establishes a session immediately, or (nil, nil) when a confirmation
	// step (e.g. email verification) is configured.
	SignUp(ctx context.Context, email, password string, meta SignupMetadata) (*Identity, error)

	// SignOut revokes the current provider session.
	SignOut(ctx context.Context) error

	// GetCurrentUser returns the identity backing the current session, or
	// (nil, nil) when unauthenticated.
	GetCurrentUser(ctx context.Context) (*Identity, error)
}

// broadcaster fans auth events out to subscribed handlers. Delivery is
// synchronous and in subscription order, matching provider semantics.
type broadcaster struct {
	mu       sync.Mutex
	next     int
	handlers map[int]EventHandler
	order    []int
}

func (b *broadcaster) subscribe(h EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[int]EventHandler)
	}
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, other := range b.order {
			if other == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *broadcaster) emit(ev Event) {
	b.mu.Lock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, id := range b.order {
		if h, ok := b.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
