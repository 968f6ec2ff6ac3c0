package client

import "sync"

// Event is a session state change broadcast between sibling sessions.
type Event interface {
	// EventOrigin identifies the session that published the event, so
	// subscribers can ignore their own broadcasts.
	EventOrigin() string
}

// LoginEvent announces a new token pair after login, registration, or a
// successful refresh.
type LoginEvent struct {
	Origin      string
	AccessToken string
	User        User
}

func (e LoginEvent) EventOrigin() string { return e.Origin }

// LogoutEvent announces that the session was ended.
type LogoutEvent struct {
	Origin string
}

func (e LogoutEvent) EventOrigin() string { return e.Origin }

// Bus is an in-process broadcast channel for session events. Handlers
// run synchronously on the publishing goroutine.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers a handler and returns a function that removes it.
// Cancelling twice is harmless.
func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to every subscriber, including the one
// belonging to the publisher; handlers filter on EventOrigin.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
