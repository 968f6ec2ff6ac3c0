package sessionhub

import "sync"

// Subscriber is one websocket connection's view of a user's events.
//
// The events channel is never closed by the hub so Publish stays safe
// under concurrency; done signals the reader to stop instead.
type Subscriber struct {
	userID string
	events chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(userID string, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Subscriber{
		userID: userID,
		events: make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Events returns the channel the hub delivers on.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscriber is being torn down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
