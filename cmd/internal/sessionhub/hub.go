// Package sessionhub fans session lifecycle events out to a user's open
// websocket connections, so a login or logout on one device is visible
// to every other tab or device the same user has open.
package sessionhub

import (
	"log/slog"
	"sync"
	"time"
)

// Event types pushed to subscribers.
const (
	EventSessionStarted = "session.started"
	EventSessionEnded   = "session.ended"
)

// Event is one session lifecycle notification.
type Event struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

// Hub tracks the active subscribers per user and broadcasts events to
// them. Delivery is best effort: a subscriber whose queue is full misses
// the event rather than blocking the publisher.
type Hub struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{} // userID -> subscribers
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		log:  log,
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber for a user's events.
func (h *Hub) Subscribe(userID string, queueSize int) *Subscriber {
	sub := newSubscriber(userID, queueSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[userID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and signals it to stop (idempotent).
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if h == nil || sub == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.subs[sub.userID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.userID)
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Publish sends an event to every subscriber of a user.
func (h *Hub) Publish(userID string, eventType string) {
	ev := Event{Type: eventType, TS: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[userID] {
		select {
		case sub.events <- ev:
		default:
			h.log.Debug("sessionhub.drop", "user_id", userID, "event", eventType)
		}
	}
}

// SubscriberCount reports how many subscribers a user currently has.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// SessionStarted implements the auth API's notifier hook.
func (h *Hub) SessionStarted(userID string) {
	h.Publish(userID, EventSessionStarted)
}

// SessionEnded implements the auth API's notifier hook.
func (h *Hub) SessionEnded(userID string) {
	h.Publish(userID, EventSessionEnded)
}
