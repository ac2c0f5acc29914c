// Package events provides room-keyed publish/subscribe for live build updates.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BuildStatusEvent is the event name emitted on build state changes.
const BuildStatusEvent = "build status"

// SiteRoom returns the room name for all of a site's builds.
func SiteRoom(siteID int64) string {
	return fmt.Sprintf("site-%d", siteID)
}

// SiteUserRoom returns the room name for a site's builds triggered by one user.
func SiteUserRoom(siteID, userID int64) string {
	return fmt.Sprintf("site-%d-user-%d", siteID, userID)
}

// Event is one published message.
type Event struct {
	Room    string `json:"room"`
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Subscriber receives events for a set of rooms.
type Subscriber struct {
	ID        string
	Rooms     map[string]bool
	Ch        chan *Event
	CreatedAt time.Time
}

// Broker manages subscriptions and event publishing.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe creates a subscription for the given rooms.
func (b *Broker) Subscribe(rooms ...string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:        uuid.New().String(),
		Rooms:     make(map[string]bool, len(rooms)),
		Ch:        make(chan *Event, 100),
		CreatedAt: time.Now(),
	}
	for _, room := range rooms {
		sub.Rooms[room] = true
	}

	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "rooms", rooms)

	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Emit sends an event to all subscribers of the named room. Slow subscribers
// whose buffers are full miss the event rather than blocking the publisher.
func (b *Broker) Emit(room, name string, payload any) {
	event := &Event{
		Room:    room,
		Name:    name,
		Payload: payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.Rooms[room] {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"room", room,
			)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
