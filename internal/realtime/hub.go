package realtime

import (
	"log"
	"sync"

	"geochat/internal/models"

	"github.com/google/uuid"
)

// subscriptionBuffer bounds each subscription's event queue. A subscriber
// that cannot keep up has events dropped rather than stalling the publisher.
const subscriptionBuffer = 64

// Subscription is one open push channel: insert events for a single group.
// Close releases the server-side registration; callers must close every
// subscription they open.
type Subscription struct {
	GroupID uuid.UUID

	hub    *Hub
	events chan *models.Message
	once   sync.Once
}

// Events is the stream of inserted messages for the subscribed group.
// The channel is closed when the subscription is closed.
func (s *Subscription) Events() <-chan *models.Message {
	return s.events
}

// Close unregisters the subscription and closes its event channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub fans inserted messages out to the open subscriptions of their group.
// Publishing happens on the inserting request's goroutine after the database
// insert succeeds, so subscribers observe events in commit order per group.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[*Subscription]bool),
	}
}

// Subscribe opens a push channel for insert events scoped to one group.
func (h *Hub) Subscribe(groupID uuid.UUID) *Subscription {
	sub := &Subscription{
		GroupID: groupID,
		hub:     h,
		events:  make(chan *models.Message, subscriptionBuffer),
	}

	h.mu.Lock()
	if _, ok := h.subs[groupID]; !ok {
		h.subs[groupID] = make(map[*Subscription]bool)
	}
	h.subs[groupID][sub] = true
	total := len(h.subs[groupID])
	h.mu.Unlock()

	log.Printf("Realtime Hub: Subscription opened for group %s. Total for group: %d", groupID, total)
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if groupSubs, ok := h.subs[sub.GroupID]; ok {
		if _, exists := groupSubs[sub]; exists {
			delete(groupSubs, sub)
			close(sub.events)
			if len(groupSubs) == 0 {
				delete(h.subs, sub.GroupID)
			}
			log.Printf("Realtime Hub: Subscription closed for group %s. Remaining for group: %d", sub.GroupID, len(groupSubs))
		}
	}
	h.mu.Unlock()
}

// PublishInsert delivers an inserted message to every open subscription for
// its group. Events for saturated subscribers are dropped.
func (h *Hub) PublishInsert(message *models.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	groupSubs, ok := h.subs[message.GroupID]
	if !ok {
		return
	}
	for sub := range groupSubs {
		select {
		case sub.events <- message:
		default:
			log.Printf("Realtime Hub: Subscription for group %s is full. Dropping insert event %s.", message.GroupID, message.ID)
		}
	}
}

// SubscriberCount reports open subscriptions for a group.
func (h *Hub) SubscriberCount(groupID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[groupID])
}
