package messaging

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// EventType distinguishes hub notifications.
type EventType string

const (
	EventMessageAdded   EventType = "message_added"
	EventMessageUpdated EventType = "message_updated"
)

// Event is one realtime notification for a conversation.
type Event struct {
	Type    EventType `json:"type"`
	Message Message   `json:"message"`
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts losing events; it should re-list
// messages on reconnect.
const subscriberBuffer = 16

// Hub fans conversation events out to SSE subscribers. Publishing never
// blocks: a full subscriber channel drops the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan Event]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[uuid.UUID]map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers for a conversation's events. The returned cancel
// function must be called when done; it closes the channel.
func (h *Hub) Subscribe(conversationID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	set, ok := h.subs[conversationID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[conversationID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[conversationID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, conversationID)
				}
			}
			alreadyClosed := h.closed
			h.mu.Unlock()
			if !alreadyClosed {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the conversation.
func (h *Hub) Publish(conversationID uuid.UUID, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs[conversationID] {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				"conversation_id", conversationID, "type", ev.Type)
		}
	}
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for ch := range set {
			close(ch)
		}
	}
	h.subs = nil
}
