package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quickdesk/quickdesk/internal/messaging"
	"github.com/quickdesk/quickdesk/internal/web/sse"
)

// MessagingStore is the slice of the messaging store the handler needs.
type MessagingStore interface {
	CreateConversation(ctx context.Context, tenantID, topic, externalRef string) (messaging.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (messaging.Conversation, error)
	ListConversations(ctx context.Context, tenantID string, limit int) ([]messaging.Conversation, error)
	AddMessage(ctx context.Context, conversationID uuid.UUID, author, body string) (messaging.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, afterSequence int32, limit int) ([]messaging.Message, error)
}

// Subscriber is the live-update slice of the messaging hub.
type Subscriber interface {
	Subscribe(conversationID uuid.UUID) (<-chan messaging.Event, func())
}

// Conversations serves team conversations and their live message feed.
type Conversations struct {
	store  MessagingStore
	hub    Subscriber
	logger *slog.Logger
}

// NewConversations creates the conversations handler.
func NewConversations(store MessagingStore, hub Subscriber, logger *slog.Logger) (*Conversations, error) {
	if store == nil || hub == nil {
		return nil, errors.New("messaging store and hub are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversations{store: store, hub: hub, logger: logger}, nil
}

// RegisterRoutes registers the conversation routes.
func (h *Conversations) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.create)
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}", h.get)
	mux.HandleFunc("POST /api/conversations/{id}/messages", h.addMessage)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.listMessages)
	mux.HandleFunc("GET /api/conversations/{id}/events", h.events)
}

// resolve loads the conversation named in the path and enforces tenant
// ownership.
func (h *Conversations) resolve(w http.ResponseWriter, r *http.Request) (messaging.Conversation, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid conversation id")
		return messaging.Conversation{}, false
	}
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, messaging.ErrNotFound) {
			respondError(w, http.StatusNotFound, "conversation not found")
			return messaging.Conversation{}, false
		}
		h.logger.Error("conversation lookup failed", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "could not load conversation")
		return messaging.Conversation{}, false
	}
	if conv.TenantID != tenantID(r) {
		respondError(w, http.StatusNotFound, "conversation not found")
		return messaging.Conversation{}, false
	}
	return conv, true
}

func (h *Conversations) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Topic == "" {
		respondError(w, http.StatusBadRequest, "topic is required")
		return
	}

	conv, err := h.store.CreateConversation(r.Context(), tenantID(r), req.Topic, "")
	if err != nil {
		h.logger.Error("conversation creation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not create conversation")
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (h *Conversations) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	list, err := h.store.ListConversations(r.Context(), tenantID(r), limit)
	if err != nil {
		h.logger.Error("conversation list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not list conversations")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Conversations) get(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.resolve(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (h *Conversations) addMessage(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Body == "" {
		respondError(w, http.StatusBadRequest, "message body is required")
		return
	}

	author := userID(r)
	if author == "" {
		author = "anonymous"
	}
	msg, err := h.store.AddMessage(r.Context(), conv.ID, author, req.Body)
	if err != nil {
		h.logger.Error("message append failed", "conversation", conv.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not add message")
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Conversations) listMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.resolve(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var after int32
	if v := q.Get("after_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		after = int32(n)
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := h.store.ListMessages(r.Context(), conv.ID, after, limit)
	if err != nil {
		h.logger.Error("message list failed", "conversation", conv.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "could not list messages")
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

// events streams live message events for one conversation. Subscribing
// happens before the catch-up query so nothing lands in the gap.
func (h *Conversations) events(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.resolve(w, r)
	if !ok {
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.hub.Subscribe(conv.ID)
	defer cancel()

	var after int32
	if v := r.URL.Query().Get("after_sequence"); v != "" {
		if n, perr := strconv.ParseInt(v, 10, 32); perr == nil && n >= 0 {
			after = int32(n)
		}
	}
	backlog, err := h.store.ListMessages(r.Context(), conv.ID, after, 0)
	if err != nil {
		h.logger.Error("message backlog failed", "conversation", conv.ID, "error", err)
		return
	}
	for _, msg := range backlog {
		if err := writer.WriteJSON(r.Context(), string(messaging.EventMessageAdded), msg); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := writer.WriteComment("heartbeat"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writer.WriteJSON(r.Context(), string(ev.Type), ev.Message); err != nil {
				return
			}
		}
	}
}
