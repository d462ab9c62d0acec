package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quickdesk/quickdesk/internal/log"
	"github.com/quickdesk/quickdesk/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memMessaging is an in-memory MessagingStore that publishes to a real
// hub, matching the production store's behavior.
type memMessaging struct {
	hub           *messaging.Hub
	conversations map[uuid.UUID]messaging.Conversation
	messages      map[uuid.UUID][]messaging.Message
}

func newMemMessaging(hub *messaging.Hub) *memMessaging {
	return &memMessaging{
		hub:           hub,
		conversations: make(map[uuid.UUID]messaging.Conversation),
		messages:      make(map[uuid.UUID][]messaging.Message),
	}
}

func (m *memMessaging) CreateConversation(_ context.Context, tenantID, topic, externalRef string) (messaging.Conversation, error) {
	c := messaging.Conversation{
		ID: uuid.New(), TenantID: tenantID, Topic: topic, ExternalRef: externalRef,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	m.conversations[c.ID] = c
	return c, nil
}

func (m *memMessaging) GetConversation(_ context.Context, id uuid.UUID) (messaging.Conversation, error) {
	c, ok := m.conversations[id]
	if !ok {
		return messaging.Conversation{}, messaging.ErrNotFound
	}
	return c, nil
}

func (m *memMessaging) ListConversations(_ context.Context, tenantID string, _ int) ([]messaging.Conversation, error) {
	var out []messaging.Conversation
	for _, c := range m.conversations {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memMessaging) AddMessage(_ context.Context, conversationID uuid.UUID, author, body string) (messaging.Message, error) {
	if _, ok := m.conversations[conversationID]; !ok {
		return messaging.Message{}, messaging.ErrNotFound
	}
	msg := messaging.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Author:         author,
		Body:           body,
		Sequence:       int32(len(m.messages[conversationID]) + 1),
		CreatedAt:      time.Now(),
	}
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	m.hub.Publish(conversationID, messaging.Event{Type: messaging.EventMessageAdded, Message: msg})
	return msg, nil
}

func (m *memMessaging) ListMessages(_ context.Context, conversationID uuid.UUID, afterSequence int32, _ int) ([]messaging.Message, error) {
	var out []messaging.Message
	for _, msg := range m.messages[conversationID] {
		if msg.Sequence > afterSequence {
			out = append(out, msg)
		}
	}
	return out, nil
}

func conversationsMux(t *testing.T) (*http.ServeMux, *memMessaging) {
	t.Helper()
	hub := messaging.NewHub(log.NewNop())
	t.Cleanup(hub.Close)
	store := newMemMessaging(hub)
	h, err := NewConversations(store, hub, log.NewNop())
	require.NoError(t, err)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, store
}

func TestConversationLifecycle(t *testing.T) {
	mux, _ := conversationsMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations",
		strings.NewReader(`{"topic":"release planning"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv messaging.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "release planning", conv.Topic)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+conv.ID.String()+"/messages",
		strings.NewReader(`{"body":"kickoff at 10"}`))
	req.Header.Set("X-User-ID", "alex")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg messaging.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "alex", msg.Author)
	assert.Equal(t, int32(1), msg.Sequence)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/conversations/"+conv.ID.String()+"/messages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []messaging.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "kickoff at 10", msgs[0].Body)
}

func TestConversationTopicRequired(t *testing.T) {
	mux, _ := conversationsMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversations", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationTenantIsolation(t *testing.T) {
	mux, store := conversationsMux(t)

	conv, err := store.CreateConversation(t.Context(), "team-a", "private", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/"+conv.ID.String(), nil)
	req.Header.Set("X-Tenant-ID", "team-b")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMessagesAfterSequence(t *testing.T) {
	mux, store := conversationsMux(t)

	conv, err := store.CreateConversation(t.Context(), defaultTenant, "standup", "")
	require.NoError(t, err)
	for _, body := range []string{"one", "two", "three"} {
		_, err := store.AddMessage(t.Context(), conv.ID, "alex", body)
		require.NoError(t, err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/conversations/"+conv.ID.String()+"/messages?after_sequence=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []messaging.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Body)
}
