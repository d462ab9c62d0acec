package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdesk/quickdesk/internal/log"
	"github.com/quickdesk/quickdesk/internal/messaging"
)

type fakeGraph struct {
	refreshFn  func(ctx context.Context, rt string) (Token, error)
	chats      []Chat
	chatsErr   error
	messages   map[string][]ChatMessage
	refreshed  int
	listedWith string
}

func (f *fakeGraph) Refresh(ctx context.Context, rt string) (Token, error) {
	f.refreshed++
	if f.refreshFn != nil {
		return f.refreshFn(ctx, rt)
	}
	return Token{AccessToken: "fresh-at", RefreshToken: "fresh-rt", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeGraph) ListChats(_ context.Context, at string) ([]Chat, error) {
	f.listedWith = at
	return f.chats, f.chatsErr
}

func (f *fakeGraph) ListMessages(_ context.Context, _ string, chatID string, since time.Time) ([]ChatMessage, error) {
	var out []ChatMessage
	for _, m := range f.messages[chatID] {
		if since.IsZero() || m.CreatedAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeConns struct {
	tokens   []Token
	touched  []time.Time
	touchErr error
}

func (f *fakeConns) UpdateTokens(_ context.Context, _ uuid.UUID, tok Token) error {
	f.tokens = append(f.tokens, tok)
	return nil
}

func (f *fakeConns) TouchSynced(_ context.Context, _ uuid.UUID, at time.Time) error {
	f.touched = append(f.touched, at)
	return f.touchErr
}

type upsertCall struct {
	conversationID uuid.UUID
	author, body   string
	externalRef    string
}

type fakeSink struct {
	conversations map[string]messaging.Conversation
	created       []string
	upserts       []upsertCall
}

func newFakeSink() *fakeSink {
	return &fakeSink{conversations: make(map[string]messaging.Conversation)}
}

func (f *fakeSink) GetConversationByExternalRef(_ context.Context, _ string, ref string) (messaging.Conversation, error) {
	if c, ok := f.conversations[ref]; ok {
		return c, nil
	}
	return messaging.Conversation{}, messaging.ErrNotFound
}

func (f *fakeSink) CreateConversation(_ context.Context, tenantID, topic, ref string) (messaging.Conversation, error) {
	c := messaging.Conversation{ID: uuid.New(), TenantID: tenantID, Topic: topic, ExternalRef: ref}
	f.conversations[ref] = c
	f.created = append(f.created, ref)
	return c, nil
}

func (f *fakeSink) UpsertExternalMessage(_ context.Context, convID uuid.UUID, author, body, ref string) (messaging.Message, error) {
	f.upserts = append(f.upserts, upsertCall{convID, author, body, ref})
	return messaging.Message{ID: uuid.New(), ConversationID: convID, Body: body, ExternalRef: ref}, nil
}

func validConnection() Connection {
	return Connection{
		ID:          uuid.New(),
		TenantID:    "tenant-1",
		UserID:      "user-1",
		AccessToken: "at",
		ExpiresAt:   time.Now().Add(time.Hour),
		SyncEnabled: true,
	}
}

func TestSyncMirrorsChats(t *testing.T) {
	g := &fakeGraph{
		chats: []Chat{{ID: "chat-1", Topic: "Release"}, {ID: "chat-2", Topic: "Support"}},
		messages: map[string][]ChatMessage{
			"chat-1": {
				{ID: "m1", From: "Dana", Body: "hello", CreatedAt: time.Now()},
				{ID: "m2", From: "", Body: "world", CreatedAt: time.Now()},
			},
			"chat-2": {
				{ID: "m3", From: "Lee", Body: "", CreatedAt: time.Now()},
			},
		},
	}
	conns := &fakeConns{}
	sink := newFakeSink()
	s, err := NewSyncer(g, conns, sink, log.NewNop())
	require.NoError(t, err)

	res, err := s.Sync(t.Context(), validConnection())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Chats)
	assert.Equal(t, 2, res.Messages) // empty body skipped
	assert.ElementsMatch(t, []string{"chat-1", "chat-2"}, sink.created)

	require.Len(t, sink.upserts, 2)
	assert.Equal(t, "Dana", sink.upserts[0].author)
	assert.Equal(t, "m1", sink.upserts[0].externalRef)
	assert.Equal(t, "Teams user", sink.upserts[1].author)

	require.Len(t, conns.touched, 1)
	assert.Zero(t, g.refreshed)
}

func TestSyncReusesExistingConversation(t *testing.T) {
	g := &fakeGraph{
		chats: []Chat{{ID: "chat-1", Topic: "Release"}},
		messages: map[string][]ChatMessage{
			"chat-1": {{ID: "m1", From: "Dana", Body: "again", CreatedAt: time.Now()}},
		},
	}
	sink := newFakeSink()
	existing := messaging.Conversation{ID: uuid.New(), ExternalRef: "chat-1"}
	sink.conversations["chat-1"] = existing

	s, err := NewSyncer(g, &fakeConns{}, sink, log.NewNop())
	require.NoError(t, err)

	_, err = s.Sync(t.Context(), validConnection())
	require.NoError(t, err)

	assert.Empty(t, sink.created)
	require.Len(t, sink.upserts, 1)
	assert.Equal(t, existing.ID, sink.upserts[0].conversationID)
}

func TestSyncRefreshesExpiredToken(t *testing.T) {
	g := &fakeGraph{chats: []Chat{}}
	conns := &fakeConns{}
	s, err := NewSyncer(g, conns, newFakeSink(), log.NewNop())
	require.NoError(t, err)

	conn := validConnection()
	conn.ExpiresAt = time.Now().Add(-time.Minute)
	conn.RefreshToken = "old-rt"

	_, err = s.Sync(t.Context(), conn)
	require.NoError(t, err)

	assert.Equal(t, 1, g.refreshed)
	require.Len(t, conns.tokens, 1)
	assert.Equal(t, "fresh-at", conns.tokens[0].AccessToken)
	assert.Equal(t, "fresh-at", g.listedWith)
}

func TestSyncRefreshFailureAborts(t *testing.T) {
	g := &fakeGraph{
		refreshFn: func(context.Context, string) (Token, error) {
			return Token{}, ErrTokenRejected
		},
	}
	conns := &fakeConns{}
	sink := newFakeSink()
	s, err := NewSyncer(g, conns, sink, log.NewNop())
	require.NoError(t, err)

	conn := validConnection()
	conn.ExpiresAt = time.Now().Add(-time.Minute)

	_, err = s.Sync(t.Context(), conn)
	assert.ErrorIs(t, err, ErrTokenRejected)
	assert.Equal(t, 1, g.refreshed) // one attempt, no retry
	assert.Empty(t, sink.upserts)
	assert.Empty(t, conns.touched)
}

func TestSyncHonorsLastSyncedAt(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now().Add(-time.Minute)
	g := &fakeGraph{
		chats: []Chat{{ID: "chat-1", Topic: "Release"}},
		messages: map[string][]ChatMessage{
			"chat-1": {
				{ID: "m-old", Body: "seen before", CreatedAt: old},
				{ID: "m-new", Body: "new one", CreatedAt: fresh},
			},
		},
	}
	sink := newFakeSink()
	s, err := NewSyncer(g, &fakeConns{}, sink, log.NewNop())
	require.NoError(t, err)

	conn := validConnection()
	last := time.Now().Add(-time.Hour)
	conn.LastSyncedAt = &last

	res, err := s.Sync(t.Context(), conn)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Messages)
	require.Len(t, sink.upserts, 1)
	assert.Equal(t, "m-new", sink.upserts[0].externalRef)
}

func TestSyncDisabledConnection(t *testing.T) {
	s, err := NewSyncer(&fakeGraph{}, &fakeConns{}, newFakeSink(), log.NewNop())
	require.NoError(t, err)

	conn := validConnection()
	conn.SyncEnabled = false

	_, err = s.Sync(t.Context(), conn)
	assert.Error(t, err)
}

func TestSyncChatListFailure(t *testing.T) {
	g := &fakeGraph{chatsErr: errors.New("graph down")}
	conns := &fakeConns{}
	s, err := NewSyncer(g, conns, newFakeSink(), log.NewNop())
	require.NoError(t, err)

	_, err = s.Sync(t.Context(), validConnection())
	assert.Error(t, err)
	assert.Empty(t, conns.touched)
}
