package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quickdesk/quickdesk/internal/messaging"
)

// TokenSource is the slice of the Graph client the syncer needs.
type TokenSource interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
	ListChats(ctx context.Context, accessToken string) ([]Chat, error)
	ListMessages(ctx context.Context, accessToken, chatID string, since time.Time) ([]ChatMessage, error)
}

// ConnectionUpdater persists token and sync-state changes.
type ConnectionUpdater interface {
	UpdateTokens(ctx context.Context, id uuid.UUID, tok Token) error
	TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageSink is the slice of the messaging store the syncer writes to.
type MessageSink interface {
	GetConversationByExternalRef(ctx context.Context, tenantID, externalRef string) (messaging.Conversation, error)
	CreateConversation(ctx context.Context, tenantID, topic, externalRef string) (messaging.Conversation, error)
	UpsertExternalMessage(ctx context.Context, conversationID uuid.UUID, author, body, externalRef string) (messaging.Message, error)
}

// refreshLeeway refreshes tokens that expire within this window.
const refreshLeeway = time.Minute

// Result summarizes one sync pass.
type Result struct {
	Chats    int `json:"chats"`
	Messages int `json:"messages"`
}

// Syncer mirrors Teams chats into the messaging store. One pass per
// call; a failed pass is reported and left for the next scheduled or
// manual run, nothing is retried within a pass.
type Syncer struct {
	graph  TokenSource
	conns  ConnectionUpdater
	sink   MessageSink
	logger *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(graph TokenSource, conns ConnectionUpdater, sink MessageSink, logger *slog.Logger) (*Syncer, error) {
	if graph == nil || conns == nil || sink == nil {
		return nil, fmt.Errorf("graph client, connection store, and message sink are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{graph: graph, conns: conns, sink: sink, logger: logger}, nil
}

// Sync runs one pass for a connection: refresh the token if needed,
// list chats, mirror new messages, bump the sync marker.
func (s *Syncer) Sync(ctx context.Context, conn Connection) (Result, error) {
	if !conn.SyncEnabled {
		return Result{}, fmt.Errorf("sync is disabled for this connection")
	}

	if time.Until(conn.ExpiresAt) < refreshLeeway {
		tok, err := s.graph.Refresh(ctx, conn.RefreshToken)
		if err != nil {
			return Result{}, fmt.Errorf("refreshing token: %w", err)
		}
		if err := s.conns.UpdateTokens(ctx, conn.ID, tok); err != nil {
			return Result{}, fmt.Errorf("storing refreshed token: %w", err)
		}
		conn.AccessToken = tok.AccessToken
		conn.RefreshToken = tok.RefreshToken
		conn.ExpiresAt = tok.ExpiresAt
	}

	started := time.Now().UTC()

	chats, err := s.graph.ListChats(ctx, conn.AccessToken)
	if err != nil {
		return Result{}, err
	}

	var since time.Time
	if conn.LastSyncedAt != nil {
		since = *conn.LastSyncedAt
	}

	res := Result{Chats: len(chats)}
	for _, chat := range chats {
		n, err := s.syncChat(ctx, conn, chat, since)
		if err != nil {
			// One broken chat should not abort the rest of the pass.
			s.logger.Warn("chat sync failed", "chat_id", chat.ID, "error", err)
			continue
		}
		res.Messages += n
	}

	if err := s.conns.TouchSynced(ctx, conn.ID, started); err != nil {
		return res, fmt.Errorf("recording sync time: %w", err)
	}

	s.logger.Info("teams sync complete",
		"tenant", conn.TenantID, "chats", res.Chats, "messages", res.Messages)
	return res, nil
}

func (s *Syncer) syncChat(ctx context.Context, conn Connection, chat Chat, since time.Time) (int, error) {
	conv, err := s.sink.GetConversationByExternalRef(ctx, conn.TenantID, chat.ID)
	if errors.Is(err, messaging.ErrNotFound) {
		conv, err = s.sink.CreateConversation(ctx, conn.TenantID, chat.Topic, chat.ID)
	}
	if err != nil {
		return 0, fmt.Errorf("resolving conversation: %w", err)
	}

	msgs, err := s.graph.ListMessages(ctx, conn.AccessToken, chat.ID, since)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range msgs {
		if m.Body == "" {
			continue
		}
		author := m.From
		if author == "" {
			author = "Teams user"
		}
		if _, err := s.sink.UpsertExternalMessage(ctx, conv.ID, author, m.Body, m.ID); err != nil {
			return count, fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
		count++
	}
	return count, nil
}
