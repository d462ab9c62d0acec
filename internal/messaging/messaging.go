// Package messaging is the multi-tenant conversation store with
// realtime fan-out. Message ordering within a conversation is a
// database-assigned sequence; inserts lock the conversation row so
// concurrent writers cannot produce duplicate sequence numbers.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one message thread, optionally mirrored from an
// external system (ExternalRef holds the Teams chat id).
type Conversation struct {
	ID          uuid.UUID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Topic       string    `json:"topic"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is one entry in a conversation. Sequence is assigned by the
// store and is gapless per conversation.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Author         string    `json:"author"`
	Body           string    `json:"body"`
	Sequence       int32     `json:"sequence"`
	ExternalRef    string    `json:"external_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

const conversationCols = `id, tenant_id, topic, external_ref, created_at, updated_at`

const messageCols = `id, conversation_id, author, body, sequence_number, external_ref, created_at`

// Store manages conversation persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	hub    *Hub
	logger *slog.Logger
}

// NewStore creates a messaging Store. hub may be nil when realtime
// fan-out is not needed.
func NewStore(pool *pgxpool.Pool, hub *Hub, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, hub: hub, logger: logger}, nil
}

// CreateConversation starts a new thread.
func (s *Store) CreateConversation(ctx context.Context, tenantID, topic, externalRef string) (Conversation, error) {
	if topic == "" {
		return Conversation{}, fmt.Errorf("topic is required")
	}

	c := Conversation{ID: uuid.New(), TenantID: tenantID, Topic: topic, ExternalRef: externalRef}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, tenant_id, topic, external_ref)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		c.ID, c.TenantID, c.Topic, c.ExternalRef)
	if err := row.Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", c.ID, "tenant", c.TenantID)
	return c, nil
}

// GetConversation retrieves one thread.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	var c Conversation
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	err := row.Scan(&c.ID, &c.TenantID, &c.Topic, &c.ExternalRef, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return c, nil
}

// GetConversationByExternalRef finds the thread mirroring an external
// chat, if any.
func (s *Store) GetConversationByExternalRef(ctx context.Context, tenantID, externalRef string) (Conversation, error) {
	var c Conversation
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE tenant_id = $1 AND external_ref = $2`, tenantID, externalRef)
	err := row.Scan(&c.ID, &c.TenantID, &c.Topic, &c.ExternalRef, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("getting conversation by ref: %w", err)
	}
	return c, nil
}

// ListConversations returns a tenant's threads, most recently active
// first.
func (s *Store) ListConversations(ctx context.Context, tenantID string, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationCols+` FROM conversations
		 WHERE tenant_id = $1 ORDER BY updated_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Topic, &c.ExternalRef, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AddMessage appends a message, assigning the next sequence number
// under a conversation row lock.
func (s *Store) AddMessage(ctx context.Context, conversationID uuid.UUID, author, body string) (Message, error) {
	msg, inserted, err := s.upsert(ctx, conversationID, author, body, "")
	if err != nil {
		return Message{}, err
	}
	if s.hub != nil && inserted {
		s.hub.Publish(conversationID, Event{Type: EventMessageAdded, Message: msg})
	}
	return msg, nil
}

// UpsertExternalMessage inserts or updates a message mirrored from an
// external system, keyed by (conversation, external ref). Updates keep
// the original sequence number.
func (s *Store) UpsertExternalMessage(ctx context.Context, conversationID uuid.UUID, author, body, externalRef string) (Message, error) {
	if externalRef == "" {
		return Message{}, fmt.Errorf("external ref is required")
	}
	msg, inserted, err := s.upsert(ctx, conversationID, author, body, externalRef)
	if err != nil {
		return Message{}, err
	}
	if s.hub != nil {
		typ := EventMessageUpdated
		if inserted {
			typ = EventMessageAdded
		}
		s.hub.Publish(conversationID, Event{Type: typ, Message: msg})
	}
	return msg, nil
}

func (s *Store) upsert(ctx context.Context, conversationID uuid.UUID, author, body, externalRef string) (Message, bool, error) {
	if body == "" {
		return Message{}, false, fmt.Errorf("message body is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the conversation row so concurrent inserts serialize on the
	// sequence number.
	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, false, ErrNotFound
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("locking conversation: %w", err)
	}

	if externalRef != "" {
		var existing Message
		err = tx.QueryRow(ctx,
			`UPDATE messages SET body = $1
			 WHERE conversation_id = $2 AND external_ref = $3
			 RETURNING `+messageCols,
			body, conversationID, externalRef).
			Scan(&existing.ID, &existing.ConversationID, &existing.Author, &existing.Body,
				&existing.Sequence, &existing.ExternalRef, &existing.CreatedAt)
		if err == nil {
			if err := tx.Commit(ctx); err != nil {
				return Message{}, false, fmt.Errorf("committing transaction: %w", err)
			}
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Message{}, false, fmt.Errorf("updating external message: %w", err)
		}
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM messages WHERE conversation_id = $1`,
		conversationID).Scan(&maxSeq)
	if err != nil {
		return Message{}, false, fmt.Errorf("reading max sequence: %w", err)
	}

	msg := Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Author:         author,
		Body:           body,
		Sequence:       maxSeq + 1,
		ExternalRef:    externalRef,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, author, body, sequence_number, external_ref)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.Author, msg.Body, msg.Sequence, msg.ExternalRef).
		Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, false, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return Message{}, false, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, false, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("added message",
		"conversation_id", conversationID, "sequence", msg.Sequence, "external", externalRef != "")
	return msg, true, nil
}

// ListMessages returns messages after the given sequence number, in
// sequence order.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, afterSequence int32, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = $1 AND sequence_number > $2
		 ORDER BY sequence_number ASC LIMIT $3`,
		conversationID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Author, &m.Body, &m.Sequence, &m.ExternalRef, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
