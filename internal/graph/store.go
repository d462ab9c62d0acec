package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConnectionNotFound indicates no Teams connection exists for the
// user.
var ErrConnectionNotFound = errors.New("graph: connection not found")

// Connection is one user's Teams link: the token pair plus sync state.
type Connection struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     string     `json:"tenant_id"`
	UserID       string     `json:"user_id"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	SyncEnabled  bool       `json:"sync_enabled"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const connectionCols = `id, tenant_id, user_id, access_token, refresh_token,
	expires_at, sync_enabled, last_synced_at, created_at`

// ConnectionStore persists Teams connections.
type ConnectionStore struct {
	db     querier
	logger *slog.Logger
}

// NewConnectionStore creates a ConnectionStore.
func NewConnectionStore(db querier, logger *slog.Logger) (*ConnectionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionStore{db: db, logger: logger}, nil
}

// Save inserts or replaces the connection for (tenant, user).
func (s *ConnectionStore) Save(ctx context.Context, conn Connection) (Connection, error) {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO teams_connections
		   (id, tenant_id, user_id, access_token, refresh_token, expires_at, sync_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, user_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   sync_enabled = EXCLUDED.sync_enabled
		 RETURNING id, created_at`,
		conn.ID, conn.TenantID, conn.UserID, conn.AccessToken, conn.RefreshToken,
		conn.ExpiresAt, conn.SyncEnabled)
	if err := row.Scan(&conn.ID, &conn.CreatedAt); err != nil {
		return Connection{}, fmt.Errorf("saving teams connection: %w", err)
	}

	s.logger.Debug("saved teams connection", "tenant", conn.TenantID, "user", conn.UserID)
	return conn, nil
}

// Get retrieves the connection for (tenant, user).
func (s *ConnectionStore) Get(ctx context.Context, tenantID, userID string) (Connection, error) {
	var c Connection
	row := s.db.QueryRow(ctx,
		`SELECT `+connectionCols+` FROM teams_connections
		 WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.AccessToken, &c.RefreshToken,
		&c.ExpiresAt, &c.SyncEnabled, &c.LastSyncedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return Connection{}, fmt.Errorf("getting teams connection: %w", err)
	}
	return c, nil
}

// UpdateTokens stores a refreshed token pair.
func (s *ConnectionStore) UpdateTokens(ctx context.Context, id uuid.UUID, tok Token) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE teams_connections
		 SET access_token = $1, refresh_token = $2, expires_at = $3
		 WHERE id = $4`,
		tok.AccessToken, tok.RefreshToken, tok.ExpiresAt, id)
	if err != nil {
		return fmt.Errorf("updating teams tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// TouchSynced bumps the last-synced timestamp.
func (s *ConnectionStore) TouchSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE teams_connections SET last_synced_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touching teams connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// Delete removes the connection for (tenant, user).
func (s *ConnectionStore) Delete(ctx context.Context, tenantID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM teams_connections WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID)
	if err != nil {
		return fmt.Errorf("deleting teams connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
