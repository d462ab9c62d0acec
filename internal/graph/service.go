package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ConnectionSource is the persistence slice the Service needs.
type ConnectionSource interface {
	Save(ctx context.Context, conn Connection) (Connection, error)
	Get(ctx context.Context, tenantID, userID string) (Connection, error)
	Delete(ctx context.Context, tenantID, userID string) error
}

// SyncRunner runs one mirror pass for a connection.
type SyncRunner interface {
	Sync(ctx context.Context, conn Connection) (Result, error)
}

// CodeExchanger turns an OAuth authorization code into tokens.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (Token, error)
}

// Service ties the OAuth client, the connection store, and the syncer
// into the Teams integration surface the API exposes.
type Service struct {
	client CodeExchanger
	conns  ConnectionSource
	syncer SyncRunner
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(client CodeExchanger, conns ConnectionSource, syncer SyncRunner, logger *slog.Logger) (*Service, error) {
	if client == nil || conns == nil || syncer == nil {
		return nil, errors.New("graph client, connection store, and syncer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, conns: conns, syncer: syncer, logger: logger}, nil
}

// Connect exchanges the authorization code and persists the resulting
// connection for (tenant, user). Reconnecting replaces stored tokens.
func (s *Service) Connect(ctx context.Context, tenantID, userID, code string) (Connection, error) {
	tok, err := s.client.ExchangeCode(ctx, code)
	if err != nil {
		return Connection{}, fmt.Errorf("exchanging authorization code: %w", err)
	}

	conn, err := s.conns.Save(ctx, Connection{
		TenantID:     tenantID,
		UserID:       userID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		SyncEnabled:  true,
	})
	if err != nil {
		return Connection{}, err
	}

	s.logger.Info("teams connection established", "tenant", tenantID, "user", userID)
	return conn, nil
}

// Sync runs one mirror pass for the stored connection.
func (s *Service) Sync(ctx context.Context, tenantID, userID string) (Result, error) {
	conn, err := s.conns.Get(ctx, tenantID, userID)
	if err != nil {
		return Result{}, err
	}
	return s.syncer.Sync(ctx, conn)
}

// Connection returns the stored connection, tokens stripped by the
// Connection JSON tags.
func (s *Service) Connection(ctx context.Context, tenantID, userID string) (Connection, error) {
	return s.conns.Get(ctx, tenantID, userID)
}

// Disconnect removes the stored connection and its tokens.
func (s *Service) Disconnect(ctx context.Context, tenantID, userID string) error {
	if err := s.conns.Delete(ctx, tenantID, userID); err != nil {
		return err
	}
	s.logger.Info("teams connection removed", "tenant", tenantID, "user", userID)
	return nil
}
