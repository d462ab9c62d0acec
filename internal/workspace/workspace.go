// Package workspace manages workspaces and their uploaded files, and
// derives the generation context sent with every gateway request.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quickdesk/quickdesk/internal/gateway"
)

// ErrNotFound indicates the workspace does not exist.
var ErrNotFound = errors.New("workspace not found")

// File kinds.
const (
	FileUserStory = "user_story"
	FileAPK       = "apk"
	FileIPA       = "ipa"
	FileOther     = "other"
)

// Workspace groups the files one team generates against.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// File is one uploaded workspace file. User stories carry their text in
// Content; binary uploads carry name and size only.
type File struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	SizeBytes   int64     `json:"size_bytes"`
	Content     string    `json:"content,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const workspaceCols = `id, tenant_id, name, owner, created_at`

const fileCols = `id, workspace_id, kind, name, size_bytes, content, created_at`

// Store manages workspace persistence.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     querier
	logger *slog.Logger
}

// NewStore creates a workspace Store.
func NewStore(db querier, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// Create adds a workspace.
func (s *Store) Create(ctx context.Context, tenantID, name, owner string) (Workspace, error) {
	if name == "" {
		return Workspace{}, fmt.Errorf("workspace name is required")
	}

	w := Workspace{ID: uuid.New(), TenantID: tenantID, Name: name, Owner: owner}
	row := s.db.QueryRow(ctx,
		`INSERT INTO workspaces (id, tenant_id, name, owner)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		w.ID, w.TenantID, w.Name, w.Owner)
	if err := row.Scan(&w.CreatedAt); err != nil {
		return Workspace{}, fmt.Errorf("creating workspace: %w", err)
	}

	s.logger.Debug("created workspace", "id", w.ID, "name", w.Name)
	return w, nil
}

// Get retrieves one workspace.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Workspace, error) {
	var w Workspace
	row := s.db.QueryRow(ctx,
		`SELECT `+workspaceCols+` FROM workspaces WHERE id = $1`, id)
	err := row.Scan(&w.ID, &w.TenantID, &w.Name, &w.Owner, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Workspace{}, ErrNotFound
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("getting workspace %s: %w", id, err)
	}
	return w, nil
}

// List returns a tenant's workspaces, newest first.
func (s *Store) List(ctx context.Context, tenantID string) ([]Workspace, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workspaceCols+` FROM workspaces
		 WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var w Workspace
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name, &w.Owner, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Delete removes a workspace; its files go with it via the cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted workspace", "id", id)
	return nil
}

// AddFile records an uploaded file or user story.
func (s *Store) AddFile(ctx context.Context, f File) (File, error) {
	switch f.Kind {
	case FileUserStory, FileAPK, FileIPA, FileOther:
	default:
		return File{}, fmt.Errorf("unknown file kind %q", f.Kind)
	}
	if f.Name == "" {
		return File{}, fmt.Errorf("file name is required")
	}

	f.ID = uuid.New()
	row := s.db.QueryRow(ctx,
		`INSERT INTO workspace_files (id, workspace_id, kind, name, size_bytes, content)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		f.ID, f.WorkspaceID, f.Kind, f.Name, f.SizeBytes, f.Content)
	if err := row.Scan(&f.CreatedAt); err != nil {
		return File{}, fmt.Errorf("adding workspace file: %w", err)
	}

	s.logger.Debug("added workspace file",
		"workspace_id", f.WorkspaceID, "kind", f.Kind, "name", f.Name)
	return f, nil
}

// ListFiles returns a workspace's files in upload order.
func (s *Store) ListFiles(ctx context.Context, workspaceID uuid.UUID) ([]File, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+fileCols+` FROM workspace_files
		 WHERE workspace_id = $1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing workspace files: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.WorkspaceID, &f.Kind, &f.Name, &f.SizeBytes, &f.Content, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning workspace file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFile removes one file.
func (s *Store) DeleteFile(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workspace_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace file %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BuildContext assembles the gateway context for a workspace.
func (s *Store) BuildContext(ctx context.Context, workspaceID uuid.UUID) (gateway.Context, error) {
	files, err := s.ListFiles(ctx, workspaceID)
	if err != nil {
		return gateway.Context{}, err
	}
	return buildContext(files), nil
}

// buildContext derives the generation context from the file list: user
// stories concatenate into one block, binary uploads become flags plus a
// name list.
func buildContext(files []File) gateway.Context {
	var gc gateway.Context
	var stories []string
	for _, f := range files {
		switch f.Kind {
		case FileUserStory:
			if f.Content != "" {
				stories = append(stories, f.Content)
			}
		case FileAPK:
			gc.HasAPK = true
			gc.AppFiles = append(gc.AppFiles, f.Name)
		case FileIPA:
			gc.HasIPA = true
			gc.AppFiles = append(gc.AppFiles, f.Name)
		default:
			gc.AppFiles = append(gc.AppFiles, f.Name)
		}
	}
	gc.UserStories = strings.Join(stories, "\n\n")
	return gc
}
