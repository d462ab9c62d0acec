// Package history persists finished generations to a local SQLite file
// so users can revisit past scenarios, test cases, XPath extractions,
// and code conversions. Writes are serialized across processes with a
// lock file next to the database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	query       TEXT NOT NULL,
	result      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_workspace
	ON generations (workspace_id, created_at DESC);
`

// Entry is one recorded generation.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	WorkspaceID string    `json:"workspace_id"`
	Query       string    `json:"query"`
	Result      string    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter narrows a List call. Zero values mean no restriction.
type Filter struct {
	WorkspaceID string
	Kind        string
	Limit       int
}

// Store is the generation history backed by one SQLite file.
type Store struct {
	db     *sql.DB
	lock   *flock.Flock
	logger *slog.Logger
}

// Open creates or opens the history database under dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	path := filepath.Join(dir, "history.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// SQLite serializes writers internally; one connection avoids
	// SQLITE_BUSY churn from the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	return &Store{
		db:     db,
		lock:   flock.New(filepath.Join(dir, "history.lock")),
		logger: logger,
	}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one finished generation.
func (s *Store) Record(ctx context.Context, kind, workspaceID, query, result string) (Entry, error) {
	entry := Entry{
		ID:          uuid.New(),
		Kind:        kind,
		WorkspaceID: workspaceID,
		Query:       query,
		Result:      result,
		CreatedAt:   time.Now().UTC(),
	}

	unlock, err := s.acquire(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generations (id, kind, workspace_id, query, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.Kind, entry.WorkspaceID, entry.Query, entry.Result, entry.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("recording generation: %w", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT id, kind, workspace_id, query, result, created_at
	          FROM generations WHERE 1=1`
	var args []any
	if f.WorkspaceID != "" {
		query += " AND workspace_id = ?"
		args = append(args, f.WorkspaceID)
	}
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing generations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var id string
		if err := rows.Scan(&id, &e.Kind, &e.WorkspaceID, &e.Query, &e.Result, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}
		e.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing generation id: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Purge deletes entries older than the cutoff and returns how many were
// removed.
func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generations WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("purging generations: %w", err)
	}
	return res.RowsAffected()
}

// acquire takes the cross-process write lock.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := s.lock.TryLockContext(lctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("locking history db: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("history db is locked by another process")
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("unlocking history db failed", "error", err)
		}
	}, nil
}
