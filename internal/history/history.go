// Package history provides a SQLite-backed log of answered queries. The
// server appends one entry per POST /api/query so operators can review what
// was asked, how many sources were found and whether generation succeeded.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Entry is one answered query.
type Entry struct {
	// ID is assigned by the store on Append.
	ID int64 `json:"id"`
	// Query is the question as submitted.
	Query string `json:"query"`
	// Outcome is ok, no_results, degraded or error.
	Outcome string `json:"outcome"`
	// TotalResults is the number of sources returned.
	TotalResults int `json:"total_results"`
	// Confidence is the mean similarity of the returned sources.
	Confidence float64 `json:"confidence"`
	// Error is the stage or generator error, if any.
	Error string `json:"error,omitempty"`
	// DurationMS is the engine processing time.
	DurationMS int64 `json:"duration_ms"`
	// CreatedAt is when the entry was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// Log persists and retrieves query history. Implementations must be safe for
// concurrent use.
type Log interface {
	// Append persists e and returns its id. CreatedAt is set when zero.
	Append(ctx context.Context, e Entry) (int64, error)
	// Recent returns the most recent n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a Log backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the query history database.
// It resolves to ~/.ragstore/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragstore")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS queries (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    query          TEXT    NOT NULL,
    outcome        TEXT    NOT NULL,
    total_results  INTEGER NOT NULL,
    confidence     REAL    NOT NULL,
    error          TEXT    NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL,
    created_at     INTEGER NOT NULL  -- Unix nanoseconds
);
CREATE INDEX IF NOT EXISTS idx_queries_created ON queries (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Append persists a single entry.
func (s *SQLiteStore) Append(ctx context.Context, e Entry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	const q = `INSERT INTO queries (query, outcome, total_results, confidence, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		e.Query, e.Outcome, e.TotalResults, e.Confidence, e.Error, e.DurationMS, e.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("history: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("history: append: %w", err)
	}
	return id, nil
}

// Recent returns the most recent n entries, newest first. n <= 0 returns
// nothing.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	const q = `
SELECT id, query, outcome, total_results, confidence, error, duration_ms, created_at
FROM   queries
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Query, &e.Outcome, &e.TotalResults, &e.Confidence, &e.Error, &e.DurationMS, &ts); err != nil {
			return nil, fmt.Errorf("history: recent scan: %w", err)
		}
		e.CreatedAt = time.Unix(0, ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent rows: %w", err)
	}
	return entries, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: close: %w", err)
	}
	return nil
}
