package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/ragstore-go/internal/record"
)

// SQLiteStore is a Store backed by a local SQLite database. Each record's
// flat fields are stored as a JSON column; the columns alongside it exist for
// lookups and ordering.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: open %s: %w", path, err)
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
CREATE TABLE IF NOT EXISTS files (
    id          TEXT    PRIMARY KEY,
    path        TEXT    NOT NULL,
    created_at  INTEGER NOT NULL,  -- Unix nanoseconds
    fields      TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
    id          TEXT    PRIMARY KEY,
    file_id     TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    fields      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks (file_id);
CREATE TABLE IF NOT EXISTS vector_chunks (
    vector_id   INTEGER PRIMARY KEY,
    chunk_id    TEXT    NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("metastore: migrate: %w", err)
	}
	return nil
}

// AddFileMetadata implements Store.
func (s *SQLiteStore) AddFileMetadata(ctx context.Context, path string, fields map[string]any) (string, error) {
	now := time.Now()
	id, rec := newFileRecord(path, fields, now)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("metastore: encode file: %w", err)
	}

	const q = `INSERT INTO files (id, path, created_at, fields) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, id, path, now.UnixNano(), string(data)); err != nil {
		return "", fmt.Errorf("metastore: add file: %w", err)
	}
	return id, nil
}

// AddChunkMetadata implements Store. The chunk row and its vector link are
// written in one transaction.
func (s *SQLiteStore) AddChunkMetadata(ctx context.Context, fields map[string]any) (string, error) {
	now := time.Now()
	id, rec, vectorID, linked := newChunkRecord(fields, now)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("metastore: encode chunk: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("metastore: add chunk: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertChunk = `INSERT INTO chunks (id, file_id, created_at, fields) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertChunk, id, rec.String(record.KeyFileID), now.UnixNano(), string(data)); err != nil {
		return "", fmt.Errorf("metastore: add chunk: %w", err)
	}
	if linked {
		const link = `INSERT OR REPLACE INTO vector_chunks (vector_id, chunk_id) VALUES (?, ?)`
		if _, err := tx.ExecContext(ctx, link, vectorID, id); err != nil {
			return "", fmt.Errorf("metastore: link vector %d: %w", vectorID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("metastore: add chunk commit: %w", err)
	}
	return id, nil
}

// GetMetadataByVectorID implements Store.
func (s *SQLiteStore) GetMetadataByVectorID(ctx context.Context, vectorID int64) (record.Fields, error) {
	const q = `
SELECT c.fields FROM vector_chunks v
JOIN   chunks c ON c.id = v.chunk_id
WHERE  v.vector_id = ?`

	var data string
	err := s.db.QueryRowContext(ctx, q, vectorID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get by vector id: %w", err)
	}
	return decodeFields(data)
}

// GetAllFiles implements Store.
func (s *SQLiteStore) GetAllFiles(ctx context.Context) ([]record.Fields, error) {
	const q = `
SELECT f.fields, (SELECT COUNT(*) FROM chunks c WHERE c.file_id = f.id)
FROM   files f
ORDER  BY f.created_at ASC, f.id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("metastore: list files: %w", err)
	}
	defer rows.Close()

	var files []record.Fields
	for rows.Next() {
		var data string
		var count int
		if err := rows.Scan(&data, &count); err != nil {
			return nil, fmt.Errorf("metastore: list files scan: %w", err)
		}
		rec, err := decodeFields(data)
		if err != nil {
			return nil, err
		}
		rec[record.KeyChunkCount] = count
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: list files rows: %w", err)
	}
	return files, nil
}

// GetAllChunks implements Store.
func (s *SQLiteStore) GetAllChunks(ctx context.Context) ([]record.Fields, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fields FROM chunks ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("metastore: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []record.Fields
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("metastore: list chunks scan: %w", err)
		}
		rec, err := decodeFields(data)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metastore: list chunks rows: %w", err)
	}
	return chunks, nil
}

// DeleteByVectorIDs implements Store.
func (s *SQLiteStore) DeleteByVectorIDs(ctx context.Context, ids []int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("metastore: delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const sel = `
SELECT c.id, c.fields FROM vector_chunks v
JOIN   chunks c ON c.id = v.chunk_id
WHERE  v.vector_id = ?`
	const upd = `UPDATE chunks SET fields = ? WHERE id = ?`

	now := time.Now()
	changed := 0
	for _, vid := range ids {
		var chunkID, data string
		err := tx.QueryRowContext(ctx, sel, vid).Scan(&chunkID, &data)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("metastore: delete lookup %d: %w", vid, err)
		}
		rec, err := decodeFields(data)
		if err != nil {
			return 0, err
		}
		if !markDeleted(rec, now) {
			continue
		}
		out, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("metastore: encode chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upd, string(out), chunkID); err != nil {
			return 0, fmt.Errorf("metastore: delete update %s: %w", chunkID, err)
		}
		changed++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("metastore: delete commit: %w", err)
	}
	return changed, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("metastore: close: %w", err)
	}
	return nil
}

// decodeFields parses a JSON fields column, keeping numbers as json.Number.
func decodeFields(data string) (record.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var rec record.Fields
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("metastore: decode fields: %w", err)
	}
	if rec == nil {
		rec = record.Fields{}
	}
	return rec, nil
}
