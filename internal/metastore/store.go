// Package metastore persists per-file and per-chunk metadata independently of
// the similarity index, so swapping index technology never loses metadata.
//
// Three logical tables are kept: files, chunks, and a vector_id → chunk_id
// lookup written whenever a chunk carries a vector_id. Records are flat
// [record.Fields]; input is flattened on the way in. chunk_count on file
// records is derived at read time and never stored.
package metastore

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/ragstore-go/internal/record"
)

// Backend names accepted by Config.Backend.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Store persists file and chunk metadata. Implementations must be safe for
// concurrent use.
type Store interface {
	// AddFileMetadata stores a file record and returns its new id.
	AddFileMetadata(ctx context.Context, path string, fields map[string]any) (string, error)
	// AddChunkMetadata stores a chunk record and returns its new id. A
	// vector_id field also indexes the chunk by that vector id.
	AddChunkMetadata(ctx context.Context, fields map[string]any) (string, error)
	// GetMetadataByVectorID returns the chunk record linked to vectorID, or
	// (nil, nil) when there is none.
	GetMetadataByVectorID(ctx context.Context, vectorID int64) (record.Fields, error)
	// GetAllFiles returns every file record annotated with chunk_count,
	// oldest first.
	GetAllFiles(ctx context.Context) ([]record.Fields, error)
	// GetAllChunks returns every chunk record, oldest first.
	GetAllChunks(ctx context.Context) ([]record.Fields, error)
	// DeleteByVectorIDs flags the chunks linked to ids as deleted and returns
	// how many records changed.
	DeleteByVectorIDs(ctx context.Context, ids []int64) (int, error)
	// Close releases any resources held by the store.
	Close() error
}

// Config selects and locates a metadata backend.
type Config struct {
	// Backend is json (default), sqlite or bolt.
	Backend string
	// Dir holds the backend's files.
	Dir string
}

// ConfigFromEnv reads METADATA_BACKEND and METADATA_DIR
// (default: ~/.ragstore/metadata).
func ConfigFromEnv() Config {
	cfg := Config{
		Backend: os.Getenv("METADATA_BACKEND"),
		Dir:     os.Getenv("METADATA_DIR"),
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendJSON
	}
	if cfg.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Dir = filepath.Join(home, ".ragstore", "metadata")
		} else {
			cfg.Dir = filepath.Join(".ragstore", "metadata")
		}
	}
	return cfg
}

// Open constructs the backend selected by cfg.
func Open(cfg Config, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "metastore"), slog.String("backend", cfg.Backend))

	switch cfg.Backend {
	case "", BackendJSON:
		return OpenJSON(cfg.Dir, log)
	case BackendSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("metastore: create %s: %w", cfg.Dir, err)
		}
		return OpenSQLite(filepath.Join(cfg.Dir, "metadata.db"))
	case BackendBolt:
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("metastore: create %s: %w", cfg.Dir, err)
		}
		return OpenBolt(filepath.Join(cfg.Dir, "metadata.bolt"))
	default:
		return nil, fmt.Errorf("metastore: unknown backend %q (valid values: json, sqlite, bolt)", cfg.Backend)
	}
}

// newFileRecord builds a flat file record with a fresh id.
func newFileRecord(path string, fields map[string]any, now time.Time) (string, record.Fields) {
	id := uuid.NewString()
	rec := record.Flatten(fields)
	rec[record.KeyFileID] = id
	rec[record.KeyPath] = path
	if rec.String(record.KeyFilename) == "" {
		rec[record.KeyFilename] = filepath.Base(path)
	}
	rec[record.KeyCreatedAt] = record.Timestamp(now)
	return id, rec
}

// newChunkRecord builds a flat chunk record with a fresh id. The returned
// vector id is valid only when ok is true.
func newChunkRecord(fields map[string]any, now time.Time) (id string, rec record.Fields, vectorID int64, ok bool) {
	id = uuid.NewString()
	rec = record.Flatten(fields)
	rec[record.KeyChunkID] = id
	rec[record.KeyCreatedAt] = record.Timestamp(now)
	vectorID, ok = rec.Int(record.KeyVectorID)
	return id, rec, vectorID, ok
}

// markDeleted flags rec deleted; it reports false if it already was.
func markDeleted(rec record.Fields, now time.Time) bool {
	if rec.Bool(record.KeyDeleted) {
		return false
	}
	rec[record.KeyDeleted] = true
	rec[record.KeyDeletedAt] = record.Timestamp(now)
	return true
}

// withChunkCounts annotates each file with the number of chunks whose
// file_id matches it.
func withChunkCounts(files, chunks []record.Fields) []record.Fields {
	counts := make(map[string]int, len(files))
	for _, c := range chunks {
		if fid := c.String(record.KeyFileID); fid != "" {
			counts[fid]++
		}
	}
	for _, f := range files {
		f[record.KeyChunkCount] = counts[f.String(record.KeyFileID)]
	}
	return files
}

// sortByCreated orders records by created_at, breaking ties on idKey.
func sortByCreated(recs []record.Fields, idKey string) {
	slices.SortStableFunc(recs, func(a, b record.Fields) int {
		ta, _ := a.Time(record.KeyCreatedAt)
		tb, _ := b.Time(record.KeyCreatedAt)
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return cmp.Compare(a.String(idKey), b.String(idKey))
	})
}

// vectorKey renders a vector id as a map or bucket key.
func vectorKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
