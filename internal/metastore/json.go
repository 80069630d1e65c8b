package metastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/54b3r/ragstore-go/internal/fsutil"
	"github.com/54b3r/ragstore-go/internal/record"
)

// JSON table file names inside the store directory.
const (
	filesFile        = "files.json"
	chunksFile       = "chunks.json"
	vectorChunksFile = "vector_chunks.json"
)

// JSONStore keeps all three tables in memory and rewrites the affected
// table files in full, atomically, on every mutation. The files are indented
// JSON so they stay human-readable.
type JSONStore struct {
	mu  sync.RWMutex
	dir string
	log *slog.Logger

	files        map[string]record.Fields
	chunks       map[string]record.Fields
	vectorChunks map[string]string
}

// OpenJSON loads (or creates) a JSONStore in dir. Missing table files are
// treated as empty; unreadable ones are an error.
func OpenJSON(dir string, log *slog.Logger) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("metastore: create %s: %w", dir, err)
	}
	if log == nil {
		log = slog.Default()
	}
	s := &JSONStore{
		dir:          dir,
		log:          log,
		files:        make(map[string]record.Fields),
		chunks:       make(map[string]record.Fields),
		vectorChunks: make(map[string]string),
	}
	for name, dst := range map[string]any{
		filesFile:        &s.files,
		chunksFile:       &s.chunks,
		vectorChunksFile: &s.vectorChunks,
	} {
		if err := s.readTable(name, dst); err != nil {
			return nil, err
		}
	}
	log.Debug("metadata loaded",
		slog.Int("files", len(s.files)),
		slog.Int("chunks", len(s.chunks)),
		slog.Int("vector_links", len(s.vectorChunks)),
	)
	return s, nil
}

// readTable decodes one table file into dst, leaving dst untouched if the
// file does not exist.
func (s *JSONStore) readTable(name string, dst any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metastore: read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("metastore: decode %s: %w", path, err)
	}
	return nil
}

// writeTable rewrites one table file. Callers hold s.mu.
func (s *JSONStore) writeTable(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("metastore: encode %s: %w", name, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(s.dir, name), data, 0o600); err != nil {
		return fmt.Errorf("metastore: write %s: %w", name, err)
	}
	return nil
}

// AddFileMetadata implements Store.
func (s *JSONStore) AddFileMetadata(_ context.Context, path string, fields map[string]any) (string, error) {
	id, rec := newFileRecord(path, fields, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[id] = rec
	if err := s.writeTable(filesFile, s.files); err != nil {
		return "", err
	}
	return id, nil
}

// AddChunkMetadata implements Store.
func (s *JSONStore) AddChunkMetadata(_ context.Context, fields map[string]any) (string, error) {
	id, rec, vectorID, linked := newChunkRecord(fields, time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks[id] = rec
	if err := s.writeTable(chunksFile, s.chunks); err != nil {
		return "", err
	}
	if linked {
		s.vectorChunks[vectorKey(vectorID)] = id
		if err := s.writeTable(vectorChunksFile, s.vectorChunks); err != nil {
			return "", err
		}
	}
	return id, nil
}

// GetMetadataByVectorID implements Store.
func (s *JSONStore) GetMetadataByVectorID(_ context.Context, vectorID int64) (record.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunkID, ok := s.vectorChunks[vectorKey(vectorID)]
	if !ok {
		return nil, nil
	}
	rec, ok := s.chunks[chunkID]
	if !ok {
		s.log.Warn("vector link points at a missing chunk",
			slog.Int64("vector_id", vectorID),
			slog.String("chunk_id", chunkID),
		)
		return nil, nil
	}
	return rec.Clone(), nil
}

// GetAllFiles implements Store.
func (s *JSONStore) GetAllFiles(_ context.Context) ([]record.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files := make([]record.Fields, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, f.Clone())
	}
	chunks := make([]record.Fields, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c)
	}
	withChunkCounts(files, chunks)
	sortByCreated(files, record.KeyFileID)
	return files, nil
}

// GetAllChunks implements Store.
func (s *JSONStore) GetAllChunks(_ context.Context) ([]record.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]record.Fields, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c.Clone())
	}
	sortByCreated(chunks, record.KeyChunkID)
	return chunks, nil
}

// DeleteByVectorIDs implements Store.
func (s *JSONStore) DeleteByVectorIDs(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	changed := 0
	for _, id := range ids {
		rec, ok := s.chunks[s.vectorChunks[vectorKey(id)]]
		if ok && markDeleted(rec, now) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.writeTable(chunksFile, s.chunks); err != nil {
		return changed, err
	}
	return changed, nil
}

// Close implements Store. All writes are already on disk.
func (s *JSONStore) Close() error { return nil }
