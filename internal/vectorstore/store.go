// Package vectorstore owns the similarity index and the vector-id layer on top
// of it.
//
// The index is append-only: each vector occupies a position that never moves
// until an explicit Compact. Callers never see positions. They use the stable
// vector id, which the Store assigns from a monotonic counter and never
// reuses. Two maps (position→id, id→position) join the two worlds, and every
// id owns a flat metadata record.
//
// Deletes are soft: the record is flagged deleted and search skips it.
//
// Persistence is two files in Config.Dir: the index file (format owned by the
// backend) and the mapping file (JSON). Save writes the index first, then the
// mapping, each atomically. The mapping records a checksum of the index it was
// written against, so a crash between the two writes is detected on the next
// load and logged as a desync.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/54b3r/ragstore-go/internal/fsutil"
	"github.com/54b3r/ragstore-go/internal/record"
)

// Store is a vector store with stable ids and flat metadata. It is safe for
// concurrent use: reads share a lock, mutations are exclusive.
type Store struct {
	mu sync.RWMutex

	// cfg is the resolved configuration.
	cfg Config

	// idx is the similarity index backend.
	idx Index

	// m is the id layer and metadata records.
	m *mapping

	// deleted is the number of soft-deleted records in m.
	deleted int

	// lastSaved is when the mapping was last written.
	lastSaved time.Time

	log     *slog.Logger
	metrics *storeMetrics
}

// Open constructs the index backend selected by cfg and opens a Store on it.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	idx, err := NewIndex(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, cfg, idx, log)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	return s, nil
}

// New opens a Store over idx, loading any persisted index and mapping from
// cfg.Dir. Unreadable or mismatched files do not fail construction: the
// condition is logged and the store starts empty.
func New(ctx context.Context, cfg Config, idx Index, log *slog.Logger) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("vectorstore: dimension must be positive, got %d", cfg.Dimension)
	}
	if idx.Dim() != cfg.Dimension {
		return nil, fmt.Errorf("%w: index has dimension %d, config %d", ErrDimensionMismatch, idx.Dim(), cfg.Dimension)
	}
	if cfg.Dir == "" {
		return nil, errors.New("vectorstore: directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, &StorageError{Op: "create directory", Path: cfg.Dir, Err: err}
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		cfg:     cfg,
		idx:     idx,
		log:     log.With(slog.String("component", "vectorstore"), slog.String("backend", idx.Kind())),
		metrics: newStoreMetrics(cfg.Registerer),
	}
	s.load(ctx)
	return s, nil
}

// load restores persisted state, falling back to an empty store on failure.
func (s *Store) load(ctx context.Context) {
	indexPath, mappingPath := s.cfg.IndexPath(), s.cfg.MappingPath()
	hasIndex, hasMapping := fsutil.Exists(indexPath), fsutil.Exists(mappingPath)

	switch {
	case !hasIndex && !hasMapping:
		s.log.Info("no persisted vector store found; starting empty", slog.String("dir", s.cfg.Dir))
		s.fresh(ctx)
		return
	case !hasIndex:
		s.fallback(ctx, "index file missing", fmt.Errorf("%s does not exist", indexPath))
		return
	case !hasMapping:
		s.fallback(ctx, "mapping file missing", fmt.Errorf("%s does not exist", mappingPath))
		return
	}

	m, err := readMapping(mappingPath, s.cfg.Dimension)
	if err != nil {
		s.fallback(ctx, "mapping unreadable", err)
		return
	}
	if m.Backend != "" && m.Backend != s.idx.Kind() {
		s.fallback(ctx, "mapping written by a different backend", fmt.Errorf("mapping backend %q", m.Backend))
		return
	}
	if err := s.idx.Load(ctx, indexPath); err != nil {
		s.fallback(ctx, "index unreadable", err)
		return
	}
	if err := s.install(ctx, m, indexPath); err != nil {
		s.fallback(ctx, "index does not cover the mapping", err)
		return
	}

	s.log.Info("vector store loaded",
		slog.Int("records", len(m.Records)),
		slog.Int("deleted", s.deleted),
		slog.Int64("next_id", m.NextID),
	)
}

// install makes m the live mapping after the index has been loaded from
// indexPath. A checksum mismatch means the pair was not saved together; it is
// logged and the store stays up. A flat index with fewer rows than the
// mapping's next position cannot accept appends and is rejected with
// ErrIndexDesync.
func (s *Store) install(ctx context.Context, m *mapping, indexPath string) error {
	if m.IndexChecksum != "" {
		sum, err := fsutil.Checksum(indexPath)
		if err != nil {
			return err
		}
		if sum != m.IndexChecksum {
			s.log.Warn("index file does not match the one the mapping was saved with; results may contain orphans",
				slog.String("index", indexPath))
		}
	}

	n, err := s.idx.Count(ctx)
	if err != nil {
		return err
	}
	if s.idx.Kind() == BackendFlat && n < m.NextPosition {
		return fmt.Errorf("%w: flat index holds %d rows, mapping expects %d", ErrIndexDesync, n, m.NextPosition)
	}
	if s.idx.Kind() == BackendFlat && n > m.NextPosition {
		s.log.Warn("index holds positions beyond the mapping",
			slog.Int("index_positions", n),
			slog.Int("next_position", m.NextPosition),
		)
		m.NextPosition = n
	}

	s.m = m
	s.deleted = 0
	for _, f := range m.Records {
		if f.Bool(record.KeyDeleted) {
			s.deleted++
		}
	}
	s.lastSaved = m.SavedAt
	return nil
}

// fallback logs why the persisted state was discarded and starts empty. The
// files on disk are left in place until the next save overwrites them.
func (s *Store) fallback(ctx context.Context, reason string, err error) {
	s.log.Error("vector store load failed; starting with an empty store",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	s.metrics.loadFallbacks.Inc()
	s.fresh(ctx)
}

// fresh resets the index if it holds anything and installs an empty mapping.
func (s *Store) fresh(ctx context.Context) {
	if n, err := s.idx.Count(ctx); err != nil || n > 0 {
		if err := s.idx.Reset(ctx); err != nil {
			s.log.Error("failed to reset index", slog.String("error", err.Error()))
		}
	}
	s.m = newMapping(s.idx.Kind(), s.cfg.Dimension)
	s.deleted = 0
	s.lastSaved = time.Time{}
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.cfg.Dimension }

// Index returns the underlying similarity index.
func (s *Store) Index() Index { return s.idx }

// AddVectors normalizes and appends vecs, assigns each a fresh vector id, and
// stores the matching flattened metadata record stamped with added_at and
// vector_id. The batch is validated before anything is mutated. Ids are
// returned in input order; they are returned even if the final save fails,
// in which case the error is a *StorageError and the in-memory state is kept.
func (s *Store) AddVectors(ctx context.Context, vecs [][]float32, metas []map[string]any) ([]int64, error) {
	if len(vecs) != len(metas) {
		return nil, fmt.Errorf("%w: %d vectors, %d metadata records", ErrArityMismatch, len(vecs), len(metas))
	}
	if len(vecs) == 0 {
		return []int64{}, nil
	}
	normed := make([][]float32, len(vecs))
	for i, v := range vecs {
		if len(v) != s.cfg.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, store expects %d", ErrDimensionMismatch, i, len(v), s.cfg.Dimension)
		}
		normed[i] = Normalize(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.m.NextPosition
	if err := s.idx.Add(ctx, start, normed); err != nil {
		return nil, fmt.Errorf("vectorstore: add to index: %w", err)
	}

	now := record.Timestamp(time.Now())
	ids := make([]int64, len(vecs))
	for i := range vecs {
		id := s.m.NextID
		s.m.NextID++
		pos := start + i

		f := record.Flatten(metas[i])
		delete(f, record.KeyDeleted)
		delete(f, record.KeyDeletedAt)
		f[record.KeyAddedAt] = now
		f[record.KeyVectorID] = id

		s.m.IndexToID[pos] = id
		s.m.IDToIndex[id] = pos
		s.m.Records[id] = f
		ids[i] = id
	}
	s.m.NextPosition = start + len(vecs)

	s.log.Debug("vectors added", slog.Int("count", len(ids)), slog.Int64("first_id", ids[0]))

	if err := s.saveLocked(ctx); err != nil {
		return ids, err
	}
	return ids, nil
}

// SearchWithMetadata returns up to k results for query, ordered by descending
// cosine similarity. Deleted records and positions whose metadata is missing
// are skipped. Positions with no vector id are returned as orphan placeholders.
func (s *Store) SearchWithMetadata(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(query) != s.cfg.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d", ErrDimensionMismatch, len(query), s.cfg.Dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.m.NextPosition == 0 {
		return []SearchResult{}, nil
	}

	// Over-fetch by the number of soft-deleted records so they cannot crowd
	// live ones out of the top k. k is clamped first so the sum cannot overflow.
	k = min(k, s.m.NextPosition)
	want := min(k+s.deleted, s.m.NextPosition)
	hits, err := s.idx.Search(ctx, Normalize(query), want)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}

	results := make([]SearchResult, 0, min(k, len(hits)))
	for _, h := range hits {
		if len(results) == k {
			break
		}
		id, ok := s.m.IndexToID[h.Position]
		if !ok {
			s.metrics.orphanHits.Inc()
			s.log.Warn("search hit an index position with no vector id",
				slog.Int("position", h.Position),
				slog.Float64("score", float64(h.Score)),
			)
			results = append(results, orphanResult(h.Position, h.Score))
			continue
		}
		f, ok := s.m.Records[id]
		if !ok {
			s.log.Debug("skipping hit with missing metadata", slog.Int64("vector_id", id))
			continue
		}
		if f.Bool(record.KeyDeleted) {
			continue
		}
		results = append(results, SearchResult{
			VectorID:        id,
			SimilarityScore: h.Score,
			Fields:          record.Flatten(f),
		})
	}
	return results, nil
}

// UpdateMetadata merges updates into the record for id and stamps updated_at.
// The vector_id field cannot be changed. Only the mapping file is rewritten.
func (s *Store) UpdateMetadata(ctx context.Context, id int64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.m.Records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	wasDeleted := f.Bool(record.KeyDeleted)
	f.Merge(updates)
	f[record.KeyVectorID] = id
	f[record.KeyUpdatedAt] = record.Timestamp(time.Now())

	switch isDeleted := f.Bool(record.KeyDeleted); {
	case isDeleted && !wasDeleted:
		s.deleted++
	case !isDeleted && wasDeleted:
		s.deleted--
	}

	return s.saveMappingLocked()
}

// DeleteVectors soft-deletes each id: the record is flagged deleted with a
// deleted_at timestamp and excluded from search. Already-deleted ids are left
// untouched and unknown ids are logged and ignored. Nothing is written when
// no record changed.
func (s *Store) DeleteVectors(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := record.Timestamp(time.Now())
	var unknown []int64
	changed := 0
	for _, id := range ids {
		f, ok := s.m.Records[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if f.Bool(record.KeyDeleted) {
			continue
		}
		f[record.KeyDeleted] = true
		f[record.KeyDeletedAt] = now
		s.deleted++
		changed++
	}

	if len(unknown) > 0 {
		s.log.Warn("delete ignored unknown vector ids", slog.Any("ids", unknown))
	}
	if changed == 0 {
		return nil
	}
	s.log.Info("vectors soft-deleted", slog.Int("count", changed))
	return s.saveMappingLocked()
}

// Stats returns counts and on-disk sizes. It has no side effects.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.idx.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("vectorstore: stats: %w", err)
	}
	indexBytes := fsutil.Size(s.cfg.IndexPath())
	mappingBytes := fsutil.Size(s.cfg.MappingPath())
	total := len(s.m.Records)
	return Stats{
		TotalVectors:   total,
		ActiveVectors:  total - s.deleted,
		DeletedVectors: s.deleted,
		Dimension:      s.cfg.Dimension,
		IndexPositions: n,
		IndexBytes:     indexBytes,
		MappingBytes:   mappingBytes,
		DiskBytes:      indexBytes + mappingBytes,
		Backend:        s.idx.Kind(),
		LastSaved:      s.lastSaved,
	}, nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(_ context.Context, id int64) (record.Fields, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.m.Records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return f.Clone(), nil
}

// IDs returns every vector id in ascending order, deleted ones included.
func (s *Store) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.m.Records))
	for id := range s.m.Records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Save persists the index and then the mapping.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

// saveLocked writes the index, records its checksum in the mapping, then
// writes the mapping. Callers hold s.mu.
func (s *Store) saveLocked(ctx context.Context) error {
	indexPath := s.cfg.IndexPath()
	if err := s.idx.Save(ctx, indexPath); err != nil {
		s.metrics.saveFailures.WithLabelValues("index").Inc()
		return &StorageError{Op: "save index", Path: indexPath, Err: err}
	}
	sum, err := fsutil.Checksum(indexPath)
	if err != nil {
		s.metrics.saveFailures.WithLabelValues("index").Inc()
		return &StorageError{Op: "checksum index", Path: indexPath, Err: err}
	}
	s.m.IndexChecksum = sum
	return s.saveMappingLocked()
}

// saveMappingLocked writes only the mapping file. Callers hold s.mu.
func (s *Store) saveMappingLocked() error {
	mappingPath := s.cfg.MappingPath()
	s.m.SavedAt = time.Now().UTC()
	data, err := s.m.encode()
	if err != nil {
		return &StorageError{Op: "encode mapping", Path: mappingPath, Err: err}
	}
	if err := fsutil.WriteFileAtomic(mappingPath, data, 0o600); err != nil {
		s.metrics.saveFailures.WithLabelValues("mapping").Inc()
		return &StorageError{Op: "save mapping", Path: mappingPath, Err: err}
	}
	s.lastSaved = s.m.SavedAt
	return nil
}

// Close releases the index backend. The store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Close()
}
