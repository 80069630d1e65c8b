package vectorstore

import (
	"context"
	"fmt"
)

// Index backend names accepted by Config.Backend.
const (
	BackendFlat    = "flat"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Hit is a raw similarity-index result: the position of the matched vector
// inside the index and its inner-product score.
type Hit struct {
	Position int
	Score    float32
}

// RebuildPlan describes a compaction: Keep lists surviving positions in
// ascending order, Drop the positions to discard, Next the store's current
// next free position.
type RebuildPlan struct {
	Keep []int
	Drop []int
	Next int
}

// RebuildResult maps every kept position to its position after the rebuild
// and reports the new next free position.
type RebuildResult struct {
	Remap map[int]int
	Next  int
}

// Index is an append-only similarity index over unit vectors. Positions are
// assigned by the caller; the index never renumbers except through Rebuild.
// Implementations are not required to be goroutine-safe: the Store serialises
// mutations and shares reads under its own lock.
type Index interface {
	// Kind returns the backend name (flat, chromem, qdrant).
	Kind() string
	// Dim returns the vector dimension.
	Dim() int
	// Count returns the number of vectors physically held by the index.
	Count(ctx context.Context) (int, error)
	// Add appends vecs at positions start, start+1, ...
	Add(ctx context.Context, start int, vecs [][]float32) error
	// Search returns up to k hits ordered by descending inner product.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Rebuild physically removes dropped positions.
	Rebuild(ctx context.Context, plan RebuildPlan) (RebuildResult, error)
	// Save persists the index to path.
	Save(ctx context.Context, path string) error
	// Load replaces the in-memory index with the one persisted at path.
	Load(ctx context.Context, path string) error
	// Reset empties the index.
	Reset(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// NewIndex constructs the index backend selected by cfg.Backend.
func NewIndex(ctx context.Context, cfg *Config) (Index, error) {
	switch cfg.Backend {
	case "", BackendFlat:
		return NewFlatIndex(cfg.Dimension), nil
	case BackendChromem:
		return NewChromemIndex(cfg.Chromem.Collection, cfg.Dimension)
	case BackendQdrant:
		return NewQdrantIndex(ctx, &cfg.Qdrant, cfg.Dimension)
	default:
		return nil, fmt.Errorf("vectorstore: unknown backend %q (valid values: flat, chromem, qdrant)", cfg.Backend)
	}
}

// identityRemap maps each kept position to itself.
func identityRemap(keep []int) map[int]int {
	remap := make(map[int]int, len(keep))
	for _, p := range keep {
		remap[p] = p
	}
	return remap
}
