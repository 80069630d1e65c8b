package query

import (
	"context"
	"fmt"

	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// Retriever runs the first two query stages: embed the question, then ask
// the searcher for the nearest chunks.
type Retriever struct {
	embedder    Embedder
	searcher    Searcher
	defaultTopK int
}

// NewRetriever pairs emb with searcher. A non-positive defaultTopK falls
// back to DefaultMaxResults.
func NewRetriever(embedder Embedder, searcher Searcher, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("query: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("query: searcher must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultMaxResults
	}
	return &Retriever{
		embedder:    embedder,
		searcher:    searcher,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve returns up to topK flat results for query, nearest first.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("query: embedding query failed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("query: embedder returned %d vectors for one query", len(vecs))
	}

	results, err := r.searcher.SearchWithMetadata(ctx, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("query: vector search failed: %w", err)
	}
	return results, nil
}
