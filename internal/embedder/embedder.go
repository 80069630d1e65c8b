// Package embedder turns text into dense vectors for the vector store. The
// HTTP backends (Ollama, OpenAI, Azure OpenAI) talk plain JSON; Gemini goes
// through the genai SDK; the hash backend runs fully offline.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// Embedder converts text into dense vector embeddings. Implementations must be
// safe for concurrent use.
type Embedder interface {
	// Embed returns one embedding per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrEmptyEmbedding is returned when a backend answers with a zero-length vector.
var ErrEmptyEmbedding = errors.New("embedder: backend returned an empty embedding")

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// checkBatch verifies a backend response: one vector per text, none empty and
// all of the same length. name prefixes the error.
func checkBatch(name string, texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("%s: expected %d embeddings, got %d", name, len(texts), len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%s: text %d: %w", name, i, ErrEmptyEmbedding)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("%s: text %d has dimension %d, want %d", name, i, len(v), len(vecs[0]))
		}
	}
	return nil
}
