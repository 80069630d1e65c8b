package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// defaultHashDimensions is the vector size of the hash embedder when
// EMBEDDING_DIMENSIONS is unset.
const defaultHashDimensions = 256

// HashEmbedder is an offline Embedder that feature-hashes lower-cased word
// unigrams and bigrams into a fixed number of signed buckets. Equal texts get
// equal vectors and texts sharing words get a positive cosine similarity,
// which is enough for smoke runs and tests without a model server.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of length dim.
// A non-positive dim selects the default of 256.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimensions
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the length of every vector Embed produces.
func (e *HashEmbedder) Dimension() int { return e.dim }

// Embed implements Embedder. It never fails except on a cancelled context.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		e.add(v, w, 1)
		if i > 0 {
			e.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	if len(words) == 0 {
		// Keep empty input off the zero vector so it still normalizes.
		e.add(v, "", 1)
	}
	return v
}

// add folds one feature into v. The low bit of the hash picks the sign so
// unrelated features cancel out on average.
func (e *HashEmbedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int((sum >> 1) % uint64(e.dim))
	if sum&1 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
