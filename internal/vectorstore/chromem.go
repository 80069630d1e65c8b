package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// defaultChromemCollection is used when ChromemConfig.Collection is empty.
const defaultChromemCollection = "ragstore"

// errNoEmbeddingFunc is returned if chromem ever asks us to embed text. All
// documents are added with precomputed embeddings.
var errNoEmbeddingFunc = errors.New("chromem index: embeddings must be precomputed")

// ChromemIndex stores one chromem document per index position, using the
// decimal position as the document ID. Persistence goes through chromem's
// gob export so the file format is owned by the library.
type ChromemIndex struct {
	// db is the in-memory chromem database; Save/Load export and import it.
	db *chromem.DB
	// col is the collection holding the vectors.
	col *chromem.Collection
	// name is the collection name.
	name string
	// dim is the configured vector dimension.
	dim int
}

// NewChromemIndex creates an empty in-memory chromem collection.
func NewChromemIndex(collection string, dim int) (*ChromemIndex, error) {
	if collection == "" {
		collection = defaultChromemCollection
	}
	idx := &ChromemIndex{db: chromem.NewDB(), name: collection, dim: dim}
	if err := idx.open(); err != nil {
		return nil, err
	}
	return idx, nil
}

// open binds idx.col to the named collection, creating it if needed.
func (c *ChromemIndex) open() error {
	col, err := c.db.GetOrCreateCollection(c.name, nil, precomputedOnly)
	if err != nil {
		return fmt.Errorf("chromem index: open collection %q: %w", c.name, err)
	}
	c.col = col
	return nil
}

// precomputedOnly is the chromem embedding func; it is never expected to run.
func precomputedOnly(_ context.Context, _ string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Kind implements Index.
func (c *ChromemIndex) Kind() string { return BackendChromem }

// Dim implements Index.
func (c *ChromemIndex) Dim() int { return c.dim }

// Count implements Index.
func (c *ChromemIndex) Count(_ context.Context) (int, error) { return c.col.Count(), nil }

// Add implements Index.
func (c *ChromemIndex) Add(ctx context.Context, start int, vecs [][]float32) error {
	docs := make([]chromem.Document, len(vecs))
	for i, v := range vecs {
		if len(v) != c.dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, index expects %d", ErrDimensionMismatch, i, len(v), c.dim)
		}
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(start + i),
			Embedding: v,
		}
	}
	if err := c.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem index: add: %w", err)
	}
	return nil
}

// Search implements Index. chromem requires nResults <= document count.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	n := c.col.Count()
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	results, err := c.col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem index: query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("chromem index: non-numeric document id %q: %w", r.ID, err)
		}
		hits = append(hits, Hit{Position: pos, Score: r.Similarity})
	}
	return hits, nil
}

// Rebuild implements Index by deleting dropped documents; positions of kept
// documents do not change.
func (c *ChromemIndex) Rebuild(ctx context.Context, plan RebuildPlan) (RebuildResult, error) {
	if len(plan.Drop) > 0 {
		ids := make([]string, len(plan.Drop))
		for i, p := range plan.Drop {
			ids[i] = strconv.Itoa(p)
		}
		if err := c.col.Delete(ctx, nil, nil, ids...); err != nil {
			return RebuildResult{}, fmt.Errorf("chromem index: delete: %w", err)
		}
	}
	return RebuildResult{Remap: identityRemap(plan.Keep), Next: plan.Next}, nil
}

// Save implements Index. The export is written to a temp file and renamed.
func (c *ChromemIndex) Save(_ context.Context, path string) error {
	tmp := path + ".tmp"
	if err := c.db.ExportToFile(tmp, false, "", c.name); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chromem index: export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chromem index: rename: %w", err)
	}
	return nil
}

// Load implements Index.
func (c *ChromemIndex) Load(_ context.Context, path string) error {
	db := chromem.NewDB()
	if err := db.ImportFromFile(path, "", c.name); err != nil {
		return fmt.Errorf("chromem index: import: %w", err)
	}
	col := db.GetCollection(c.name, precomputedOnly)
	if col == nil {
		return fmt.Errorf("chromem index: collection %q missing from %s", c.name, path)
	}
	c.db = db
	c.col = col
	return nil
}

// Reset implements Index.
func (c *ChromemIndex) Reset(_ context.Context) error {
	if err := c.db.DeleteCollection(c.name); err != nil {
		return fmt.Errorf("chromem index: reset: %w", err)
	}
	return c.open()
}

// Close implements Index.
func (c *ChromemIndex) Close() error { return nil }
