package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/ragstore-go/internal/fsutil"
)

// QdrantConfig holds connection parameters for a Qdrant-backed index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use (default: ragstore).
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// qdrantMarker is the local index file written for a Qdrant index. The
// vectors live server-side; the marker ties a mapping file to the collection
// it was written against.
type qdrantMarker struct {
	Collection string    `json:"collection"`
	Dimension  int       `json:"dimension"`
	Points     int       `json:"points"`
	SavedAt    time.Time `json:"saved_at"`
}

// QdrantIndex implements Index on a Qdrant collection. Point IDs are the
// numeric index positions and the collection uses dot-product distance,
// which equals cosine similarity for the unit vectors the Store writes.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig

	// dim is the collection vector size.
	dim int
}

// NewQdrantIndex connects to Qdrant and ensures the target collection exists.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig, dim int) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "ragstore"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg, dim: dim}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// Client exposes the gRPC client for readiness probes.
func (q *QdrantIndex) Client() *qdrant.Client { return q.client }

// ensureCollection creates the Qdrant collection if it does not already exist.
func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim), //nolint:gosec // dimension is small and positive
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", q.cfg.Collection, err)
	}
	return nil
}

// Kind implements Index.
func (q *QdrantIndex) Kind() string { return BackendQdrant }

// Dim implements Index.
func (q *QdrantIndex) Dim() int { return q.dim }

// Count implements Index.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil //nolint:gosec // point counts fit in int
}

// Add implements Index.
func (q *QdrantIndex) Add(ctx context.Context, start int, vecs [][]float32) error {
	points := make([]*qdrant.PointStruct, 0, len(vecs))
	for i, v := range vecs {
		if len(v) != q.dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, index expects %d", ErrDimensionMismatch, i, len(v), q.dim)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(start + i)), //nolint:gosec // positions are non-negative
			Vectors: qdrant.NewVectors(v...),
		})
	}

	wait := true
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search implements Index.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	limit := uint64(k) //nolint:gosec // k is validated by the caller
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Position: int(r.GetId().GetNum()), //nolint:gosec // ids were written from int positions
			Score:    r.GetScore(),
		})
	}
	return hits, nil
}

// Rebuild implements Index by deleting dropped points; kept positions do not
// change.
func (q *QdrantIndex) Rebuild(ctx context.Context, plan RebuildPlan) (RebuildResult, error) {
	if len(plan.Drop) > 0 {
		ids := make([]*qdrant.PointId, 0, len(plan.Drop))
		for _, p := range plan.Drop {
			ids = append(ids, qdrant.NewIDNum(uint64(p))) //nolint:gosec // positions are non-negative
		}
		wait := true
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.cfg.Collection,
			Wait:           &wait,
			Points:         qdrant.NewPointsSelector(ids...),
		})
		if err != nil {
			return RebuildResult{}, fmt.Errorf("qdrant: delete failed: %w", err)
		}
	}
	return RebuildResult{Remap: identityRemap(plan.Keep), Next: plan.Next}, nil
}

// Save implements Index by writing the local marker file.
func (q *QdrantIndex) Save(ctx context.Context, path string) error {
	n, err := q.Count(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(qdrantMarker{
		Collection: q.cfg.Collection,
		Dimension:  q.dim,
		Points:     n,
		SavedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: marshal marker: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// Load implements Index. It checks that the marker matches this collection
// and that the collection still exists server-side.
func (q *QdrantIndex) Load(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("qdrant: read marker: %w", err)
	}
	var m qdrantMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("qdrant: parse marker: %w", err)
	}
	if m.Collection != q.cfg.Collection {
		return fmt.Errorf("qdrant: marker is for collection %q, configured %q", m.Collection, q.cfg.Collection)
	}
	if m.Dimension != q.dim {
		return fmt.Errorf("%w: marker dimension %d, store expects %d", ErrDimensionMismatch, m.Dimension, q.dim)
	}
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("qdrant: collection %q no longer exists", q.cfg.Collection)
	}
	return nil
}

// Reset implements Index by dropping and recreating the collection.
func (q *QdrantIndex) Reset(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		if err := q.client.DeleteCollection(ctx, q.cfg.Collection); err != nil {
			return fmt.Errorf("qdrant: failed to drop collection %q: %w", q.cfg.Collection, err)
		}
	}
	return q.ensureCollection(ctx)
}

// Close closes the underlying Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
