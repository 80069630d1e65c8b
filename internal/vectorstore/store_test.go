package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/record"
)

const testDim = 4

// openFlatStore opens a flat-index Store in dir with a hermetic registry.
func openFlatStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, _ := openFlatStoreWithRegistry(t, dir)
	return s
}

// openFlatStoreWithRegistry is openFlatStore that also returns the registry
// holding the store metrics.
func openFlatStoreWithRegistry(t *testing.T, dir string) (*Store, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(context.Background(), Config{
		Dir:        dir,
		Dimension:  testDim,
		Registerer: reg,
	}, NewFlatIndex(testDim), logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, reg
}

// counterValue returns the value of the unlabelled counter name in reg, or -1
// if it was not gathered.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return -1
}

// axis returns the unit vector along dimension i.
func axis(i int) []float32 {
	v := make([]float32, testDim)
	v[i] = 1
	return v
}

// addThree adds three orthogonal vectors with distinct doc ids.
func addThree(t *testing.T, s *Store) []int64 {
	t.Helper()
	ids, err := s.AddVectors(context.Background(),
		[][]float32{axis(0), axis(1), axis(2)},
		[]map[string]any{
			{"doc_id": "a", "text": "alpha"},
			{"doc_id": "b", "text": "bravo"},
			{"doc_id": "c", "text": "charlie"},
		})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	return ids
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func Test_Store_AddAndSearchRoundTrip(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()

	ids := addThree(t, s)
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("want ids [0 1 2], got %v", ids)
	}

	// Unnormalised query along axis 1.
	res, err := s.SearchWithMetadata(ctx, []float32{0, 5, 0, 0}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("want 2 results, got %d", len(res))
	}
	if res[0].VectorID != ids[1] {
		t.Errorf("top hit: want id %d, got %d", ids[1], res[0].VectorID)
	}
	if !approx(res[0].SimilarityScore, 1) {
		t.Errorf("top score: want 1.0, got %f", res[0].SimilarityScore)
	}
	if res[0].DocID() != "b" || res[0].Text() != "bravo" {
		t.Errorf("top hit fields: got doc_id=%q text=%q", res[0].DocID(), res[0].Text())
	}
	if res[0].SimilarityScore < res[1].SimilarityScore {
		t.Errorf("results must be in descending score order: %v", res)
	}
	if _, ok := res[0].Fields.Time(record.KeyAddedAt); !ok {
		t.Errorf("added_at missing or malformed: %v", res[0].Fields[record.KeyAddedAt])
	}
}

func Test_Store_SearchEmptyStore(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())

	for _, k := range []int{1, 5, 100} {
		res, err := s.SearchWithMetadata(context.Background(), axis(0), k)
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", k, err)
		}
		if res == nil || len(res) != 0 {
			t.Errorf("k=%d: want empty non-nil slice, got %#v", k, res)
		}
	}
}

func Test_Store_SearchValidation(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()

	if _, err := s.SearchWithMetadata(ctx, axis(0), 0); !errors.Is(err, ErrInvalidK) {
		t.Errorf("k=0: want ErrInvalidK, got %v", err)
	}
	if _, err := s.SearchWithMetadata(ctx, []float32{1, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short query: want ErrDimensionMismatch, got %v", err)
	}
}

func Test_Store_SearchHugeK(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()
	ids := addThree(t, s)
	if err := s.DeleteVectors(ctx, []int64{ids[0]}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := s.SearchWithMetadata(ctx, axis(1), math.MaxInt)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("want 2 live results, got %d", len(res))
	}
	if res[0].VectorID != ids[1] {
		t.Errorf("want %d first, got %d", ids[1], res[0].VectorID)
	}
}

func Test_Store_DimensionGuardRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := openFlatStore(t, dir)
	ctx := context.Background()

	_, err := s.AddVectors(ctx,
		[][]float32{axis(0), {1, 2, 3}},
		[]map[string]any{{"doc_id": "ok"}, {"doc_id": "short"}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalVectors != 0 || st.IndexPositions != 0 {
		t.Errorf("store must be unchanged, got %+v", st)
	}
	if _, err := os.Stat(s.cfg.MappingPath()); !os.IsNotExist(err) {
		t.Errorf("mapping must not be written, stat err = %v", err)
	}
}

func Test_Store_ArityMismatch(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())

	_, err := s.AddVectors(context.Background(),
		[][]float32{axis(0), axis(1)},
		[]map[string]any{{"doc_id": "only-one"}})
	if !errors.Is(err, ErrArityMismatch) {
		t.Fatalf("want ErrArityMismatch, got %v", err)
	}
}

func Test_Store_EmptyBatchTouchesNoDisk(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())

	ids, err := s.AddVectors(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Errorf("want empty non-nil slice, got %#v", ids)
	}
	if _, err := os.Stat(s.cfg.IndexPath()); !os.IsNotExist(err) {
		t.Errorf("index must not be written, stat err = %v", err)
	}
}

func Test_Store_NestedMetadataIsFlattened(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()

	_, err := s.AddVectors(ctx, [][]float32{axis(0)}, []map[string]any{{
		"doc_id": "doc1",
		"metadata": map[string]any{
			"filename": "a.txt",
			"metadata": map[string]any{"text": "deep"},
		},
	}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	res, err := s.SearchWithMetadata(ctx, axis(0), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("want 1 result, got %d", len(res))
	}
	if !res[0].Fields.IsFlat() {
		t.Errorf("result fields not flat: %v", res[0].Fields)
	}
	if res[0].Text() != "deep" || res[0].Filename() != "a.txt" {
		t.Errorf("hoisted fields: got text=%q filename=%q", res[0].Text(), res[0].Filename())
	}

	raw, err := json.Marshal(res[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, nested := obj["metadata"].(map[string]any); nested {
		t.Errorf("JSON must not contain a nested metadata object: %s", raw)
	}
	for _, key := range []string{"vector_id", "similarity_score", "doc_id", "text"} {
		if _, ok := obj[key]; !ok {
			t.Errorf("JSON missing top-level %q: %s", key, raw)
		}
	}
}

func Test_Store_SoftDeleteExcludesFromSearch(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()
	ids := addThree(t, s)

	if err := s.DeleteVectors(ctx, []int64{ids[0]}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := s.SearchWithMetadata(ctx, axis(0), 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("want 2 live results, got %d", len(res))
	}
	for _, r := range res {
		if r.VectorID == ids[0] {
			t.Errorf("deleted id %d returned", ids[0])
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalVectors != 3 || st.ActiveVectors != 2 || st.DeletedVectors != 1 {
		t.Errorf("stats: want total=3 active=2 deleted=1, got %+v", st)
	}

	f, err := s.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !f.Bool(record.KeyDeleted) {
		t.Errorf("deleted flag not set: %v", f)
	}
	if _, ok := f.Time(record.KeyDeletedAt); !ok {
		t.Errorf("deleted_at missing: %v", f)
	}
}

func Test_Store_SoftDeletedDoNotStarveTopK(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()

	// Three near-duplicates of axis 0 and one far vector.
	ids, err := s.AddVectors(ctx,
		[][]float32{{1, 0.01, 0, 0}, {1, 0.02, 0, 0}, {1, 0.03, 0, 0}, axis(3)},
		[]map[string]any{{"doc_id": "a"}, {"doc_id": "b"}, {"doc_id": "c"}, {"doc_id": "far"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.DeleteVectors(ctx, ids[:3]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	res, err := s.SearchWithMetadata(ctx, axis(0), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].VectorID != ids[3] {
		t.Fatalf("want the only live vector %d, got %+v", ids[3], res)
	}
}

func Test_Store_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()
	ids := addThree(t, s)

	if err := s.DeleteVectors(ctx, []int64{ids[1]}); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	first, err := os.ReadFile(s.cfg.MappingPath())
	if err != nil {
		t.Fatalf("read mapping: %v", err)
	}
	statsFirst, _ := s.Stats(ctx)

	if err := s.DeleteVectors(ctx, []int64{ids[1], 999}); err != nil {
		t.Fatalf("second delete must not fail: %v", err)
	}
	second, err := os.ReadFile(s.cfg.MappingPath())
	if err != nil {
		t.Fatalf("read mapping: %v", err)
	}
	statsSecond, _ := s.Stats(ctx)

	if !bytes.Equal(first, second) {
		t.Error("second delete rewrote the mapping")
	}
	if statsFirst.ActiveVectors != statsSecond.ActiveVectors || statsFirst.DeletedVectors != statsSecond.DeletedVectors {
		t.Errorf("stats changed: %+v -> %+v", statsFirst, statsSecond)
	}
}

func Test_Store_UpdateMetadata(t *testing.T) {
	t.Parallel()
	s := openFlatStore(t, t.TempDir())
	ctx := context.Background()
	ids := addThree(t, s)

	err := s.UpdateMetadata(ctx, ids[0], map[string]any{
		"text":      "alpha v2",
		"vector_id": 42,
		"metadata":  map[string]any{"reviewer": "ops"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	f, err := s.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if f.String(record.KeyText) != "alpha v2" {
		t.Errorf("text: want %q, got %q", "alpha v2", f.String(record.KeyText))
	}
	if f.String("reviewer") != "ops" {
		t.Errorf("nested update not hoisted: %v", f)
	}
	if got, _ := f.Int(record.KeyVectorID); got != ids[0] {
		t.Errorf("vector_id must not change: got %d", got)
	}
	if f.String(record.KeyDocID) != "a" {
		t.Errorf("untouched field lost: %v", f)
	}
	if _, ok := f.Time(record.KeyUpdatedAt); !ok {
		t.Errorf("updated_at missing: %v", f)
	}
	if !f.IsFlat() {
		t.Errorf("record not flat: %v", f)
	}

	if err := s.UpdateMetadata(ctx, 999, map[string]any{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: want ErrNotFound, got %v", err)
	}
}

func Test_Store_PersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s := openFlatStore(t, dir)
	ids := addThree(t, s)
	if err := s.DeleteVectors(ctx, []int64{ids[2]}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, _ := s.Stats(ctx)
	_ = s.Close()

	reopened := openFlatStore(t, dir)
	after, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if after.ActiveVectors != before.ActiveVectors || after.TotalVectors != before.TotalVectors {
		t.Errorf("stats differ after reload: before %+v, after %+v", before, after)
	}

	res, err := reopened.SearchWithMetadata(ctx, axis(1), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].VectorID != ids[1] || res[0].DocID() != "b" {
		t.Fatalf("want id %d doc b after reload, got %+v", ids[1], res)
	}
	if got, ok := res[0].Fields.Int(record.KeyVectorID); !ok || got != ids[1] {
		t.Errorf("vector_id field after reload: got %v", res[0].Fields[record.KeyVectorID])
	}

	next, err := reopened.AddVectors(ctx, [][]float32{axis(3)}, []map[string]any{{"doc_id": "d"}})
	if err != nil {
		t.Fatalf("add after reload: %v", err)
	}
	if next[0] != 3 {
		t.Errorf("next id after reload: want 3, got %d", next[0])
	}
}

func Test_Store_CorruptMappingFallsBackToEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s := openFlatStore(t, dir)
	addThree(t, s)
	_ = s.Close()

	if err := os.WriteFile(s.cfg.MappingPath(), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("corrupt mapping: %v", err)
	}

	reopened, reg := openFlatStoreWithRegistry(t, dir)
	st, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalVectors != 0 || st.IndexPositions != 0 {
		t.Errorf("want empty store after fallback, got %+v", st)
	}
	if got := counterValue(t, reg, "ragstore_vectorstore_load_fallbacks_total"); got != 1 {
		t.Errorf("load fallbacks: want 1, got %v", got)
	}

	ids, err := reopened.AddVectors(ctx, [][]float32{axis(0)}, []map[string]any{{"doc_id": "new"}})
	if err != nil {
		t.Fatalf("add after fallback: %v", err)
	}
	if ids[0] != 0 {
		t.Errorf("fresh store should start ids at 0, got %d", ids[0])
	}
}

func Test_Store_MismatchedPairStillLoads(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s := openFlatStore(t, dir)
	if _, err := s.AddVectors(ctx, [][]float32{axis(0)}, []map[string]any{{"doc_id": "a"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	oldMapping, err := os.ReadFile(s.cfg.MappingPath())
	if err != nil {
		t.Fatalf("read mapping: %v", err)
	}
	if _, err := s.AddVectors(ctx, [][]float32{axis(1)}, []map[string]any{{"doc_id": "b"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = s.Close()

	// Simulate a crash between the index write and the mapping write.
	if err := os.WriteFile(s.cfg.MappingPath(), oldMapping, 0o600); err != nil {
		t.Fatalf("rewind mapping: %v", err)
	}

	reopened := openFlatStore(t, dir)
	st, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalVectors != 1 || st.IndexPositions != 2 {
		t.Errorf("want mapping with 1 record over 2 index rows, got %+v", st)
	}
	res, err := reopened.SearchWithMetadata(ctx, axis(1), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || !res[0].Orphan {
		t.Errorf("want the unmapped row as an orphan placeholder, got %+v", res)
	}

	// Appends continue after the extra row.
	if _, err := reopened.AddVectors(ctx, [][]float32{axis(2)}, []map[string]any{{"doc_id": "c"}}); err != nil {
		t.Fatalf("add after reload: %v", err)
	}
	res, err = reopened.SearchWithMetadata(ctx, axis(2), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].DocID() != "c" {
		t.Errorf("want the new vector, got %+v", res)
	}
}

func Test_Store_ShortIndexFallsBackToEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s := openFlatStore(t, dir)
	addThree(t, s)
	_ = s.Close()

	// A valid index file that holds fewer rows than the mapping expects.
	short := NewFlatIndex(testDim)
	if err := short.Add(ctx, 0, [][]float32{axis(0)}); err != nil {
		t.Fatalf("add to short index: %v", err)
	}
	if err := short.Save(ctx, s.cfg.IndexPath()); err != nil {
		t.Fatalf("overwrite index: %v", err)
	}

	reopened, reg := openFlatStoreWithRegistry(t, dir)
	st, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalVectors != 0 || st.IndexPositions != 0 {
		t.Errorf("want empty store after fallback, got %+v", st)
	}
	if got := counterValue(t, reg, "ragstore_vectorstore_load_fallbacks_total"); got != 1 {
		t.Errorf("load fallbacks: want 1, got %v", got)
	}

	for i := range 2 {
		if _, err := reopened.AddVectors(ctx, [][]float32{axis(i)}, []map[string]any{{"doc_id": "new"}}); err != nil {
			t.Fatalf("add %d after fallback: %v", i, err)
		}
	}
}

func Test_Store_OrphanPositionReturnsPlaceholder(t *testing.T) {
	t.Parallel()
	s, reg := openFlatStoreWithRegistry(t, t.TempDir())
	ctx := context.Background()
	addThree(t, s)

	// Break the position→id link for position 0.
	s.mu.Lock()
	delete(s.m.IndexToID, 0)
	s.mu.Unlock()

	res, err := s.SearchWithMetadata(ctx, axis(0), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("want 1 placeholder, got %d", len(res))
	}
	if !res[0].Orphan || res[0].DocID() != UnknownDocID {
		t.Errorf("want orphan placeholder, got %+v", res[0])
	}
	if res[0].Text() == "" {
		t.Error("placeholder text must mark the orphan")
	}
	if got := counterValue(t, reg, "ragstore_vectorstore_orphan_hits_total"); got != 1 {
		t.Errorf("orphan counter: want 1, got %v", got)
	}

	raw, err := json.Marshal(res[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["orphan"] != true {
		t.Errorf("orphan flag missing from JSON: %s", raw)
	}
}

func Test_Store_SaveFailureReturnsStorageError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := openFlatStore(t, dir)
	ctx := context.Background()

	// A directory at the index path makes the rename fail.
	if err := os.MkdirAll(s.cfg.IndexPath(), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ids, err := s.AddVectors(ctx, [][]float32{axis(0)}, []map[string]any{{"doc_id": "a"}})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "save index" {
		t.Errorf("want *StorageError for save index, got %#v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids must be returned despite the failed save, got %v", ids)
	}

	// In-memory state is not rolled back.
	res, err := s.SearchWithMetadata(ctx, axis(0), 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].VectorID != ids[0] {
		t.Errorf("unsaved vector must remain searchable, got %+v", res)
	}
}

func Test_Store_NewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		idx  Index
	}{
		{name: "zero dimension", cfg: Config{Dir: t.TempDir()}, idx: NewFlatIndex(0)},
		{name: "index dimension differs", cfg: Config{Dir: t.TempDir(), Dimension: 4}, idx: NewFlatIndex(8)},
		{name: "missing dir", cfg: Config{Dimension: 4}, idx: NewFlatIndex(4)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(context.Background(), tc.cfg, tc.idx, logging.Discard()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
