package vectorstore

import (
	"bufio"
	"container/heap"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/54b3r/ragstore-go/internal/fsutil"
)

// flatMagic identifies a persisted FlatIndex file.
var flatMagic = [4]byte{'R', 'S', 'V', 'I'}

// flatVersion is the on-disk format version written by Save.
const flatVersion uint32 = 1

// flatHeaderSize is magic + version + dim + count.
const flatHeaderSize = 4 + 4 + 4 + 8

// FlatIndex is an exact inner-product index over a contiguous row-major
// float32 slice. Position i occupies data[i*dim:(i+1)*dim].
//
// File format (little-endian):
//
//	[4]byte  magic "RSVI"
//	uint32   version
//	uint32   dim
//	uint64   count
//	float32  count*dim values
type FlatIndex struct {
	dim  int
	data []float32
}

// NewFlatIndex returns an empty FlatIndex for vectors of dimension dim.
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Kind implements Index.
func (f *FlatIndex) Kind() string { return BackendFlat }

// Dim implements Index.
func (f *FlatIndex) Dim() int { return f.dim }

// rows returns the number of stored vectors.
func (f *FlatIndex) rows() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Count implements Index.
func (f *FlatIndex) Count(_ context.Context) (int, error) { return f.rows(), nil }

// Add implements Index. Positions are dense, so start must equal the current
// row count.
func (f *FlatIndex) Add(_ context.Context, start int, vecs [][]float32) error {
	if start != f.rows() {
		return fmt.Errorf("%w: flat index holds %d rows, add requested position %d", ErrIndexDesync, f.rows(), start)
	}
	for i, v := range vecs {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, index expects %d", ErrDimensionMismatch, i, len(v), f.dim)
		}
	}
	for _, v := range vecs {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search implements Index with a full scan and a bounded min-heap.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d", ErrDimensionMismatch, len(query), f.dim)
	}
	n := f.rows()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	h := make(hitHeap, 0, k)
	for i := range n {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score := dot(query, f.data[i*f.dim:(i+1)*f.dim])
		if len(h) < k {
			heap.Push(&h, Hit{Position: i, Score: score})
			continue
		}
		if score > h[0].Score {
			h[0] = Hit{Position: i, Score: score}
			heap.Fix(&h, 0)
		}
	}

	out := make([]Hit, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(Hit)
	}
	return out, nil
}

// Rebuild implements Index. Kept rows are packed densely in Keep order.
func (f *FlatIndex) Rebuild(_ context.Context, plan RebuildPlan) (RebuildResult, error) {
	n := f.rows()
	data := make([]float32, 0, len(plan.Keep)*f.dim)
	remap := make(map[int]int, len(plan.Keep))
	for _, p := range plan.Keep {
		if p < 0 || p >= n {
			return RebuildResult{}, fmt.Errorf("%w: position %d outside flat index of %d rows", ErrIndexDesync, p, n)
		}
		remap[p] = len(data) / f.dim
		data = append(data, f.data[p*f.dim:(p+1)*f.dim]...)
	}
	f.data = data
	return RebuildResult{Remap: remap, Next: len(plan.Keep)}, nil
}

// Save implements Index.
func (f *FlatIndex) Save(_ context.Context, path string) error {
	return fsutil.WriteAtomic(path, 0o600, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if _, err := bw.Write(flatMagic[:]); err != nil {
			return err
		}
		header := []any{flatVersion, uint32(f.dim), uint64(f.rows())} //nolint:gosec // dim is small and positive
		for _, v := range header {
			if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		if err := binary.Write(bw, binary.LittleEndian, f.data); err != nil {
			return err
		}
		return bw.Flush()
	})
}

// Load implements Index. The file size must match the header exactly.
func (f *FlatIndex) Load(_ context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("flat index: open: %w", err)
	}
	defer file.Close()

	fi, err := file.Stat()
	if err != nil {
		return fmt.Errorf("flat index: stat: %w", err)
	}

	r := bufio.NewReader(file)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("flat index: read magic: %w", err)
	}
	if magic != flatMagic {
		return errors.New("flat index: bad magic")
	}

	var version, dim uint32
	var count uint64
	for _, v := range []any{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("flat index: read header: %w", err)
		}
	}
	if version != flatVersion {
		return fmt.Errorf("flat index: unsupported version %d", version)
	}
	if int(dim) != f.dim {
		return fmt.Errorf("%w: flat index file has dimension %d, store expects %d", ErrDimensionMismatch, dim, f.dim)
	}
	want := int64(flatHeaderSize) + int64(count)*int64(dim)*4 //nolint:gosec // bounded by file size check below
	if fi.Size() != want {
		return fmt.Errorf("flat index: file is %d bytes, header implies %d", fi.Size(), want)
	}

	data := make([]float32, int(count)*int(dim)) //nolint:gosec // validated against file size
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return fmt.Errorf("flat index: read vectors: %w", err)
	}
	f.data = data
	return nil
}

// Reset implements Index.
func (f *FlatIndex) Reset(_ context.Context) error {
	f.data = nil
	return nil
}

// Close implements Index.
func (f *FlatIndex) Close() error { return nil }

// hitHeap is a min-heap on Score so the weakest of the current top-k sits at
// the root.
type hitHeap []Hit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Score == h[j].Score {
		return h[i].Position > h[j].Position
	}
	return h[i].Score < h[j].Score
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
