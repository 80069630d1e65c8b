package vectorstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/54b3r/ragstore-go/internal/record"
)

// UnknownDocID is the doc_id given to orphaned search results.
const UnknownDocID = "unknown"

// SearchResult is one similarity hit joined with its flat metadata record.
type SearchResult struct {
	// VectorID is the stable id of the matched vector; -1 for orphans.
	VectorID int64

	// SimilarityScore is the cosine similarity to the query, in [-1, 1].
	SimilarityScore float32

	// Orphan is true when the index position had no vector id. The result is
	// a placeholder and Fields hold only the marker values.
	Orphan bool

	// Fields holds the flat metadata record.
	Fields record.Fields
}

// DocID returns the doc_id field.
func (r SearchResult) DocID() string { return r.Fields.String(record.KeyDocID) }

// Filename returns the filename field.
func (r SearchResult) Filename() string { return r.Fields.String(record.KeyFilename) }

// Text returns the chunk text.
func (r SearchResult) Text() string { return r.Fields.String(record.KeyText) }

// SourceType returns the source_type field.
func (r SearchResult) SourceType() string { return r.Fields.String(record.KeySourceType) }

// ChunkIndex returns the chunk_index field, or -1 when absent.
func (r SearchResult) ChunkIndex() int {
	if v, ok := r.Fields.Int(record.KeyChunkIndex); ok {
		return int(v)
	}
	return -1
}

// PageNumber returns the page_number field, or 0 when absent.
func (r SearchResult) PageNumber() int {
	v, _ := r.Fields.Int(record.KeyPageNumber)
	return int(v)
}

// MarshalJSON emits a single flat object: the metadata fields plus
// vector_id, similarity_score and, for placeholders, orphan.
func (r SearchResult) MarshalJSON() ([]byte, error) {
	out := record.Flatten(r.Fields)
	out[record.KeySimilarityScore] = r.SimilarityScore
	if r.Orphan {
		out["orphan"] = true
		delete(out, record.KeyVectorID)
	} else {
		out[record.KeyVectorID] = r.VectorID
	}
	return json.Marshal(map[string]any(out))
}

// orphanResult builds the placeholder for an index position without an id.
func orphanResult(pos int, score float32) SearchResult {
	return SearchResult{
		VectorID:        -1,
		SimilarityScore: score,
		Orphan:          true,
		Fields: record.Fields{
			record.KeyDocID:    UnknownDocID,
			record.KeyFilename: UnknownDocID,
			record.KeyText:     fmt.Sprintf("[orphaned index position %d: no vector id]", pos),
		},
	}
}

// Stats summarises the store. It is a read-only snapshot.
type Stats struct {
	TotalVectors   int       `json:"total_vectors"`
	ActiveVectors  int       `json:"active_vectors"`
	DeletedVectors int       `json:"deleted_vectors"`
	Dimension      int       `json:"dimension"`
	IndexPositions int       `json:"index_positions"`
	IndexBytes     int64     `json:"index_bytes"`
	MappingBytes   int64     `json:"mapping_bytes"`
	DiskBytes      int64     `json:"disk_bytes"`
	Backend        string    `json:"backend"`
	LastSaved      time.Time `json:"last_saved,omitzero"`
}

// CompactResult reports what Compact removed.
type CompactResult struct {
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
}
