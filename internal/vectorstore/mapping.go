package vectorstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/54b3r/ragstore-go/internal/record"
)

// mappingVersion is the mapping file format version.
const mappingVersion = 1

// mapping is the persisted id layer: position↔vector-id maps, id and position
// counters, and the per-vector metadata records.
type mapping struct {
	Version       int                     `json:"version"`
	Backend       string                  `json:"backend"`
	Dimension     int                     `json:"dimension"`
	IndexToID     map[int]int64           `json:"index_to_id"`
	IDToIndex     map[int64]int           `json:"id_to_index"`
	NextID        int64                   `json:"next_id"`
	NextPosition  int                     `json:"next_position"`
	Records       map[int64]record.Fields `json:"records"`
	IndexChecksum string                  `json:"index_checksum,omitempty"`
	SavedAt       time.Time               `json:"saved_at"`
}

// newMapping returns an empty mapping for a fresh store.
func newMapping(backend string, dim int) *mapping {
	return &mapping{
		Version:   mappingVersion,
		Backend:   backend,
		Dimension: dim,
		IndexToID: make(map[int]int64),
		IDToIndex: make(map[int64]int),
		Records:   make(map[int64]record.Fields),
	}
}

// readMapping loads and validates a mapping file. Numbers inside records are
// decoded as json.Number so integer fields survive the round trip.
func readMapping(path string, dim int) (*mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m mapping
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if m.Version != mappingVersion {
		return nil, fmt.Errorf("unsupported mapping version %d", m.Version)
	}
	if m.Dimension != dim {
		return nil, fmt.Errorf("%w: mapping has dimension %d, store expects %d", ErrDimensionMismatch, m.Dimension, dim)
	}
	if m.IndexToID == nil {
		m.IndexToID = make(map[int]int64)
	}
	if m.IDToIndex == nil {
		m.IDToIndex = make(map[int64]int)
	}
	if m.Records == nil {
		m.Records = make(map[int64]record.Fields)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate checks that the two id maps are inverses of each other and that
// the counters are ahead of every assigned id and position.
func (m *mapping) validate() error {
	if len(m.IndexToID) != len(m.IDToIndex) {
		return fmt.Errorf("%w: %d positions but %d ids", ErrIndexDesync, len(m.IndexToID), len(m.IDToIndex))
	}
	for pos, id := range m.IndexToID {
		if back, ok := m.IDToIndex[id]; !ok || back != pos {
			return fmt.Errorf("%w: position %d maps to id %d which maps back to %d", ErrIndexDesync, pos, id, back)
		}
		if id >= m.NextID {
			return fmt.Errorf("%w: id %d is not below next_id %d", ErrIndexDesync, id, m.NextID)
		}
		if pos >= m.NextPosition {
			return fmt.Errorf("%w: position %d is not below next_position %d", ErrIndexDesync, pos, m.NextPosition)
		}
	}
	return nil
}

// encode renders the mapping as indented JSON.
func (m *mapping) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
