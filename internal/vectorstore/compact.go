package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/54b3r/ragstore-go/internal/record"
)

// Compact physically removes soft-deleted vectors. Surviving vectors keep
// their ids and metadata; only their index positions may change. next_id is
// preserved so removed ids are never handed out again. With nothing deleted it
// returns immediately without writing.
//
// A failure inside the index rebuild leaves the index in a backend-defined
// state; reload from disk or restore a backup before continuing.
func (s *Store) Compact(ctx context.Context) (CompactResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted == 0 {
		return CompactResult{Kept: len(s.m.Records)}, nil
	}

	var keep, drop []int
	for id, pos := range s.m.IDToIndex {
		if f, ok := s.m.Records[id]; ok && !f.Bool(record.KeyDeleted) {
			keep = append(keep, pos)
		} else {
			drop = append(drop, pos)
		}
	}
	sort.Ints(keep)
	sort.Ints(drop)

	res, err := s.idx.Rebuild(ctx, RebuildPlan{Keep: keep, Drop: drop, Next: s.m.NextPosition})
	if err != nil {
		return CompactResult{}, fmt.Errorf("vectorstore: compact: %w", err)
	}

	indexToID := make(map[int]int64, len(keep))
	idToIndex := make(map[int64]int, len(keep))
	removed := 0
	for id, pos := range s.m.IDToIndex {
		newPos, ok := res.Remap[pos]
		if !ok {
			delete(s.m.Records, id)
			removed++
			continue
		}
		indexToID[newPos] = id
		idToIndex[id] = newPos
	}
	// Records without a position cannot be searched; drop them with the rest.
	for id := range s.m.Records {
		if _, ok := idToIndex[id]; !ok {
			delete(s.m.Records, id)
			removed++
		}
	}

	s.m.IndexToID = indexToID
	s.m.IDToIndex = idToIndex
	s.m.NextPosition = res.Next
	s.deleted = 0

	s.log.Info("vector store compacted",
		slog.Int("removed", removed),
		slog.Int("kept", len(idToIndex)),
		slog.Int("next_position", res.Next),
	)

	if err := s.saveLocked(ctx); err != nil {
		return CompactResult{Removed: removed, Kept: len(idToIndex)}, err
	}
	return CompactResult{Removed: removed, Kept: len(idToIndex)}, nil
}
