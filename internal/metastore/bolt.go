package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/54b3r/ragstore-go/internal/record"
)

var (
	bucketFiles        = []byte("files")
	bucketChunks       = []byte("chunks")
	bucketVectorChunks = []byte("vector_chunks")
)

// BoltStore is a Store backed by a bbolt file with one bucket per table and
// JSON-encoded record values.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a BoltStore at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("metastore: open bolt db %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketFiles, bucketChunks, bucketVectorChunks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("metastore: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// AddFileMetadata implements Store.
func (s *BoltStore) AddFileMetadata(_ context.Context, path string, fields map[string]any) (string, error) {
	id, rec := newFileRecord(path, fields, time.Now())
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("metastore: encode file: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).Put([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("metastore: add file: %w", err)
	}
	return id, nil
}

// AddChunkMetadata implements Store.
func (s *BoltStore) AddChunkMetadata(_ context.Context, fields map[string]any) (string, error) {
	id, rec, vectorID, linked := newChunkRecord(fields, time.Now())
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("metastore: encode chunk: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChunks).Put([]byte(id), data); err != nil {
			return err
		}
		if linked {
			return tx.Bucket(bucketVectorChunks).Put([]byte(vectorKey(vectorID)), []byte(id))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("metastore: add chunk: %w", err)
	}
	return id, nil
}

// GetMetadataByVectorID implements Store.
func (s *BoltStore) GetMetadataByVectorID(_ context.Context, vectorID int64) (record.Fields, error) {
	var rec record.Fields
	err := s.db.View(func(tx *bbolt.Tx) error {
		chunkID := tx.Bucket(bucketVectorChunks).Get([]byte(vectorKey(vectorID)))
		if chunkID == nil {
			return nil
		}
		data := tx.Bucket(bucketChunks).Get(chunkID)
		if data == nil {
			return nil
		}
		var err error
		rec, err = decodeFields(string(data))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: get by vector id: %w", err)
	}
	return rec, nil
}

// GetAllFiles implements Store.
func (s *BoltStore) GetAllFiles(_ context.Context) ([]record.Fields, error) {
	var files, chunks []record.Fields
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		if files, err = decodeBucket(tx.Bucket(bucketFiles)); err != nil {
			return err
		}
		chunks, err = decodeBucket(tx.Bucket(bucketChunks))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: list files: %w", err)
	}
	withChunkCounts(files, chunks)
	sortByCreated(files, record.KeyFileID)
	return files, nil
}

// GetAllChunks implements Store.
func (s *BoltStore) GetAllChunks(_ context.Context) ([]record.Fields, error) {
	var chunks []record.Fields
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		chunks, err = decodeBucket(tx.Bucket(bucketChunks))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metastore: list chunks: %w", err)
	}
	sortByCreated(chunks, record.KeyChunkID)
	return chunks, nil
}

// DeleteByVectorIDs implements Store.
func (s *BoltStore) DeleteByVectorIDs(_ context.Context, ids []int64) (int, error) {
	now := time.Now()
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		links := tx.Bucket(bucketVectorChunks)
		chunks := tx.Bucket(bucketChunks)
		for _, id := range ids {
			chunkID := links.Get([]byte(vectorKey(id)))
			if chunkID == nil {
				continue
			}
			data := chunks.Get(chunkID)
			if data == nil {
				continue
			}
			rec, err := decodeFields(string(data))
			if err != nil {
				return err
			}
			if !markDeleted(rec, now) {
				continue
			}
			out, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			// chunkID aliases mmap'd memory that Put may invalidate.
			if err := chunks.Put(append([]byte(nil), chunkID...), out); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("metastore: delete: %w", err)
	}
	return changed, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("metastore: close: %w", err)
	}
	return nil
}

// decodeBucket decodes every value in b as a record.
func decodeBucket(b *bbolt.Bucket) ([]record.Fields, error) {
	var out []record.Fields
	err := b.ForEach(func(_, v []byte) error {
		rec, err := decodeFields(string(v))
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
