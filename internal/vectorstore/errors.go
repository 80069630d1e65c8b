package vectorstore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Store operations. Match with errors.Is.
var (
	// ErrDimensionMismatch is returned when a vector's length differs from the
	// store's configured dimension. The batch is rejected before any mutation.
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")

	// ErrArityMismatch is returned when the vectors and metadata slices of a
	// batch differ in length. The batch is rejected before any mutation.
	ErrArityMismatch = errors.New("vectorstore: vectors and metadata count mismatch")

	// ErrNotFound is returned when an operation references an unknown vector id.
	ErrNotFound = errors.New("vectorstore: vector not found")

	// ErrInvalidK is returned when a search asks for fewer than one result.
	ErrInvalidK = errors.New("vectorstore: k must be at least 1")

	// ErrNoBackup is returned by Restore when the backup directory holds no
	// complete snapshot.
	ErrNoBackup = errors.New("vectorstore: no backup snapshot found")

	// ErrBackupUnsupported is returned by Backup and Restore for backends
	// whose vectors do not live in the local index file.
	ErrBackupUnsupported = errors.New("vectorstore: file backups not supported by this backend")

	// ErrIndexDesync is returned when the similarity index and the id mapping
	// disagree about positions in a way that blocks a mutation.
	ErrIndexDesync = errors.New("vectorstore: index and mapping out of sync")

	// ErrStorage matches every *StorageError.
	ErrStorage = errors.New("vectorstore: storage error")
)

// StorageError reports a failed read or write of the persisted index or
// mapping. In-memory state is not rolled back when a save fails: callers that
// need strict consistency should reload the store from disk.
type StorageError struct {
	// Op is the persistence step that failed (e.g. "save index").
	Op string
	// Path is the file involved.
	Path string
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *StorageError) Error() string {
	return fmt.Sprintf("vectorstore: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }
