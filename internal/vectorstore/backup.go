package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/54b3r/ragstore-go/internal/fsutil"
)

// snapshotLayout names snapshot directories; lexical order is time order.
const snapshotLayout = "20060102T150405.000000000Z"

// fileSnapshots reports whether the index lives entirely in the local index
// file, so that copying the file pair captures the whole store. Qdrant keeps
// its points server-side and its index file is only a marker.
func (s *Store) fileSnapshots() error {
	if s.idx.Kind() == BackendQdrant {
		return fmt.Errorf("%w: the %s backend keeps vectors on the server; use Qdrant collection snapshots instead", ErrBackupUnsupported, BackendQdrant)
	}
	return nil
}

// Backup saves the store and copies the index and mapping files into a new
// timestamped snapshot directory under dir (Config.BackupDir when empty). It
// returns the snapshot path. The mapping is copied last, so a snapshot
// directory without a mapping file is incomplete and ignored by Restore.
// Backends without a self-contained index file return ErrBackupUnsupported.
func (s *Store) Backup(ctx context.Context, dir string) (string, error) {
	if err := s.fileSnapshots(); err != nil {
		return "", err
	}
	if dir == "" {
		dir = s.cfg.BackupDir
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveLocked(ctx); err != nil {
		return "", err
	}

	snap := filepath.Join(dir, time.Now().UTC().Format(snapshotLayout))
	if err := os.MkdirAll(snap, 0o700); err != nil {
		return "", &StorageError{Op: "create snapshot", Path: snap, Err: err}
	}
	pairs := [][2]string{
		{s.cfg.IndexPath(), filepath.Join(snap, s.cfg.IndexFile)},
		{s.cfg.MappingPath(), filepath.Join(snap, s.cfg.MappingFile)},
	}
	for _, p := range pairs {
		if err := fsutil.CopyFile(p[0], p[1]); err != nil {
			return "", &StorageError{Op: "backup", Path: p[1], Err: err}
		}
	}

	s.log.Info("vector store backed up", slog.String("snapshot", snap))
	return snap, nil
}

// ListBackups returns the names of complete snapshots in dir (Config.BackupDir
// when empty), newest first. A missing directory yields no snapshots.
func (s *Store) ListBackups(dir string) ([]string, error) {
	if dir == "" {
		dir = s.cfg.BackupDir
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "list backups", Path: dir, Err: err}
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(snapshotLayout, e.Name()); err != nil {
			continue
		}
		snap := filepath.Join(dir, e.Name())
		if !fsutil.Exists(filepath.Join(snap, s.cfg.IndexFile)) || !fsutil.Exists(filepath.Join(snap, s.cfg.MappingFile)) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Restore replaces the live index and mapping with the newest complete
// snapshot in dir (Config.BackupDir when empty) and reloads them. The snapshot
// mapping is validated before anything is copied. Both files are restored or
// neither is. It returns ErrNoBackup when dir holds no complete snapshot and
// ErrBackupUnsupported for backends Backup refuses.
func (s *Store) Restore(ctx context.Context, dir string) (string, error) {
	if err := s.fileSnapshots(); err != nil {
		return "", err
	}
	if dir == "" {
		dir = s.cfg.BackupDir
	}
	names, err := s.ListBackups(dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoBackup, dir)
	}
	snap := filepath.Join(dir, names[0])
	snapIndex := filepath.Join(snap, s.cfg.IndexFile)
	snapMapping := filepath.Join(snap, s.cfg.MappingFile)

	m, err := readMapping(snapMapping, s.cfg.Dimension)
	if err != nil {
		return "", fmt.Errorf("vectorstore: snapshot %s: %w", names[0], err)
	}
	if m.Backend != "" && m.Backend != s.idx.Kind() {
		return "", fmt.Errorf("vectorstore: snapshot %s was written by backend %q", names[0], m.Backend)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.idx.Load(ctx, snapIndex); err != nil {
		return "", fmt.Errorf("vectorstore: snapshot %s: %w", names[0], err)
	}
	if err := s.install(ctx, m, snapIndex); err != nil {
		// Put the live index back under the unchanged live mapping.
		if lerr := s.idx.Load(ctx, s.cfg.IndexPath()); lerr != nil {
			s.log.Error("failed to reload live index after rejected restore", slog.String("error", lerr.Error()))
		}
		return "", fmt.Errorf("vectorstore: snapshot %s: %w", names[0], err)
	}
	if err := fsutil.CopyFile(snapIndex, s.cfg.IndexPath()); err != nil {
		return "", &StorageError{Op: "restore index", Path: s.cfg.IndexPath(), Err: err}
	}
	if err := fsutil.CopyFile(snapMapping, s.cfg.MappingPath()); err != nil {
		return "", &StorageError{Op: "restore mapping", Path: s.cfg.MappingPath(), Err: err}
	}

	s.log.Info("vector store restored",
		slog.String("snapshot", snap),
		slog.Int("records", len(m.Records)),
	)
	return snap, nil
}
