package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// maxDeleteIDs bounds a single delete request.
const maxDeleteIDs = 10000

// handleUpdateVector handles PATCH /api/vectors/{id}. The body is a JSON
// object merged into the vector's metadata record.
func (s *Server) handleUpdateVector(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "vector id must be an integer")
		return
	}
	var updates map[string]any
	if !decodeJSON(w, r, &updates) {
		return
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	err = s.vectors.UpdateMetadata(r.Context(), id, updates)
	s.metrics.observeAdmin("update", err)
	switch {
	case errors.Is(err, vectorstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "vector not found")
	case err != nil:
		s.internalError(w, r, "update", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDeleteVectors handles POST /api/vectors/delete. Vectors are
// soft-deleted first; the matching chunk records are then flagged in the
// metadata store.
func (s *Server) handleDeleteVectors(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	if len(req.IDs) > maxDeleteIDs {
		writeError(w, http.StatusBadRequest, "too many ids")
		return
	}

	err := s.vectors.DeleteVectors(r.Context(), req.IDs)
	if err != nil {
		s.metrics.observeAdmin("delete", err)
		s.internalError(w, r, "delete", err)
		return
	}
	n, err := s.meta.DeleteByVectorIDs(r.Context(), req.IDs)
	s.metrics.observeAdmin("delete", err)
	if err != nil {
		s.internalError(w, r, "delete", err)
		return
	}

	logging.FromContext(r.Context()).Info("vectors deleted",
		slog.Int("requested", len(req.IDs)),
		slog.Int("metadata_updated", n),
	)
	writeJSON(w, http.StatusOK, deleteResponse{Requested: len(req.IDs), MetadataUpdated: n})
}

// handleBackup handles POST /api/admin/backup. Snapshots always go to the
// configured backup directory; clients cannot choose a path.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := s.vectors.Backup(r.Context(), "")
	s.metrics.observeAdmin("backup", err)
	switch {
	case errors.Is(err, vectorstore.ErrBackupUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		s.internalError(w, r, "backup", err)
	default:
		writeJSON(w, http.StatusCreated, backupResponse{Snapshot: snap})
	}
}

// handleListBackups handles GET /api/admin/backups.
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	names, err := s.vectors.ListBackups("")
	if err != nil {
		s.internalError(w, r, "list backups", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, backupsResponse{Backups: names})
}

// handleRestore handles POST /api/admin/restore from the newest snapshot.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	snap, err := s.vectors.Restore(r.Context(), "")
	s.metrics.observeAdmin("restore", err)
	switch {
	case errors.Is(err, vectorstore.ErrNoBackup):
		writeError(w, http.StatusNotFound, "no backup to restore")
	case errors.Is(err, vectorstore.ErrBackupUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		s.internalError(w, r, "restore", err)
	default:
		writeJSON(w, http.StatusOK, backupResponse{Snapshot: snap})
	}
}

// handleCompact handles POST /api/admin/compact.
func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	res, err := s.vectors.Compact(r.Context())
	s.metrics.observeAdmin("compact", err)
	if err != nil {
		s.internalError(w, r, "compact", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
