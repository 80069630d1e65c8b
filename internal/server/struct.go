package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragstore-go/internal/history"
	"github.com/54b3r/ragstore-go/internal/query"
	"github.com/54b3r/ragstore-go/internal/record"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds a single POST /api/query, including generation.
	// Defaults to 2 minutes if zero.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// History records every answered query and backs GET /api/history.
	// If nil, queries are not recorded and the route returns 404.
	History history.Log
}

// querier answers questions. *query.Engine satisfies it; tests inject a fake.
type querier interface {
	ProcessQuery(ctx context.Context, req query.Request) query.Response
}

// vectorAdmin is the slice of *vectorstore.Store the handlers use.
type vectorAdmin interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
	UpdateMetadata(ctx context.Context, id int64, updates map[string]any) error
	DeleteVectors(ctx context.Context, ids []int64) error
	Backup(ctx context.Context, dir string) (string, error)
	ListBackups(dir string) ([]string, error)
	Restore(ctx context.Context, dir string) (string, error)
	Compact(ctx context.Context) (vectorstore.CompactResult, error)
}

// metadataAdmin is the slice of metastore.Store the handlers use.
type metadataAdmin interface {
	GetAllFiles(ctx context.Context) ([]record.Fields, error)
	DeleteByVectorIDs(ctx context.Context, ids []int64) (int, error)
}

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Engine   querier
	Vectors  vectorAdmin
	Metadata metadataAdmin
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Vectors reports the vector store counts and on-disk sizes.
	Vectors vectorstore.Stats `json:"vector_store"`
	// Files is the number of file records in the metadata store.
	Files int `json:"files"`
	// Chunks is the sum of chunk_count over all files.
	Chunks int64 `json:"chunks"`
}

// filesResponse is the JSON response for GET /api/files.
type filesResponse struct {
	Files []record.Fields `json:"files"`
	Total int             `json:"total"`
}

// deleteRequest is the JSON body for POST /api/vectors/delete.
type deleteRequest struct {
	// IDs are the vector ids to soft-delete.
	IDs []int64 `json:"ids"`
}

// deleteResponse is the JSON response for POST /api/vectors/delete.
type deleteResponse struct {
	// Requested is the number of ids in the request.
	Requested int `json:"requested"`
	// MetadataUpdated is the number of chunk records newly flagged deleted.
	MetadataUpdated int `json:"metadata_updated"`
}

// backupResponse is the JSON response for the backup and restore endpoints.
type backupResponse struct {
	// Snapshot is the snapshot directory written or restored.
	Snapshot string `json:"snapshot"`
}

// backupsResponse is the JSON response for GET /api/admin/backups.
type backupsResponse struct {
	Backups []string `json:"backups"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

// errorResponse is the JSON body for every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
