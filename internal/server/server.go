// Package server implements the HTTP server that exposes the query engine and
// the vector store maintenance operations as a JSON API.
// The server is started by the `ragstore serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragstore-go/internal/history"
	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/query"
	"github.com/54b3r/ragstore-go/internal/record"
)

const (
	// maxBodyBytes caps every JSON request body.
	maxBodyBytes = 1 << 20

	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

// Server is the HTTP server that wraps the query engine and the stores.
type Server struct {
	// engine answers POST /api/query.
	engine querier
	// vectors serves stats, metadata updates, deletes and maintenance.
	vectors vectorAdmin
	// meta serves file listings and mirrors deletes.
	meta metadataAdmin
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// history records answered queries; nil disables it.
	history history.Log
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// New constructs a Server from the provided dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("server: query engine must not be nil")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("server: vector store must not be nil")
	}
	if deps.Metadata == nil {
		return nil, fmt.Errorf("server: metadata store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the slowest generation.
		cfg.WriteTimeout = cfg.QueryTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine:  deps.Engine,
		vectors: deps.Vectors,
		meta:    deps.Metadata,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		history: cfg.History,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: API key not set, authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the handler tree. Health, readiness and metrics stay open;
// every other /api route is authenticated and rate limited.
func (s *Server) routes() http.Handler {
	rl, stop := newRateLimiter(s.cfg.RateLimit, s.cfg.RateBurst, s.metrics.rateLimitedTotal)
	s.stopRL = stop

	api := http.NewServeMux()
	api.HandleFunc("POST /api/query", s.handleQuery)
	api.HandleFunc("GET /api/stats", s.handleStats)
	api.HandleFunc("GET /api/files", s.handleFiles)
	api.HandleFunc("PATCH /api/vectors/{id}", s.handleUpdateVector)
	api.HandleFunc("POST /api/vectors/delete", s.handleDeleteVectors)
	api.HandleFunc("POST /api/admin/backup", s.handleBackup)
	api.HandleFunc("GET /api/admin/backups", s.handleListBackups)
	api.HandleFunc("POST /api/admin/restore", s.handleRestore)
	api.HandleFunc("POST /api/admin/compact", s.handleCompact)
	api.HandleFunc("GET /api/history", s.handleHistory)
	protected := rl.middleware(authMiddleware(s.cfg.APIKey, api))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	mux.Handle("/api/", protected)

	return requestLogger(s.log, s.metrics.instrument(mux))
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	defer s.stopRL()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /api/query. The engine never fails the request
// once it is accepted: stage failures come back in the body's error field.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.MaxResults < 0 {
		writeError(w, http.StatusBadRequest, "max_results must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	resp := s.engine.ProcessQuery(ctx, req)
	outcome := queryOutcome(resp)
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	s.metrics.queryResults.Observe(float64(resp.TotalResults))

	log := logging.FromContext(r.Context())
	log.Info("query processed",
		slog.String("outcome", outcome),
		slog.Int("results", resp.TotalResults),
		slog.Int64("processing_time_ms", resp.ProcessingTimeMS),
	)
	if s.history != nil {
		// A failed history write never fails the query.
		_, err := s.history.Append(r.Context(), history.Entry{
			Query:        req.Query,
			Outcome:      outcome,
			TotalResults: resp.TotalResults,
			Confidence:   resp.Confidence,
			Error:        resp.Error,
			DurationMS:   resp.ProcessingTimeMS,
		})
		if err != nil {
			log.Warn("history append failed", slog.Any("error", err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryOutcome classifies a response for metrics.
func queryOutcome(resp query.Response) string {
	switch {
	case resp.Failed():
		return "error"
	case resp.Error != "":
		return "degraded"
	case resp.TotalResults == 0:
		return "no_results"
	}
	return "ok"
}

// handleStats handles GET /api/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	vs, err := s.vectors.Stats(r.Context())
	if err != nil {
		s.internalError(w, r, "stats", err)
		return
	}
	files, err := s.meta.GetAllFiles(r.Context())
	if err != nil {
		s.internalError(w, r, "stats", err)
		return
	}
	resp := statsResponse{Vectors: vs, Files: len(files)}
	for _, f := range files {
		n, _ := f.Int(record.KeyChunkCount)
		resp.Chunks += n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFiles handles GET /api/files.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.meta.GetAllFiles(r.Context())
	if err != nil {
		s.internalError(w, r, "files", err)
		return
	}
	if files == nil {
		files = []record.Fields{}
	}
	writeJSON(w, http.StatusOK, filesResponse{Files: files, Total: len(files)})
}

// handleHistory handles GET /api/history?limit=N (default 20, max 500).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "query history is disabled")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

// decodeJSON decodes the request body into dst, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an errorResponse.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// internalError logs err and writes a 500 that does not leak it.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.FromContext(r.Context()).Error("request failed", slog.String("op", op), slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}
