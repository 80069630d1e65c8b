package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragstore-go/internal/history"
	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/provider"
	"github.com/54b3r/ragstore-go/internal/server"
	"github.com/54b3r/ragstore-go/internal/tracing"
)

// NewServeCmd constructs the `ragstore serve` command, which starts the HTTP
// API over the query engine and the stores.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragstore HTTP API",
		Long: `Start the ragstore HTTP API.

Routes:
  POST  /api/query              answer a question with cited sources
  GET   /api/stats              vector and metadata store counts
  GET   /api/files              ingested file records
  PATCH /api/vectors/{id}       merge fields into a vector's metadata
  POST  /api/vectors/delete     soft-delete vectors and their chunk records
  POST  /api/admin/backup       snapshot the vector store
  GET   /api/admin/backups      list snapshots, newest first
  POST  /api/admin/restore      restore the newest snapshot
  POST  /api/admin/compact      drop soft-deleted vectors from the index
  GET   /api/history            recently answered queries
  GET   /api/health, /api/ready, /metrics

All /api routes except health and ready require 'Authorization: Bearer
$RAGSTORE_API_KEY' when the key is set.

Examples:
  ragstore serve
  ragstore serve --port 9090
  MODEL_PROVIDER=openai ragstore serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			st, err := openStores(ctx, prometheus.DefaultRegisterer, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			providerCfg := provider.ConfigFromEnv()
			engine, err := buildEngine(ctx, st, providerCfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// Open query history. RAGSTORE_HISTORY_DB overrides the default
			// path (~/.ragstore/history.db); "disabled" turns it off.
			var queryLog history.Log
			if hl := openHistory(log); hl != nil {
				queryLog = hl
				defer func() { _ = hl.Close() }()
			}

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("RAGSTORE_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("RAGSTORE_PORT", port)
			}

			srv, err := server.New(server.Deps{
				Engine:   engine,
				Vectors:  st.vectors,
				Metadata: st.meta,
			}, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   buildPingers(st, providerCfg),
				APIKey:    os.Getenv("RAGSTORE_API_KEY"),
				RateLimit: getEnvFloat("RAGSTORE_RATE_LIMIT", 0),
				RateBurst: getEnvInt("RAGSTORE_RATE_BURST", 0),
				History:   queryLog,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
