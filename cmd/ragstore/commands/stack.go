package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragstore-go/internal/embedder"
	"github.com/54b3r/ragstore-go/internal/metastore"
	"github.com/54b3r/ragstore-go/internal/provider"
	"github.com/54b3r/ragstore-go/internal/query"
	"github.com/54b3r/ragstore-go/internal/server"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// stores bundles the embedder and the two stores every data command needs.
type stores struct {
	emb     embedder.Embedder
	vectors *vectorstore.Store
	meta    metastore.Store
}

// openStores validates the embedding configuration and opens the vector and
// metadata stores. reg may be nil to skip store metrics.
func openStores(ctx context.Context, reg prometheus.Registerer, log *slog.Logger) (*stores, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	backend := embedder.Backend()
	log.Info("embedder initialised", slog.String("provider", backend))

	vcfg := vectorstore.ConfigFromEnv(embedder.DefaultDimensions(backend))
	vcfg.Registerer = reg
	vectors, err := vectorstore.Open(ctx, vcfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	meta, err := metastore.Open(metastore.ConfigFromEnv(), log)
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	log.Info("stores ready",
		slog.String("vector_backend", vcfg.Backend),
		slog.String("vector_dir", vcfg.Dir),
		slog.Int("dimension", vectors.Dimension()),
	)
	return &stores{emb: emb, vectors: vectors, meta: meta}, nil
}

// Close releases both stores.
func (s *stores) Close() error {
	return errors.Join(s.vectors.Close(), s.meta.Close())
}

// buildEngine constructs the chat model and the query engine over s. The
// similarity threshold wraps the vector store so the engine only sees hits
// that pass it.
func buildEngine(ctx context.Context, s *stores, providerCfg *provider.Config, log *slog.Logger) (*query.Engine, error) {
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

	gen, err := query.NewChatGenerator(chatModel, getEnvInt("QUERY_MAX_CONTEXT_TOKENS", 0), log)
	if err != nil {
		return nil, err
	}

	threshold := getEnvFloat("QUERY_SIMILARITY_THRESHOLD", -1)
	searcher := query.WithThreshold(s.vectors, threshold)

	engine, err := query.New(s.emb, searcher, s.meta, gen, query.Options{
		MaxResults: getEnvInt("QUERY_MAX_RESULTS", 0),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise query engine: %w", err)
	}
	return engine, nil
}

// buildPingers returns the readiness probes for the serve command: the vector
// store, Qdrant when it backs the index, and the LLM backend when it has a
// token-free health endpoint.
func buildPingers(s *stores, providerCfg *provider.Config) []server.Pinger {
	pingers := []server.Pinger{server.NewStorePinger(s.vectors)}
	if q, ok := s.vectors.Index().(*vectorstore.QdrantIndex); ok {
		pingers = append(pingers, server.NewQdrantPinger(q.Client()))
	}
	if p := server.NewLLMPinger(provider.NewHealthChecker(providerCfg), string(providerCfg.Backend)); p != nil {
		pingers = append(pingers, p)
	}
	return pingers
}

// getEnvOrDefault returns the value of the environment variable key, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the environment variable key, or
// fallback if the variable is unset, empty, or not a valid integer.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the environment variable key, or
// fallback if the variable is unset, empty, or not a valid number.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
