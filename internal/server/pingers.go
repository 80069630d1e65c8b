package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/ragstore-go/internal/provider"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// LLMPinger probes the chat model backend through its token-free health
// endpoint. It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// healthCheck probes the backend without generating.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger returns a pinger for the backend, or nil when the backend has
// no cheap probe. Generating a token just to check readiness is never done.
func NewLLMPinger(hc provider.HealthChecker, name string) *LLMPinger {
	if hc == nil {
		return nil
	}
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend for readiness.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// statser is the part of *vectorstore.Store a StorePinger needs.
type statser interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

// StorePinger reports the vector store ready when its index answers a count.
type StorePinger struct {
	store statser
}

// NewStorePinger constructs a StorePinger.
func NewStorePinger(store statser) *StorePinger {
	return &StorePinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *StorePinger) Name() string { return "vector_store" }

// Ping fails when the index cannot be counted.
func (p *StorePinger) Ping(ctx context.Context) error {
	if _, err := p.store.Stats(ctx); err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}
	return nil
}
