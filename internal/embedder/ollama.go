package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultOllamaBatch keeps single /api/embed calls small enough for CPU-only
// hosts to answer inside the client timeout.
const defaultOllamaBatch = 64

// OllamaEmbedder calls a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	url    string
	model  string
	batch  int
	client *http.Client
}

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the server base URL, e.g. http://localhost:11434.
	Host string
	// Model is the embedding model, e.g. nomic-embed-text.
	Model string
	// BatchSize caps texts per request; 0 selects 64.
	BatchSize int
	// Timeout bounds one request; 0 selects 60s.
	Timeout time.Duration
}

func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	batch, timeout := cfg.BatchSize, cfg.Timeout
	if batch <= 0 {
		batch = defaultOllamaBatch
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		url:    strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:  cfg.Model,
		batch:  batch,
		client: &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (r *ollamaEmbedResponse) errorMessage() string { return r.Error }

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := inBatches(ctx, texts, e.batch, e.embedBatch)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	if err := postJSON(ctx, e.client, e.url, nil, ollamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if err := checkBatch("model "+e.model, texts, resp.Embeddings); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}
