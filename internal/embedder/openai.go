package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxOpenAIBatch is the embeddings API's per-request input limit.
const maxOpenAIBatch = 2048

// OpenAIEmbedder calls the OpenAI embeddings API, or an Azure OpenAI
// deployment when Azure is set.
type OpenAIEmbedder struct {
	url        string
	header     http.Header
	model      string
	dimensions int
	batch      int
	client     *http.Client
}

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is https://api.openai.com/v1, or
	// https://<resource>.openai.azure.com/openai for Azure.
	BaseURL string
	APIKey  string
	// Model is the model name; for Azure it is also the deployment name.
	Model string
	// Dimensions requests shortened vectors; 0 keeps the model default.
	Dimensions int
	// Azure switches to the api-key header and deployment URL.
	Azure bool
	// APIVersion is the Azure api-version query value.
	APIVersion string
	// BatchSize caps texts per request; 0 selects the API maximum.
	BatchSize int
	// Timeout bounds one request; 0 selects 30s.
	Timeout time.Duration
}

func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	e := &OpenAIEmbedder{
		url:        base + "/embeddings",
		header:     http.Header{},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batch:      cfg.BatchSize,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
	if e.batch <= 0 || e.batch > maxOpenAIBatch {
		e.batch = maxOpenAIBatch
	}
	if e.client.Timeout <= 0 {
		e.client.Timeout = 30 * time.Second
	}
	if cfg.Azure {
		e.url = base + "/deployments/" + url.PathEscape(cfg.Model) + "/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
		e.header.Set("api-key", cfg.APIKey)
	} else {
		e.header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *openaiEmbedResponse) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Embed returns one vector per text, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := inBatches(ctx, texts, e.batch, e.embedBatch)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openaiEmbedResponse
	req := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	if err := postJSON(ctx, e.client, e.url, e.header, req, &resp); err != nil {
		return nil, err
	}

	// Data may arrive out of order; place each vector by its index.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("index %d out of range [0, %d)", d.Index, len(texts))
		}
		vecs[d.Index] = d.Embedding
	}
	if err := checkBatch("model "+e.model, texts, vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}
