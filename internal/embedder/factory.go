package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// backendDefaults describes a backend's default model and vector size.
type backendDefaults struct {
	model      string
	dimensions int
}

var defaults = map[string]backendDefaults{
	"ollama":  {"nomic-embed-text", 768},
	"openai":  {"text-embedding-3-small", 1536},
	"azure":   {"text-embedding-3-small", 1536},
	"bedrock": {"amazon.titan-embed-text-v2", 1024},
	"gemini":  {"text-embedding-004", 768},
	"hash":    {"", defaultHashDimensions},
}

// DefaultDimensions is the vector size the store should expect from backend.
// EMBEDDING_DIMENSIONS wins when set; unknown backends fall back to the
// OpenAI size.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	if d, ok := defaults[backend]; ok {
		return d.dimensions
	}
	return defaults["openai"].dimensions
}

// Backend returns EMBEDDING_PROVIDER, else MODEL_PROVIDER, else ollama.
func Backend() string {
	return firstEnvOr("ollama", "EMBEDDING_PROVIDER", "MODEL_PROVIDER")
}

// NewFromEnv builds the Embedder selected by Backend. Settings cascade from
// the embedding-specific variables to the chat provider's:
//
//	EMBEDDING_MODEL      model override (per-backend default otherwise)
//	EMBEDDING_API_KEY    else OPENAI_API_KEY / AZURE_OPENAI_API_KEY / GOOGLE_API_KEY
//	EMBEDDING_ENDPOINT   else OLLAMA_HOST / AZURE_OPENAI_ENDPOINT
//	EMBEDDING_DIMENSIONS vector size override
//	EMBEDDING_REQUEST_BATCH texts per HTTP request
//
// The hash backend needs no credentials and no network.
func NewFromEnv(ctx context.Context) (Embedder, error) {
	backend := Backend()
	model := getEnvOrDefault("EMBEDDING_MODEL", defaults[backend].model)
	batch := getEnvInt("EMBEDDING_REQUEST_BATCH", 0)

	switch backend {
	case "hash":
		return NewHashEmbedder(DefaultDimensions(backend)), nil

	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:      firstEnvOr("http://localhost:11434", "EMBEDDING_ENDPOINT", "OLLAMA_HOST"),
			Model:     model,
			BatchSize: batch,
		}), nil

	case "openai", "azure":
		cfg, err := openAIConfigFromEnv(backend == "azure")
		if err != nil {
			return nil, err
		}
		cfg.Model, cfg.BatchSize = model, batch
		return NewOpenAIEmbedder(cfg), nil

	case "gemini":
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      model,
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		})

	case "bedrock":
		// TODO: add a Titan BedrockEmbedder once the AWS SDK is a dependency.
		return nil, fmt.Errorf("embedder: bedrock embedding support is not yet implemented (model: %s)", model)
	}
	return nil, fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure, bedrock, gemini, hash)", backend)
}

// openAIConfigFromEnv resolves credentials and endpoint for the OpenAI and
// Azure OpenAI backends.
func openAIConfigFromEnv(azure bool) (*OpenAIConfig, error) {
	cfg := &OpenAIConfig{Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaults["openai"].dimensions)}
	if !azure {
		cfg.APIKey = firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		cfg.BaseURL = getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1")
		return cfg, nil
	}

	cfg.Azure = true
	cfg.APIKey = firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
	}
	endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
	}
	cfg.BaseURL = endpoint + "/openai"
	cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview")
	return cfg, nil
}

// firstEnvOr is firstEnv with a fallback for when every key is empty.
func firstEnvOr(fallback string, keys ...string) string {
	if v := firstEnv(keys...); v != "" {
		return v
	}
	return fallback
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return fallback
}
