// Package config layers an optional YAML file under the environment.
// Precedence is defaults, then the file, then environment variables: a
// file value is exported only when its variable is unset, so every
// component keeps reading plain env vars.
//
// The file is the first that exists of: the --config flag, $RAGSTORE_CONFIG,
// ~/.ragstore/config.yaml and ./ragstore.yaml. Without one, env vars alone
// configure the process.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config mirrors the environment. Each leaf carries the variable it feeds
// in its env tag.
type Config struct {
	Model       ModelConfig       `yaml:"model"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	Query       QueryConfig       `yaml:"query"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ModelConfig selects and tunes the chat model that writes answers.
type ModelConfig struct {
	// Provider is ollama, openai, azure, bedrock, ark or gemini.
	Provider    string  `yaml:"provider" env:"MODEL_PROVIDER"`
	MaxTokens   int     `yaml:"max_tokens" env:"MODEL_MAX_TOKENS"`
	Temperature float32 `yaml:"temperature" env:"MODEL_TEMPERATURE"`

	Ollama struct {
		Host  string `yaml:"host" env:"OLLAMA_HOST"`
		Model string `yaml:"model" env:"OLLAMA_MODEL"`
	} `yaml:"ollama"`
	OpenAI struct {
		APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
		Model   string `yaml:"model" env:"OPENAI_MODEL"`
		BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
	} `yaml:"openai"`
	Azure struct {
		APIKey     string `yaml:"api_key" env:"AZURE_OPENAI_API_KEY"`
		Endpoint   string `yaml:"endpoint" env:"AZURE_OPENAI_ENDPOINT"`
		Deployment string `yaml:"deployment" env:"AZURE_OPENAI_DEPLOYMENT"`
		APIVersion string `yaml:"api_version" env:"AZURE_OPENAI_API_VERSION"`
	} `yaml:"azure"`
	Bedrock struct {
		Region  string `yaml:"region" env:"AWS_REGION"`
		ModelID string `yaml:"model_id" env:"BEDROCK_MODEL_ID"`
	} `yaml:"bedrock"`
	Ark struct {
		APIKey  string `yaml:"api_key" env:"ARK_API_KEY"`
		Model   string `yaml:"model" env:"ARK_MODEL"`
		BaseURL string `yaml:"base_url" env:"ARK_BASE_URL"`
	} `yaml:"ark"`
	Gemini struct {
		APIKey string `yaml:"api_key" env:"GOOGLE_API_KEY"`
		Model  string `yaml:"model" env:"GEMINI_MODEL"`
	} `yaml:"gemini"`
}

// EmbeddingConfig overrides the embedding backend. Unset fields inherit
// from the chat model's provider.
type EmbeddingConfig struct {
	Provider     string `yaml:"provider" env:"EMBEDDING_PROVIDER"`
	Model        string `yaml:"model" env:"EMBEDDING_MODEL"`
	Dimensions   int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS"`
	APIKey       string `yaml:"api_key" env:"EMBEDDING_API_KEY"`
	Endpoint     string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT"`
	RequestBatch int    `yaml:"request_batch" env:"EMBEDDING_REQUEST_BATCH"`
}

type VectorStoreConfig struct {
	// Backend is flat, chromem or qdrant.
	Backend   string `yaml:"backend" env:"VECTOR_STORE_BACKEND"`
	Dir       string `yaml:"dir" env:"VECTOR_STORE_DIR"`
	Dimension int    `yaml:"dimension" env:"VECTOR_STORE_DIMENSION"`
	BackupDir string `yaml:"backup_dir" env:"VECTOR_STORE_BACKUP_DIR"`

	Qdrant struct {
		Host       string `yaml:"host" env:"QDRANT_HOST"`
		Port       int    `yaml:"port" env:"QDRANT_PORT"`
		Collection string `yaml:"collection" env:"QDRANT_COLLECTION"`
		APIKey     string `yaml:"api_key" env:"QDRANT_API_KEY"`
		TLS        bool   `yaml:"tls" env:"QDRANT_TLS"`
	} `yaml:"qdrant"`
	Chromem struct {
		Collection string `yaml:"collection" env:"CHROMEM_COLLECTION"`
	} `yaml:"chromem"`
}

type MetadataConfig struct {
	// Backend is json, sqlite or bolt.
	Backend string `yaml:"backend" env:"METADATA_BACKEND"`
	Dir     string `yaml:"dir" env:"METADATA_DIR"`
}

type QueryConfig struct {
	MaxResults int `yaml:"max_results" env:"QUERY_MAX_RESULTS"`
	// SimilarityThreshold is a pointer so an explicit 0 is exported.
	SimilarityThreshold *float64 `yaml:"similarity_threshold" env:"QUERY_SIMILARITY_THRESHOLD"`
	MaxContextTokens    int      `yaml:"max_context_tokens" env:"QUERY_MAX_CONTEXT_TOKENS"`
}

type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size" env:"INGEST_CHUNK_SIZE"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"INGEST_CHUNK_OVERLAP"`
	BatchSize    int `yaml:"batch_size" env:"INGEST_BATCH_SIZE"`
}

type ServerConfig struct {
	Host      string  `yaml:"host" env:"RAGSTORE_HOST"`
	Port      int     `yaml:"port" env:"RAGSTORE_PORT"`
	APIKey    string  `yaml:"api_key" env:"RAGSTORE_API_KEY"`
	RateLimit float64 `yaml:"rate_limit" env:"RAGSTORE_RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" env:"RAGSTORE_RATE_BURST"`
	// HistoryDB is the query history database path, or "disabled".
	HistoryDB string `yaml:"history_db" env:"RAGSTORE_HISTORY_DB"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
	Source bool   `yaml:"source" env:"LOG_SOURCE"`
}

type TracingConfig struct {
	PublicKey string `yaml:"public_key" env:"LANGFUSE_PUBLIC_KEY"`
	SecretKey string `yaml:"secret_key" env:"LANGFUSE_SECRET_KEY"`
	Host      string `yaml:"host" env:"LANGFUSE_HOST"`
}

// ErrNotFound is returned when an explicitly named config file is missing.
var ErrNotFound = errors.New("config: file not found")

// Load exports the values of the resolved config file into the
// environment, skipping variables that are already set. It returns the
// file's path, or "" when no file was found. Unknown keys are an error.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path, err := resolveConfigPath(explicitPath)
	if err != nil {
		return "", err
	}
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	applied := 0
	for key, val := range EnvValues(cfg) {
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return "", fmt.Errorf("config: set %s: %w", key, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config", slog.String("path", path), slog.Int("keys_applied", applied))
	return path, nil
}

// Parse decodes a config document, rejecting unknown keys. An empty
// document is a zero Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// EnvValues flattens cfg into env var assignments. Zero values are left
// out, except for pointer fields, which are exported whenever set.
func EnvValues(cfg *Config) map[string]string {
	out := make(map[string]string)
	collect(reflect.ValueOf(cfg).Elem(), out)
	return out
}

func collect(v reflect.Value, out map[string]string) {
	t := v.Type()
	for i := range t.NumField() {
		f, fv := t.Field(i), v.Field(i)
		key := f.Tag.Get("env")
		if key == "" {
			if fv.Kind() == reflect.Struct {
				collect(fv, out)
			}
			continue
		}
		if s, ok := envString(fv); ok {
			out[key] = s
		}
	}
}

// envString renders a leaf value; ok is false for zero values and nil
// pointers.
func envString(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	} else if v.IsZero() {
		return "", false
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), true
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	}
	return "", false
}

// resolveConfigPath returns the first existing candidate. An explicit path
// that does not exist is an error rather than a silent fallback.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("%w: %s", ErrNotFound, explicit)
		}
		return explicit, nil
	}

	var candidates []string
	if p := os.Getenv("RAGSTORE_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".ragstore", "config.yaml"))
	}
	candidates = append(candidates, "ragstore.yaml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}
