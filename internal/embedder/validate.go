package embedder

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// chatModelMarkers are name fragments of chat models that are often put in
// EMBEDDING_MODEL by mistake.
var chatModelMarkers = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama3", "llama2", "llama-3", "llama-2",
	"mistral", "mixtral", "gemma", "phi-", "phi3",
	"claude", "command-r", "deepseek", "qwen", "solar",
	"vicuna", "falcon", "yi-",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range chatModelMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// requiredEnv lists, per backend, groups of variables of which at least one
// must be set.
var requiredEnv = map[string][][]string{
	"openai": {{"EMBEDDING_API_KEY", "OPENAI_API_KEY"}},
	"azure":  {{"EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY"}, {"EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT"}},
	"gemini": {{"EMBEDDING_API_KEY", "GOOGLE_API_KEY"}},
}

// Validate is the startup check run before any store is opened. It fails on
// missing credentials or an unsupported backend and warns about settings
// that are legal but probably wrong.
func Validate(log *slog.Logger) error {
	backend := Backend()

	if backend == "bedrock" {
		return fmt.Errorf("embedder: bedrock embedding is not yet implemented; set EMBEDDING_PROVIDER to ollama, openai, azure, gemini or hash")
	}
	for _, group := range requiredEnv[backend] {
		if firstEnv(group...) == "" {
			return fmt.Errorf("embedder: %s backend needs one of %s", backend, strings.Join(group, ", "))
		}
	}

	if backend != "ollama" && os.Getenv("EMBEDDING_PROVIDER") == "" {
		log.Warn("embedder: EMBEDDING_PROVIDER not set, using MODEL_PROVIDER",
			slog.String("backend", backend),
			slog.String("hint", "set EMBEDDING_PROVIDER=ollama (or openai/azure/gemini/hash) to be explicit"),
		)
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model such as nomic-embed-text or text-embedding-3-small"),
		)
	}
	return nil
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
