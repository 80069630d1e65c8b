// Package audit writes one structured record per CLI invocation: the
// command, its explicitly set flags, the config file and the environment
// that shaped it. Secret values are reduced to "set" or "unset".
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// envGroups are the variables recorded for each concern, in log order.
var envGroups = []struct {
	name string
	keys []string
}{
	{"model", []string{
		"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "OPENAI_API_KEY", "OPENAI_MODEL",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
		"GOOGLE_API_KEY", "GEMINI_MODEL", "AWS_REGION", "BEDROCK_MODEL_ID",
		"AWS_BEARER_TOKEN_BEDROCK", "ARK_API_KEY", "ARK_MODEL",
	}},
	{"embedding", []string{"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_DIMENSIONS"}},
	{"storage", []string{
		"VECTOR_STORE_BACKEND", "VECTOR_STORE_DIR", "QDRANT_HOST", "QDRANT_COLLECTION", "QDRANT_API_KEY",
		"METADATA_BACKEND", "METADATA_DIR",
	}},
	{"query", []string{"QUERY_MAX_RESULTS", "QUERY_SIMILARITY_THRESHOLD", "QUERY_MAX_CONTEXT_TOKENS"}},
	{"server", []string{"RAGSTORE_API_KEY", "RAGSTORE_HISTORY_DB"}},
	{"observability", []string{"LOG_LEVEL", "LOG_FORMAT", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY"}},
}

// secretSuffixes mark variables whose values never reach the log.
var secretSuffixes = []string{"_API_KEY", "_SECRET_KEY", "_PUBLIC_KEY", "_TOKEN", "_TOKEN_BEDROCK", "_PASSWORD"}

// IsSecret reports whether the variable named key holds a credential.
func IsSecret(key string) bool {
	for _, s := range secretSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// Redact renders value for the log: "set"/"unset" for secrets, the value
// itself otherwise, "unset" when empty.
func Redact(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case IsSecret(key):
		return "set"
	}
	return value
}

// LogCommandStart records the start of command. flags holds the names of
// flags the user set explicitly.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string, flags []string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	}
	if len(flags) > 0 {
		attrs = append(attrs, slog.Any("flags", flags))
	}
	for _, g := range envGroups {
		env := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			env = append(env, slog.String(k, Redact(k, os.Getenv(k))))
		}
		attrs = append(attrs, slog.Group(g.name, env...))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// displayPath shortens the home directory to ~ and reports "none" for an
// empty path.
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home+string(os.PathSeparator)) {
		return "~" + p[len(home):]
	}
	return p
}
