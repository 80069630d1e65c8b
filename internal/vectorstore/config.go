package vectorstore

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Default file names inside Config.Dir.
const (
	defaultIndexFile   = "index.bin"
	defaultMappingFile = "mapping.json"
	defaultBackupDir   = "backups"
)

// ChromemConfig holds settings for the chromem-go index backend.
type ChromemConfig struct {
	// Collection is the chromem collection name (default: ragstore).
	Collection string
}

// Config holds all parameters needed to open a Store.
type Config struct {
	// Dir is the directory holding the index and mapping files.
	Dir string

	// Dimension is the fixed vector dimension for the store.
	Dimension int

	// Backend selects the similarity index: flat (default), chromem or qdrant.
	Backend string

	// IndexFile is the index file name inside Dir (default depends on backend).
	IndexFile string

	// MappingFile is the mapping file name inside Dir (default: mapping.json).
	MappingFile string

	// BackupDir is where Backup writes snapshots (default: <Dir>/backups).
	BackupDir string

	// Qdrant holds connection settings when Backend is qdrant.
	Qdrant QdrantConfig

	// Chromem holds settings when Backend is chromem.
	Chromem ChromemConfig

	// Registerer receives the store's metrics. Nil disables registration.
	Registerer prometheus.Registerer
}

// ConfigFromEnv builds a Config from environment variables:
//
//	VECTOR_STORE_BACKEND    flat | chromem | qdrant (default: flat)
//	VECTOR_STORE_DIR        storage directory (default: ~/.ragstore/vectors)
//	VECTOR_STORE_DIMENSION  vector dimension (default: dim argument)
//	VECTOR_STORE_BACKUP_DIR snapshot directory (default: <dir>/backups)
//	QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY, QDRANT_TLS
//	CHROMEM_COLLECTION
func ConfigFromEnv(dim int) Config {
	dir := os.Getenv("VECTOR_STORE_DIR")
	if dir == "" {
		dir = defaultDataDir("vectors")
	}
	return Config{
		Dir:       dir,
		Dimension: getEnvInt("VECTOR_STORE_DIMENSION", dim),
		Backend:   getEnvOrDefault("VECTOR_STORE_BACKEND", BackendFlat),
		BackupDir: os.Getenv("VECTOR_STORE_BACKUP_DIR"),
		Qdrant: QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "ragstore"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		},
		Chromem: ChromemConfig{
			Collection: getEnvOrDefault("CHROMEM_COLLECTION", defaultChromemCollection),
		},
	}
}

// withDefaults returns a copy of cfg with empty file names filled in.
func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendFlat
	}
	if c.IndexFile == "" {
		switch c.Backend {
		case BackendChromem:
			c.IndexFile = "index.gob"
		case BackendQdrant:
			c.IndexFile = "index.qdrant.json"
		default:
			c.IndexFile = defaultIndexFile
		}
	}
	if c.MappingFile == "" {
		c.MappingFile = defaultMappingFile
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.Dir, defaultBackupDir)
	}
	return c
}

// IndexPath returns the absolute-or-relative path of the index file.
func (c Config) IndexPath() string {
	c = c.withDefaults()
	return filepath.Join(c.Dir, c.IndexFile)
}

// MappingPath returns the path of the mapping file.
func (c Config) MappingPath() string {
	c = c.withDefaults()
	return filepath.Join(c.Dir, c.MappingFile)
}

// defaultDataDir returns ~/.ragstore/<name>, or ./.ragstore/<name> if the home
// directory cannot be resolved.
func defaultDataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".ragstore", name)
	}
	return filepath.Join(home, ".ragstore", name)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
