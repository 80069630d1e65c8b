// Package ingestion implements the document ingestion pipeline. It walks
// paths with glob filters, reads text-like files and ticket exports, chunks
// the content, embeds each chunk in batches, and writes vectors to the vector
// store before recording file and chunk metadata in the metadata store.
// This pipeline is invoked by the `ragstore ingest` CLI command.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/schollz/progressbar/v3"

	"github.com/54b3r/ragstore-go/internal/record"
)

// Embedder converts texts into dense vectors, one per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorWriter appends vectors with their metadata and returns their ids.
type VectorWriter interface {
	AddVectors(ctx context.Context, vecs [][]float32, metas []map[string]any) ([]int64, error)
}

// MetadataWriter records file and chunk metadata.
type MetadataWriter interface {
	AddFileMetadata(ctx context.Context, path string, fields map[string]any) (string, error)
	AddChunkMetadata(ctx context.Context, fields map[string]any) (string, error)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to 100 if zero.
	ChunkOverlap int

	// BatchSize is the number of chunks sent to the embedder per call.
	// Defaults to 32 if zero.
	BatchSize int

	// Include and Exclude are doublestar patterns applied to directory
	// arguments. Include defaults to "**/*".
	Include []string
	Exclude []string

	// Progress, when set, receives a progress bar.
	Progress io.Writer
}

// ConfigFromEnv reads INGEST_CHUNK_SIZE, INGEST_CHUNK_OVERLAP and
// INGEST_BATCH_SIZE.
func ConfigFromEnv() *Config {
	return &Config{
		ChunkSize:    getEnvInt("INGEST_CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("INGEST_CHUNK_OVERLAP", 0),
		BatchSize:    getEnvInt("INGEST_BATCH_SIZE", 0),
	}
}

// Skipped is a file the pipeline did not ingest.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report summarises an Ingest run.
type Report struct {
	Files   int       `json:"files"`
	Chunks  int       `json:"chunks"`
	Skipped []Skipped `json:"skipped"`
}

// Pipeline orchestrates the read → chunk → embed → store flow.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder Embedder

	// vectors persists the embedded chunks.
	vectors VectorWriter

	// meta records file and chunk metadata keyed by vector id.
	meta MetadataWriter

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	walker *walker
	log    *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder Embedder, vectors VectorWriter, meta MetadataWriter, cfg *Config, log *slog.Logger) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	}
	if meta == nil {
		return nil, fmt.Errorf("ingestion: metadata store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 100
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if log == nil {
		log = slog.Default()
	}

	w, err := newWalker(cfg.Include, cfg.Exclude)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		cfg:      cfg,
		walker:   w,
		log:      log.With(slog.String("component", "ingestion")),
	}, nil
}

// Ingest reads every file under paths and stores its chunks. Unreadable or
// unsupported files are skipped and reported. Embedding and storage errors
// abort the run; the report then covers the files completed so far.
func (p *Pipeline) Ingest(ctx context.Context, paths []string) (Report, error) {
	rep := Report{Skipped: []Skipped{}}

	files, err := p.walker.collect(paths)
	if err != nil {
		return rep, err
	}
	p.log.Info("ingest started", slog.Int("files", len(files)))

	var bar *progressbar.ProgressBar
	if p.cfg.Progress != nil {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(p.cfg.Progress),
			progressbar.OptionSetDescription("ingesting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.cfg.Progress) }),
		)
	}

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := p.ingestFile(ctx, path)
		switch {
		case errors.Is(err, errSkip):
			rep.Skipped = append(rep.Skipped, Skipped{Path: path, Reason: skipReason(err)})
			p.log.Warn("file skipped", slog.String("path", path), slog.String("reason", skipReason(err)))
		case err != nil:
			return rep, fmt.Errorf("ingestion: %s: %w", path, err)
		default:
			rep.Files++
			rep.Chunks += n
			p.log.Debug("file ingested", slog.String("path", path), slog.Int("chunks", n))
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	p.log.Info("ingest finished",
		slog.Int("files", rep.Files),
		slog.Int("chunks", rep.Chunks),
		slog.Int("skipped", len(rep.Skipped)),
	)
	return rep, nil
}

// errSkip marks per-file failures that do not abort the run.
var errSkip = errors.New("skip")

type skipError struct{ reason string }

func (e skipError) Error() string   { return e.reason }
func (e skipError) Is(t error) bool { return t == errSkip }

func skip(format string, a ...any) error {
	return skipError{reason: fmt.Sprintf(format, a...)}
}

func skipReason(err error) string {
	var se skipError
	if errors.As(err, &se) {
		return se.reason
	}
	return err.Error()
}

// pending is a chunk waiting for its vector id.
type pending struct {
	text   string
	fields record.Fields
}

// ingestFile stores one file and returns its chunk count.
func (p *Pipeline) ingestFile(ctx context.Context, path string) (int, error) {
	src := InferSource(path)
	if !src.Supported {
		return 0, skip("unsupported format %s", src.SourceType)
	}
	docs, err := ReadDocuments(path, src)
	if err != nil {
		return 0, skip("%v", err)
	}

	var chunks []pending
	for _, d := range docs {
		for i, text := range Chunk(d.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap) {
			f := record.Fields{
				record.KeyDocID:      src.DocID,
				record.KeyFilename:   src.Filename,
				record.KeySourceType: src.SourceType,
				record.KeyPageNumber: d.PageNumber,
				record.KeyChunkIndex: i,
				record.KeyText:       text,
			}
			f.Merge(d.Fields)
			chunks = append(chunks, pending{text: text, fields: f})
		}
	}
	if len(chunks) == 0 {
		return 0, skip("no text content")
	}

	ids := make([]int64, 0, len(chunks))
	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		batch := chunks[start:min(start+p.cfg.BatchSize, len(chunks))]
		texts := make([]string, len(batch))
		metas := make([]map[string]any, len(batch))
		for i, c := range batch {
			texts[i] = c.text
			metas[i] = c.fields
		}
		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed: %w", err)
		}
		got, err := p.vectors.AddVectors(ctx, vecs, metas)
		if err != nil {
			return 0, fmt.Errorf("add vectors: %w", err)
		}
		ids = append(ids, got...)
	}

	fileID, err := p.meta.AddFileMetadata(ctx, path, map[string]any{
		record.KeyDocID:      src.DocID,
		record.KeyFilename:   src.Filename,
		record.KeySourceType: src.SourceType,
		"document_count":     len(docs),
	})
	if err != nil {
		return 0, fmt.Errorf("add file metadata: %w", err)
	}
	for i, c := range chunks {
		f := c.fields.Clone()
		f[record.KeyVectorID] = ids[i]
		f[record.KeyFileID] = fileID
		if _, err := p.meta.AddChunkMetadata(ctx, f); err != nil {
			return 0, fmt.Errorf("add chunk metadata: %w", err)
		}
	}
	return len(chunks), nil
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if unset or unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
