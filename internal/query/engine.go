// Package query turns a natural-language question into a grounded answer.
//
// Each call to [Engine.ProcessQuery] runs Embed → Search → Resolve → Score →
// Synthesize and always returns a well-formed [Response]; failures are
// reported in the response, never as a Go error, so an HTTP or CLI layer can
// render any outcome uniformly. No state is kept between queries.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/ragstore-go/internal/record"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// Embedder converts text into dense vector embeddings.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher runs a similarity search and returns flat, metadata-joined hits.
// *vectorstore.Store satisfies it.
type Searcher interface {
	SearchWithMetadata(ctx context.Context, query []float32, k int) ([]vectorstore.SearchResult, error)
}

// Resolver looks up the full chunk record for a vector id, returning
// (nil, nil) when there is none. metastore.Store satisfies it.
type Resolver interface {
	GetMetadataByVectorID(ctx context.Context, vectorID int64) (record.Fields, error)
}

// Generator produces an answer from a fully rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyQuery is reported when the query text is blank.
var ErrEmptyQuery = errors.New("query: empty query")

// enrichKeys are the fields a result must carry before it is used; results
// missing any of them are completed from the Resolver.
var enrichKeys = []string{record.KeyDocID, record.KeyFilename, record.KeyText, record.KeySourceType}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// MaxResults is used when a Request does not set one. Default 5.
	MaxResults int
	// ContextSources is how many top results go into the prompt. Default 3.
	ContextSources int
	// SourceChars caps each source's text in the prompt. Default 300.
	SourceChars int
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.ContextSources <= 0 {
		o.ContextSources = DefaultContextSources
	}
	if o.SourceChars <= 0 {
		o.SourceChars = DefaultSourceChars
	}
	return o
}

// Engine answers queries against a vector store. It is safe for concurrent
// use as long as its collaborators are.
type Engine struct {
	retriever *Retriever
	resolver  Resolver
	generator Generator
	opts      Options
	log       *slog.Logger
}

// New constructs an Engine. resolver may be nil, in which case results are
// used exactly as the Searcher returns them.
func New(emb Embedder, searcher Searcher, resolver Resolver, gen Generator, opts Options, log *slog.Logger) (*Engine, error) {
	if gen == nil {
		return nil, fmt.Errorf("query: generator must not be nil")
	}
	opts = opts.withDefaults()
	retriever, err := NewRetriever(emb, searcher, opts.MaxResults)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		retriever: retriever,
		resolver:  resolver,
		generator: gen,
		opts:      opts,
		log:       log.With(slog.String("component", "query")),
	}, nil
}

// ProcessQuery answers req. It never returns an error: a failing stage yields
// a Response whose Response text starts with "Error processing query:" and
// whose Error field holds the cause.
func (e *Engine) ProcessQuery(ctx context.Context, req Request) Response {
	start := time.Now()
	resp := e.process(ctx, req)
	resp.Query = req.Query
	resp.ProcessingTimeMS = time.Since(start).Milliseconds()
	return resp
}

func (e *Engine) process(ctx context.Context, req Request) Response {
	if strings.TrimSpace(req.Query) == "" {
		return errorResponse(ErrEmptyQuery)
	}
	k := req.MaxResults
	if k <= 0 {
		k = e.opts.MaxResults
	}

	results, err := e.retriever.Retrieve(ctx, req.Query, k)
	if err != nil {
		e.log.Error("query failed", slog.String("stage", "search"), slog.String("error", err.Error()))
		return errorResponse(err)
	}
	if len(results) == 0 {
		e.log.Info("query returned no results", slog.Int("k", k))
		return noResultsResponse()
	}

	if err := e.resolve(ctx, results); err != nil {
		e.log.Error("query failed", slog.String("stage", "resolve"), slog.String("error", err.Error()))
		return errorResponse(err)
	}

	resp := Response{
		Results:      results,
		TotalResults: len(results),
		Diversity:    ComputeDiversity(results),
		Confidence:   Confidence(results),
	}

	prompt := BuildPrompt(req.Query, BuildContext(results, e.opts.ContextSources, e.opts.SourceChars))
	answer, err := e.generator.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("query: generator returned an empty answer")
	}
	if err != nil {
		e.log.Warn("answer generation failed; returning sources",
			slog.String("error", err.Error()),
			slog.Int("results", len(results)),
		)
		resp.Response = GenerationFailedMessage
		resp.Error = err.Error()
		return resp
	}

	e.log.Info("query answered",
		slog.Int("results", len(results)),
		slog.Int("unique_documents", resp.Diversity.UniqueDocuments),
		slog.Float64("confidence", resp.Confidence),
	)
	resp.Response = answer
	return resp
}

// resolve completes results that lack any enrich key from the Resolver.
// Existing values always win; the merged record is re-flattened.
func (e *Engine) resolve(ctx context.Context, results []vectorstore.SearchResult) error {
	if e.resolver == nil {
		return nil
	}
	for i := range results {
		r := &results[i]
		if r.Orphan || !missingAny(r.Fields) {
			continue
		}
		meta, err := e.resolver.GetMetadataByVectorID(ctx, r.VectorID)
		if err != nil {
			return fmt.Errorf("query: resolve vector %d: %w", r.VectorID, err)
		}
		if meta == nil {
			continue
		}
		if r.Fields == nil {
			r.Fields = record.Fields{}
		}
		if n := r.Fields.Fill(meta); n > 0 {
			e.log.Debug("result enriched from metadata store",
				slog.Int64("vector_id", r.VectorID),
				slog.Int("fields", n),
			)
		}
		r.Fields = record.Flatten(r.Fields)
	}
	return nil
}

func missingAny(f record.Fields) bool {
	for _, k := range enrichKeys {
		if f.String(k) == "" {
			return true
		}
	}
	return false
}
