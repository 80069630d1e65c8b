package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// Defaults for Options.
const (
	DefaultMaxResults     = 5
	DefaultContextSources = 3
	DefaultSourceChars    = 300
)

// Fixed response texts.
const (
	// NoResultsMessage is returned when the search finds nothing.
	NoResultsMessage = "No relevant information found for your query."
	// GenerationFailedMessage is returned with the raw sources when the
	// generator fails.
	GenerationFailedMessage = "Unable to generate an answer; returning the retrieved sources."
	// errorPrefix starts every stage-failure response.
	errorPrefix = "Error processing query: "
)

// Request is one query.
type Request struct {
	// Query is the natural-language question.
	Query string `json:"query"`
	// MaxResults bounds the number of sources; 0 selects the engine default.
	MaxResults int `json:"max_results,omitempty"`
}

// Diversity describes how many distinct documents and source types a result
// set draws from.
type Diversity struct {
	UniqueDocuments   int     `json:"unique_documents"`
	UniqueSourceTypes int     `json:"unique_source_types"`
	DiversityIndex    float64 `json:"diversity_index"`
}

// Response is the outcome of a query. Results is never nil so it always
// encodes as a JSON array.
type Response struct {
	Query            string                     `json:"query"`
	Response         string                     `json:"response"`
	Results          []vectorstore.SearchResult `json:"results"`
	TotalResults     int                        `json:"total_results"`
	Diversity        Diversity                  `json:"diversity_metrics"`
	Confidence       float64                    `json:"confidence"`
	Error            string                     `json:"error,omitempty"`
	ProcessingTimeMS int64                      `json:"processing_time_ms"`
}

// Failed reports whether a stage failed before any source was found.
func (r Response) Failed() bool {
	return r.Error != "" && r.TotalResults == 0
}

func errorResponse(err error) Response {
	return Response{
		Response: errorPrefix + err.Error(),
		Results:  []vectorstore.SearchResult{},
		Error:    err.Error(),
	}
}

func noResultsResponse() Response {
	return Response{
		Response: NoResultsMessage,
		Results:  []vectorstore.SearchResult{},
	}
}

// ComputeDiversity counts distinct doc_id and source_type values. Empty
// values count as their own bucket so orphans and untyped chunks are not
// ignored. The index is unique documents over max(1, n), so it lies in [0, 1].
func ComputeDiversity(results []vectorstore.SearchResult) Diversity {
	docs := make(map[string]struct{}, len(results))
	types := make(map[string]struct{}, len(results))
	for _, r := range results {
		docs[r.DocID()] = struct{}{}
		types[r.SourceType()] = struct{}{}
	}
	return Diversity{
		UniqueDocuments:   len(docs),
		UniqueSourceTypes: len(types),
		DiversityIndex:    float64(len(docs)) / float64(max(1, len(results))),
	}
}

// Confidence is the mean similarity score of results, 0 for none.
func Confidence(results []vectorstore.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += float64(r.SimilarityScore)
	}
	return sum / float64(len(results))
}

// BuildContext renders the first n results as numbered sources, each text
// cut to chars runes.
func BuildContext(results []vectorstore.SearchResult, n, chars int) string {
	var b strings.Builder
	for i, r := range results[:min(n, len(results))] {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Source %d (Document: %s, ID: %s): %s",
			i+1, sourceName(r), sourceID(r), truncate(r.Text(), chars))
	}
	return b.String()
}

// sourceName prefers the doc_id and falls back to the filename.
func sourceName(r vectorstore.SearchResult) string {
	if id := r.DocID(); id != "" {
		return id
	}
	if name := r.Filename(); name != "" {
		return name
	}
	return vectorstore.UnknownDocID
}

func sourceID(r vectorstore.SearchResult) string {
	if r.Orphan {
		return vectorstore.UnknownDocID
	}
	return strconv.FormatInt(r.VectorID, 10)
}

// truncate cuts s to at most n runes, appending "..." when it cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

const promptTemplate = `Answer the question using ONLY the sources below.
Cite every fact with its source number, e.g. [Source 1].
If the sources do not contain the answer, say that you could not find it in the available documents.

%s

Question: %s
Answer:`

// BuildPrompt renders the generator prompt for query over the rendered
// sources.
func BuildPrompt(query, sources string) string {
	return fmt.Sprintf(promptTemplate, sources, strings.TrimSpace(query))
}

// FilterByThreshold drops results scoring below threshold, keeping order. A
// threshold at or below -1 keeps everything.
func FilterByThreshold(results []vectorstore.SearchResult, threshold float64) []vectorstore.SearchResult {
	if threshold <= -1 {
		return results
	}
	out := make([]vectorstore.SearchResult, 0, len(results))
	for _, r := range results {
		if float64(r.SimilarityScore) >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// thresholdSearcher drops low-scoring hits before the engine sees them.
type thresholdSearcher struct {
	Searcher
	threshold float64
}

func (s thresholdSearcher) SearchWithMetadata(ctx context.Context, q []float32, k int) ([]vectorstore.SearchResult, error) {
	results, err := s.Searcher.SearchWithMetadata(ctx, q, k)
	if err != nil {
		return nil, err
	}
	return FilterByThreshold(results, s.threshold), nil
}

// WithThreshold wraps s so that results below threshold are dropped. The
// caller that owns the similarity_threshold setting wraps the store with it
// when building an Engine; a threshold at or below -1 returns s unchanged.
func WithThreshold(s Searcher, threshold float64) Searcher {
	if threshold <= -1 {
		return s
	}
	return thresholdSearcher{Searcher: s, threshold: threshold}
}
