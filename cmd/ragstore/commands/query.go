package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/provider"
	"github.com/54b3r/ragstore-go/internal/query"
	"github.com/54b3r/ragstore-go/internal/tracing"
)

// NewQueryCmd constructs the `ragstore query` command, which answers a single
// question from the knowledge store and prints the sources it used.
func NewQueryCmd() *cobra.Command {
	var maxResults int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a question against the knowledge store",
		Long: `Embed the question, retrieve the most similar chunks and generate an answer
that cites them as [Source N].

If the model cannot be reached the retrieved sources are still printed.

Examples:
  ragstore query "why does the VPN drop after sleep?"
  ragstore query --max-results 10 "printer offline on floor two"
  ragstore query --json "password reset procedure" | jq .results`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush := tracing.Setup(tracing.ConfigFromEnv(), log)
			defer flush()

			st, err := openStores(ctx, nil, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer func() { _ = st.Close() }()

			engine, err := buildEngine(ctx, st, provider.ConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			resp := engine.ProcessQuery(ctx, query.Request{Query: args[0], MaxResults: maxResults})
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("query: encode response: %w", err)
				}
			} else {
				printResponse(cmd.OutOrStdout(), resp)
			}
			if resp.Failed() {
				return fmt.Errorf("query: %s", resp.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxResults, "max-results", "k", 0, "Maximum number of sources (default: QUERY_MAX_RESULTS or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")

	return cmd
}

// printResponse renders resp for a terminal.
func printResponse(w io.Writer, resp query.Response) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	fmt.Fprintln(w, resp.Response)
	if resp.Error != "" && !resp.Failed() {
		color.New(color.FgYellow).Fprintf(w, "\nwarning: %s\n", resp.Error)
	}
	if len(resp.Results) == 0 {
		return
	}

	bold.Fprintf(w, "\nSources (%d):\n", resp.TotalResults)
	for i, r := range resp.Results {
		name := r.DocID()
		if name == "" {
			name = r.Filename()
		}
		fmt.Fprintf(w, "  [%d] %s", i+1, color.CyanString(name))
		dim.Fprintf(w, "  score=%.3f id=%d type=%s\n", r.SimilarityScore, r.VectorID, r.SourceType())
	}
	dim.Fprintf(w, "\nconfidence=%.3f unique_documents=%d diversity=%.2f time=%dms\n",
		resp.Confidence, resp.Diversity.UniqueDocuments, resp.Diversity.DiversityIndex, resp.ProcessingTimeMS)
}
