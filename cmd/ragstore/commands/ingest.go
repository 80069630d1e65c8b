package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragstore-go/internal/ingestion"
	"github.com/54b3r/ragstore-go/internal/logging"
)

// NewIngestCmd constructs the `ragstore ingest` command, which reads, chunks
// and embeds files into the vector and metadata stores.
func NewIngestCmd() *cobra.Command {
	var chunkSize, chunkOverlap, batchSize int
	var include, exclude []string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest files and directories into the knowledge store",
		Long: `Read, chunk and embed documents into the vector store, and record file and
chunk metadata in the metadata store.

Directories are walked recursively; hidden directories are skipped. Supported
inputs are Markdown, plain text, logs, CSV and JSON ticket exports (an array of
tickets, or an object with a "records" or "result" array). Files with an
unsupported format are reported as skipped.

Document ids come from ticket or KB numbers in the file name when present
(e.g. INC0012345), otherwise from the file name itself.

Examples:
  ragstore ingest ./docs
  ragstore ingest --include '**/*.md' --exclude 'drafts/**' ./kb
  ragstore ingest exports/incidents.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			st, err := openStores(ctx, nil, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			cfg := ingestion.ConfigFromEnv()
			if cmd.Flags().Changed("chunk-size") {
				cfg.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("chunk-overlap") {
				cfg.ChunkOverlap = chunkOverlap
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.BatchSize = batchSize
			}
			cfg.Include = include
			cfg.Exclude = exclude
			if !quiet {
				cfg.Progress = os.Stderr
			}

			pipeline, err := ingestion.NewPipeline(st.emb, st.vectors, st.meta, cfg, log)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("paths", len(args)))
			report, err := pipeline.Ingest(ctx, args)
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen, color.Bold).Fprintf(out, "Ingested %d files (%d chunks)\n", report.Files, report.Chunks)
			if len(report.Skipped) > 0 {
				yellow := color.New(color.FgYellow)
				yellow.Fprintf(out, "Skipped %d files:\n", len(report.Skipped))
				for _, s := range report.Skipped {
					fmt.Fprintf(out, "  %s: %s\n", s.Path, s.Reason)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 1000, "Maximum characters per chunk")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 100, "Characters shared by consecutive chunks")
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "Chunks per embedding request")
	cmd.Flags().StringArrayVar(&include, "include", nil, "Doublestar pattern of files to ingest from directories (repeatable)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", nil, "Doublestar pattern of files or directories to skip (repeatable)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not draw a progress bar")

	return cmd
}
