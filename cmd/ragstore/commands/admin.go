package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragstore-go/internal/logging"
	"github.com/54b3r/ragstore-go/internal/record"
	"github.com/54b3r/ragstore-go/internal/vectorstore"
)

// confirm asks the user to approve a destructive operation unless yes is set.
func confirm(yes bool, message string) (bool, error) {
	if yes {
		return true, nil
	}
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: message, Default: false}, &ok); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}

// NewStatsCmd constructs the `ragstore stats` command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vector and metadata store counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, nil, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = st.Close() }()

			vs, err := st.vectors.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			files, err := st.meta.GetAllFiles(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			var chunks int64
			for _, f := range files {
				n, _ := f.Int(record.KeyChunkCount)
				chunks += n
			}

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			bold.Fprintln(out, "Vector store")
			fmt.Fprintf(out, "  backend:    %s (dimension %d)\n", vs.Backend, vs.Dimension)
			fmt.Fprintf(out, "  vectors:    %d active, %d deleted, %d total\n", vs.ActiveVectors, vs.DeletedVectors, vs.TotalVectors)
			fmt.Fprintf(out, "  disk:       %d bytes\n", vs.DiskBytes)
			if !vs.LastSaved.IsZero() {
				fmt.Fprintf(out, "  last saved: %s\n", vs.LastSaved.Format("2006-01-02 15:04:05Z07:00"))
			}
			bold.Fprintln(out, "Metadata store")
			fmt.Fprintf(out, "  files:      %d\n", len(files))
			fmt.Fprintf(out, "  chunks:     %d\n", chunks)
			return nil
		},
	}
}

// NewFilesCmd constructs the `ragstore files` command.
func NewFilesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "files",
		Short: "List ingested files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, nil, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("files: %w", err)
			}
			defer func() { _ = st.Close() }()

			files, err := st.meta.GetAllFiles(ctx)
			if err != nil {
				return fmt.Errorf("files: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(files) //nolint:wrapcheck // returned straight to cobra
			}
			for _, f := range files {
				n, _ := f.Int(record.KeyChunkCount)
				fmt.Fprintf(out, "%-24s %-10s %4d chunks  %s\n",
					f.String(record.KeyDocID), f.String(record.KeySourceType), n, f.String(record.KeyPath))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print file records as JSON")
	return cmd
}

// NewDeleteCmd constructs the `ragstore delete` command, which soft-deletes
// vectors and flags their chunk records.
func NewDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <vector-id>...",
		Short: "Soft-delete vectors by id",
		Long: `Soft-delete vectors so they no longer appear in search results, and flag the
matching chunk records as deleted. Run 'ragstore compact' to reclaim space.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("delete: invalid vector id %q", a)
				}
				ids = append(ids, id)
			}
			ok, err := confirm(yes, fmt.Sprintf("Delete %d vectors?", len(ids)))
			if err != nil || !ok {
				return err
			}

			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			st, err := openStores(ctx, nil, log)
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer func() { _ = st.Close() }()

			if err := st.vectors.DeleteVectors(ctx, ids); err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			n, err := st.meta.DeleteByVectorIDs(ctx, ids)
			if err != nil {
				return fmt.Errorf("delete: vectors deleted but metadata update failed: %w", err)
			}
			log.Info("vectors deleted", slog.Int("requested", len(ids)), slog.Int("metadata_updated", n))
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d vectors (%d chunk records flagged)\n", len(ids), n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// NewBackupCmd constructs the `ragstore backup` command.
func NewBackupCmd() *cobra.Command {
	var dir string
	var list bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the vector store, or list snapshots",
		Long: `Save the vector store and copy its index and mapping into a timestamped
snapshot directory (default: VECTOR_STORE_BACKUP_DIR or <store dir>/backups).

Examples:
  ragstore backup
  ragstore backup --list
  ragstore backup --dir /mnt/backups/ragstore`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, nil, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			defer func() { _ = st.Close() }()

			out := cmd.OutOrStdout()
			if list {
				names, err := st.vectors.ListBackups(dir)
				if err != nil {
					return fmt.Errorf("backup: %w", err)
				}
				for _, n := range names {
					fmt.Fprintln(out, n)
				}
				return nil
			}

			snap, err := st.vectors.Backup(ctx, dir)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			color.New(color.FgGreen).Fprintf(out, "Snapshot written to %s\n", snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Snapshot directory (default: configured backup dir)")
	cmd.Flags().BoolVar(&list, "list", false, "List snapshots, newest first")
	return cmd
}

// NewRestoreCmd constructs the `ragstore restore` command.
func NewRestoreCmd() *cobra.Command {
	var dir string
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the vector store from the newest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(yes, "Replace the live vector store with the newest snapshot?")
			if err != nil || !ok {
				return err
			}

			ctx := cmd.Context()
			st, err := openStores(ctx, nil, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			defer func() { _ = st.Close() }()

			snap, err := st.vectors.Restore(ctx, dir)
			if errors.Is(err, vectorstore.ErrNoBackup) {
				return fmt.Errorf("restore: no complete snapshot found")
			}
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Restored from %s\n", snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Snapshot directory (default: configured backup dir)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

// NewCompactCmd constructs the `ragstore compact` command.
func NewCompactCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Remove soft-deleted vectors from the index",
		Long: `Rebuild the index without soft-deleted vectors. Surviving vectors keep their
ids. Take a backup first; a failed rebuild is recovered with 'ragstore restore'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := confirm(yes, "Compact the vector store?")
			if err != nil || !ok {
				return err
			}

			ctx := cmd.Context()
			st, err := openStores(ctx, nil, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			defer func() { _ = st.Close() }()

			res, err := st.vectors.Compact(ctx)
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d vectors, kept %d\n", res.Removed, res.Kept)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
