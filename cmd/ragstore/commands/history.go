package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragstore-go/internal/history"
)

// errHistoryDisabled is returned by historyPath when RAGSTORE_HISTORY_DB is
// "disabled".
var errHistoryDisabled = errors.New("history: disabled via RAGSTORE_HISTORY_DB=disabled")

// historyPath resolves RAGSTORE_HISTORY_DB, defaulting to
// ~/.ragstore/history.db.
func historyPath() (string, error) {
	path := os.Getenv("RAGSTORE_HISTORY_DB")
	if path == "disabled" {
		return "", errHistoryDisabled
	}
	if path == "" {
		return history.DefaultDBPath() //nolint:wrapcheck // already prefixed
	}
	return path, nil
}

// openHistory opens the query history database, or returns nil when it is
// disabled or cannot be opened. History is never required to serve.
func openHistory(log *slog.Logger) *history.SQLiteStore {
	path, err := historyPath()
	if errors.Is(err, errHistoryDisabled) {
		log.Info(err.Error())
		return nil
	}
	if err != nil {
		log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
		return nil
	}
	hs, err := history.Open(path)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("history: store opened", slog.String("path", path))
	return hs
}

// NewHistoryCmd constructs the `ragstore history` command, which lists the
// queries recorded by the server.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently answered queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := historyPath()
			if err != nil {
				return err
			}
			hs, err := history.Open(path)
			if err != nil {
				return err //nolint:wrapcheck // already prefixed
			}
			defer func() { _ = hs.Close() }()

			entries, err := hs.Recent(cmd.Context(), limit)
			if err != nil {
				return err //nolint:wrapcheck // already prefixed
			}

			out := cmd.OutOrStdout()
			dim := color.New(color.Faint)
			for _, e := range entries {
				dim.Fprintf(out, "%s  ", e.CreatedAt.Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "%-10s %2d sources  %s\n", outcomeColor(e.Outcome), e.TotalResults, e.Query)
				if e.Error != "" {
					dim.Fprintf(out, "                     %s\n", e.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}

// outcomeColor colours a query outcome for terminal output.
func outcomeColor(outcome string) string {
	switch outcome {
	case "ok":
		return color.GreenString(outcome)
	case "error":
		return color.RedString(outcome)
	default:
		return color.YellowString(outcome)
	}
}
