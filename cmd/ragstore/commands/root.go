// Package commands defines all Cobra CLI commands for the ragstore binary.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/54b3r/ragstore-go/internal/audit"
	"github.com/54b3r/ragstore-go/internal/config"
	"github.com/54b3r/ragstore-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragstore",
		Short: "ragstore: a local knowledge store with grounded answers",
		Long: `ragstore indexes documents, knowledge-base articles and ticket exports into a
persistent vector store and answers natural-language questions over them,
citing the sources it used.

Storage, embedding and model backends are selected via environment variables
or a YAML config file (~/.ragstore/config.yaml).
See 'ragstore --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			var flags []string
			cmd.Flags().Visit(func(f *pflag.Flag) { flags = append(flags, f.Name) })
			audit.LogCommandStart(cmd.Context(), log, cmd.CommandPath(), loadedConfigPath, flags)

			// Re-create the logger so LOG_LEVEL/LOG_FORMAT from YAML apply.
			cmd.SetContext(logging.WithLogger(cmd.Context(), logging.New()))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragstore/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewQueryCmd(),
		NewServeCmd(),
		NewStatsCmd(),
		NewFilesCmd(),
		NewDeleteCmd(),
		NewBackupCmd(),
		NewRestoreCmd(),
		NewCompactCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
