// Package cli implements the querycache maintenance command line interface.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rshade/querycache/internal/logging"
)

// EnvStoreDir overrides the default store directory.
const EnvStoreDir = "QUERYCACHE_DIR"

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the querycache CLI. It wires
// up logging and the store maintenance subcommands.
func NewRootCmd(ver string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "querycache",
		Short:   "querycache store maintenance",
		Long:    "Inspect and maintain the querycache persistent file store",
		Version: ver,
		Example: rootCmdExample,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd)
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "", "log format (console, json)")
	cmd.AddCommand(newStoreCmd())

	return cmd
}

const rootCmdExample = `  # Summarize the store
  querycache store status

  # List entries in a specific directory
  querycache store list --dir /var/cache/querycache

  # List only expired entries as JSON
  querycache store list --expired --json

  # Remove expired entries
  querycache store clean

  # Remove everything
  querycache store clean --all`

// setupLogging configures the package logger from environment variables and
// CLI flags; flags win.
func setupLogging(cmd *cobra.Command) error {
	cfg := logging.Config{
		Level:  os.Getenv(logging.EnvLogLevel),
		Format: os.Getenv(logging.EnvLogFormat),
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Format = format
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Level = "debug"
		cfg.Format = logging.FormatConsole
	}

	base, err := logging.New(cfg)
	if err != nil {
		return err
	}
	logger = logging.ComponentLogger(base, "cli")
	cmd.SetContext(logging.WithContext(cmd.Context(), logger))

	logger.Debug().Str("command", cmd.Name()).Msg("command started")
	return nil
}

// newStoreCmd creates the store command group with maintenance subcommands.
func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "store", Short: "File store maintenance commands"}
	cmd.AddCommand(NewStoreStatusCmd(), NewStoreListCmd(), NewStoreCleanCmd())
	return cmd
}

// resolveStoreDir picks the store directory: the --dir flag, then
// QUERYCACHE_DIR, then a querycache directory under the user cache dir.
func resolveStoreDir(flagDir string) (string, error) {
	if flagDir != "" {
		return flagDir, nil
	}
	if envDir := os.Getenv(EnvStoreDir); envDir != "" {
		return envDir, nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache directory: %w", err)
	}
	return filepath.Join(base, "querycache"), nil
}

// storeDirExists reports whether the resolved store directory is present.
// The maintenance commands treat a missing directory as an empty store
// rather than an error.
func storeDirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
