package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/pacache/internal/config"
	"github.com/blackwell-systems/pacache/internal/output"
	"github.com/blackwell-systems/pacache/internal/store"
)

var (
	dbPath     string
	configPath string
	outputFlag string
	verbose    bool

	logger = slog.Default()

	// RootCmd is the root command for pacache
	RootCmd = &cobra.Command{
		Use:   "pacache",
		Short: "Pacscript metadata cache and pacstall config checker",
		Long: `pacache keeps a local cache of pacscript metadata: the packages each
source publishes, the ones installed directly or as dependencies, and the
apt and pacscript dependencies that link them. It also resolves and
validates the pacstall configuration file.

Quick Start:
  1. pacache migrate
  2. pacache scan --source https://example.org/packagelist --file packagelist.json
  3. pacache list

Examples:
  # Show one package at every install status
  pacache show neovim

  # Record an installation
  pacache mark neovim --from not_installed --to direct

  # Which pacscripts need libc6?
  pacache deps libc6 --kind apt

  # Check the configured repositories are reachable
  pacache config validate`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "cache path or postgres:// URL (default: ~/.pacache/cache.db)")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "pacstall config file (default: $PACSTALL_CONFIG or "+config.DefaultPath+")")
	RootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "output format: table, json or yaml")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug diagnostics to stderr")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

func setup(cmd *cobra.Command, args []string) error {
	if _, err := output.ParseFormat(outputFlag); err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// getDBPath returns the database path, using the flag value or default
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	dir := filepath.Join(home, ".pacache")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create pacache directory: %w", err)
	}

	return filepath.Join(dir, "cache.db"), nil
}

// getConfigPath returns the config file path, using the flag value or
// config.Path.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}

// openStore opens the cache named by --db.
func openStore() (*store.Store, error) {
	path, err := getDBPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get database path: %w", err)
	}

	st, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// render writes v in the selected --output format. Tables come from table,
// which is only called for the table format.
func render(w io.Writer, v any, table func() string) error {
	format, err := output.ParseFormat(outputFlag)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		_, err := io.WriteString(w, table())
		return err
	}
	return output.Encode(w, format, v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
