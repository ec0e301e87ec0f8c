package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/patchwork/pkg/config"
)

// Exit codes of the patchwork binary.
const (
	ExitFailure     = 1
	ExitUsage       = 2
	ExitNeedRestart = 3
)

var (
	// Global flags
	configPath   string
	dbPath       string
	logLevel     string
	outputFormat string

	buildVersion = "dev"
)

// ExitError carries a process exit code. Err may be nil when the command
// already reported the outcome.
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "patchwork",
		Short: "Patchwork - component versioning and patch engine",
		Long: `Patchwork keeps track of the installed components of an installation
and brings them up to date by running installer and patch packages.

Features:
  - XML package manifests with phased, restartable execution
  - Dependency-ordered patch resolution over a package catalogue
  - Persistent package log in SQLite
  - Admission policies via OPA/rego
  - Hot folder execution of dropped manifests`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "package database path (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides the config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, yaml")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}
