package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	storePath    string
	verbose      bool
	traceExport  string
	otlpEndpoint string
	metricsAddr  string
)

// errRejected is returned when a document was produced but failed a
// constraint or a blocking policy.
var errRejected = errors.New("document rejected")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit status: 2 for a
// rejected document, 1 for anything else.
func ExitCode(err error) int {
	if errors.Is(err, errRejected) {
		return 2
	}
	return 1
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scopecfg",
		Short: "scopecfg - schema-driven configuration scripts",
		Long: `scopecfg evaluates configuration scripts against a markup schema.

A markup file declares the fields, sections and structs a configuration may
contain. Scripts written in Starlark or HCL call those fields as functions;
the runtime coerces every value, fills defaults, checks required fields and
assembles the final document.

Features:
  - Markup in YAML, JSON or CUE
  - Starlark and HCL scripts that can include each other
  - Isolated includes and search paths
  - CUE constraints and Rego policies over the result
  - Run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite database recording run history")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&traceExport, "trace", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP collector endpoint")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
