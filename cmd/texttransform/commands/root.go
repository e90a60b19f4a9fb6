package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Exit codes of the CLI. A template that fails with diagnostics exits 1;
// a template that could not be processed at all exits 2.
const (
	ExitSuccess               = 0
	ExitTemplateFailure       = 1
	ExitInfrastructureFailure = 2
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	noColor    bool
)

// ExitError carries a non-zero exit code whose cause was already reported.
type ExitError struct {
	Code int
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "texttransform",
		Short: "texttransform - run text templates in isolated workers",
		Long: `texttransform generates files from text templates.

Each template runs in its own template-runner process, which compiles the
template, loads its libraries and reports diagnostics back. Features:
  - Starlark and Go templates
  - Starlark and WebAssembly libraries with dependency manifests
  - $(Name) substitution in library references
  - Reference admission policies (OPA/rego)
  - Run history in SQLite
  - Typed configuration via CUE`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default: texttransform.cue in the current directory or a parent)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newGenerateCommand(version))
	rootCmd.AddCommand(newWatchCommand(version))
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newInitCommand())

	return rootCmd
}
