package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/texttransform/pkg/config"
	"github.com/openfroyo/texttransform/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the configuration and policies",
		Long: `Validate a texttransform.cue file against the built-in schema and
compile the policies it lists.

This command checks:
  - CUE syntax validity
  - Schema conformance
  - Field constraints (durations, ranges, required values)
  - Policy compilation (OPA/rego)`,
		Example: `  # Validate the configuration found from the current directory
  texttransform validate

  # Validate a specific file
  texttransform validate ./build/texttransform.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				found, ok := config.Find(".")
				if !ok {
					return fmt.Errorf("no %s found", config.DefaultFileName)
				}
				path = found
			}

			log.Debug().Str("path", path).Msg("Validating configuration")

			if err := validateConfig(cmd.Context(), path); err != nil {
				return reportConfigError(err)
			}
			fmt.Fprintf(os.Stdout, "✓ %s is valid\n", path)
			return nil
		},
	}

	return cmd
}

// validateConfig loads the file at path and compiles its policies.
func validateConfig(ctx context.Context, path string) error {
	parser, err := config.NewCUEParser()
	if err != nil {
		return err
	}
	cfg, err := parser.Load(ctx, path)
	if err != nil {
		return err
	}

	if len(cfg.Policy.Paths) == 0 {
		return nil
	}
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return err
	}
	return engine.LoadPolicies(ctx, cfg.Policy.Paths)
}
