package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/texttransform/pkg/config"
	"github.com/openfroyo/texttransform/pkg/diagnostic"
	"github.com/openfroyo/texttransform/pkg/generator"
)

func newGenerateCommand(version string) *cobra.Command {
	var (
		references  []string
		extension   string
		timeout     time.Duration
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "generate <template>...",
		Short: "Generate output files from templates",
		Long: `Generate the output file of each template.

The output file sits next to its template, with the template extension
replaced by the configured output extension. When a template fails, its
output file contains ErrorGeneratingOutput followed by the diagnostics.

Exit codes:
  0  every template generated
  1  at least one template reported errors, timed out or crashed
  2  at least one template could not be processed`,
		Example: `  # Generate one template
  texttransform generate report.tt

  # Generate with an extra library and a different extension
  texttransform generate -r lib/strutil.star --extension .cs model.tt

  # Generate many templates, four at a time
  texttransform generate --parallel 4 templates/*.tt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return reportConfigError(err)
			}
			applyGenerateFlags(cfg, extension, timeout, parallelism)

			ctx, env, err := newEnvironment(cmd.Context(), cfg, version)
			if err != nil {
				return err
			}
			defer env.close(ctx)

			log.Debug().
				Int("templates", len(args)).
				Strs("references", references).
				Int("parallelism", cfg.Parallelism).
				Msg("Generating templates")

			reqs := make([]generator.Request, len(args))
			for i, path := range args {
				reqs[i] = generator.Request{TemplatePath: path, References: references}
			}

			results, genErr := env.generator.GenerateAll(ctx, reqs)
			if jsonOutput {
				if err := writeJSONResults(results, genErr); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r != nil {
						env.printer.PrintResult(r)
					}
				}
				if genErr != nil {
					env.printer.PrintError(genErr)
				}
			}

			if code := exitCode(results, genErr); code != ExitSuccess {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&references, "reference", "r", nil, "library reference added to every template (repeatable)")
	cmd.Flags().StringVar(&extension, "extension", "", "output extension (overrides the config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "worker timeout (overrides the config)")
	cmd.Flags().IntVarP(&parallelism, "parallel", "p", 0, "templates generated at once (overrides the config)")

	return cmd
}

// applyGenerateFlags overrides configuration values set on the command line.
func applyGenerateFlags(cfg *config.Config, extension string, timeout time.Duration, parallelism int) {
	if extension != "" {
		cfg.Output.Extension = extension
	}
	if timeout > 0 {
		cfg.Worker.Timeout = timeout.String()
	}
	if parallelism > 0 {
		cfg.Parallelism = parallelism
	}
}

// exitCode maps a batch to the exit code of the CLI.
func exitCode(results []*generator.Result, err error) int {
	if err != nil {
		return ExitInfrastructureFailure
	}
	for _, r := range results {
		if r == nil || !r.Succeeded() {
			return ExitTemplateFailure
		}
	}
	return ExitSuccess
}

// reportConfigError prints configuration problems one per line.
func reportConfigError(err error) error {
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, ve := range verrs {
		fmt.Fprintln(os.Stderr, ve.Error())
	}
	return &ExitError{Code: ExitInfrastructureFailure}
}

type jsonResult struct {
	ID          string                  `json:"id,omitempty"`
	Template    string                  `json:"template"`
	Output      string                  `json:"output,omitempty"`
	State       string                  `json:"state"`
	ExitCode    int                     `json:"exit_code"`
	DurationMs  int64                   `json:"duration_ms"`
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics"`
}

type jsonReport struct {
	Results []jsonResult `json:"results"`
	Error   string       `json:"error,omitempty"`
}

func writeJSONResults(results []*generator.Result, genErr error) error {
	report := jsonReport{Results: []jsonResult{}}
	for _, r := range results {
		if r == nil {
			continue
		}
		diags := r.Diagnostics
		if diags == nil {
			diags = []diagnostic.Diagnostic{}
		}
		report.Results = append(report.Results, jsonResult{
			ID:          r.ID,
			Template:    r.TemplatePath,
			Output:      r.OutputPath,
			State:       string(r.State),
			ExitCode:    r.ExitCode,
			DurationMs:  r.Duration.Milliseconds(),
			Diagnostics: diags,
		})
	}
	if genErr != nil {
		report.Error = genErr.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}
