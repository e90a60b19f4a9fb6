package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/openfroyo/texttransform/pkg/config"
	"github.com/openfroyo/texttransform/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		template string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generations",
		Long: `List recorded generations, newest first.

History is recorded when history.enabled is set in the configuration.`,
		Example: `  # Show the last 20 runs
  texttransform history

  # Show the runs of one template as JSON
  texttransform history --template report.tt --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openHistoryForCommand(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			var runs []*stores.Run
			if template != "" {
				abs, err := filepath.Abs(template)
				if err != nil {
					return fmt.Errorf("failed to resolve template path: %w", err)
				}
				runs, err = store.ListRunsByTemplate(ctx, abs, limit)
				if err != nil {
					return err
				}
			} else {
				runs, err = store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			printRuns(os.Stdout, runs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "only show runs of this template")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")

	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Example: `  # Delete runs older than a week
  texttransform history prune --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := openHistoryForCommand(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneRuns(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d runs\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "delete runs older than this")
	_ = cmd.MarkFlagRequired("older-than")

	return cmd
}

func openHistoryForCommand(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return nil, reportConfigError(err)
	}
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("run history is disabled; set history.enabled in %s", config.DefaultFileName)
	}
	path := cfg.History.Path
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run history at %s", path)
	}
	return stores.Open(cmd.Context(), stores.Config{Path: path})
}

func styleState(state stores.RunState) lipgloss.Style {
	switch state {
	case stores.RunStateSucceeded:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case stores.RunStateFailed, stores.RunStateCrashed, stores.RunStateDenied:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case stores.RunStateTimedOut:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

// printRuns writes one line per run.
func printRuns(w io.Writer, runs []*stores.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	titleStyle := lipgloss.NewStyle().Bold(true)
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%-20s %-10s %5s %5s %8s  %s", "TIME", "STATE", "WARN", "ERR", "DURATION", "TEMPLATE")))

	for _, run := range runs {
		state := string(run.State)
		if !noColor {
			state = styleState(run.State).Render(fmt.Sprintf("%-10s", state))
		} else {
			state = fmt.Sprintf("%-10s", state)
		}
		fmt.Fprintf(w, "%-20s %s %5d %5d %8s  %s\n",
			run.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			state,
			run.Warnings,
			run.Errors,
			run.Duration.Round(time.Millisecond),
			run.Template,
		)
		if run.Message != nil {
			fmt.Fprintf(w, "%20s %s\n", "", firstLine(*run.Message))
		}
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
