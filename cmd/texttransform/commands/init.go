package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/texttransform/pkg/config"
)

const starterConfig = `// texttransform configuration

worker: timeout: "60s"

output: extension: ".txt"

parallelism: 4

// Library references added to every template.
references: []

// Directories searched for library dependencies.
reference_paths: ["lib"]

policy: strict: false

history: {
	enabled:   true
	retention: "720h"
}
`

const starterTemplate = `# Example template. Run: texttransform generate example.tt

def transform_text():
    return "Generated from %s\n" % template_file
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize a texttransform workspace",
		Long: `Create a starter texttransform.cue, a lib directory for libraries and
an example Starlark template.`,
		Example: `  # Initialize the current directory
  texttransform init

  # Initialize another directory, replacing existing files
  texttransform init --force ./templates`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			log.Debug().Str("dir", dir).Bool("force", force).Msg("Initializing workspace")

			if err := os.MkdirAll(filepath.Join(dir, "lib"), 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			fmt.Printf("✓ Created directory: %s\n", filepath.Join(dir, "lib"))

			files := []struct {
				name    string
				content string
			}{
				{config.DefaultFileName, starterConfig},
				{"example.tt", starterTemplate},
			}
			for _, f := range files {
				path := filepath.Join(dir, f.name)
				written, err := writeStarterFile(path, f.content, force)
				if err != nil {
					return err
				}
				if written {
					fmt.Printf("✓ Created %s\n", path)
				} else {
					fmt.Printf("✓ %s already exists\n", path)
				}
			}

			fmt.Printf("\nNext steps:\n")
			fmt.Printf("  texttransform validate\n")
			fmt.Printf("  texttransform generate example.tt\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

// writeStarterFile writes content unless path exists and force is unset.
func writeStarterFile(path, content string, force bool) (bool, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, f.Close()
}
