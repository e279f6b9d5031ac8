package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/growline/internal/config"
)

// ValidationResult summarizes a valid configuration.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	File     string `json:"file,omitempty"`
	Database string `json:"database"`
	Buckets  string `json:"buckets"`
	Commands int    `json:"commands"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the config schema without opening
the database or buckets.

With no argument the file named by --config or $GROWLINE_CONFIG is checked;
with neither set the built-in defaults are.

Examples:
  growline validate growline.yaml
  growline validate --config growline.jsonc --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // We handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		formatter.VerboseLog("Validating %s", path)
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load("")
	}
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		// Invalid configuration = exit code 1 (validation failure)
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	result := ValidationResult{
		Valid:    true,
		File:     path,
		Database: cfg.Database,
		Buckets:  cfg.Buckets.Root,
		Commands: len(cfg.Scheduler.Commands),
	}
	return formatter.Render(result, func(w io.Writer) {
		fmt.Fprintln(w, "✓ Configuration valid")
		formatter.VerboseLog("database=%s buckets=%s commands=%d", result.Database, result.Buckets, result.Commands)
	})
}
