package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	rootDir        string
	verbose        bool
	jsonOutput     bool
	nonInteractive bool

	// buildVersion is reported to telemetry.
	buildVersion = "dev"
)

// ExitError carries a public exit code out of Execute. The command has
// already reported the outcome to the user.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit %d: %s", e.Code, e.Message)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "tokei",
		Short: "Tokei - daily activity report orchestration",
		Long: `Tokei aggregates personal activity metrics from several producers
(spaced-repetition exports, time tracking, reading caches) into one dated
report.

A run:
  - refreshes each enabled producer and checks its export is fresh
  - syncs remote sources through the metric source adapter
  - resolves a same-day collision (new report, overwrite or cancel)
  - renders the report image and markup into the output directory

Exit codes: 0 success, 1 configuration, 2 external service, 3 storage,
99 unclassified.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "data root (overrides TOKEI_USER_ROOT)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt, even on a terminal")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newConfigureCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newClassifyCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
