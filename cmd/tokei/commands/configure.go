package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
)

// configureOptions are the setup values given on the command line. Only
// flags the user set are applied.
type configureOptions struct {
	ankiProfile  string
	timezone     string
	theme        string
	outputDir    string
	hashiHost    string
	hashiPort    int
	hashiToken   string
	requireFresh bool
	sets         []string
	reset        bool
}

func newConfigureCommand() *cobra.Command {
	var opts configureOptions

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Create or update the configuration",
		Long: `Create or update config.json under the data root.

The existing record is loaded, missing keys are filled from the defaults,
the given values are applied and the whole record is saved atomically.
Keys not covered by a flag can be set with --set using a dotted path; the
value is parsed as JSON when possible and kept as a string otherwise.`,
		Example: `  # Write the defaults
  tokei configure

  # Move Hashi off the port AnkiConnect uses
  tokei configure --hashi-port 8766

  # Set arbitrary keys
  tokei configure --set toggl.chunk_days=14 --set telemetry.tracing.exporter=stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			store := config.NewStore(paths.Config)

			rec, err := configure(cmd, store, paths, opts)
			if err != nil {
				return err
			}

			log.Info().Str("path", store.Path).Int("sections", len(rec.Keys())).Msg("Configuration saved")
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", store.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ankiProfile, "anki-profile", "", "Anki profile name")
	cmd.Flags().StringVar(&opts.timezone, "timezone", "", `IANA timezone or "local"`)
	cmd.Flags().StringVar(&opts.theme, "theme", "", "report theme")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "report directory (relative to the data root)")
	cmd.Flags().StringVar(&opts.hashiHost, "hashi-host", "", "Hashi host")
	cmd.Flags().IntVar(&opts.hashiPort, "hashi-port", 0, "Hashi port")
	cmd.Flags().StringVar(&opts.hashiToken, "hashi-token", "", "Hashi export token")
	cmd.Flags().BoolVar(&opts.requireFresh, "require-fresh", true, "fail the run when Hashi cannot be refreshed")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "set a dotted key, e.g. hashi.port=8766 (repeatable)")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "start from the defaults instead of the existing record")

	return cmd
}

// configure loads, modifies, validates and saves the record.
func configure(cmd *cobra.Command, store *config.Store, paths config.Paths, opts configureOptions) (config.Record, error) {
	rec := config.Record{}
	if !opts.reset {
		var warnings []string
		rec, warnings = store.Load()
		for _, w := range warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
		}
	}
	rec.Merge(config.Defaults())

	flags := cmd.Flags()
	apply := func(flag, path string, value interface{}) {
		if flags.Changed(flag) {
			rec.Set(path, value)
		}
	}
	apply("anki-profile", "anki_profile", opts.ankiProfile)
	apply("timezone", "timezone", opts.timezone)
	apply("theme", "theme", opts.theme)
	apply("output-dir", "output_dir", opts.outputDir)
	apply("hashi-host", "hashi.host", opts.hashiHost)
	apply("hashi-port", "hashi.port", float64(opts.hashiPort))
	apply("hashi-token", "hashi.token", opts.hashiToken)
	apply("require-fresh", "hashi.require_fresh", opts.requireFresh)

	for _, kv := range opts.sets {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", kv)
		}
		rec.Set(key, parseValue(value))
	}

	if _, err := rec.Settings(paths); err != nil {
		return nil, fmt.Errorf("refusing to save: %w", err)
	}
	if err := store.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// parseValue decodes JSON scalars, arrays and objects; anything else is
// kept as a string.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// seedSetup is the setup hook for interactive runs without a
// configuration: it runs the configure flow with no changes, which writes
// the defaults.
func seedSetup(cmd *cobra.Command) engine.SetupFunc {
	return func(ctx context.Context, store *config.Store) error {
		paths, err := resolvePaths()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "No configuration found; writing defaults to %s\n", store.Path)
		setup := newConfigureCommand()
		setup.SetErr(cmd.ErrOrStderr())
		_, err = configure(setup, store, paths, configureOptions{})
		return err
	}
}
