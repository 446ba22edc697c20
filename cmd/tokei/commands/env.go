package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/stores"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// resolvePaths applies --root on top of the environment.
func resolvePaths() (config.Paths, error) {
	getenv := os.Getenv
	if rootDir != "" {
		abs, err := filepath.Abs(rootDir)
		if err != nil {
			return config.Paths{}, fmt.Errorf("invalid --root: %w", err)
		}
		getenv = func(key string) string {
			if key == config.EnvUserRoot {
				return abs
			}
			return os.Getenv(key)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil && getenv(config.EnvUserRoot) == "" {
		return config.Paths{}, fmt.Errorf("failed to determine home directory: %w", err)
	}
	return config.ResolvePaths(getenv, home), nil
}

// loadSettings reads the typed settings when a valid configuration exists.
// Anything else yields nil; the run itself reports the problem.
func loadSettings(store *config.Store, paths config.Paths) *config.Settings {
	if !store.Exists() {
		return nil
	}
	rec, _ := store.Load()
	s, err := rec.Settings(paths)
	if err != nil {
		return nil
	}
	return s
}

// telemetryConfig derives the telemetry configuration. --verbose beats
// LOG_LEVEL, which beats the configured level.
func telemetryConfig(s *config.Settings, paths config.Paths) *telemetry.Config {
	var ts *config.TelemetrySettings
	if s != nil {
		ts = &s.Telemetry
	}
	cfg := telemetry.ForSettings(ts, paths.State)
	cfg.ServiceVersion = buildVersion

	switch level := os.Getenv("LOG_LEVEL"); level {
	case "trace", "debug", "info", "warn", "error":
		cfg.Logging.Level = level
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg
}

// newTelemetry builds telemetry logging to the command's error stream.
func newTelemetry(cmd *cobra.Command, cfg *telemetry.Config) (*telemetry.Telemetry, error) {
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tel.Logger = telemetry.NewLoggerWithWriter(cfg.Logging, cmd.ErrOrStderr())
	return tel, nil
}

// openLedger opens the run ledger under the state directory.
func openLedger(ctx context.Context, paths config.Paths) (*stores.SQLiteStore, error) {
	return stores.Open(ctx, filepath.Join(paths.State, stores.DefaultFileName))
}

// isTerminal reports whether r is an attached terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// interactive reports whether the command may prompt.
func interactive(cmd *cobra.Command) bool {
	return !nonInteractive && isTerminal(cmd.InOrStdin())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
