package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tokei-app/tokei/pkg/config"
	"github.com/tokei-app/tokei/pkg/engine"
	"github.com/tokei-app/tokei/pkg/runlock"
	"github.com/tokei-app/tokei/pkg/stores"
	"github.com/tokei-app/tokei/pkg/telemetry"
)

// ledgerKeep is how many runs the ledger retains.
const ledgerKeep = 500

// runFlags are the resolution flags shared by the run commands.
type runFlags struct {
	overwriteToday bool
	allowSameDay   bool
}

func (f *runFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.overwriteToday, "overwrite-today", false, "replace today's report if one exists")
	cmd.Flags().BoolVar(&f.allowSameDay, "allow-same-day", false, "generate another report if one exists for today")
	cmd.MarkFlagsMutuallyExclusive("overwrite-today", "allow-same-day")
}

func (f *runFlags) resolution() engine.Resolution {
	switch {
	case f.overwriteToday:
		return engine.ResolutionOverwrite
	case f.allowSameDay:
		return engine.ResolutionNewReport
	default:
		return engine.ResolutionNone
	}
}

func newRunCommand() *cobra.Command {
	var (
		flags    runFlags
		syncOnly bool
		noSync   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Refresh producers, sync and render today's report",
		Long: `Run the full pipeline: refresh every enabled producer, sync remote sources
through the adapter and render the report into the output directory.

When a report already exists for today, an interactive run asks whether
to generate another one, overwrite it or cancel. A non-interactive run
cancels unless --overwrite-today or --allow-same-day is given.`,
		Example: `  # Generate today's report
  tokei run

  # Replace today's report without asking
  tokei run --overwrite-today

  # Sync only, no rendering
  tokei run --sync-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := engine.ModeFull
			switch {
			case syncOnly:
				mode = engine.ModeSyncOnly
			case noSync:
				mode = engine.ModeNoSync
			}
			return executeRun(cmd, engine.Options{Mode: mode, Resolution: flags.resolution()})
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&syncOnly, "sync-only", false, "stop after a successful sync")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "skip producer refresh and build the report from the cache")
	cmd.MarkFlagsMutuallyExclusive("sync-only", "no-sync")

	return cmd
}

func newSyncCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh producers and sync without rendering",
		Long: `Refresh producers and run the adapter in sync-only mode. The stats cache
is updated but no report is rendered. Equivalent to "tokei run --sync-only".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, engine.Options{Mode: engine.ModeSyncOnly, Resolution: flags.resolution()})
		},
	}
	flags.bind(cmd)
	return cmd
}

func newReportCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render a report from the cached stats",
		Long: `Skip producer refresh and remote sync: the adapter finalizes the report
from its cache and the renderer produces the artifacts. Equivalent to
"tokei run --no-sync".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, engine.Options{Mode: engine.ModeNoSync, Resolution: flags.resolution()})
		},
	}
	flags.bind(cmd)
	return cmd
}

// executeRun performs one orchestrated run and reports its outcome. The
// returned error carries the public exit code when it is not zero.
func executeRun(cmd *cobra.Command, opts engine.Options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	paths, err := resolvePaths()
	if err != nil {
		return reportOutcome(cmd, nil, engine.OutcomeFromError(engine.NewConfigurationError("cannot resolve data root", err), ""))
	}
	store := config.NewStore(paths.Config)
	settings := loadSettings(store, paths)

	tel, err := newTelemetry(cmd, telemetryConfig(settings, paths))
	if err != nil {
		return reportOutcome(cmd, nil, engine.OutcomeFromError(engine.NewConfigurationError("invalid telemetry settings", err), ""))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			tel.Logger.WithError(err).Warn("telemetry shutdown failed")
		}
	}()
	ctx = tel.WithContext(ctx)
	logger := tel.Logger.NewComponentLogger("cli")

	opts.RunID = uuid.New().String()
	opts.Interactive = interactive(cmd)

	lock, err := runlock.Acquire(filepath.Join(paths.State, runlock.FileName), opts.RunID)
	if err != nil {
		if errors.Is(err, runlock.ErrLocked) {
			return reportOutcome(cmd, nil, engine.OutcomeFromError(engine.NewStorageError(err.Error(), nil), ""))
		}
		return reportOutcome(cmd, nil, engine.OutcomeFromError(engine.NewStorageError("cannot acquire the run lock", err), ""))
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.WithError(err).Warn("failed to release run lock")
		}
	}()

	ledger, err := openLedger(ctx, paths)
	if err != nil {
		logger.WithError(err).Warn("run ledger unavailable, this run will not be recorded")
	} else {
		defer ledger.Close()
		tel.Events.Subscribe(stores.EventSink(ctx, ledger), telemetry.FilterByRunID(opts.RunID))
	}

	orch := &engine.Orchestrator{
		Paths:         paths,
		Store:         store,
		Collaborators: processCollaborators{},
		Prompter:      engine.NewLinePrompter(cmd.InOrStdin(), cmd.ErrOrStderr()),
		Setup:         seedSetup(cmd),
		Telemetry:     tel,
	}
	report := orch.Run(ctx, opts)

	if ledger != nil {
		loc := time.Local
		if s := loadSettings(store, paths); s != nil {
			loc = s.Location()
		}
		if err := ledger.RecordOutcome(ctx, report, loc); err != nil {
			logger.WithError(err).Warn("failed to record run outcome")
		} else if _, err := ledger.PruneRuns(ctx, ledgerKeep); err != nil {
			logger.WithError(err).Warn("failed to prune run ledger")
		}
	}

	return reportOutcome(cmd, report, report.Outcome)
}

// reportOutcome prints the single user-facing result of a run and maps it
// to the process exit code.
func reportOutcome(cmd *cobra.Command, report *engine.Report, out engine.Outcome) error {
	if jsonOutput {
		var v interface{} = out
		if report != nil {
			v = report
		}
		if err := printJSON(cmd.OutOrStdout(), v); err != nil {
			return err
		}
	} else if out.Success() {
		fmt.Fprintln(cmd.OutOrStdout(), out.Message)
	} else {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", out.Text())
	}

	if out.ExitCode == engine.ExitSuccess {
		return nil
	}
	return &ExitError{Code: out.ExitCode, Message: out.Message}
}
