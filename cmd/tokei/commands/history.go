package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokei-app/tokei/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in the run ledger (state/tokei.db), newest first.
Use "history show <run-id>" for the state path and events of one run and
"history reports" for the rendered reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, ledger *stores.SQLiteStore) error {
				runs, err := ledger.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), runs)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tSTARTED\tMODE\tSTATUS\tEXIT\tREPORT\tMESSAGE")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						shortID(r.ID),
						r.StartedAt.Local().Format(time.DateTime),
						r.Mode,
						r.Status,
						optInt(r.ExitCode),
						optInt(r.ReportNo),
						firstLine(r.Message))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryReportsCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its events",
		Long:  `Show one run and its events. A unique prefix of the run ID is enough.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, ledger *stores.SQLiteStore) error {
				run, err := findRun(ctx, ledger, args[0])
				if err != nil {
					return err
				}
				events, err := ledger.ListEvents(ctx, run.ID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]interface{}{"run": run, "events": events})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run:     %s\n", run.ID)
				fmt.Fprintf(out, "Mode:    %s\n", run.Mode)
				fmt.Fprintf(out, "Status:  %s (%s, exit %s)\n", run.Status, run.OutcomeKind, optInt(run.ExitCode))
				fmt.Fprintf(out, "Path:    %s\n", joinStates(run))
				if run.Message != "" {
					fmt.Fprintf(out, "Message: %s\n", run.Message)
				}
				fmt.Fprintln(out)

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tLEVEL\tTYPE\tMESSAGE")
				for _, e := range events {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Type, firstLine(e.Message))
				}
				return w.Flush()
			})
		},
	}
}

func newHistoryReportsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List rendered reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, ledger *stores.SQLiteStore) error {
				reports, err := ledger.ListReports(ctx, limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), reports)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "REPORT\tDAY\tWARNINGS\tIMAGE")
				for _, r := range reports {
					fmt.Fprintf(w, "#%d\t%s\t%d\t%s\n", r.ReportNo, r.ReportDay, r.WarningCount, r.ImagePath)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of reports to list")
	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, ledger *stores.SQLiteStore) error {
				n, err := ledger.PruneRuns(ctx, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of runs to keep")
	return cmd
}

func withLedger(cmd *cobra.Command, fn func(ctx context.Context, ledger *stores.SQLiteStore) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	paths, err := resolvePaths()
	if err != nil {
		return err
	}
	ledger, err := openLedger(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer ledger.Close()
	return fn(ctx, ledger)
}

// findRun resolves a full run ID or a unique prefix of a recent one.
func findRun(ctx context.Context, ledger *stores.SQLiteStore, id string) (*stores.Run, error) {
	run, err := ledger.GetRun(ctx, id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, stores.ErrNotFound) {
		return nil, err
	}

	runs, err := ledger.ListRuns(ctx, ledgerKeep, 0)
	if err != nil {
		return nil, err
	}
	var match *stores.Run
	for _, r := range runs {
		if !strings.HasPrefix(r.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run ID prefix %q is ambiguous", id)
		}
		match = r
	}
	if match == nil {
		return nil, fmt.Errorf("run %q: %w", id, stores.ErrNotFound)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func optInt(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func joinStates(run *stores.Run) string {
	parts := make([]string, len(run.StatePath))
	for i, s := range run.StatePath {
		parts[i] = string(s)
	}
	return strings.Join(parts, " -> ")
}
