package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tokei-app/tokei/pkg/engine"
)

func newClassifyCommand() *cobra.Command {
	var stderrFile string

	cmd := &cobra.Command{
		Use:   "classify <exit-code>",
		Short: "Classify an adapter exit code and diagnostics",
		Long: `Map an adapter exit code and its stderr text to the outcome a run would
report. Stderr is read from --stderr-file, or from standard input when it
is not a terminal.`,
		Example: `  tokei classify 13
  python tools/tokei_sync.py 2>err.txt; tokei classify $? --stderr-file err.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid exit code %q: %w", args[0], err)
			}

			var stderr []byte
			switch {
			case stderrFile == "-":
				stderr, err = io.ReadAll(cmd.InOrStdin())
			case stderrFile != "":
				stderr, err = os.ReadFile(stderrFile)
			case !isTerminal(cmd.InOrStdin()):
				stderr, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read stderr text: %w", err)
			}

			kind := engine.Classify(code, string(stderr))
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"adapter_code": code,
					"kind":         kind,
					"exit_code":    kind.ExitCode(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (exit %d)\n", kind, kind.ExitCode())
			return nil
		},
	}

	cmd.Flags().StringVar(&stderrFile, "stderr-file", "", `file holding the adapter's stderr ("-" for stdin)`)
	return cmd
}
