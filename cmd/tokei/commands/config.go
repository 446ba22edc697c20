package commands

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tokei-app/tokei/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigGetCommand())
	cmd.AddCommand(newConfigPathCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var (
		format    string
		effective bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration record",
		Long: `Print config.json as JSON, YAML or TOML. With --effective, keys missing
from the file are filled from the defaults. Load warnings go to stderr.`,
		Example: `  tokei config show
  tokei config show --format yaml --effective`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := loadRecord(cmd)
			if err != nil {
				return err
			}
			if effective {
				rec.Merge(config.Defaults())
			}
			return writeRecord(cmd.OutOrStdout(), rec, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format (json, yaml, toml)")
	cmd.Flags().BoolVar(&effective, "effective", false, "fill missing keys from the defaults")

	return cmd
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one value by dotted key",
		Example: `  tokei config get hashi.port`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := loadRecord(cmd)
			if err != nil {
				return err
			}
			rec.Merge(config.Defaults())
			v, ok := rec.Get(args[0])
			if !ok {
				return fmt.Errorf("key %q is not set", args[0])
			}
			if s, ok := v.(string); ok {
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved data locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolvePaths()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), paths)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "root:   %s\n", paths.Root)
			fmt.Fprintf(out, "config: %s\n", paths.Config)
			fmt.Fprintf(out, "cache:  %s\n", paths.Cache)
			fmt.Fprintf(out, "state:  %s\n", paths.State)
			fmt.Fprintf(out, "output: %s\n", paths.Output)
			return nil
		},
	}
}

func loadRecord(cmd *cobra.Command) (config.Record, error) {
	paths, err := resolvePaths()
	if err != nil {
		return nil, err
	}
	rec, warnings := config.NewStore(paths.Config).Load()
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", w)
	}
	return rec, nil
}

// writeRecord renders rec in the requested format.
func writeRecord(w io.Writer, rec config.Record, format string) error {
	switch strings.ToLower(format) {
	case "json":
		data, err := rec.MarshalIndent()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]interface{}(rec)); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "toml":
		// TOML has no null; unset values are left out.
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(dropNulls(rec)); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return fmt.Errorf("unsupported format %q (want json, yaml or toml)", format)
	}
}

func dropNulls(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case nil:
			continue
		case map[string]interface{}:
			out[k] = dropNulls(t)
		case []interface{}:
			items := make([]interface{}, 0, len(t))
			for _, item := range t {
				if item == nil {
					continue
				}
				if sub, ok := item.(map[string]interface{}); ok {
					item = dropNulls(sub)
				}
				items = append(items, item)
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}
