package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // slog handler on stderr: "text" | "json"

	ConfigPath string
	Name       string
	Directory  string
	Group      string
	Schema     string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the graphstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "graphstore",
		Short: "graphstore - embedded object graph store",
		Long: `Inspect and edit a graphstore store file.

Reads go through the main context. Every mutating command runs in its own
writer context and returns once the save has been merged back into the
main context.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging on stderr")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format on stderr (text|json, overrides config)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Name, "name", "", "store name (required unless set in the config file)")
	cmd.PersistentFlags().StringVar(&opts.Directory, "dir", "", "store directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Group, "group", "", "shared group id (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Schema, "schema", "", "CUE schema file (overrides config)")

	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewFetchCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))

	return cmd
}
