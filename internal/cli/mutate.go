package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/graphstore/internal/graph"
	"github.com/roach88/graphstore/internal/storage"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	Props string
	Key   string
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{}

	cmd := &cobra.Command{
		Use:   "put <entity>",
		Short: "Insert a new object",
		Long: `Insert a new object and save it.

Without --key a fresh key is generated.

Examples:
  graphstore put Note --props '{"title":"groceries"}'
  graphstore put Note --key n1 --props '{"title":"groceries"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProps(opts.Props)
			if err != nil {
				return err
			}
			return mutate(rootOpts, cmd, "inserted", func(w *graph.Context) (storage.ObjectID, error) {
				if opts.Key == "" {
					return w.Insert(args[0], props)
				}
				id := storage.ObjectID{Entity: args[0], Key: opts.Key}
				return id, w.InsertID(cmd.Context(), id, props)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Props, "props", "{}", "properties as a JSON object")
	cmd.Flags().StringVar(&opts.Key, "key", "", "object key (generated when empty)")
	return cmd
}

// SetOptions holds flags for the set command.
type SetOptions struct {
	Props string
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{}

	cmd := &cobra.Command{
		Use:   "set <entity> <key>",
		Short: "Update properties of an existing object",
		Long: `Update properties of an existing object and save it.

Only the properties named in --props change. A null value removes the property.

Example:
  graphstore set Note n1 --props '{"done":true,"due":null}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProps(opts.Props)
			if err != nil {
				return err
			}
			if len(props) == 0 {
				return NewExitError(ExitCommandError, "--props must name at least one property")
			}
			return mutate(rootOpts, cmd, "updated", func(w *graph.Context) (storage.ObjectID, error) {
				id := storage.ObjectID{Entity: args[0], Key: args[1]}
				return id, w.Update(cmd.Context(), id, props)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Props, "props", "", "changed properties as a JSON object")
	_ = cmd.MarkFlagRequired("props")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <key>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(rootOpts, cmd, "deleted", func(w *graph.Context) (storage.ObjectID, error) {
				id := storage.ObjectID{Entity: args[0], Key: args[1]}
				return id, w.Delete(cmd.Context(), id)
			})
		},
	}
}

// mutate runs edit in a fresh writer context and saves it.
func mutate(rootOpts *RootOptions, cmd *cobra.Command, action string, edit func(*graph.Context) (storage.ObjectID, error)) error {
	s, err := openSession(rootOpts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := s.coord.NewWriterContext(graph.WithName("cli-" + cmd.Name()))
	if err != nil {
		return s.fail("failed to create writer", err)
	}
	defer w.Close()

	id, err := edit(w)
	if err != nil {
		return s.fail("edit rejected", err)
	}
	s.logger.Debug("saving", "context", w.ID().String(), "object", id.String())
	if err := s.coord.SaveAndWait(w); err != nil {
		return s.fail("save failed", err)
	}
	return s.out.Success(savedView{Action: action, Entity: id.Entity, Key: id.Key})
}
