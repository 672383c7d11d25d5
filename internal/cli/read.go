package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/graphstore/internal/fetch"
	"github.com/roach88/graphstore/internal/graph"
	"github.com/roach88/graphstore/internal/storage"
)

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <key>",
		Short: "Print one object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			id := storage.ObjectID{Entity: args[0], Key: args[1]}
			rec, found, err := s.main.Get(cmd.Context(), id, false)
			if err != nil {
				return s.fail("get failed", err)
			}
			if !found {
				return s.fail("get failed", &graph.ContextError{
					Code:    graph.ErrCodeObjectNotFound,
					Message: fmt.Sprintf("object %s not found", id),
					Context: s.main.ID(),
					Objects: []string{id.String()},
				})
			}
			return s.out.Success(newRecordView(rec))
		},
	}
}

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	Where  string
	Sort   []string
	Offset int
	Limit  int
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <entity>",
		Short: "List objects of an entity",
		Long: `List objects of an entity.

--where takes a CEL expression over the object's properties, bound as self.
--sort may be repeated; each value is key or key:desc.

Examples:
  graphstore fetch Note
  graphstore fetch Note --where 'self.done == false' --sort priority:desc --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := fetch.Request{Entity: args[0], Offset: opts.Offset, Limit: opts.Limit}
			if opts.Where != "" {
				expr, err := fetch.Compile(opts.Where)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --where", err)
				}
				req.Where = expr
			}
			for _, raw := range opts.Sort {
				sort, err := fetch.ParseSort(raw)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --sort", err)
				}
				req.Sort = append(req.Sort, sort)
			}
			if err := req.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid fetch", err)
			}

			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.main.Fetch(cmd.Context(), req)
			if err != nil {
				return s.fail("fetch failed", err)
			}
			out := make(recordList, len(recs))
			for i, rec := range recs {
				out[i] = newRecordView(rec)
			}
			return s.out.Success(out)
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "", "CEL filter over self")
	cmd.Flags().StringArrayVar(&opts.Sort, "sort", nil, "sort key, optionally :desc (repeatable)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "skip this many results")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "return at most this many results (0 = all)")
	return cmd
}
