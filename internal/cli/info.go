package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

type infoView struct {
	Path      string         `json:"path"`
	Group     string         `json:"group,omitempty"`
	Recovered bool           `json:"recovered"`
	Commits   int64          `json:"commits"`
	LastSeq   int64          `json:"last_seq"`
	Entities  map[string]int `json:"entities"`
}

func (v infoView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store:     %s\n", v.Path)
	if v.Group != "" {
		fmt.Fprintf(&b, "group:     %s\n", v.Group)
	}
	if v.Recovered {
		b.WriteString("recovered: store was recreated at open\n")
	}
	fmt.Fprintf(&b, "commits:   %d\n", v.Commits)
	fmt.Fprintf(&b, "last seq:  %d", v.LastSeq)

	names := make([]string, 0, len(v.Entities))
	for name := range v.Entities {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s: %d", name, v.Entities[name])
	}
	return b.String()
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show store location and object counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			store := s.coord.Store()
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return s.fail("failed to read store", err)
			}
			return s.out.Success(infoView{
				Path:      store.Path(),
				Group:     store.Config().SharedGroupID,
				Recovered: store.Recovered(),
				Commits:   stats.Commits,
				LastSeq:   stats.LastSeq,
				Entities:  stats.Entities,
			})
		},
	}
}
