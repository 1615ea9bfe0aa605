package commands

import (
	"context"

	"github.com/dyluth/depi/internal/artifact"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/projection"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var (
	viewExpandAll  bool
	viewGroups     []string
	viewReveal     []string
	viewBlackboard bool
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the graph as a collapsible tree",
	Long: `Show the graph of the current branch as a tree of resource groups,
folders and resources. Collapsed folders stand in for everything below
them; links into hidden resources are drawn to the nearest visible folder
and marked as aggregates.

Examples:
  depi view
  depi view --expand git@github.com:acme/widgets.git
  depi view --reveal src/engine.c --blackboard
  depi view --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var reveal []depi.ResourceRef
		if len(viewReveal) > 0 {
			resolver := artifact.NewResolver()
			for _, path := range viewReveal {
				loc, err := resolver.Resolve(path)
				if err != nil {
					return printer.DepiError(err)
				}
				reveal = append(reveal, loc.Resource().ResourceRef)
			}
		}

		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			p, err := buildView(ctx, s, reveal)
			if err != nil {
				return err
			}
			if len(p.Nodes) == 0 {
				printer.Info("Nothing to show on branch %s\n", s.Branch())
				return nil
			}
			renderProjection(printer.Out, p)
			return nil
		})
	},
}

func buildView(ctx context.Context, s *depi.Session, reveal []depi.ResourceRef) (*projection.Projection, error) {
	groups, err := s.GetResourceGroups(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]depi.ResourceGroupRef, 0, len(groups))
	for _, g := range groups {
		refs = append(refs, g.ResourceGroupRef)
	}
	model, err := s.GetDepiModel(ctx, refs)
	if err != nil {
		return nil, err
	}

	in := projection.Input{Model: *model, Expanded: projection.ExpandState{}}
	if viewBlackboard && s.Branch() == depi.MainBranch {
		if in.Blackboard, err = s.GetBlackboardModel(ctx); err != nil {
			return nil, err
		}
	}

	for _, url := range viewGroups {
		for _, g := range groups {
			if g.URL == url || g.Name == url {
				in.Expanded.ExpandGroups([]depi.ResourceGroupRef{g.ResourceGroupRef}, true)
			}
		}
	}

	p, err := projection.Build(in)
	if err != nil {
		return nil, err
	}

	changed := false
	if viewExpandAll {
		for _, root := range p.Roots() {
			changed = in.Expanded.Set(p, root, true, true) || changed
		}
	}
	for _, ref := range reveal {
		if !in.Expanded.Reveal(p, ref) {
			printer.Warning("%s:%s is not in the graph\n", ref.ResourceGroupURL, ref.URL)
			continue
		}
		changed = true
	}
	if !changed {
		return p, nil
	}
	return projection.Build(in)
}

func init() {
	viewCmd.Flags().BoolVar(&viewExpandAll, "all", false, "Expand every group and folder")
	viewCmd.Flags().StringSliceVar(&viewGroups, "expand", nil, "Expand a group, by url or name (repeatable)")
	viewCmd.Flags().StringSliceVar(&viewReveal, "reveal", nil, "Expand down to a local path (repeatable)")
	viewCmd.Flags().BoolVar(&viewBlackboard, "blackboard", false, "Overlay the entries staged on your blackboard")
	rootCmd.AddCommand(viewCmd)
}
