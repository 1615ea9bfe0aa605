package commands

import (
	"context"

	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var (
	stageLink       bool
	stageResource   resourceFlags
	unstageLink     bool
	unstageResource resourceFlags
	cleanPropagate  bool
	cleanAll        bool
	cleanInferred   string
	cleanResource   resourceFlags
)

var stageCmd = &cobra.Command{
	Use:   "stage <path>...",
	Short: "Stage resources, or a link with --link, on the blackboard",
	Long: `Stage resources on your blackboard. With --link, stage a link from the
first resource to the second; both endpoints are staged with it.

Paths are resolved through their git checkout: the repository's origin url
is the resource group, HEAD is its version. Use --group to give resource
urls directly instead.

Staged entries become part of the shared graph on 'depi save'.

Examples:
  depi stage --link docs/design.md src/engine.c
  depi stage --group https://example.com/model --tool webgme /root/block`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if stageLink && len(args) != 2 {
			return printer.Error("--link needs exactly two resources", "Usage: depi stage --link <source> <target>", nil)
		}
		resources, err := stageResource.resources(args)
		if err != nil {
			return printer.DepiError(err)
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			if stageLink {
				if err := s.LinkResources(ctx, resources[0], resources[1]); err != nil {
					return err
				}
				printer.Success("Staged %s -> %s\n", resourceLabel(resources[0]), resourceLabel(resources[1]))
				return nil
			}
			if err := s.Stage(ctx, resources, nil); err != nil {
				return err
			}
			printer.Success("Staged %d resource(s)\n", len(resources))
			return nil
		})
	},
}

var unstageCmd = &cobra.Command{
	Use:   "unstage <path>...",
	Short: "Remove resources, or a link with --link, from the blackboard",
	Long: `Remove entries from your blackboard. Removing a resource also removes
the staged links that touch it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if unstageLink && len(args) != 2 {
			return printer.Error("--link needs exactly two resources", "Usage: depi unstage --link <source> <target>", nil)
		}
		resources, err := unstageResource.resources(args)
		if err != nil {
			return printer.DepiError(err)
		}
		entries := depi.Entries{Resources: resources}
		if unstageLink {
			entries = depi.Entries{Links: []depi.ResourceLink{{Source: resources[0], Target: resources[1]}}}
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			if err := s.Unstage(ctx, entries); err != nil {
				return err
			}
			printer.Success("Removed from blackboard\n")
			return nil
		})
	},
}

var blackboardCmd = &cobra.Command{
	Use:   "blackboard",
	Short: "Show the entries staged on your blackboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			bb, err := s.GetBlackboardModel(ctx)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(bb)
			}
			if len(bb.Resources) == 0 && len(bb.Links) == 0 {
				printer.Info("Blackboard is empty\n")
				return nil
			}
			printer.Printf("Resources:\n")
			for _, r := range bb.Resources {
				printer.Printf("  %s @ %s\n", resourceLabel(r), shortVersion(r.ResourceGroupVersion))
			}
			if len(bb.Links) > 0 {
				printer.Printf("\nLinks:\n")
				for _, l := range bb.Links {
					printer.Printf("  %s -> %s\n", resourceLabel(l.Source), resourceLabel(l.Target))
				}
			}
			return nil
		})
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the blackboard into the graph",
	Long: `Save every staged entry into the graph of main in one step. If a staged
resource's group version no longer matches the graph, nothing is saved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			if err := s.SaveBlackboard(ctx); err != nil {
				return err
			}
			printer.Success("Blackboard saved\n")
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every entry on the blackboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			if err := s.ClearBlackboard(ctx); err != nil {
				return err
			}
			printer.Success("Blackboard cleared\n")
			return nil
		})
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean [<source> <target>]",
	Short: "Mark links clean",
	Long: `Mark the link from source to target clean. The target group's current
version becomes the link's last clean version.

With --propagate, the inferred dirtiness the target caused upstream is
cleared too. With --inferred-from, only the inferred dirtiness caused by
that resource is cleared from the link. With --all, every dirty link of
the branch is cleaned.

Examples:
  depi clean docs/design.md src/engine.c --propagate
  depi clean docs/design.md src/engine.c --inferred-from src/util.c
  depi clean --all`,
	Args: func(cmd *cobra.Command, args []string) error {
		if cleanAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	if cleanAll {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			links, err := s.GetAllLinks(ctx, false)
			if err != nil {
				return err
			}
			dirty := dirtyOnly(links)
			if len(dirty) == 0 {
				printer.Info("No dirty links\n")
				return nil
			}
			if err := s.MarkAllClean(ctx, dirty); err != nil {
				return err
			}
			printer.Success("Cleaned %d link(s)\n", len(dirty))
			return nil
		})
	}

	paths := args
	if cleanInferred != "" {
		paths = append(append([]string{}, args...), cleanInferred)
	}
	resources, err := cleanResource.resources(paths)
	if err != nil {
		return printer.DepiError(err)
	}
	link := depi.ResourceLink{Source: resources[0], Target: resources[1]}

	return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
		if cleanInferred != "" {
			if err := s.MarkInferredDirtinessClean(ctx, link, resources[2].ResourceRef, cleanPropagate); err != nil {
				return err
			}
			printer.Success("Cleared dirtiness from %s on %s -> %s\n",
				resourceLabel(resources[2]), resourceLabel(link.Source), resourceLabel(link.Target))
			return nil
		}
		if err := s.MarkLinksClean(ctx, []depi.ResourceLink{link}, cleanPropagate); err != nil {
			return err
		}
		printer.Success("Cleaned %s -> %s\n", resourceLabel(link.Source), resourceLabel(link.Target))
		return nil
	})
}

func init() {
	stageCmd.Flags().BoolVar(&stageLink, "link", false, "Stage a link from the first resource to the second")
	stageResource.register(stageCmd)
	unstageCmd.Flags().BoolVar(&unstageLink, "link", false, "Remove the staged link from the first resource to the second")
	unstageResource.register(unstageCmd)
	blackboardCmd.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default or json)")
	cleanCmd.Flags().BoolVar(&cleanPropagate, "propagate", false, "Also clear the dirtiness the target caused upstream")
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Clean every dirty link of the branch")
	cleanCmd.Flags().StringVar(&cleanInferred, "inferred-from", "", "Only clear the inferred dirtiness caused by this resource")
	cleanResource.register(cleanCmd)

	rootCmd.AddCommand(stageCmd, unstageCmd, blackboardCmd, saveCmd, clearCmd, cleanCmd)
}
