package commands

import (
	"context"

	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var (
	resourcesTool    string
	resourcesPattern string
	linksAll         bool
	linksDeleted     bool
	linksDirtyGroup  string
	depsDependants   bool
	depsResource     resourceFlags
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List resource groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			groups, err := s.GetResourceGroups(ctx)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(groups)
			}
			if len(groups) == 0 {
				printer.Info("No resource groups on branch %s\n", s.Branch())
				return nil
			}
			printer.Printf("%-20s %-8s %-50s %s\n", "NAME", "TOOL", "URL", "VERSION")
			for _, g := range groups {
				printer.Printf("%-20s %-8s %-50s %s\n", g.Name, g.ToolID, g.URL, shortVersion(g.Version))
			}
			return nil
		})
	},
}

var resourcesCmd = &cobra.Command{
	Use:   "resources <group-url>",
	Short: "List the resources of a group",
	Long: `List the resources of a group whose url fully matches --pattern, a regular
expression.

Examples:
  depi resources git@github.com:acme/widgets.git
  depi resources git@github.com:acme/widgets.git --pattern '/src/.*\.c'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			resources, err := s.GetResources(ctx, []depi.ResourcePattern{{
				ToolID: resourcesTool, ResourceGroupURL: args[0], URLPattern: resourcesPattern,
			}})
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(resources)
			}
			for _, r := range resources {
				printer.Printf("%s\n", r.URL)
			}
			return nil
		})
	},
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List links",
	Long: `List the links of the current branch.

By default only dirty links are shown. Use --all for every link, and
--dirty-in to restrict to links sourced in one group.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			var links []depi.ResourceLink
			var err error
			switch {
			case linksDirtyGroup != "":
				links, err = s.GetDirtyLinks(ctx, depi.ResourceGroupRef{ToolID: resourcesTool, URL: linksDirtyGroup})
			case linksAll:
				links, err = s.GetAllLinks(ctx, linksDeleted)
			default:
				links, err = s.GetAllLinks(ctx, false)
				links = dirtyOnly(links)
			}
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(links)
			}
			if len(links) == 0 {
				printer.Info("No links\n")
				return nil
			}
			printLinks(links)
			return nil
		})
	},
}

var depsCmd = &cobra.Command{
	Use:   "deps <path>",
	Short: "Show what a resource depends on, or what depends on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		resources, err := depsResource.resources(args)
		if err != nil {
			return printer.DepiError(err)
		}
		direction := depi.Dependencies
		if depsDependants {
			direction = depi.Dependents
		}
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			g, err := s.GetDependencyGraph(ctx, resources[0].ResourceRef, direction)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(g)
			}
			if g.Resource == nil {
				printer.Info("%s is not tracked on branch %s\n", resourceLabel(resources[0]), s.Branch())
				return nil
			}
			printer.Printf("%s %s (%d links)\n", resourceLabel(*g.Resource), direction, len(g.Links))
			if len(g.Links) > 0 {
				printLinks(g.Links)
			}
			return nil
		})
	},
}

func dirtyOnly(links []depi.ResourceLink) []depi.ResourceLink {
	var out []depi.ResourceLink
	for _, l := range links {
		if l.Dirty || len(l.InferredDirtiness) > 0 {
			out = append(out, l)
		}
	}
	return out
}

func init() {
	for _, c := range []*cobra.Command{groupsCmd, resourcesCmd, linksCmd, depsCmd} {
		c.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default or json)")
	}
	resourcesCmd.Flags().StringVar(&resourcesTool, "tool", "git", "Tool id of the group")
	resourcesCmd.Flags().StringVar(&resourcesPattern, "pattern", ".*", "Regular expression the whole url must match")
	linksCmd.Flags().StringVar(&resourcesTool, "tool", "git", "Tool id of --dirty-in")
	linksCmd.Flags().BoolVar(&linksAll, "all", false, "Show clean links too")
	linksCmd.Flags().BoolVar(&linksDeleted, "deleted", false, "With --all, include deleted links")
	linksCmd.Flags().StringVar(&linksDirtyGroup, "dirty-in", "", "Only dirty links sourced in this group url")
	depsCmd.Flags().BoolVar(&depsDependants, "dependants", false, "Follow links backwards to what depends on the resource")
	depsResource.register(depsCmd)

	rootCmd.AddCommand(groupsCmd, resourcesCmd, linksCmd, depsCmd)
}
