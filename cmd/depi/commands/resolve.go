package commands

import (
	"github.com/dyluth/depi/internal/artifact"
	"github.com/dyluth/depi/internal/printer"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>...",
	Short: "Show the resource a local path maps to",
	Long: `Show the resource group url, version and resource url of local paths,
as stage and the other commands resolve them. No connection is made.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		resolver := artifact.NewResolver()
		var locations []*artifact.Location
		for _, path := range args {
			loc, err := resolver.Resolve(path)
			if err != nil {
				return printer.DepiError(err)
			}
			locations = append(locations, loc)
		}
		if outputFormat == "json" {
			return printJSON(locations)
		}
		for _, loc := range locations {
			printer.Printf("%s\n", loc.RelativePath)
			printer.Printf("  group:   %s (%s)\n", loc.ResourceGroupURL, loc.ResourceGroupName)
			printer.Printf("  version: %s\n", loc.Version)
			printer.Printf("  root:    %s\n", loc.Root)
			if loc.Uncommitted {
				printer.Warning("uncommitted changes\n")
			}
		}
		return nil
	},
}

func init() {
	resolveCmd.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(resolveCmd)
}
