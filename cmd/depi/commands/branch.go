package commands

import (
	"context"
	"fmt"

	"github.com/dyluth/depi/internal/config"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var branchFrom string

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "List, switch, create and tag branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List branches and tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			bt, err := s.BranchesAndTags(ctx)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(bt)
			}
			for _, b := range bt.Branches {
				marker := " "
				if b == s.Branch() {
					marker = "*"
				}
				printer.Printf("%s %s\n", marker, b)
			}
			for _, t := range bt.Tags {
				printer.Printf("  %s (tag)\n", t)
			}
			return nil
		})
	},
}

var branchSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Make a branch the default for later commands",
	Long: `Check that the branch exists and record it as client.branch in the config
file. Blackboard commands only work on main.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			_, ok, err := s.SwitchBranch(ctx, name)
			if err != nil {
				return err
			}
			if !ok {
				return printer.Error(
					fmt.Sprintf("branch '%s' does not exist", name),
					"",
					[]string{fmt.Sprintf("Create it:\n  depi branch create %s", name)},
				)
			}
			if err := config.Update(cfgFile, func(c *config.DepiConfig) {
				if c.Client == nil {
					c.Client = &config.ClientConfig{}
				}
				c.Client.Branch = name
			}); err != nil {
				return err
			}
			printer.Success("Switched to branch %s\n", name)
			if name != depi.MainBranch {
				printer.Warning("The blackboard is only available on %s\n", depi.MainBranch)
			}
			return nil
		})
	},
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a branch from the current branch or --from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			if err := s.CreateBranch(ctx, args[0], branchFrom); err != nil {
				return err
			}
			printer.Success("Created branch %s\n", args[0])
			return nil
		})
	},
}

var branchTagCmd = &cobra.Command{
	Use:   "tag <name>",
	Short: "Freeze the current branch or --from as a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			if err := s.CreateTag(ctx, args[0], branchFrom); err != nil {
				return err
			}
			printer.Success("Created tag %s\n", args[0])
			return nil
		})
	},
}

func init() {
	branchListCmd.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format (default or json)")
	branchCreateCmd.Flags().StringVar(&branchFrom, "from", "", "Branch or tag to copy (defaults to the current branch)")
	branchTagCmd.Flags().StringVar(&branchFrom, "from", "", "Branch to freeze (defaults to the current branch)")
	branchCmd.AddCommand(branchListCmd, branchSwitchCmd, branchCreateCmd, branchTagCmd)
	rootCmd.AddCommand(branchCmd)
}
