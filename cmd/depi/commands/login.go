package commands

import (
	"context"

	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the session token",
	Long: `Log in to the graph service. The password is read from DEPI_PASSWORD.

The token returned by the service is stored in client.token_file so later
commands log in without a password until it expires.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *depi.Session) error {
			printer.Success("Logged in as %s on branch %s\n", s.User(), s.Branch())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
