package commands

import (
	"os"

	"github.com/dyluth/depi/internal/config"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/scaffold"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a depi.yml in the current directory",
	Long: `Create a commented depi.yml in the current directory.

The server url and user come from --server and --user, or from
DEPI_SERVER_URL and DEPI_USER.`,
	Args: cobra.NoArgs,
	// A broken depi.yml must not stop 'init --force' from replacing it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := scaffold.Options{ServerURL: flagServer, User: flagUser}
		if opts.ServerURL == "" {
			opts.ServerURL = os.Getenv(config.EnvServerURL)
		}
		if opts.User == "" {
			opts.User = os.Getenv(config.EnvUser)
		}

		path, err := scaffold.Initialize(".", opts, initForce)
		if err != nil {
			return printer.Error("initialization failed", err.Error(), nil)
		}

		printer.Success("Created %s\n", path)
		printer.Println("\nNext steps:")
		printer.Println("  1. Start the graph service:  DEPI_TOKEN_SECRET=<secret> depi serve")
		printer.Println("  2. Add a user:               DEPI_TOKEN_SECRET=<secret> depi useradd <name> -p <password>")
		printer.Println("  3. Log in:                   DEPI_PASSWORD=<password> depi login")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing depi.yml")
	rootCmd.AddCommand(initCmd)
}
