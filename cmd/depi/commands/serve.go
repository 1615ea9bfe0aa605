package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dyluth/depi/internal/config"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/server"
	"github.com/spf13/cobra"
)

var useraddPassword string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the graph service",
	Long: `Run the graph service in the foreground.

The service stores the graph, the blackboards and the sessions in the Redis
instance named by server.redis_url and serves the depi protocol over a
websocket at server.path, next to /healthz and /metrics.

The token signing secret is read from the variable named by
server.token_secret_env (DEPI_TOKEN_SECRET by default).

Examples:
  DEPI_TOKEN_SECRET=change-me depi serve
  DEPI_REDIS_URL=redis://cache:6379/0 depi serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var useraddCmd = &cobra.Command{
	Use:   "useradd <name>",
	Short: "Create or reset a user",
	Long: `Create a user, or reset the password of an existing one, directly in the
graph service's Redis instance.

The password is taken from --password or DEPI_PASSWORD.`,
	Args: cobra.ExactArgs(1),
	RunE: runUseradd,
}

func init() {
	useraddCmd.Flags().StringVarP(&useraddPassword, "password", "p", "", "Password (defaults to $DEPI_PASSWORD)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(useraddCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	printer.Step("Starting graph service on %s\n", cfg.Server.Listen)
	if err := server.Run(ctx, cfg); err != nil {
		return serveError(err)
	}
	printer.Success("Graph service stopped\n")
	return nil
}

func runUseradd(cmd *cobra.Command, args []string) error {
	password := useraddPassword
	if password == "" {
		password = cfg.Client.Password
	}
	if password == "" {
		return printer.Error(
			"no password given",
			"useradd needs the new user's password.",
			[]string{fmt.Sprintf("Pass --password or export %s", config.EnvPassword)},
		)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	svc, closeStore, err := server.OpenService(ctx, cfg)
	if err != nil {
		return serveError(err)
	}
	defer closeStore()

	if err := svc.AddUser(ctx, args[0], password); err != nil {
		return printer.DepiError(err)
	}
	printer.Success("User '%s' saved\n", args[0])
	return nil
}

func serveError(err error) error {
	return printer.ErrorWithContext(
		"graph service failed",
		err.Error(),
		map[string]string{"Redis": cfg.Server.RedisURL},
		[]string{
			fmt.Sprintf("Export %s with the token signing secret", cfg.Server.TokenSecretEnv),
			"Check that Redis is running and server.redis_url is correct",
		},
	)
}

