package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/depi/internal/config"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/shell"
	"github.com/dyluth/depi/internal/wire"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	flagServer   string
	flagUser     string
	flagBranch   string
	outputFormat string

	// cfg is loaded before every command runs.
	cfg *config.DepiConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "depi",
	Short: "depi - dependency tracking across tools and repositories",
	Long: `depi records dependencies between resources that live in different tools
and repositories, tracks which links went dirty when a resource changed,
and lets you stage new links on a personal blackboard before saving them
to the shared graph.

The graph service keeps its state in Redis; the CLI talks to it over a
websocket connection configured in depi.yml.`,
	PersistentPreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	// Errors are printed by the printer package, not by cobra
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultPath, "Path to depi.yml")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Graph service url (overrides client.server_url)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "User name (overrides client.user)")
	rootCmd.PersistentFlags().StringVarP(&flagBranch, "branch", "b", "", "Branch to work on (overrides client.branch)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}
	c, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return printer.Error(
			"invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Fix %s or remove it to use the defaults", cfgFile)},
		)
	}
	if flagServer != "" {
		c.Client.ServerURL = flagServer
	}
	if flagUser != "" {
		c.Client.User = flagUser
	}
	if flagBranch != "" {
		c.Client.Branch = flagBranch
	}
	cfg = c
	return nil
}

// commandContext bounds a one-shot command by the configured call timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, cfg.Client.CallTimeout())
}

// connection is an open session and the transport under it.
type connection struct {
	session *depi.Session
	client  *wire.Client
}

func (c *connection) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.session.Logout(ctx)
	c.client.Close()
}

// connect dials the graph service, logs in and switches to the configured branch.
func connect(ctx context.Context) (*connection, error) {
	user := cfg.Client.User
	if user == "" {
		return nil, printer.Error(
			"no user configured",
			"depi needs a user name to log in.",
			[]string{
				"Set client.user in depi.yml",
				fmt.Sprintf("Export %s=<name> or pass --user <name>", config.EnvUser),
			},
		)
	}

	client, err := wire.Dial(ctx, cfg.Client.ServerURL)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"cannot reach the graph service",
			err.Error(),
			map[string]string{"Server": cfg.Client.ServerURL},
			[]string{"Start it with:\n  depi serve", "Check client.server_url in depi.yml"},
		)
	}

	s, err := shell.Connect(ctx, client, user, cfg.Client.Password, &shell.FileTokenStore{Path: cfg.Client.TokenFile})
	if err != nil {
		client.Close()
		if depi.IsAuth(err) {
			return nil, printer.Error(
				"login failed",
				err.Error(),
				[]string{
					fmt.Sprintf("Log in with a password:\n  %s=<password> depi login", config.EnvPassword),
				},
			)
		}
		return nil, printer.DepiError(err)
	}
	conn := &connection{session: s, client: client}

	if branch := cfg.Client.Branch; branch != "" && branch != s.Branch() {
		_, ok, err := s.SwitchBranch(ctx, branch)
		if err != nil {
			conn.Close()
			return nil, printer.DepiError(err)
		}
		if !ok {
			conn.Close()
			return nil, printer.Error(
				fmt.Sprintf("branch '%s' does not exist", branch),
				"The graph service has no branch with that name.",
				[]string{"List branches:\n  depi branch list", fmt.Sprintf("Create it:\n  depi branch create %s", branch)},
			)
		}
	}
	return conn, nil
}

// withSession runs fn with a fresh session bounded by the call timeout.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *depi.Session) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	conn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := fn(ctx, conn.session); err != nil {
		return printer.DepiError(err)
	}
	return nil
}
