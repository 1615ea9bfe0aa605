package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/shell"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream graph and blackboard changes",
	Long: `Stream changes to the graph of the current branch and, on main, to your
blackboard, until interrupted.

The session is kept alive with periodic pings; the rotated token is stored
so the next command logs in without a password.

Output Formats:
  default - Human-readable output with timestamps
  json    - Line-delimited JSON for programmatic processing`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

// updatePrinter serializes output from the watcher callbacks.
type updatePrinter struct {
	mu     sync.Mutex
	asJSON bool
}

func (p *updatePrinter) update(u depi.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		data, err := json.Marshal(u)
		if err != nil {
			return
		}
		printer.Printf("%s\n", data)
		return
	}
	groups := make([]string, 0, len(u.Groups))
	for _, g := range u.Groups {
		groups = append(groups, g.URL)
	}
	line := fmt.Sprintf("[%s] %-10s %-8s %s", time.Now().Format("15:04:05"), u.Scope, u.Branch, u.Reason)
	if len(groups) > 0 {
		line += " (" + strings.Join(groups, ", ") + ")"
	}
	printer.Printf("%s\n", line)
}

func (p *updatePrinter) failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	printer.Warning("Watcher failed: %s\n", printer.Explain(err).Message())
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchOutputFormat != "default" && watchOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Client.CallTimeout())
	conn, err := connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	s := conn.session

	out := &updatePrinter{asJSON: watchOutputFormat == "json"}
	if _, err := s.Watch(ctx, depi.ScopeGraph, out.update, out.failure); err != nil {
		return printer.DepiError(err)
	}
	if s.Branch() == depi.MainBranch {
		if _, err := s.Watch(ctx, depi.ScopeBlackboard, out.update, out.failure); err != nil {
			return printer.DepiError(err)
		}
	}

	ctx, expire := context.WithCancelCause(ctx)
	defer expire(nil)
	keepalive := shell.StartKeepalive(ctx, s, shell.KeepaliveOptions{
		Interval: cfg.Client.PingInterval(),
		Tokens:   &shell.FileTokenStore{Path: cfg.Client.TokenFile},
		OnStatus: func(st shell.Status, err error) {
			if st == shell.StatusConnected {
				printer.Success("Connection restored\n")
				return
			}
			printer.Warning("Connection %s: %v\n", st, err)
		},
		OnExpired: func(err error) { expire(err) },
	})
	defer keepalive.Stop()

	if !out.asJSON {
		printer.Step("Watching branch %s as %s (Ctrl-C to stop)\n", s.Branch(), s.User())
	}
	<-ctx.Done()

	if cause := context.Cause(ctx); depi.IsAuth(cause) {
		return printer.Error(
			"session expired",
			cause.Error(),
			[]string{fmt.Sprintf("Log in again:\n  DEPI_PASSWORD=<password> depi login --user %s", s.User())},
		)
	}
	return nil
}
