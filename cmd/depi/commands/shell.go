package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/dyluth/depi/internal/artifact"
	"github.com/dyluth/depi/internal/printer"
	"github.com/dyluth/depi/internal/shell"
	"github.com/dyluth/depi/pkg/depi"
	"github.com/spf13/cobra"
)

var shellCheckouts []string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Serve a host application over JSON lines on stdin and stdout",
	Long: `Run the host event protocol for an editor or other host application.

Each line on stdin is one event, e.g.
  {"type": "REQUEST_DEPI_MODEL", "value": {"branchName": "main"}}
Each line on stdout is one event sent back: a model event per request, an
ERROR_MESSAGE on failure, and fresh models whenever the graph or the
blackboard changes. The shell stops at end of input.

Reveal and diff requests are served from the git checkouts given with
--checkout; the current directory is used when it is a checkout.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

// lineSink writes one JSON event per line.
type lineSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (s *lineSink) Send(_ context.Context, ev shell.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(ev)
}

func runShell(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	conn, err := connect(ctx)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	viewer := artifact.NewViewer(artifact.NewResolver(), printer.ErrOut)
	checkouts := shellCheckouts
	if len(checkouts) == 0 {
		if ok, _ := artifact.NewResolver().IsRepository("."); ok {
			checkouts = []string{"."}
		}
	}
	for _, dir := range checkouts {
		if _, err := viewer.AddCheckout(dir); err != nil {
			return printer.DepiError(err)
		}
	}

	tools := make(map[string]shell.ToolConfig, len(cfg.Tools))
	for id, t := range cfg.Tools {
		tools[id] = shell.ToolConfig{PathDivider: t.PathDivider}
	}

	sink := &lineSink{enc: json.NewEncoder(printer.Out)}
	h := shell.NewHandler(conn.session, sink, shell.HandlerOptions{
		Tools:       tools,
		Artifacts:   viewer,
		CallTimeout: cfg.Client.CallTimeout(),
	})
	defer h.Close(context.Background())

	runCtx, expire := context.WithCancelCause(context.Background())
	defer expire(nil)
	keepalive := shell.StartKeepalive(runCtx, conn.session, shell.KeepaliveOptions{
		Interval: cfg.Client.PingInterval(),
		Tokens:   &shell.FileTokenStore{Path: cfg.Client.TokenFile},
		OnStatus: func(st shell.Status, err error) {
			log.Printf("[Shell] Connection %s: %v", st, err)
		},
		OnExpired: func(err error) {
			ev, encErr := shell.NewEvent(shell.ErrorMessage, shell.ErrorValue{
				Message: printer.Explain(err).Message(),
				Kind:    depi.KindOf(err),
			})
			if encErr == nil {
				sink.Send(runCtx, ev)
			}
			expire(err)
		},
	})
	defer keepalive.Stop()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(cmd.InOrStdin())
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-runCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			var ev shell.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				fmt.Fprintf(printer.ErrOut, "Skipping malformed event: %v\n", err)
				continue
			}
			h.Handle(ev)

		case err := <-readErr:
			if waitErr := h.Wait(runCtx); waitErr != nil {
				return printer.DepiError(context.Cause(runCtx))
			}
			if err != nil {
				return fmt.Errorf("failed to read events: %w", err)
			}
			return nil

		case <-runCtx.Done():
			return printer.DepiError(context.Cause(runCtx))
		}
	}
}

func init() {
	shellCmd.Flags().StringSliceVar(&shellCheckouts, "checkout", nil, "Git checkout serving reveal and diff requests (repeatable)")
	rootCmd.AddCommand(shellCmd)
}
