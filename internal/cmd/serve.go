package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wethinkt/go-proctail/internal/collect"
	"github.com/wethinkt/go-proctail/internal/config"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Serve command flags
var (
	serveHost     string
	servePort     int
	serveToken    string
	serveAutoPort bool
	serveReplay   string
	serveInterval time.Duration
	serveQuiet    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a collector that accepts and fans out patch streams",
	Long: `Start a collector. Producers register execution processes and POST
their patch batches; viewers list processes and follow them over WebSocket.

The collector provides:
  - POST /v1/processes                     register a process
  - POST /v1/processes/{id}/patches        ingest a batch
  - POST /v1/processes/{id}/finish         mark a process finished
  - GET  /v1/processes[?attempt_id=]       list processes
  - GET  /v1/processes/{id}/ws             backlog, then live batches
  - GET  /metrics                          Prometheus metrics
  - Bearer token authentication (optional)

Flags override [collector] in the config file.

Examples:
  proctail serve                              # localhost:8785
  proctail serve --token mytoken              # Require bearer token auth
  proctail serve --replay run.jsonl --interval 200ms`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cc := collect.CollectorConfig{
		Host:       cfg.Collector.Host,
		Port:       cfg.Collector.Port,
		Token:      resolveToken(serveToken, cfg.Collector.Token),
		Quiet:      serveQuiet,
		RetainDone: cfg.Collector.RetainDuration(),
	}
	if serveHost != "" {
		cc.Host = serveHost
	}
	if servePort != 0 {
		cc.Port = servePort
	}
	if serveAutoPort {
		cc.Port = 0
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tuilog.Log.Info("Starting collector", "host", cc.Host, "port", cc.Port, "auth", cc.Token != "")
	srv := collect.NewServer(cc)

	if !serveQuiet {
		if cc.Token != "" {
			fmt.Fprintln(os.Stderr, "Authentication: enabled (bearer token)")
		} else {
			fmt.Fprintln(os.Stderr, "Authentication: disabled (use --token to secure)")
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	if serveReplay != "" {
		g.Go(func() error {
			n, err := collect.Replay(ctx, srv, serveReplay, serveInterval)
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("replay %s: %w", serveReplay, err)
			}
			tuilog.Log.Info("Replay finished", "path", serveReplay, "messages", n)
			if !serveQuiet {
				fmt.Fprintf(os.Stderr, "Replayed %d messages from %s\n", n, serveReplay)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
