package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wethinkt/go-proctail/internal/config"
	"github.com/wethinkt/go-proctail/internal/export"
)

// Push command flags
var (
	pushFile    string
	pushAttempt string
	pushProcess string
	pushReason  string
	pushURL     string
	pushToken   string
	pushFollow  bool
	pushQuiet   bool
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Ship a local patch file to a collector",
	Long: `Register the processes of a JSONL patch file under one attempt and
POST their batches to a collector, where 'proctail tail' can follow them.

Without --follow the file is shipped once and its processes are marked
finished; pushing the same file again replaces the earlier copy. With
--follow, lines appended to the file are shipped until interrupted.

Examples:
  proctail push --file run.jsonl
  proctail push --file run.jsonl --attempt a1 --follow
  proctail push --file run.jsonl --url http://collector:8785 --token secret`,
	RunE: runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	url := resolveCollectorURL(pushURL, cfg.Stream)
	if url == "" {
		return errNoCollector
	}
	attempt := pushAttempt
	if attempt == "" {
		attempt = uuid.NewString()
	}

	exp, err := export.New(export.ExporterConfig{
		CollectorURL: url,
		Token:        resolveToken(pushToken, cfg.Stream.Token),
		Path:         pushFile,
		AttemptID:    attempt,
		ProcessID:    pushProcess,
		RunReason:    pushReason,
		Follow:       pushFollow,
		Quiet:        pushQuiet,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := exp.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return printPushResult(cmd, attempt, exp.Stats())
}

func printPushResult(cmd *cobra.Command, attempt string, stats export.ExporterStats) error {
	if pushQuiet {
		return nil
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Attempt:   %s\n", attempt)
	fmt.Fprintf(w, "Processes: %d\n", len(stats.Processes))
	fmt.Fprintf(w, "Shipped:   %d messages", stats.MessagesShipped)
	if stats.MessagesFailed > 0 {
		fmt.Fprintf(w, " (%d failed)", stats.MessagesFailed)
	}
	fmt.Fprintln(w)
	if stats.MessagesFailed > 0 {
		return fmt.Errorf("%d messages failed to ship", stats.MessagesFailed)
	}
	return nil
}
