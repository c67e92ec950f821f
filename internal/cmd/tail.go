package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/go-proctail/internal/config"
	"github.com/wethinkt/go-proctail/internal/present"
	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tui"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Environment overrides for reaching a collector.
const (
	envCollectorURL = "PROCTAIL_COLLECTOR_URL"
	envToken        = "PROCTAIL_TOKEN"
)

// Tail command flags
var (
	tailURL     string
	tailToken   string
	tailAttempt string
	tailProcess string
	tailFile    string
)

var errNoCollector = errors.New("no collector found: start one with 'proctail serve' or pass --url")

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow an attempt in the terminal",
	Long: `Show the execution processes of one attempt as a single live timeline.

Without --file, proctail connects to a collector: --url, then
$PROCTAIL_COLLECTOR_URL, then stream.collector_url from the config file,
then the newest running 'proctail serve' on this machine.

Keys:
  j/k, pgup/pgdn   scroll (scrolling up pauses following)
  g / G            top / follow the tail again
  tab / shift+tab  next / previous attempt
  e                expand grouped tool calls
  q                quit

Examples:
  proctail tail                          # Newest attempt of the local collector
  proctail tail --attempt 7f3c...        # A specific attempt
  proctail tail --process 91ab...        # The attempt that owns a process
  proctail tail --file run.jsonl         # Follow a JSONL patch file`,
	RunE: runTail,
}

func addTailFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tailURL, "url", "", "collector URL (default: discover)")
	cmd.Flags().StringVar(&tailToken, "token", "", "collector bearer token (default: PROCTAIL_TOKEN env var)")
	cmd.Flags().StringVar(&tailAttempt, "attempt", "", "attempt to show first (default: newest)")
	cmd.Flags().StringVar(&tailProcess, "process", "", "show the attempt of this process; with --file, names bare operation arrays")
	cmd.Flags().StringVar(&tailFile, "file", "", "follow a JSONL patch file instead of a collector")
}

func runTail(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var (
		src     tui.Source
		attempt = tailAttempt
	)
	if tailFile != "" {
		if _, err := os.Stat(tailFile); err != nil {
			return fmt.Errorf("open patch file: %w", err)
		}
		src = tui.NewFileSource(tailFile, tailProcess)
	} else {
		url := resolveCollectorURL(tailURL, cfg.Stream)
		if url == "" {
			return errNoCollector
		}
		hub := stream.NewHub(stream.HubConfig{
			CollectorURL: url,
			Token:        resolveToken(tailToken, cfg.Stream.Token),
			PollInterval: cfg.Stream.PollDuration(),
		})
		if err := hub.PollOnce(ctx); err != nil {
			return fmt.Errorf("reach collector at %s: %w", url, err)
		}
		go func() {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				tuilog.Log.Error("Collector polling stopped", "error", err)
			}
		}()

		if attempt == "" && tailProcess != "" {
			p, ok := hub.Find(tailProcess)
			if !ok {
				return fmt.Errorf("process %s is not known to %s", tailProcess, url)
			}
			attempt = p.AttemptID
		}
		src = tui.HubSource{Hub: hub}
	}

	inst := config.Instance{
		Type:      config.InstanceTail,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}
	if err := config.RegisterInstance(inst); err != nil {
		tuilog.Log.Warn("Failed to register instance", "error", err)
	}
	defer config.UnregisterInstance(inst.PID)

	model := tui.NewTimelineModel(ctx, src, tui.TimelineOptions{
		Attempt: attempt,
		Present: present.Options{
			NearBottomThreshold: cfg.Viewer.NearBottomThreshold,
			Overscan:            cfg.Viewer.Overscan,
			EstimatedSize:       cfg.Viewer.EstimatedHeight,
		},
		Markdown: cfg.Viewer.Markdown,
	})

	tuilog.Log.Info("Starting viewer", "attempt_id", attempt, "file", tailFile)
	p := tea.NewProgram(model, terminalSizeOption()...)
	_, err = p.Run()
	tuilog.Log.Info("Viewer exited", "error", err)
	return err
}

// terminalSizeOption reports the initial terminal size, trying stdout,
// stdin and stderr in order.
func terminalSizeOption() []tea.ProgramOption {
	for _, fd := range []int{int(os.Stdout.Fd()), int(os.Stdin.Fd()), int(os.Stderr.Fd())} {
		if term.IsTerminal(fd) {
			w, h, err := term.GetSize(fd)
			if err == nil && w > 0 && h > 0 {
				tuilog.Log.Debug("Terminal size", "fd", fd, "width", w, "height", h)
				return []tea.ProgramOption{tea.WithWindowSize(w, h)}
			}
		}
	}
	return nil
}

// resolveCollectorURL picks the collector to connect to: the flag, then the
// environment, then the config file, then a running local collector.
func resolveCollectorURL(flag string, cfg config.StreamConfig) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(envCollectorURL); env != "" {
		return env
	}
	if cfg.CollectorURL != "" {
		return cfg.CollectorURL
	}
	if inst := config.FindCollector(); inst != nil {
		return inst.URL()
	}
	return ""
}

// resolveToken prefers the flag, then the environment, then the config file.
func resolveToken(flag, configured string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(envToken); env != "" {
		return env
	}
	return configured
}
