// Package cmd provides the CLI commands for proctail.
package cmd

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"

	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// global flags
var (
	profileFile *os.File // held open for profiling
	logPath     string
	verbose     bool
)

// rootCmd is the root command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "proctail",
	Short: "Live timeline viewer for coding agent execution processes",
	Long: `proctail follows the output of coding agent execution processes as a
stream of JSON patches and shows it as one scrolling conversation.

Running without a subcommand runs 'proctail tail'.

Commands:
  tail     Follow an attempt in the terminal (default)
  render   Print the timeline of a patch file and exit
  serve    Run a collector that accepts and fans out patch streams
  push     Ship a local patch file to a collector
  version  Print version information

Examples:
  proctail                               # Tail the newest attempt of the local collector
  proctail tail --file run.jsonl         # Follow a JSONL patch file
  proctail serve --replay run.jsonl      # Serve a recorded run for a viewer
  proctail push --file run.jsonl --follow # Stream a local run to the collector`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logPath != "" || os.Getenv(tuilog.EnvLogFile) != "" {
			if err := tuilog.Init(logPath); err != nil {
				return fmt.Errorf("init log: %w", err)
			}
			if verbose {
				tuilog.Log.SetLevel(tuilog.LevelDebug)
			}
		}

		// Start pprof profiling if PROCTAIL_PROFILE is set
		if profilePath := os.Getenv("PROCTAIL_PROFILE"); profilePath != "" {
			f, err := os.Create(profilePath)
			if err != nil {
				return fmt.Errorf("create profile file: %w", err)
			}
			profileFile = f

			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				profileFile = nil
				return fmt.Errorf("start CPU profile: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if profileFile != nil {
			pprof.StopCPUProfile()
			profileFile.Close()
			profileFile = nil
		}
		_ = tuilog.Log.Close()
		return nil
	},
	RunE: runTail,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "write debug log to file")

	addTailFlags(rootCmd)
	addTailFlags(tailCmd)

	renderCmd.Flags().StringVarP(&renderFile, "file", "f", "", "JSONL patch file to render (required)")
	renderCmd.Flags().StringVar(&renderProcess, "process", "", "process id for bare operation arrays (default: file name)")
	renderCmd.Flags().BoolVar(&renderJSON, "json", false, "output display entries as JSON")
	renderCmd.Flags().BoolVar(&renderExpand, "expand", false, "show the members of grouped entries")
	renderCmd.Flags().IntVar(&renderWidth, "width", 0, "output width (default: terminal width or 100)")
	_ = renderCmd.MarkFlagRequired("file")

	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default from config, 0 with --auto-port)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "bearer token for authentication (default: PROCTAIL_TOKEN env var)")
	serveCmd.Flags().BoolVar(&serveAutoPort, "auto-port", false, "listen on a free port")
	serveCmd.Flags().StringVar(&serveReplay, "replay", "", "ingest a JSONL patch file after starting")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "delay between replayed messages")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "suppress request logging")

	pushCmd.Flags().StringVarP(&pushFile, "file", "f", "", "JSONL patch file to ship (required)")
	pushCmd.Flags().StringVar(&pushAttempt, "attempt", "", "attempt id to register processes under (default: new uuid)")
	pushCmd.Flags().StringVar(&pushProcess, "process", "", "process id for bare operation arrays (default: file name)")
	pushCmd.Flags().StringVar(&pushReason, "run-reason", "", "run reason of registered processes (default: coding_agent)")
	pushCmd.Flags().StringVar(&pushURL, "url", "", "collector URL (default: "+envCollectorURL+", config, or a running collector)")
	pushCmd.Flags().StringVar(&pushToken, "token", "", "bearer token (default: "+envToken+" env var)")
	pushCmd.Flags().BoolVar(&pushFollow, "follow", false, "keep shipping appended lines until interrupted")
	pushCmd.Flags().BoolVarP(&pushQuiet, "quiet", "q", false, "suppress the summary")
	_ = pushCmd.MarkFlagRequired("file")

	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(versionCmd)
}
