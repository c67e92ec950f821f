package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wethinkt/go-proctail/internal/aggregate"
	"github.com/wethinkt/go-proctail/internal/config"
	"github.com/wethinkt/go-proctail/internal/conversation"
	"github.com/wethinkt/go-proctail/internal/entry"
	"github.com/wethinkt/go-proctail/internal/patchstream"
	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tui"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

const (
	defaultRenderWidth = 100
	renderAttempt      = "render"
)

// Render command flags
var (
	renderFile    string
	renderProcess string
	renderJSON    bool
	renderExpand  bool
	renderWidth   int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the timeline of a patch file and exit",
	Long: `Apply every message of a JSONL patch file and print the aggregated
timeline, as the terminal viewer would show it, without scrolling.

Each line is either a message object ({"process_id", "ops", ...}) or a bare
array of JSON patch operations. Bare arrays belong to --process, which
defaults to the file name without its extension.

Examples:
  proctail render --file run.jsonl
  proctail render --file run.jsonl --expand
  proctail render --file run.jsonl --json | jq '.[].summary'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		opts := renderOptions{
			processID: renderProcess,
			json:      renderJSON,
			expand:    renderExpand,
			width:     renderWidth,
			markdown:  cfg.Viewer.Markdown,
		}
		if opts.width <= 0 {
			opts.width = outputWidth()
		}
		return renderPatchFile(cmd.OutOrStdout(), renderFile, opts)
	},
}

type renderOptions struct {
	processID string
	json      bool
	expand    bool
	width     int
	markdown  bool
}

// renderedItem is the JSON form of one display entry.
type renderedItem struct {
	Key     string        `json:"key"`
	Kind    string        `json:"kind"`
	Summary string        `json:"summary,omitempty"`
	Entries []entry.Entry `json:"entries"`
}

// renderPatchFile replays path into a history and writes its display
// entries to w.
func renderPatchFile(w io.Writer, path string, opts renderOptions) error {
	if opts.processID == "" {
		opts.processID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	items, err := loadDisplay(path, opts.processID)
	if err != nil {
		return err
	}

	if opts.json {
		out := make([]renderedItem, 0, len(items))
		for _, item := range items {
			ri := renderedItem{Key: item.Key(), Kind: displayKind(item), Entries: item.Members()}
			if _, single := item.(aggregate.Single); !single {
				ri.Summary = tui.Summary(item)
			}
			out = append(out, ri)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	r := tui.NewRenderer(opts.width, opts.markdown)
	for _, item := range items {
		if _, err := fmt.Fprintln(w, strings.TrimRight(r.Row(item, opts.expand), "\n")); err != nil {
			return err
		}
	}
	return nil
}

// loadDisplay applies every message of a JSONL patch file.
func loadDisplay(path, processID string) ([]aggregate.DisplayEntry, error) {
	msgs, err := stream.ReadFile(path, processID)
	if err != nil {
		return nil, fmt.Errorf("read patch file: %w", err)
	}

	h := conversation.New()
	h.Start(renderAttempt, []patchstream.StaticInfo{{ID: processID}})
	for _, msg := range msgs {
		h.Deliver(stream.Batch{AttemptID: renderAttempt, Message: msg})
	}
	tuilog.Log.Debug("Rendered patch file", "path", path, "messages", len(msgs))
	return h.Display(), nil
}

func displayKind(item aggregate.DisplayEntry) string {
	switch item.(type) {
	case aggregate.ToolGroup:
		return "tool_group"
	case aggregate.DiffGroup:
		return "diff_group"
	case aggregate.ThinkingGroup:
		return "thinking_group"
	default:
		return "entry"
	}
}

// outputWidth is the terminal width of stdout, or defaultRenderWidth when
// stdout is not a terminal.
func outputWidth() int {
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			return w
		}
	}
	return defaultRenderWidth
}
