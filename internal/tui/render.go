package tui

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/x/ansi"

	"github.com/wethinkt/go-proctail/internal/aggregate"
	"github.com/wethinkt/go-proctail/internal/entry"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

const (
	// maxThinkingLen bounds how much of a reasoning step is shown.
	maxThinkingLen = 500
	// maxMarkdownCache bounds the rendered markdown kept per width.
	maxMarkdownCache = 512
)

// Renderer turns display entries into styled terminal text of a fixed width.
// Markdown output is cached by source text until the width changes.
type Renderer struct {
	width    int
	markdown bool
	md       *glamour.TermRenderer
	mdCache  map[string]string
}

// NewRenderer creates a renderer. Assistant messages and plans are rendered
// as markdown when markdown is set.
func NewRenderer(width int, markdown bool) *Renderer {
	r := &Renderer{markdown: markdown}
	r.SetWidth(width)
	return r
}

// SetWidth changes the output width.
func (r *Renderer) SetWidth(width int) {
	width = max(20, width)
	if width == r.width && r.mdCache != nil {
		return
	}
	r.width = width
	r.md = nil
	r.mdCache = make(map[string]string)
	if r.markdown {
		md, err := glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(r.contentWidth()),
		)
		if err != nil {
			tuilog.Log.Warn("Markdown renderer unavailable", "error", err)
			return
		}
		r.md = md
	}
}

// Width returns the output width.
func (r *Renderer) Width() int { return r.width }

// contentWidth is the width inside block padding.
func (r *Renderer) contentWidth() int { return max(10, r.width-2) }

// Row renders one display entry. Groups show a one-line summary unless
// expanded.
func (r *Renderer) Row(item aggregate.DisplayEntry, expanded bool) string {
	s := GetStyles()
	switch v := item.(type) {
	case aggregate.Single:
		return r.Entry(v.Entry)
	case aggregate.ToolGroup, aggregate.DiffGroup, aggregate.ThinkingGroup:
		marker := "▸ "
		if expanded {
			marker = "▾ "
		}
		header := r.truncate(s.GroupLabel.Render(marker + Summary(item)))
		if !expanded {
			return header + "\n"
		}
		parts := []string{header}
		for _, e := range item.Members() {
			parts = append(parts, indent(r.Entry(e), "  "))
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// Summary is the collapsed label of a group, e.g. "Read 3 files".
func Summary(item aggregate.DisplayEntry) string {
	switch v := item.(type) {
	case aggregate.ToolGroup:
		n := len(v.Entries)
		switch v.Category {
		case entry.CategoryFileRead:
			return plural(n, "Read %d file", "Read %d files")
		case entry.CategorySearch:
			return plural(n, "Searched %d pattern", "Searched %d patterns")
		case entry.CategoryWebFetch:
			return plural(n, "Fetched %d URL", "Fetched %d URLs")
		default:
			return plural(n, "%d tool call", "%d tool calls")
		}
	case aggregate.DiffGroup:
		return fmt.Sprintf("Edited %s ×%d", v.FilePath, len(v.Entries))
	case aggregate.ThinkingGroup:
		return fmt.Sprintf("Thought ×%d", len(v.Entries))
	case aggregate.Single:
		return v.Entry.Payload.Kind()
	}
	return ""
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf(one, n)
	}
	return fmt.Sprintf(many, n)
}

// Entry renders a single entry.
func (r *Renderer) Entry(e entry.Entry) string {
	s := GetStyles()
	switch p := e.Payload.(type) {
	case entry.StdOut:
		return r.output(p.Content, s.StdOut)
	case entry.StdErr:
		return r.output(p.Content, s.StdErr)
	case *entry.NormalizedEntry:
		return r.normalized(p)
	case entry.Unknown:
		return r.truncate(s.Muted.Render("[" + p.Type + "]"))
	default:
		return ""
	}
}

func (r *Renderer) normalized(n *entry.NormalizedEntry) string {
	s := GetStyles()
	w := r.width

	switch t := n.Type.(type) {
	case entry.UserMessage:
		return s.UserLabel.Render("User") + "\n" + s.UserBlock.Width(w).Render(n.Content)

	case entry.AssistantMessage:
		return s.AssistantLabel.Render("Assistant") + "\n" + s.AssistantBlock.Width(w).Render(r.renderMarkdown(n.Content))

	case entry.Thinking:
		text := n.Content
		if len(text) > maxThinkingLen {
			text = text[:maxThinkingLen] + "..."
		}
		return s.ThinkingLabel.Render("Thinking") + "\n" + s.ThinkingBlock.Width(w).Render(text)

	case entry.ToolUse:
		return r.toolUse(t, n.Content)

	case entry.ErrorMessage:
		label := "Error"
		if t.ErrorType != "" {
			label += ": " + t.ErrorType
		}
		return s.ErrorLabel.Render(label) + "\n" + s.ErrorBlock.Width(w).Render(n.Content)

	case entry.UserFeedback:
		text := n.Content
		if t.DeniedTool != "" {
			text = "Denied " + t.DeniedTool + ": " + text
		}
		return s.UserLabel.Render("Feedback") + "\n" + s.UserBlock.Width(w).Render(text)

	case entry.Loading:
		return r.truncate(s.Muted.Render("Loading..."))

	default:
		if n.Content == "" {
			return r.truncate(s.Muted.Render("[" + n.Type.TypeName() + "]"))
		}
		return s.Muted.Width(w).Render(n.Content)
	}
}

func (r *Renderer) toolUse(t entry.ToolUse, content string) string {
	s := GetStyles()
	label := "Tool: " + t.ToolName
	if t.Status.Status != "" {
		label += " (" + t.Status.Status + ")"
	}
	header := r.truncate(s.ToolLabel.Render(label))

	var body string
	switch a := t.Action.(type) {
	case entry.FileRead:
		body = "read " + a.Path
	case entry.Search:
		body = "search " + a.Query
	case entry.WebFetch:
		body = "fetch " + a.URL
	case entry.FileEdit:
		body = fmt.Sprintf("edit %s (%s)", a.Path, plural(len(a.Changes), "%d change", "%d changes"))
	case entry.CommandRun:
		body = "$ " + a.Command
		if a.Result != nil && a.Result.ExitCode != nil {
			body += fmt.Sprintf("\nexit %d", *a.Result.ExitCode)
		}
	case entry.TaskCreate:
		body = "task " + a.Description
	case entry.PlanPresentation:
		return header + "\n" + s.ToolBlock.Width(r.width).Render(r.renderMarkdown(a.Plan))
	case entry.TodoManagement:
		lines := make([]string, 0, len(a.Todos))
		for _, todo := range a.Todos {
			mark := "[ ]"
			if todo.Status == "completed" {
				mark = "[x]"
			}
			lines = append(lines, mark+" "+todo.Content)
		}
		body = strings.Join(lines, "\n")
	default:
		body = content
	}
	if body == "" {
		body = content
	}

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = ansi.Truncate(line, r.contentWidth(), "…")
	}
	return header + "\n" + s.ToolBlock.Render(strings.Join(lines, "\n"))
}

// output renders raw process output, one truncated line per source line.
func (r *Renderer) output(content string, style lipgloss.Style) string {
	content = strings.TrimRight(content, "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = ansi.Truncate(style.Render(line), r.width, "…")
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) truncate(line string) string {
	return ansi.Truncate(line, r.width, "…")
}

func (r *Renderer) renderMarkdown(text string) string {
	if r.md == nil || text == "" {
		return text
	}
	if out, ok := r.mdCache[text]; ok {
		return out
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		tuilog.Log.Debug("Markdown render failed", "error", err)
		return text
	}
	out := strings.TrimSpace(rendered)
	if len(r.mdCache) >= maxMarkdownCache {
		clear(r.mdCache)
	}
	r.mdCache[text] = out
	return out
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
