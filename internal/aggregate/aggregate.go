package aggregate

import "github.com/wethinkt/go-proctail/internal/entry"

// Aggregate groups entries for display. It runs two passes: reasoning steps
// of previous turns are collapsed into ThinkingGroups, then consecutive tool
// uses of one category and consecutive edits of one file are grouped. Runs of
// a single tool use or edit stay bare.
//
// Aggregate is pure; it does not modify entries.
func Aggregate(entries []entry.Entry) []DisplayEntry {
	return groupRuns(collapseThinking(entries))
}

// collapseThinking wraps runs of Thinking entries that precede the last
// UserMessage. With fewer than two UserMessages there is no previous turn
// and every entry passes through.
func collapseThinking(entries []entry.Entry) []DisplayEntry {
	out := make([]DisplayEntry, 0, len(entries))

	boundary, users := -1, 0
	for i, e := range entries {
		if e.IsUserMessage() {
			boundary = i
			users++
		}
	}
	if users < 2 {
		for _, e := range entries {
			out = append(out, Single{Entry: e})
		}
		return out
	}

	var pending []entry.Entry
	flush := func() {
		if len(pending) == 0 {
			return
		}
		out = append(out, ThinkingGroup{
			Entries:  pending,
			GroupKey: ThinkingGroupPrefix + pending[0].PatchKey,
		})
		pending = nil
	}

	for i, e := range entries {
		if i < boundary && e.IsThinking() {
			pending = append(pending, e)
			continue
		}
		flush()
		out = append(out, Single{Entry: e})
	}
	flush()
	return out
}

// run is a pending sequence of groupable entries.
type run struct {
	category entry.Category
	path     string
	entries  []entry.Entry
}

func (r *run) empty() bool { return len(r.entries) == 0 }

// groupRuns merges strictly consecutive tool uses of the same category and
// edits of the same non-empty path. Tool and diff runs are mutually
// exclusive: starting one flushes the other.
func groupRuns(items []DisplayEntry) []DisplayEntry {
	out := make([]DisplayEntry, 0, len(items))
	var tool, diff run

	flushTool := func() {
		switch len(tool.entries) {
		case 0:
		case 1:
			out = append(out, Single{Entry: tool.entries[0]})
		default:
			out = append(out, ToolGroup{
				Category: tool.category,
				Entries:  tool.entries,
				GroupKey: ToolGroupPrefix + tool.entries[0].PatchKey,
			})
		}
		tool = run{}
	}
	flushDiff := func() {
		switch len(diff.entries) {
		case 0:
		case 1:
			out = append(out, Single{Entry: diff.entries[0]})
		default:
			out = append(out, DiffGroup{
				FilePath: diff.path,
				Entries:  diff.entries,
				GroupKey: DiffGroupPrefix + diff.entries[0].PatchKey,
			})
		}
		diff = run{}
	}

	for _, item := range items {
		single, ok := item.(Single)
		if !ok {
			flushTool()
			flushDiff()
			out = append(out, item)
			continue
		}

		e := single.Entry
		action := e.ToolAction()
		if action == nil {
			flushTool()
			flushDiff()
			out = append(out, item)
			continue
		}

		switch cat := action.Category(); cat {
		case entry.CategoryFileEdit:
			flushTool()
			path := editPath(action)
			if !diff.empty() && path != "" && path == diff.path {
				diff.entries = append(diff.entries, e)
				continue
			}
			flushDiff()
			diff = run{category: cat, path: path, entries: []entry.Entry{e}}
		case entry.CategoryFileRead, entry.CategorySearch, entry.CategoryWebFetch:
			flushDiff()
			if !tool.empty() && tool.category == cat {
				tool.entries = append(tool.entries, e)
				continue
			}
			flushTool()
			tool = run{category: cat, entries: []entry.Entry{e}}
		default:
			flushTool()
			flushDiff()
			out = append(out, item)
		}
	}
	flushTool()
	flushDiff()
	return out
}

func editPath(a entry.ToolAction) string {
	if edit, ok := a.(entry.FileEdit); ok {
		return edit.Path
	}
	return ""
}
