package aggregate

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wethinkt/go-proctail/internal/entry"
)

func keyed(entries ...entry.Entry) []entry.Entry {
	out := make([]entry.Entry, len(entries))
	for i, e := range entries {
		out[i] = e.WithKey("p", fmt.Sprintf("p:%d", i))
	}
	return out
}

func read(path string) entry.Entry {
	return entry.NewToolUse("Read", entry.FileRead{Path: path}, "")
}

func search(q string) entry.Entry {
	return entry.NewToolUse("Grep", entry.Search{Query: q}, "")
}

func fetch(url string) entry.Entry {
	return entry.NewToolUse("WebFetch", entry.WebFetch{URL: url}, "")
}

func edit(path string) entry.Entry {
	return entry.NewToolUse("Edit", entry.FileEdit{Path: path}, "")
}

func command(cmd string) entry.Entry {
	return entry.NewToolUse("Bash", entry.CommandRun{Command: cmd}, "")
}

// shape renders display entries compactly for comparison.
func shape(items []DisplayEntry) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch d := item.(type) {
		case Single:
			out = append(out, d.Key())
		case ToolGroup:
			out = append(out, fmt.Sprintf("%s[%s x%d]", d.Key(), d.Category, len(d.Entries)))
		case DiffGroup:
			out = append(out, fmt.Sprintf("%s[%s x%d]", d.Key(), d.FilePath, len(d.Entries)))
		case ThinkingGroup:
			out = append(out, fmt.Sprintf("%s[x%d]", d.Key(), len(d.Entries)))
		}
	}
	return out
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry.Entry
		want    []string
	}{
		{
			name:    "empty",
			entries: nil,
			want:    []string{},
		},
		{
			name: "reads searches and edits",
			entries: keyed(
				read("a"), read("b"), search("q"), edit("a.rs"), edit("a.rs"), edit("b.rs"),
			),
			want: []string{
				"agg:p:0[file_read x2]",
				"p:2",
				"agg-diff:p:3[a.rs x2]",
				"p:5",
			},
		},
		{
			name: "lone read stays bare",
			entries: keyed(
				entry.NewAssistantMessage("looking"), read("a"), entry.NewStdOut("ok"),
			),
			want: []string{"p:0", "p:1", "p:2"},
		},
		{
			name: "only consecutive entries merge",
			entries: keyed(
				read("a"), command("ls"), read("b"),
			),
			want: []string{"p:0", "p:1", "p:2"},
		},
		{
			name: "categories do not mix",
			entries: keyed(
				fetch("x"), fetch("y"), search("q"), search("r"), search("s"),
			),
			want: []string{"agg:p:0[web_fetch x2]", "agg:p:2[search x3]"},
		},
		{
			name: "edit breaks a tool run and read breaks a diff run",
			entries: keyed(
				read("a"), read("b"), edit("a.go"), edit("a.go"), read("c"), read("d"),
			),
			want: []string{
				"agg:p:0[file_read x2]",
				"agg-diff:p:2[a.go x2]",
				"agg:p:4[file_read x2]",
			},
		},
		{
			name: "edits without a path never merge",
			entries: keyed(
				edit(""), edit(""), edit("a.go"),
			),
			want: []string{"p:0", "p:1", "p:2"},
		},
		{
			name: "previous turn thinking is collapsed",
			entries: keyed(
				entry.NewUserMessage("first"),
				entry.NewThinking("t1"),
				entry.NewThinking("t2"),
				entry.NewAssistantMessage("answer"),
				entry.NewThinking("t3"),
				entry.NewUserMessage("second"),
				entry.NewThinking("t4"),
				entry.NewThinking("t5"),
			),
			want: []string{
				"p:0",
				"agg-thinking:p:1[x2]",
				"p:3",
				"agg-thinking:p:4[x1]",
				"p:5",
				"p:6",
				"p:7",
			},
		},
		{
			name: "current turn is exempt",
			entries: keyed(
				entry.NewUserMessage("only"),
				entry.NewThinking("t1"),
				entry.NewThinking("t2"),
				read("a"),
			),
			want: []string{"p:0", "p:1", "p:2", "p:3"},
		},
		{
			name: "no user messages means no collapse",
			entries: keyed(
				entry.NewThinking("t1"),
				entry.NewThinking("t2"),
				entry.NewStdOut("done"),
			),
			want: []string{"p:0", "p:1", "p:2"},
		},
		{
			name: "thinking group flushes tool runs",
			entries: keyed(
				entry.NewUserMessage("first"),
				read("a"),
				entry.NewThinking("t"),
				read("b"),
				read("c"),
				entry.NewUserMessage("second"),
			),
			want: []string{
				"p:0",
				"p:1",
				"agg-thinking:p:2[x1]",
				"agg:p:3[file_read x2]",
				"p:5",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(tt.entries)
			if diff := cmp.Diff(tt.want, shape(got)); diff != "" {
				t.Errorf("Aggregate() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.entries, Flatten(got)); len(tt.entries) > 0 && diff != "" {
				t.Errorf("Flatten(Aggregate()) lost or reordered entries (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAggregate_DoesNotModifyInput(t *testing.T) {
	entries := keyed(read("a"), read("b"), edit("x"), edit("x"))
	snapshot := append([]entry.Entry(nil), entries...)

	Aggregate(entries)

	if diff := cmp.Diff(snapshot, entries); diff != "" {
		t.Errorf("input modified (-want +got):\n%s", diff)
	}
}

func TestMemo(t *testing.T) {
	var m Memo
	entries := keyed(read("a"), read("b"))

	first := m.Aggregate(entries)
	second := m.Aggregate(entries)
	if &first[0] != &second[0] {
		t.Error("same input slice was aggregated twice")
	}

	copied := append([]entry.Entry(nil), entries...)
	third := m.Aggregate(copied)
	if &first[0] == &third[0] {
		t.Error("new input slice returned the cached result")
	}

	grown := append(copied, read("c").WithKey("p", "p:2"))
	fourth := m.Aggregate(grown)
	if got := shape(fourth); got[0] != "agg:p:0[file_read x3]" {
		t.Errorf("after growth got %v", got)
	}

	m.Invalidate()
	if got := m.Aggregate(grown); &got[0] == &fourth[0] {
		t.Error("Invalidate kept the cached result")
	}
}
