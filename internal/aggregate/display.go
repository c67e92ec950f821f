// Package aggregate collapses runs of low-signal timeline entries into groups.
//
// The output is a partition of the input: flattening the display entries in
// order yields exactly the input entries.
package aggregate

import "github.com/wethinkt/go-proctail/internal/entry"

// Group key prefixes. A group's key is the prefix followed by the patch key
// of its first member.
const (
	ToolGroupPrefix     = "agg:"
	DiffGroupPrefix     = "agg-diff:"
	ThinkingGroupPrefix = "agg-thinking:"
)

// DisplayEntry is one node of the aggregated timeline.
// Implementations: Single, ToolGroup, DiffGroup, ThinkingGroup.
type DisplayEntry interface {
	displayEntry()
	// Key is the stable identity used by the windowed renderer.
	Key() string
	// Members returns the original entries covered by the node, in order.
	Members() []entry.Entry
}

// Single is an entry shown as-is.
type Single struct {
	Entry entry.Entry
}

// ToolGroup is a run of consecutive tool uses of one category.
type ToolGroup struct {
	Category entry.Category
	Entries  []entry.Entry
	GroupKey string
}

// DiffGroup is a run of consecutive edits to one file.
type DiffGroup struct {
	FilePath string
	Entries  []entry.Entry
	GroupKey string
}

// ThinkingGroup is a run of reasoning steps from a previous turn.
type ThinkingGroup struct {
	Entries  []entry.Entry
	GroupKey string
}

func (Single) displayEntry()        {}
func (ToolGroup) displayEntry()     {}
func (DiffGroup) displayEntry()     {}
func (ThinkingGroup) displayEntry() {}

func (s Single) Key() string        { return s.Entry.PatchKey }
func (g ToolGroup) Key() string     { return g.GroupKey }
func (g DiffGroup) Key() string     { return g.GroupKey }
func (g ThinkingGroup) Key() string { return g.GroupKey }

func (s Single) Members() []entry.Entry        { return []entry.Entry{s.Entry} }
func (g ToolGroup) Members() []entry.Entry     { return g.Entries }
func (g DiffGroup) Members() []entry.Entry     { return g.Entries }
func (g ThinkingGroup) Members() []entry.Entry { return g.Entries }

// Flatten returns the entries covered by items, in order.
func Flatten(items []DisplayEntry) []entry.Entry {
	n := 0
	for _, item := range items {
		n += len(item.Members())
	}
	out := make([]entry.Entry, 0, n)
	for _, item := range items {
		out = append(out, item.Members()...)
	}
	return out
}
