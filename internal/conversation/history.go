// Package conversation assembles the timeline of one attempt: the ordered
// execution processes whose entries are shown as a single conversation.
package conversation

import (
	"github.com/wethinkt/go-proctail/internal/aggregate"
	"github.com/wethinkt/go-proctail/internal/entry"
	"github.com/wethinkt/go-proctail/internal/patchstream"
	"github.com/wethinkt/go-proctail/internal/present"
	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Update is the outcome of an applied batch.
type Update struct {
	ProcessID string
	AddType   present.AddEntryType
	Result    patchstream.Result
	Display   []aggregate.DisplayEntry
}

// History owns the process state of the active attempt. Like the view that
// drives it, it is used from a single update loop.
type History struct {
	store     *patchstream.Store
	attemptID string
	order     []string
	known     map[string]bool
	initial   bool

	memo     aggregate.Memo
	flat     []entry.Entry
	flatLen  int // len(order) when flat was built
	versions map[string]uint64
}

// New creates an empty history with no active attempt.
func New() *History {
	return &History{
		store:    patchstream.NewStore(),
		known:    make(map[string]bool),
		versions: make(map[string]uint64),
	}
}

// Start makes attemptID the active attempt and forgets all previous state.
// Batches stamped with any other attempt are ignored from now on.
func (h *History) Start(attemptID string, processes []patchstream.StaticInfo) {
	h.store.Clear()
	h.attemptID = attemptID
	h.order = h.order[:0]
	h.known = make(map[string]bool, len(processes))
	h.initial = false
	h.memo.Invalidate()
	h.flat = nil
	h.flatLen = 0
	h.versions = make(map[string]uint64)

	for _, p := range processes {
		h.store.SetStaticInfo(p)
		h.track(p.ID)
	}
}

func (h *History) track(processID string) {
	if h.known[processID] {
		return
	}
	h.known[processID] = true
	h.order = append(h.order, processID)
}

// AttemptID returns the active attempt.
func (h *History) AttemptID() string { return h.attemptID }

// Store exposes the underlying process store.
func (h *History) Store() *patchstream.Store { return h.store }

// ProcessIDs returns the processes of the attempt in display order.
func (h *History) ProcessIDs() []string {
	return append([]string(nil), h.order...)
}

// Deliver applies a batch. It reports false when the batch belongs to an
// attempt that is no longer active.
func (h *History) Deliver(b stream.Batch) (Update, bool) {
	if b.AttemptID != h.attemptID {
		tuilog.Log.Debug("Discarding stale batch", "attempt_id", b.AttemptID, "active", h.attemptID, "process_id", b.ProcessID)
		return Update{}, false
	}

	id := b.ProcessID
	h.track(id)
	if b.Info != nil {
		info := *b.Info
		info.ID = id
		h.store.SetStaticInfo(info)
	}
	if b.Reset {
		h.store.Reset(id)
	}
	res := h.store.Apply(id, b.Ops)
	if b.Finished {
		h.store.MarkFinished(id)
	}

	return Update{
		ProcessID: id,
		AddType:   h.addType(id),
		Result:    res,
		Display:   h.Display(),
	}, true
}

// addType classifies a batch for the scroll policy.
func (h *History) addType(processID string) present.AddEntryType {
	if !h.initial {
		h.initial = true
		return present.Initial
	}
	if processID != h.order[len(h.order)-1] {
		return present.Historic
	}
	entries := h.store.Entries(processID)
	if len(entries) > 0 {
		if _, ok := entries[len(entries)-1].ToolAction().(entry.PlanPresentation); ok {
			return present.Plan
		}
	}
	return present.Running
}

// Entries returns the entries of all processes in order. The slice is
// rebuilt only when some process changed.
func (h *History) Entries() []entry.Entry {
	changed := h.flatLen != len(h.order)
	snaps := make([]patchstream.Snapshot, 0, len(h.order))
	for _, id := range h.order {
		snap, _ := h.store.Snapshot(id)
		snaps = append(snaps, snap)
		if h.versions[id] != snap.Version {
			changed = true
		}
	}
	if !changed {
		return h.flat
	}

	n := 0
	for _, snap := range snaps {
		n += len(snap.Entries)
	}
	flat := make([]entry.Entry, 0, n)
	for i, snap := range snaps {
		flat = append(flat, snap.Entries...)
		h.versions[h.order[i]] = snap.Version
	}
	h.flat = flat
	h.flatLen = len(h.order)
	return flat
}

// Display returns the aggregated timeline.
func (h *History) Display() []aggregate.DisplayEntry {
	return h.memo.Aggregate(h.Entries())
}

// Processes returns a snapshot of every process in display order.
func (h *History) Processes() []patchstream.Snapshot {
	out := make([]patchstream.Snapshot, 0, len(h.order))
	for _, id := range h.order {
		snap, _ := h.store.Snapshot(id)
		out = append(out, snap)
	}
	return out
}
