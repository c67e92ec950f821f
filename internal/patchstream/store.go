// Package patchstream materializes per-process entry lists from a stream of
// JSON-patch batches.
//
// Each execution process owns a JSON document of the form
//
//	{"entries": [ <entry>, ... ], ...metadata}
//
// and every batch is applied to it one operation at a time. Upstream emits
// "replace" for what is semantically an upsert, so a replace whose target
// does not exist yet is retried as an "add". That is the only deviation from
// RFC 6902.
package patchstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wethinkt/go-proctail/internal/entry"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

const emptyDocument = `{"entries":[]}`

// StaticInfo describes an execution process independently of its output.
type StaticInfo struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id,omitempty"`
	RunReason string    `json:"run_reason,omitempty"` // "setup", "coding_agent", "cleanup", ...
	Status    string    `json:"status,omitempty"`     // "running", "completed", "failed", "killed"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProcessState is the keyed state of one execution process. All access goes
// through Store; mu serializes writers for this process only.
type ProcessState struct {
	mu       sync.Mutex
	static   StaticInfo
	doc      []byte
	entries  []entry.Entry
	keys     map[string]struct{}
	version  uint64
	finished bool
}

func newProcessState(id string) *ProcessState {
	return &ProcessState{
		static: StaticInfo{ID: id},
		doc:    []byte(emptyDocument),
		keys:   make(map[string]struct{}),
	}
}

// Snapshot is a read-only view of a process. Entries must not be modified;
// a new slice is produced after every applied batch.
type Snapshot struct {
	Static   StaticInfo
	Entries  []entry.Entry
	Version  uint64
	Finished bool
}

// Result counts what happened to the operations of one batch.
type Result struct {
	Applied  int // applied literally
	FellBack int // replace retried as add
	Dropped  int // failed both ways and skipped
}

// Store maps process ids to their state. Writers to different processes
// never contend; writers to the same process are serialized.
type Store struct {
	mu    sync.RWMutex
	procs map[string]*ProcessState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{procs: make(map[string]*ProcessState)}
}

func (s *Store) lookup(id string) (*ProcessState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.procs[id]
	return ps, ok
}

// state returns the process state, creating it on first reference.
func (s *Store) state(id string) *ProcessState {
	if ps, ok := s.lookup(id); ok {
		return ps
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.procs[id]; ok {
		return ps
	}
	ps := newProcessState(id)
	s.procs[id] = ps
	return ps
}

// Apply applies ops to the process document in order. A malformed operation
// is dropped without affecting the rest of the batch.
func (s *Store) Apply(processID string, ops jsonpatch.Patch) Result {
	ps := s.state(processID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var res Result
	for i, op := range ops {
		outcome, err := ps.applyOne(processID, op)
		switch outcome {
		case outcomeApplied:
			res.Applied++
		case outcomeFellBack:
			res.FellBack++
		case outcomeDropped:
			res.Dropped++
			path, _ := op.Path()
			tuilog.Log.Debug("Dropped patch operation",
				"process_id", processID, "index", i, "op", op.Kind(), "path", path,
				"missing", errors.Is(err, jsonpatch.ErrMissing), "error", err)
		}
	}

	ps.materialize(processID)
	ps.version++

	batchesTotal.Inc()
	operationsTotal.WithLabelValues("applied").Add(float64(res.Applied))
	operationsTotal.WithLabelValues("fallback").Add(float64(res.FellBack))
	operationsTotal.WithLabelValues("dropped").Add(float64(res.Dropped))
	return res
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeFellBack
	outcomeDropped
)

func (ps *ProcessState) applyOne(processID string, op jsonpatch.Operation) (outcome, error) {
	kind := op.Kind()
	path, err := op.Path()
	if err != nil {
		return outcomeDropped, err
	}
	if negativeSlot(path) {
		return outcomeDropped, fmt.Errorf("%w: negative entry index in %s", jsonpatch.ErrInvalidIndex, path)
	}
	if needsValue(kind) && op["value"] == nil {
		return outcomeDropped, fmt.Errorf("%w: %s without value", jsonpatch.ErrMissing, kind)
	}

	n := int(gjson.GetBytes(ps.doc, "entries.#").Int())
	idx, isSlot := entrySlot(path, n)

	// A replace keeps the identity of the entry it overwrites.
	var prevKey string
	if isSlot && kind == "replace" && idx < n {
		prevKey = gjson.GetBytes(ps.doc, gjsonEntryPath(idx, "patch_key")).String()
	}

	result := outcomeApplied
	created := kind == "add"
	doc, err := applyPatch(ps.doc, op)
	if err != nil && kind == "replace" {
		doc, err = applyPatch(ps.doc, asAdd(op))
		result = outcomeFellBack
		created = true
	}
	if err != nil {
		return outcomeDropped, err
	}

	if isSlot && (kind == "add" || kind == "replace") && gjson.GetBytes(doc, "entries."+strconv.Itoa(idx)).IsObject() {
		key := prevKey
		if created || key == "" {
			key = ps.assignKey(processID, idx)
		}
		if tagged, err := tagEntry(doc, idx, key, processID); err != nil {
			tuilog.Log.Warn("Failed to tag entry", "process_id", processID, "index", idx, "error", err)
		} else {
			doc = tagged
		}
	}

	if wholeEntries(path) {
		doc = ps.tagUnkeyed(processID, doc)
	}

	ps.doc = doc
	return result, nil
}

// tagUnkeyed gives every entry object without a patch key one derived from
// its index. Used after a write that replaced the entries array wholesale.
func (ps *ProcessState) tagUnkeyed(processID string, doc []byte) []byte {
	var unkeyed []int
	gjson.GetBytes(doc, "entries").ForEach(func(k, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		if key := v.Get("patch_key").String(); key != "" {
			ps.keys[key] = struct{}{}
		} else {
			unkeyed = append(unkeyed, int(k.Int()))
		}
		return true
	})

	for _, idx := range unkeyed {
		tagged, err := tagEntry(doc, idx, ps.assignKey(processID, idx), processID)
		if err != nil {
			tuilog.Log.Warn("Failed to tag entry", "process_id", processID, "index", idx, "error", err)
			continue
		}
		doc = tagged
	}
	return doc
}

// applyPatch applies a single operation. Out-of-range negative indices make
// the patch library panic, so panics are reported as errors.
func applyPatch(doc []byte, op jsonpatch.Operation) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("patch operation panicked: %v", r)
		}
	}()
	return jsonpatch.Patch{op}.Apply(doc)
}

func tagEntry(doc []byte, idx int, key, processID string) ([]byte, error) {
	doc, err := sjson.SetBytes(doc, gjsonEntryPath(idx, "patch_key"), key)
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(doc, gjsonEntryPath(idx, "execution_process_id"), processID)
}

// assignKey derives the patch key for an entry created at idx. Keys are
// unique per process even if two creations land on the same index.
func (ps *ProcessState) assignKey(processID string, idx int) string {
	base := processID + ":" + strconv.Itoa(idx)
	key := base
	for n := 1; ; n++ {
		if _, taken := ps.keys[key]; !taken {
			break
		}
		key = base + "~" + strconv.Itoa(n)
	}
	ps.keys[key] = struct{}{}
	return key
}

// materialize decodes the entries array into a fresh slice. Elements that are
// not valid entries are skipped.
func (ps *ProcessState) materialize(processID string) {
	var doc struct {
		Entries []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(ps.doc, &doc); err != nil {
		tuilog.Log.Warn("Process document is not decodable", "process_id", processID, "error", err)
		return
	}

	entries := make([]entry.Entry, 0, len(doc.Entries))
	for i, raw := range doc.Entries {
		var e entry.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			tuilog.Log.Debug("Skipping undecodable entry", "process_id", processID, "index", i, "error", err)
			continue
		}
		if e.ProcessID == "" {
			e.ProcessID = processID
		}
		entries = append(entries, e)
	}
	ps.entries = entries
}

// Reset discards the document and entries of a process, keeping its static
// info. Used when a stream re-sends its backlog after a reconnect.
func (s *Store) Reset(processID string) {
	ps := s.state(processID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.doc = []byte(emptyDocument)
	ps.entries = nil
	ps.keys = make(map[string]struct{})
	ps.finished = false
	ps.version++
}

// Delete removes a process from the store.
func (s *Store) Delete(processID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, processID)
}

// Clear removes all processes.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs = make(map[string]*ProcessState)
}

// SetStaticInfo records static info, creating the process if needed.
func (s *Store) SetStaticInfo(info StaticInfo) {
	ps := s.state(info.ID)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.static = info
}

// MarkFinished records that no further batches will arrive for the process.
func (s *Store) MarkFinished(processID string) {
	ps := s.state(processID)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.finished = true
}

// Snapshot returns the current state of a process.
func (s *Store) Snapshot(processID string) (Snapshot, bool) {
	ps, ok := s.lookup(processID)
	if !ok {
		return Snapshot{}, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return Snapshot{
		Static:   ps.static,
		Entries:  ps.entries,
		Version:  ps.version,
		Finished: ps.finished,
	}, true
}

// Entries returns the materialized entries of a process, or nil.
func (s *Store) Entries(processID string) []entry.Entry {
	snap, _ := s.Snapshot(processID)
	return snap.Entries
}

// Meta reads a non-entry field of the process document using a gjson path,
// e.g. Meta(id, "status").
func (s *Store) Meta(processID, path string) gjson.Result {
	ps, ok := s.lookup(processID)
	if !ok {
		return gjson.Result{}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return gjson.GetBytes(ps.doc, path)
}

// IDs returns the known process ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
