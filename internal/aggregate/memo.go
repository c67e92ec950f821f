package aggregate

import (
	"sync"

	"github.com/wethinkt/go-proctail/internal/entry"
)

// Memo caches the most recent Aggregate result. Two inputs are the same when
// they share a backing array and length; producers hand out a fresh slice
// whenever the entries change.
type Memo struct {
	mu    sync.Mutex
	valid bool
	first *entry.Entry
	n     int
	out   []DisplayEntry
}

// Aggregate returns the cached result for entries or computes a new one.
func (m *Memo) Aggregate(entries []entry.Entry) []DisplayEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	first := firstElem(entries)
	if m.valid && m.n == len(entries) && m.first == first {
		return m.out
	}
	m.out = Aggregate(entries)
	m.first = first
	m.n = len(entries)
	m.valid = true
	return m.out
}

// Invalidate drops the cached result.
func (m *Memo) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = false
	m.first = nil
	m.n = 0
	m.out = nil
}

func firstElem(entries []entry.Entry) *entry.Entry {
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}
