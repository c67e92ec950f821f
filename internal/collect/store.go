package collect

import (
	"context"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
)

// MemoryOpLog keeps operation logs in memory. Logs live as long as the
// collector process.
type MemoryOpLog struct {
	mu   sync.RWMutex
	logs map[string]jsonpatch.Patch
}

// NewMemoryOpLog creates an empty in-memory log.
func NewMemoryOpLog() *MemoryOpLog {
	return &MemoryOpLog{logs: make(map[string]jsonpatch.Patch)}
}

func (m *MemoryOpLog) Append(_ context.Context, processID string, ops jsonpatch.Patch) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[processID] = append(m.logs[processID], ops...)
	n := len(m.logs[processID])
	opLogSize.Add(float64(len(ops)))
	return n, nil
}

func (m *MemoryOpLog) Backlog(_ context.Context, processID string) (jsonpatch.Patch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.logs[processID]
	out := make(jsonpatch.Patch, len(log))
	copy(out, log)
	return out, nil
}

func (m *MemoryOpLog) Delete(_ context.Context, processID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	opLogSize.Sub(float64(len(m.logs[processID])))
	delete(m.logs, processID)
	return nil
}

func (m *MemoryOpLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = make(map[string]jsonpatch.Patch)
	opLogSize.Set(0)
	return nil
}
