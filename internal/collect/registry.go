package collect

import (
	"sort"
	"sync"
	"time"

	"github.com/wethinkt/go-proctail/internal/patchstream"
)

// Process statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusKilled    = "killed"
)

// ProcessRegistry tracks the execution processes known to the collector.
type ProcessRegistry struct {
	mu    sync.RWMutex
	procs map[string]*ProcessSummary
	now   func() time.Time
}

// NewProcessRegistry creates an empty in-memory registry.
func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{
		procs: make(map[string]*ProcessSummary),
		now:   time.Now,
	}
}

// Register adds a process or updates the static info of a known one.
func (r *ProcessRegistry) Register(req RegisterRequest) ProcessSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p, exists := r.procs[req.ID]
	if exists {
		if req.AttemptID != "" {
			p.AttemptID = req.AttemptID
		}
		if req.RunReason != "" {
			p.RunReason = req.RunReason
		}
		p.UpdatedAt = now
		return *p
	}

	p = &ProcessSummary{
		StaticInfo: patchstream.StaticInfo{
			ID:        req.ID,
			AttemptID: req.AttemptID,
			RunReason: req.RunReason,
			Status:    StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
		LastActivity: now,
	}
	r.procs[req.ID] = p
	registeredProcesses.Set(float64(len(r.procs)))
	return *p
}

// Touch records ingested operations. Processes that start sending patches
// without registering get a minimal entry. Reports whether the process was
// already known.
func (r *ProcessRegistry) Touch(processID string, ops int) bool {
	if processID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p, ok := r.procs[processID]
	if !ok {
		r.procs[processID] = &ProcessSummary{
			StaticInfo: patchstream.StaticInfo{
				ID:        processID,
				Status:    StatusRunning,
				CreatedAt: now,
				UpdatedAt: now,
			},
			Operations:   ops,
			LastActivity: now,
		}
		registeredProcesses.Set(float64(len(r.procs)))
		return false
	}
	p.Operations += ops
	p.LastActivity = now
	return true
}

// Restart clears the operation count of a known process and reopens it if
// it had finished. Used when a producer resets the process log.
func (r *ProcessRegistry) Restart(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[processID]
	if !ok {
		return
	}
	p.Operations = 0
	if p.Finished {
		p.Finished = false
		p.Status = StatusRunning
		p.UpdatedAt = r.now()
	}
}

// Finish marks a process as done with the given status.
func (r *ProcessRegistry) Finish(processID, status string) (ProcessSummary, bool) {
	if status == "" {
		status = StatusCompleted
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[processID]
	if !ok {
		return ProcessSummary{}, false
	}
	now := r.now()
	p.Finished = true
	p.Status = status
	p.UpdatedAt = now
	p.LastActivity = now
	return *p, true
}

// Get returns one process.
func (r *ProcessRegistry) Get(processID string) (ProcessSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[processID]
	if !ok {
		return ProcessSummary{}, false
	}
	return *p, true
}

// List returns the processes of an attempt, oldest first. An empty attemptID
// lists all processes.
func (r *ProcessRegistry) List(attemptID string) []ProcessSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ProcessSummary, 0, len(r.procs))
	for _, p := range r.procs {
		if attemptID == "" || p.AttemptID == attemptID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// CleanFinished removes processes that finished more than maxAge ago and
// returns their ids.
func (r *ProcessRegistry) CleanFinished(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var removed []string
	for id, p := range r.procs {
		if p.Finished && now.Sub(p.LastActivity) > maxAge {
			delete(r.procs, id)
			removed = append(removed, id)
		}
	}
	registeredProcesses.Set(float64(len(r.procs)))
	return removed
}

// Count returns the total and running process counts.
func (r *ProcessRegistry) Count() (total, running int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total = len(r.procs)
	for _, p := range r.procs {
		if !p.Finished {
			running++
		}
	}
	return total, running
}
