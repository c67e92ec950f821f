// Package collect implements the collector that receives patch batches for
// execution processes and fans them out to live viewers over WebSocket.
package collect

import (
	"context"
	"time"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/wethinkt/go-proctail/internal/patchstream"
)

// Default configuration values for the collector.
const (
	DefaultPort       = 8785
	DefaultHost       = "localhost"
	DefaultRetainDone = 30 * time.Minute
)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Port  int
	Host  string
	Token string // bearer token for auth
	Quiet bool
	// RetainDone is how long finished processes stay listed.
	RetainDone time.Duration
}

// DefaultCollectorConfig returns a CollectorConfig with default values.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Port:       DefaultPort,
		Host:       DefaultHost,
		RetainDone: DefaultRetainDone,
	}
}

// RegisterRequest is the POST /v1/processes request body.
type RegisterRequest struct {
	ID        string `json:"id,omitempty"`
	AttemptID string `json:"attempt_id"`
	RunReason string `json:"run_reason,omitempty"`
}

// FinishRequest is the POST /v1/processes/{id}/finish request body.
type FinishRequest struct {
	Status string `json:"status,omitempty"` // defaults to "completed"
}

// PatchResponse is returned by POST /v1/processes/{id}/patches.
type PatchResponse struct {
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped,omitempty"`
	Sequence int    `json:"sequence"`
	Message  string `json:"message,omitempty"`
}

// ProcessSummary is a listed process.
type ProcessSummary struct {
	patchstream.StaticInfo
	Operations   int       `json:"operations"`
	Finished     bool      `json:"finished"`
	LastActivity time.Time `json:"last_activity"`
}

// CollectorStats contains aggregate collector statistics.
type CollectorStats struct {
	TotalProcesses   int       `json:"total_processes"`
	RunningProcesses int       `json:"running_processes"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	StartedAt        time.Time `json:"started_at"`
}

// OpLog is the storage interface for the collector: an append-only log of
// operations per process.
type OpLog interface {
	// Append adds ops to the process log and returns the log length after
	// the append.
	Append(ctx context.Context, processID string, ops jsonpatch.Patch) (int, error)
	// Backlog returns a copy of the whole process log.
	Backlog(ctx context.Context, processID string) (jsonpatch.Patch, error)
	// Delete drops the process log.
	Delete(ctx context.Context, processID string) error
	// Close releases resources.
	Close() error
}
