// Package export ships a JSONL patch file to a remote collector via HTTP
// POST, registering its processes under one attempt.
package export

import "time"

// ExporterConfig holds configuration for the patch exporter.
type ExporterConfig struct {
	// CollectorURL is the collector base URL (e.g. "http://localhost:8785").
	CollectorURL string

	// Token is the Bearer token for collector authentication.
	Token string

	// Path is the JSONL patch file to ship.
	Path string

	// AttemptID groups the shipped processes. Required.
	AttemptID string

	// ProcessID names the process of bare operation arrays. Defaults to the
	// file name without extension.
	ProcessID string

	// RunReason is recorded on registered processes. Default: "coding_agent".
	RunReason string

	// Follow keeps shipping lines appended to the file until the context is
	// cancelled. Otherwise the file is shipped once and its processes are
	// marked finished.
	Follow bool

	// Quiet suppresses non-error output when true.
	Quiet bool
}

// Defaults applies default values to unset config fields.
func (c *ExporterConfig) Defaults() {
	if c.RunReason == "" {
		c.RunReason = "coding_agent"
	}
}

// ShipResult tracks the result of shipping one message.
type ShipResult struct {
	Operations int
	Accepted   int
	Sequence   int
	StatusCode int
	Error      error
	Duration   time.Duration
}

// ExporterStats reports current exporter state.
type ExporterStats struct {
	MessagesShipped int64
	MessagesFailed  int64
	Processes       []string
	LastShipTime    time.Time
	CollectorURL    string
}
