// Package stream delivers patch batches for execution processes from a
// collector over WebSocket or from a local JSONL file.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/wethinkt/go-proctail/internal/patchstream"
)

// Message is one wire message: a patch batch for a single process.
type Message struct {
	ProcessID string          `json:"process_id"`
	Ops       jsonpatch.Patch `json:"ops"`
	// Reset asks the receiver to discard the process document before
	// applying Ops. Sent before every backfill.
	Reset bool `json:"reset,omitempty"`
	// Finished marks the last message for the process.
	Finished bool `json:"finished,omitempty"`
	// Info optionally carries updated static info for the process.
	Info *patchstream.StaticInfo `json:"info,omitempty"`
}

// Batch is a Message stamped with the attempt it was requested for.
type Batch struct {
	AttemptID string
	Message
}

// ProcessEvent signals a change in a collector's process list.
type ProcessEvent struct {
	Type    string                 `json:"type"` // "added", "updated", "removed"
	Process patchstream.StaticInfo `json:"process"`
}

// DecodeMessage parses one JSONL line. A line is either a Message object or
// a bare array of operations, which is attributed to defaultProcessID.
func DecodeMessage(line []byte, defaultProcessID string) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Message{}, fmt.Errorf("empty line")
	}

	var msg Message
	if line[0] == '[' {
		if err := json.Unmarshal(line, &msg.Ops); err != nil {
			return Message{}, fmt.Errorf("decode operations: %w", err)
		}
	} else if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	if msg.ProcessID == "" {
		msg.ProcessID = defaultProcessID
	}
	if msg.ProcessID == "" {
		return Message{}, fmt.Errorf("message has no process_id")
	}
	return msg, nil
}
