package collect

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// DefaultReplayProcessID names the process of bare operation arrays in a
// replay file.
const DefaultReplayProcessID = "replay"

// Replay feeds a JSONL patch file into the collector, one message every
// interval, as if a running process were emitting it. It returns the number
// of messages ingested.
func Replay(ctx context.Context, s *Server, path string, interval time.Duration) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPatchBody)

	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := stream.DecodeMessage(line, DefaultReplayProcessID)
		if err != nil {
			tuilog.Log.Warn("Skipping replay line", "path", path, "error", err)
			continue
		}
		if n > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(interval):
			}
		}
		if _, err := s.Ingest(ctx, msg); err != nil {
			tuilog.Log.Warn("Failed to replay message", "process_id", msg.ProcessID, "error", err)
			continue
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("read replay file: %w", err)
	}
	return n, nil
}
