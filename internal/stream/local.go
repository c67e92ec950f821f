package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// writeDebounce coalesces bursts of writes to the tailed file.
const writeDebounce = 100 * time.Millisecond

// StreamLocal opens a JSONL file of messages, delivers its current content
// as one reset+backfill message per process, then streams lines as they are
// appended. Lines without a process id are attributed to processID. The
// returned channel is closed when ctx is cancelled or the file is removed.
func StreamLocal(ctx context.Context, path string, processID string) (<-chan Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	t := &tailer{reader: bufio.NewReader(f), processID: processID}
	backfill := coalesce(t.readAvailable(), processID)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		f.Close()
		return nil, err
	}

	ch := make(chan Message, 64)
	go streamLocalLoop(ctx, f, watcher, t, backfill, ch)
	return ch, nil
}

func streamLocalLoop(ctx context.Context, f *os.File, watcher *fsnotify.Watcher, t *tailer, backfill []Message, ch chan<- Message) {
	defer close(ch)
	defer f.Close()
	defer watcher.Close()

	send := func(msgs []Message) bool {
		for _, msg := range msgs {
			select {
			case ch <- msg:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	if !send(backfill) {
		return
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) {
				debounce.Reset(writeDebounce)
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				tuilog.Log.Info("Tailed file removed, stream ending", "path", event.Name)
				return
			}

		case <-debounce.C:
			if !send(t.readAvailable()) {
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			tuilog.Log.Warn("Local stream watcher error", "error", err)
		}
	}
}

// tailer reads complete lines, holding back a trailing partial line until
// its newline arrives.
type tailer struct {
	reader    *bufio.Reader
	partial   []byte
	processID string
}

func (t *tailer) readAvailable() []Message {
	var msgs []Message
	for {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				t.partial = append(t.partial, line...)
			}
			if !errors.Is(err, io.EOF) {
				tuilog.Log.Warn("Failed to read stream file", "error", err)
			}
			return msgs
		}
		if len(t.partial) > 0 {
			line = append(t.partial, line...)
			t.partial = nil
		}
		if len(line) <= 1 {
			continue
		}
		msg, err := DecodeMessage(line, t.processID)
		if err != nil {
			tuilog.Log.Debug("Skipping malformed stream line", "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
}

// coalesce folds messages into one reset message per process, in order of
// first appearance. A reset inside the input discards that process's earlier
// operations.
func coalesce(msgs []Message, processID string) []Message {
	var order []string
	byID := make(map[string]*Message)
	for _, m := range msgs {
		b, ok := byID[m.ProcessID]
		if !ok {
			b = &Message{ProcessID: m.ProcessID, Reset: true}
			byID[m.ProcessID] = b
			order = append(order, m.ProcessID)
		}
		if m.Reset {
			b.Ops = nil
			b.Finished = false
		}
		b.Ops = append(b.Ops, m.Ops...)
		b.Finished = b.Finished || m.Finished
		if m.Info != nil {
			b.Info = m.Info
		}
	}

	if len(order) == 0 && processID != "" {
		return []Message{{ProcessID: processID, Reset: true}}
	}
	out := make([]Message, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// maxLineSize bounds one JSONL line of a patch file.
const maxLineSize = 16 << 20

// ReadFile decodes every message of a JSONL patch file in order, including a
// final line without a newline. Malformed lines are skipped.
func ReadFile(path string, processID string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := DecodeMessage(line, processID)
		if err != nil {
			tuilog.Log.Warn("Skipping malformed line", "path", path, "line", lineNo, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return msgs, err
	}
	return msgs, nil
}
