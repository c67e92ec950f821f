package collect

import (
	"sync"

	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Published is a live message with the log length after it was appended.
type Published struct {
	Seq     int
	Message stream.Message
}

// ProcessPubSub provides in-memory fan-out of ingested batches to WebSocket
// subscribers watching specific processes.
type ProcessPubSub struct {
	mu   sync.RWMutex
	subs map[string][]*subscriber
}

type subscriber struct {
	ch     chan Published
	closed bool
}

// NewProcessPubSub creates a new pub/sub instance.
func NewProcessPubSub() *ProcessPubSub {
	return &ProcessPubSub{
		subs: make(map[string][]*subscriber),
	}
}

// Subscribe returns a channel that receives batches for the given process.
// Call the returned function to unsubscribe and close the channel.
func (ps *ProcessPubSub) Subscribe(processID string) (<-chan Published, func()) {
	ch := make(chan Published, 64)
	sub := &subscriber{ch: ch}

	ps.mu.Lock()
	ps.subs[processID] = append(ps.subs[processID], sub)
	ps.mu.Unlock()

	unsub := func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()

		subs := ps.subs[processID]
		for i, s := range subs {
			if s == sub {
				ps.subs[processID] = append(subs[:i], subs[i+1:]...)
				if !s.closed {
					s.closed = true
					close(s.ch)
				}
				break
			}
		}
		if len(ps.subs[processID]) == 0 {
			delete(ps.subs, processID)
		}
	}

	return ch, unsub
}

// Publish sends a batch to all subscribers watching its process. A slow
// subscriber whose buffer is full is closed instead of skipped, so its
// client reconnects and receives a consistent backfill.
func (ps *ProcessPubSub) Publish(p Published) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for _, sub := range ps.subs[p.Message.ProcessID] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- p:
		default:
			tuilog.Log.Warn("Closing slow WebSocket subscriber", "process_id", p.Message.ProcessID)
			sub.closed = true
			close(sub.ch)
		}
	}
}
