package collect

import (
	"testing"
	"time"

	"github.com/wethinkt/go-proctail/internal/stream"
)

func published(id string, seq int) Published {
	return Published{Seq: seq, Message: stream.Message{ProcessID: id}}
}

func TestProcessPubSub_SubscribeAndPublish(t *testing.T) {
	ps := NewProcessPubSub()

	ch, unsub := ps.Subscribe("proc-1")
	defer unsub()

	ps.Publish(published("proc-1", 3))

	select {
	case got := <-ch:
		if got.Seq != 3 || got.Message.ProcessID != "proc-1" {
			t.Errorf("unexpected message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestProcessPubSub_DifferentProcess(t *testing.T) {
	ps := NewProcessPubSub()

	ch, unsub := ps.Subscribe("proc-1")
	defer unsub()

	ps.Publish(published("proc-2", 1))

	select {
	case <-ch:
		t.Fatal("should not receive messages for different process")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessPubSub_Unsubscribe(t *testing.T) {
	ps := NewProcessPubSub()

	ch, unsub := ps.Subscribe("proc-1")
	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}

	ps.mu.RLock()
	_, exists := ps.subs["proc-1"]
	ps.mu.RUnlock()
	if exists {
		t.Error("expected process entry to be removed")
	}

	// Publishing after unsubscribe must not panic.
	ps.Publish(published("proc-1", 1))
}

func TestProcessPubSub_SlowSubscriberClosed(t *testing.T) {
	ps := NewProcessPubSub()

	slow, unsubSlow := ps.Subscribe("proc-1")
	defer unsubSlow()

	for i := 1; i <= cap(slow)+1; i++ {
		ps.Publish(published("proc-1", i))
	}

	n := 0
	for range slow {
		n++
	}
	if n != cap(slow) {
		t.Errorf("drained %d buffered messages, want %d", n, cap(slow))
	}

	// A closed subscriber is skipped by later publishes.
	ps.Publish(published("proc-1", 100))
}
