package collect

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

const defaultTicketTTL = 30 * time.Second

// TicketStore manages short-lived, single-use tickets for WebSocket auth.
// Browser clients cannot set headers on a WebSocket handshake, so they
// exchange their bearer token for a ticket scoped to one process and pass it
// as ?ticket= instead.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]ticket
	ttl     time.Duration
}

type ticket struct {
	expiresAt time.Time
	processID string
}

// NewTicketStore creates a new ticket store.
func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[string]ticket),
		ttl:     defaultTicketTTL,
	}
}

// Issue creates a ticket for processID.
func (ts *TicketStore) Issue(processID string) string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	id := hex.EncodeToString(b)

	ts.mu.Lock()
	ts.tickets[id] = ticket{expiresAt: time.Now().Add(ts.ttl), processID: processID}
	ts.mu.Unlock()
	return id
}

// Redeem burns a ticket and reports whether it was valid for processID.
func (ts *TicketStore) Redeem(id, processID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.tickets[id]
	if !ok {
		return false
	}
	delete(ts.tickets, id)
	return time.Now().Before(t.expiresAt) && t.processID == processID
}

// Cleanup removes expired tickets and returns how many were removed.
func (ts *TicketStore) Cleanup() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, t := range ts.tickets {
		if now.After(t.expiresAt) {
			delete(ts.tickets, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding tickets.
func (ts *TicketStore) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// runCleanup removes expired tickets every interval until ctx is done.
func (ts *TicketStore) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ts.Cleanup()
		}
	}
}
