package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wethinkt/go-proctail/internal/patchstream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// DefaultPollInterval is how often the hub refreshes its process list.
const DefaultPollInterval = 5 * time.Second

// HubConfig configures the Hub.
type HubConfig struct {
	CollectorURL string
	Token        string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Hub tracks the processes known to a collector and opens their streams.
type Hub struct {
	config      HubConfig
	client      *http.Client
	mu          sync.RWMutex
	processes   []patchstream.StaticInfo
	subscribers []*hubSubscriber
}

type hubSubscriber struct {
	ch     chan ProcessEvent
	closed bool
}

// NewHub creates a Hub. Call Run to start background polling.
func NewHub(cfg HubConfig) *Hub {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.CollectorURL = strings.TrimRight(cfg.CollectorURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Hub{config: cfg, client: client}
}

// List returns the cached processes of an attempt, oldest first. An empty
// attemptID lists every process. It never blocks on the network.
func (h *Hub) List(attemptID string) []patchstream.StaticInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []patchstream.StaticInfo
	for _, p := range h.processes {
		if attemptID == "" || p.AttemptID == attemptID {
			result = append(result, p)
		}
	}
	return result
}

// Attempts returns the distinct attempt ids in order of their first process.
func (h *Hub) Attempts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, p := range h.processes {
		if p.AttemptID == "" || seen[p.AttemptID] {
			continue
		}
		seen[p.AttemptID] = true
		out = append(out, p.AttemptID)
	}
	return out
}

// Find returns the process with the given id, if any.
func (h *Hub) Find(processID string) (patchstream.StaticInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, p := range h.processes {
		if p.ID == processID {
			return p, true
		}
	}
	return patchstream.StaticInfo{}, false
}

// Subscribe returns a channel of process events and an unsubscribe function.
func (h *Hub) Subscribe() (<-chan ProcessEvent, func()) {
	ch := make(chan ProcessEvent, 64)
	sub := &hubSubscriber{ch: ch}

	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subscribers {
			if s == sub {
				h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
				if !s.closed {
					s.closed = true
					close(s.ch)
				}
				break
			}
		}
	}
}

// notify sends an event to all subscribers. Must be called with h.mu held.
func (h *Hub) notify(event ProcessEvent) {
	for _, sub := range h.subscribers {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Skip slow subscribers
		}
	}
}

// StreamURL returns the WebSocket endpoint of a process.
func (h *Hub) StreamURL(processID string) string {
	base := h.config.CollectorURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/processes/" + url.PathEscape(processID) + "/ws"
}

// Stream opens a live message stream for a process.
func (h *Hub) Stream(ctx context.Context, processID string) (<-chan Message, error) {
	if h.config.CollectorURL == "" {
		return nil, fmt.Errorf("no collector configured for process %s", processID)
	}
	return StreamRemote(ctx, h.StreamURL(processID), h.config.Token)
}

// Run starts background polling and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.poll(ctx)

	ticker := time.NewTicker(h.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.poll(ctx)
		}
	}
}

// PollOnce runs a single poll cycle.
func (h *Hub) PollOnce(ctx context.Context) error {
	return h.poll(ctx)
}

func (h *Hub) poll(ctx context.Context) error {
	fresh, err := h.fetchProcesses(ctx)
	if err != nil {
		tuilog.Log.Warn("Failed to fetch processes", "url", h.config.CollectorURL, "error", err)
		return err
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})

	h.mu.Lock()
	defer h.mu.Unlock()

	oldMap := make(map[string]patchstream.StaticInfo, len(h.processes))
	for _, p := range h.processes {
		oldMap[p.ID] = p
	}
	newMap := make(map[string]patchstream.StaticInfo, len(fresh))
	for _, p := range fresh {
		newMap[p.ID] = p
		old, existed := oldMap[p.ID]
		switch {
		case !existed:
			h.notify(ProcessEvent{Type: "added", Process: p})
		case old.Status != p.Status || !old.UpdatedAt.Equal(p.UpdatedAt):
			h.notify(ProcessEvent{Type: "updated", Process: p})
		}
	}
	for _, p := range h.processes {
		if _, exists := newMap[p.ID]; !exists {
			h.notify(ProcessEvent{Type: "removed", Process: p})
		}
	}

	h.processes = fresh
	return nil
}

func (h *Hub) fetchProcesses(ctx context.Context) ([]patchstream.StaticInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.config.CollectorURL+"/v1/processes", nil)
	if err != nil {
		return nil, err
	}
	if h.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("collector returned %s", resp.Status)
	}

	var list struct {
		Processes []patchstream.StaticInfo `json:"processes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode process list: %w", err)
	}
	return list.Processes, nil
}
