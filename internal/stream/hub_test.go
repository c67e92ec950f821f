package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wethinkt/go-proctail/internal/patchstream"
)

func TestHub_ListEmpty(t *testing.T) {
	hub := NewHub(HubConfig{})
	if got := hub.List(""); len(got) != 0 {
		t.Errorf("expected empty list, got %d", len(got))
	}
}

func TestHub_Subscribe(t *testing.T) {
	hub := NewHub(HubConfig{})

	ch, unsub := hub.Subscribe()
	defer unsub()

	hub.mu.Lock()
	p := patchstream.StaticInfo{ID: "p1", AttemptID: "a1"}
	hub.processes = append(hub.processes, p)
	hub.notify(ProcessEvent{Type: "added", Process: p})
	hub.mu.Unlock()

	select {
	case e := <-ch:
		if e.Type != "added" || e.Process.ID != "p1" {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHub_PollDiffs(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var (
		mu      sync.Mutex
		current []patchstream.StaticInfo
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"processes": current, "count": len(current)})
	}))
	defer srv.Close()

	set := func(ps ...patchstream.StaticInfo) {
		mu.Lock()
		defer mu.Unlock()
		current = ps
	}

	hub := NewHub(HubConfig{CollectorURL: srv.URL + "/", Token: "tok"})
	ch, unsub := hub.Subscribe()
	defer unsub()

	setup := patchstream.StaticInfo{ID: "setup", AttemptID: "a1", Status: "running", CreatedAt: base, UpdatedAt: base}
	agent := patchstream.StaticInfo{ID: "agent", AttemptID: "a1", Status: "running", CreatedAt: base.Add(time.Minute), UpdatedAt: base}
	retry := patchstream.StaticInfo{ID: "retry", AttemptID: "a2", Status: "running", CreatedAt: base.Add(time.Hour), UpdatedAt: base}

	set(agent, setup)
	if err := hub.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	setupDone := setup
	setupDone.Status = "completed"
	set(setupDone, agent, retry)
	if err := hub.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	set(setupDone, retry)
	if err := hub.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	var events []string
	for len(ch) > 0 {
		e := <-ch
		events = append(events, e.Type+":"+e.Process.ID)
	}
	want := []string{"added:setup", "added:agent", "updated:setup", "added:retry", "removed:agent"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"a1", "a2"}, hub.Attempts()); diff != "" {
		t.Errorf("Attempts mismatch (-want +got):\n%s", diff)
	}
	if got := hub.List("a2"); len(got) != 1 || got[0].ID != "retry" {
		t.Errorf("List(a2) = %+v", got)
	}
	if _, ok := hub.Find("agent"); ok {
		t.Error("Find returned a removed process")
	}
}

func TestHub_PollError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hub := NewHub(HubConfig{CollectorURL: srv.URL})
	if err := hub.PollOnce(context.Background()); err == nil {
		t.Error("expected an error from a failing collector")
	}
}

func TestHub_StreamURL(t *testing.T) {
	tests := []struct {
		collector string
		want      string
	}{
		{"http://localhost:8785", "ws://localhost:8785/v1/processes/p%2F1/ws"},
		{"https://collector.example.com/", "wss://collector.example.com/v1/processes/p%2F1/ws"},
	}
	for _, tt := range tests {
		hub := NewHub(HubConfig{CollectorURL: tt.collector})
		if got := hub.StreamURL("p/1"); got != tt.want {
			t.Errorf("StreamURL with %q = %q, want %q", tt.collector, got, tt.want)
		}
	}

	if _, err := NewHub(HubConfig{}).Stream(context.Background(), "p"); err == nil {
		t.Error("expected an error without a collector")
	}
}
