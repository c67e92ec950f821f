package export

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wethinkt/go-proctail/internal/collect"
	"github.com/wethinkt/go-proctail/internal/stream"
)

const testToken = "secret"

func newCollector(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := collect.DefaultCollectorConfig()
	cfg.Quiet = true
	cfg.Token = testToken
	ts := httptest.NewServer(collect.NewServer(cfg).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func writePatchFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestExporter(t *testing.T, cfg ExporterConfig) *Exporter {
	t.Helper()
	cfg.Quiet = true
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.shipper.backoff = time.Millisecond
	return e
}

func listProcesses(t *testing.T, url, attemptID string) []collect.ProcessSummary {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url+"/v1/processes?attempt_id="+attemptID, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Processes []collect.ProcessSummary `json:"processes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body.Processes
}

type processState struct {
	ID         string
	Operations int
	Finished   bool
	Status     string
	RunReason  string
}

func states(procs []collect.ProcessSummary) []processState {
	out := make([]processState, 0, len(procs))
	for _, p := range procs {
		out = append(out, processState{
			ID:         p.ID,
			Operations: p.Operations,
			Finished:   p.Finished,
			Status:     p.Status,
			RunReason:  p.RunReason,
		})
	}
	return out
}

var fixtureLines = []string{
	`[{"op":"add","path":"/entries/-","value":{"type":"STDOUT","content":"a"}}]`,
	`{"process_id":"setup","info":{"id":"setup","attempt_id":"elsewhere","run_reason":"setup"},"ops":[{"op":"add","path":"/entries/-","value":{"type":"STDOUT","content":"s"}}]}`,
	`[{"op":"add","path":"/entries/-","value":{"type":"STDOUT","content":"b"}}]`,
	`not json`,
	`{"process_id":"setup","finished":true,"ops":[{"op":"add","path":"/entries/-","value":{"type":"STDOUT","content":"t"}}]}`,
}

func TestExporter_ShipsFileOnce(t *testing.T) {
	ts := newCollector(t)
	path := writePatchFile(t, fixtureLines...)

	e := newTestExporter(t, ExporterConfig{
		CollectorURL: ts.URL,
		Token:        testToken,
		Path:         path,
		AttemptID:    "a1",
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []processState{
		{ID: "agent", Operations: 2, Finished: true, Status: collect.StatusCompleted, RunReason: "coding_agent"},
		{ID: "setup", Operations: 2, Finished: true, Status: collect.StatusCompleted, RunReason: "setup"},
	}
	got := states(listProcesses(t, ts.URL, "a1"))
	sortStates(got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
	if procs := listProcesses(t, ts.URL, "elsewhere"); len(procs) != 0 {
		t.Errorf("recorded attempt leaked into collector: %+v", procs)
	}

	stats := e.Stats()
	if stats.MessagesShipped != 4 || stats.MessagesFailed != 0 {
		t.Errorf("stats = %+v, want 4 shipped", stats)
	}
	if diff := cmp.Diff([]string{"agent", "setup"}, stats.Processes); diff != "" {
		t.Errorf("stats processes mismatch (-want +got):\n%s", diff)
	}
}

func TestExporter_RepushDoesNotDuplicate(t *testing.T) {
	ts := newCollector(t)
	path := writePatchFile(t, fixtureLines...)

	for i := 0; i < 2; i++ {
		e := newTestExporter(t, ExporterConfig{
			CollectorURL: ts.URL,
			Token:        testToken,
			Path:         path,
			AttemptID:    "a1",
		})
		if err := e.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	for _, p := range listProcesses(t, ts.URL, "a1") {
		if p.Operations != 2 {
			t.Errorf("%s: Operations = %d, want 2", p.ID, p.Operations)
		}
		if !p.Finished {
			t.Errorf("%s: not finished after second push", p.ID)
		}
	}
}

func TestExporter_ProcessIDOverride(t *testing.T) {
	ts := newCollector(t)
	path := writePatchFile(t, fixtureLines[0])

	e := newTestExporter(t, ExporterConfig{
		CollectorURL: ts.URL,
		Token:        testToken,
		Path:         path,
		AttemptID:    "a1",
		ProcessID:    "main",
		RunReason:    "cleanup",
	})
	if err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	want := []processState{{ID: "main", Operations: 1, Finished: true, Status: collect.StatusCompleted, RunReason: "cleanup"}}
	if diff := cmp.Diff(want, states(listProcesses(t, ts.URL, "a1"))); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
}

func TestExporter_BadTokenStops(t *testing.T) {
	ts := newCollector(t)
	path := writePatchFile(t, fixtureLines...)

	e := newTestExporter(t, ExporterConfig{
		CollectorURL: ts.URL,
		Token:        "wrong",
		Path:         path,
		AttemptID:    "a1",
	})
	if err := e.Run(context.Background()); err == nil {
		t.Fatal("expected error with a bad token")
	}
	if n := e.Stats().MessagesShipped; n != 0 {
		t.Errorf("MessagesShipped = %d, want 0", n)
	}
}

func TestExporter_Follow(t *testing.T) {
	ts := newCollector(t)
	path := writePatchFile(t, fixtureLines[0])

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := newTestExporter(t, ExporterConfig{
		CollectorURL: ts.URL,
		Token:        testToken,
		Path:         path,
		AttemptID:    "a1",
		Follow:       true,
	})
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, func() bool { return e.Stats().MessagesShipped == 1 })

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(fixtureLines[2] + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	waitFor(t, func() bool { return e.Stats().MessagesShipped == 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	procs := listProcesses(t, ts.URL, "a1")
	if len(procs) != 1 || procs[0].Operations != 2 || procs[0].Finished {
		t.Errorf("processes = %+v, want one running process with 2 ops", procs)
	}
}

func TestShipper_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer ts.Close()

	s := NewShipper(ts.URL, "")
	s.backoff = time.Millisecond
	if _, err := s.Register(context.Background(), collect.RegisterRequest{ID: "p1"}); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestShipper_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":1,"sequence":7}`))
	}))
	defer ts.Close()

	s := NewShipper(ts.URL+"/", "")
	s.backoff = time.Millisecond
	res, err := s.Ship(context.Background(), mustMessage(t, `{"process_id":"p1","ops":[{"op":"add","path":"/entries/-","value":{}}]}`))
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if res.Accepted != 1 || res.Sequence != 7 || res.StatusCode != http.StatusOK {
		t.Errorf("result = %+v", res)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  ExporterConfig
	}{
		{"missing url", ExporterConfig{AttemptID: "a", Path: "x.jsonl"}},
		{"missing attempt", ExporterConfig{CollectorURL: "http://localhost", Path: "x.jsonl"}},
		{"missing path", ExporterConfig{CollectorURL: "http://localhost", AttemptID: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	e, err := New(ExporterConfig{CollectorURL: "http://localhost", AttemptID: "a", Path: "/tmp/run-1.jsonl"})
	if err != nil {
		t.Fatal(err)
	}
	if e.cfg.ProcessID != "run-1" || e.cfg.RunReason != "coding_agent" {
		t.Errorf("defaults = %q/%q", e.cfg.ProcessID, e.cfg.RunReason)
	}
}

func sortStates(s []processState) {
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })
}

func mustMessage(t *testing.T, raw string) stream.Message {
	t.Helper()
	var msg stream.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
