package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wethinkt/go-proctail/internal/stream"
)

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultCollectorConfig()
	cfg.Quiet = true
	cfg.Token = token
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func doJSON(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wsURL(ts *httptest.Server, processID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/processes/" + processID + "/ws"
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) stream.Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg stream.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode ws message: %v", err)
	}
	return msg
}

const twoEntries = `[
	{"op":"add","path":"/entries/0","value":{"type":"STDOUT","content":"one"}},
	{"op":"add","path":"/entries/1","value":{"type":"STDOUT","content":"two"}}
]`

func TestServer_RegisterAndList(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/processes", "", `{"attempt_id":"a1","run_reason":"setup"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	created := decode[ProcessSummary](t, resp)
	if created.ID == "" {
		t.Fatal("expected generated process id")
	}

	doJSON(t, http.MethodPost, ts.URL+"/v1/processes", "", `{"id":"p2","attempt_id":"a2"}`)

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/processes?attempt_id=a1", "", "")
	list := decode[struct {
		Processes []ProcessSummary `json:"processes"`
		Count     int              `json:"count"`
	}](t, resp)
	if list.Count != 1 || list.Processes[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/processes/"+created.ID, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/processes/missing", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get missing status = %d, want 404", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/processes", "", `{"id":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("register without attempt status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Patches(t *testing.T) {
	s, ts := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/patches", "", twoEntries)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	pr := decode[PatchResponse](t, resp)
	if pr.Accepted != 2 || pr.Sequence != 2 {
		t.Errorf("response = %+v, want 2 accepted at sequence 2", pr)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/patches", "",
		`{"process_id":"p1","ops":[{"op":"bogus","path":"/x"},{"op":"remove","path":"/entries/0"}]}`)
	pr = decode[PatchResponse](t, resp)
	if pr.Accepted != 1 || pr.Dropped != 1 || pr.Sequence != 3 {
		t.Errorf("response = %+v, want 1 accepted 1 dropped at sequence 3", pr)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/patches", "", `{"process_id":"p2","ops":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched process status = %d, want 400", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/patches", "", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid json status = %d, want 400", resp.StatusCode)
	}

	// Unregistered processes are tracked once they send patches.
	p, ok := s.registry.Get("p1")
	if !ok || p.Operations != 3 {
		t.Fatalf("registry entry = %+v, %v", p, ok)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/finish", "", `{"status":"failed"}`)
	done := decode[ProcessSummary](t, resp)
	if !done.Finished || done.Status != StatusFailed {
		t.Errorf("finish = %+v", done)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/processes/nope/finish", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("finish unknown status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_WebSocketBackfillThenLive(t *testing.T) {
	_, ts := newTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doJSON(t, http.MethodPost, ts.URL+"/v1/processes", "", `{"id":"p1","attempt_id":"a1"}`)
	doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/patches", "", twoEntries)

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "p1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	first := readMessage(t, ctx, conn)
	if !first.Reset || len(first.Ops) != 2 {
		t.Fatalf("first message reset=%v ops=%d, want reset with 2 ops", first.Reset, len(first.Ops))
	}
	if first.Info == nil || first.Info.AttemptID != "a1" {
		t.Fatalf("first message info = %+v", first.Info)
	}

	doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/patches", "",
		`[{"op":"replace","path":"/entries/2","value":{"type":"STDERR","content":"three"}}]`)
	live := readMessage(t, ctx, conn)
	if live.Reset || len(live.Ops) != 1 {
		t.Fatalf("live message reset=%v ops=%d, want 1 op", live.Reset, len(live.Ops))
	}

	doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/finish", "", "")
	fin := readMessage(t, ctx, conn)
	if !fin.Finished || fin.Info == nil || fin.Info.Status != StatusCompleted {
		t.Fatalf("finish message = %+v", fin)
	}
}

func TestServer_WebSocketFinishedBackfill(t *testing.T) {
	_, ts := newTestServer(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doJSON(t, http.MethodPost, ts.URL+"/v1/processes", "", `{"id":"p1","attempt_id":"a1"}`)
	doJSON(t, http.MethodPost, ts.URL+"/v1/processes/p1/finish", "", "")

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "p1"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	first := readMessage(t, ctx, conn)
	if !first.Reset || !first.Finished || len(first.Ops) != 0 {
		t.Fatalf("first message = %+v, want finished reset with no ops", first)
	}
}

func TestServer_Auth(t *testing.T) {
	_, ts := newTestServer(t, "secret")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/v1/health", "", http.StatusOK},
		{"missing token", http.MethodGet, "/v1/processes", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/v1/processes", "nope", http.StatusUnauthorized},
		{"valid token", http.MethodGet, "/v1/processes", "secret", http.StatusOK},
		{"stats", http.MethodGet, "/v1/collector/stats", "secret", http.StatusOK},
		{"metrics need token", http.MethodGet, "/metrics", "", http.StatusUnauthorized},
		{"metrics", http.MethodGet, "/metrics", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, ts.URL+tt.path, tt.token, "")
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestServer_WebSocketTicket(t *testing.T) {
	_, ts := newTestServer(t, "secret")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := websocket.Dial(ctx, wsURL(ts, "p1"), nil); err == nil {
		t.Fatal("dial without credentials succeeded")
	}
	if _, _, err := websocket.Dial(ctx, wsURL(ts, "p1")+"?ticket=bogus", nil); err == nil {
		t.Fatal("dial with bogus ticket succeeded")
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/ws/ticket", "secret", `{"process_id":"p1"}`)
	ticket := decode[map[string]string](t, resp)["ticket"]
	if ticket == "" {
		t.Fatal("no ticket issued")
	}

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "p1")+"?ticket="+ticket, nil)
	if err != nil {
		t.Fatalf("dial with ticket: %v", err)
	}
	defer conn.CloseNow()
	if first := readMessage(t, ctx, conn); !first.Reset {
		t.Fatalf("first message = %+v, want reset", first)
	}
}

func TestServer_ResetReplacesLog(t *testing.T) {
	s, _ := newTestServer(t, "")
	ctx := context.Background()

	if _, err := s.Ingest(ctx, stream.Message{ProcessID: "p1", Ops: mustPatch(t, twoEntries)}); err != nil {
		t.Fatal(err)
	}
	resp, err := s.Ingest(ctx, stream.Message{
		ProcessID: "p1",
		Reset:     true,
		Ops:       mustPatch(t, `[{"op":"add","path":"/entries/0","value":{"type":"STDOUT","content":"again"}}]`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Sequence != 1 {
		t.Errorf("sequence after reset = %d, want 1", resp.Sequence)
	}
	backlog, _ := s.log.Backlog(ctx, "p1")
	if len(backlog) != 1 {
		t.Errorf("backlog has %d ops, want 1", len(backlog))
	}
	if p, _ := s.registry.Get("p1"); p.Operations != 1 {
		t.Errorf("registry counts %d ops, want 1", p.Operations)
	}
}

func TestServer_PurgeFinished(t *testing.T) {
	s, _ := newTestServer(t, "")
	ctx := context.Background()
	s.config.RetainDone = time.Minute

	now := time.Now()
	s.registry.now = func() time.Time { return now }
	s.Ingest(ctx, stream.Message{ProcessID: "p1", Ops: mustPatch(t, twoEntries), Finished: true})

	now = now.Add(2 * time.Minute)
	s.purgeFinished(ctx)

	if _, ok := s.registry.Get("p1"); ok {
		t.Error("finished process still registered")
	}
	if backlog, _ := s.log.Backlog(ctx, "p1"); len(backlog) != 0 {
		t.Errorf("backlog has %d ops after purge", len(backlog))
	}
}

func TestReplay(t *testing.T) {
	s, _ := newTestServer(t, "")

	var buf bytes.Buffer
	buf.WriteString(`[{"op":"add","path":"/entries/0","value":{"type":"STDOUT","content":"hi"}}]` + "\n")
	buf.WriteString("\n")
	buf.WriteString(`not json` + "\n")
	buf.WriteString(`{"process_id":"p2","info":{"id":"p2","attempt_id":"a9","run_reason":"setup"},"ops":[],"finished":true}` + "\n")

	path := filepath.Join(t.TempDir(), "replay.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := Replay(context.Background(), s, path, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 2 {
		t.Errorf("replayed %d messages, want 2", n)
	}

	if p, ok := s.registry.Get(DefaultReplayProcessID); !ok || p.Operations != 1 {
		t.Errorf("replay process = %+v, %v", p, ok)
	}
	p, ok := s.registry.Get("p2")
	if !ok || p.AttemptID != "a9" || !p.Finished {
		t.Errorf("p2 = %+v, %v", p, ok)
	}
}

func TestReplay_Cancel(t *testing.T) {
	s, _ := newTestServer(t, "")

	path := filepath.Join(t.TempDir(), "replay.jsonl")
	line := `[{"op":"add","path":"/entries/-","value":{"type":"STDOUT","content":"x"}}]` + "\n"
	if err := os.WriteFile(path, []byte(line+line+line), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Replay(ctx, s, path, time.Hour)
	if err == nil {
		t.Fatal("expected context error")
	}
	if n != 1 {
		t.Errorf("replayed %d messages before cancel, want 1", n)
	}
}

func TestMissingReplayFile(t *testing.T) {
	s, _ := newTestServer(t, "")
	if _, err := Replay(context.Background(), s, filepath.Join(t.TempDir(), "nope.jsonl"), 0); err == nil {
		t.Fatal("expected error for missing file")
	}
}
