package collect

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// handleProcessWS upgrades to WebSocket and streams a process in real time.
// The first message is a reset carrying the whole backlog; live batches
// follow in order.
// Auth: either Authorization header (handled by bearerAuth middleware) or ?ticket= query param.
func (s *Server) handleProcessWS(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")
	if processID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "processID is required")
		return
	}

	// Check ticket auth (for browser clients that can't set headers on WS)
	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		if !s.tickets.Redeem(ticket, processID) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired ticket")
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		tuilog.Log.Error("WebSocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// Subscribe before reading the backlog; live batches already in the
	// backlog are recognized by their sequence number.
	ch, unsub := s.pubsub.Subscribe(processID)
	defer unsub()

	s.ingestMu.Lock()
	backlog, err := s.log.Backlog(ctx, processID)
	summary, known := s.registry.Get(processID)
	s.ingestMu.Unlock()
	if err != nil {
		tuilog.Log.Error("WS backfill failed", "process_id", processID, "error", err)
		conn.Close(websocket.StatusInternalError, "backfill failed")
		return
	}

	first := stream.Message{ProcessID: processID, Ops: backlog, Reset: true, Finished: summary.Finished}
	if known {
		info := summary.StaticInfo
		first.Info = &info
	}
	if err := writeMessage(r, conn, first); err != nil {
		tuilog.Log.Debug("WS backfill write failed", "process_id", processID, "error", err)
		return
	}
	seen := len(backlog)

	wsConnectionsActive.Inc()
	defer wsConnectionsActive.Dec()
	tuilog.Log.Info("WebSocket client connected", "process_id", processID, "backlog", seen)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return
		case p, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusTryAgainLater, "subscription closed")
				return
			}
			if !p.Message.Reset && len(p.Message.Ops) > 0 && p.Seq <= seen {
				continue
			}
			seen = p.Seq
			if err := writeMessage(r, conn, p.Message); err != nil {
				tuilog.Log.Debug("WS write failed", "process_id", processID, "error", err)
				return
			}
		}
	}
}

func writeMessage(r *http.Request, conn *websocket.Conn, msg stream.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(r.Context(), websocket.MessageText, data)
}

// handleIssueTicket issues a WebSocket auth ticket for the given process.
// POST /v1/ws/ticket with body {"process_id": "..."}
func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
		return
	}
	if req.ProcessID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "process_id is required")
		return
	}

	ticket := s.tickets.Issue(req.ProcessID)
	writeJSON(w, http.StatusOK, map[string]string{"ticket": ticket})
}
