package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// maxPatchBody bounds the size of a single patch request.
const maxPatchBody = 16 << 20

// Ingest validates a batch, appends it to the process log and publishes it
// to live viewers. Static info carried by the message registers the process.
func (s *Server) Ingest(ctx context.Context, msg stream.Message) (PatchResponse, error) {
	start := time.Now()
	defer func() { ingestDurationSeconds.Observe(time.Since(start).Seconds()) }()

	if msg.ProcessID == "" {
		return PatchResponse{}, fmt.Errorf("process_id is required")
	}

	ops, dropped, err := NormalizeOps(msg.Ops)
	if err != nil {
		return PatchResponse{}, err
	}
	ingestOpsTotal.WithLabelValues("accepted").Add(float64(len(ops)))
	ingestOpsTotal.WithLabelValues("dropped").Add(float64(dropped))
	if dropped > 0 {
		tuilog.Log.Info("Dropped invalid operations during normalization",
			"process_id", msg.ProcessID, "dropped", dropped)
	}

	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	if msg.Info != nil {
		s.registry.Register(RegisterRequest{
			ID:        msg.ProcessID,
			AttemptID: msg.Info.AttemptID,
			RunReason: msg.Info.RunReason,
		})
	}
	if msg.Reset {
		s.registry.Restart(msg.ProcessID)
	}
	s.registry.Touch(msg.ProcessID, len(ops))

	if msg.Reset {
		if err := s.log.Delete(ctx, msg.ProcessID); err != nil {
			return PatchResponse{}, fmt.Errorf("reset op log: %w", err)
		}
	}
	seq, err := s.log.Append(ctx, msg.ProcessID, ops)
	if err != nil {
		return PatchResponse{}, fmt.Errorf("append op log: %w", err)
	}

	out := stream.Message{ProcessID: msg.ProcessID, Ops: ops, Reset: msg.Reset}
	if msg.Finished {
		if summary, ok := s.registry.Finish(msg.ProcessID, ""); ok {
			out.Finished = true
			info := summary.StaticInfo
			out.Info = &info
		}
	}
	s.pubsub.Publish(Published{Seq: seq, Message: out})

	return PatchResponse{Accepted: len(ops), Dropped: dropped, Sequence: seq}, nil
}

// finish marks a process as done and tells live viewers.
func (s *Server) finish(ctx context.Context, processID, status string) (ProcessSummary, error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	summary, ok := s.registry.Finish(processID, status)
	if !ok {
		return ProcessSummary{}, errUnknownProcess
	}
	seq, err := s.log.Append(ctx, processID, nil)
	if err != nil {
		return ProcessSummary{}, err
	}
	info := summary.StaticInfo
	s.pubsub.Publish(Published{Seq: seq, Message: stream.Message{
		ProcessID: processID,
		Finished:  true,
		Info:      &info,
	}})
	return summary, nil
}

var errUnknownProcess = fmt.Errorf("unknown process")

// handleRegister processes POST /v1/processes.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
		return
	}
	if req.AttemptID == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "attempt_id is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	summary := s.registry.Register(req)
	tuilog.Log.Info("Process registered",
		"process_id", summary.ID, "attempt_id", summary.AttemptID, "run_reason", summary.RunReason)
	writeJSON(w, http.StatusCreated, summary)
}

// handleList handles GET /v1/processes?attempt_id=.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	procs := s.registry.List(r.URL.Query().Get("attempt_id"))
	writeJSON(w, http.StatusOK, map[string]any{
		"processes": procs,
		"count":     len(procs),
	})
}

// handleGet handles GET /v1/processes/{processID}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processID")
	summary, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Unknown process "+id)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handlePatches processes POST /v1/processes/{processID}/patches. The body is
// either a message object or a bare array of operations.
func (s *Server) handlePatches(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPatchBody))
	if err != nil {
		ingestRequestsTotal.WithLabelValues("too_large").Inc()
		writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
		return
	}

	msg, err := stream.DecodeMessage(body, id)
	if err != nil {
		ingestRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if msg.ProcessID != id {
		ingestRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "validation_error", "process_id does not match URL")
		return
	}

	resp, err := s.Ingest(r.Context(), msg)
	if err != nil {
		ingestRequestsTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if resp.Accepted == 0 && resp.Dropped > 0 {
		resp.Message = "all operations dropped during validation"
	}
	ingestRequestsTotal.WithLabelValues("ok").Inc()

	tuilog.Log.Debug("Ingested patches",
		"process_id", id, "accepted", resp.Accepted, "sequence", resp.Sequence)
	writeJSON(w, http.StatusOK, resp)
}

// handleFinish processes POST /v1/processes/{processID}/finish.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "processID")

	var req FinishRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid_json", "Failed to parse request body")
			return
		}
	}

	summary, err := s.finish(r.Context(), id, req.Status)
	if err == errUnknownProcess {
		writeError(w, http.StatusNotFound, "not_found", "Unknown process "+id)
		return
	}
	if err != nil {
		tuilog.Log.Error("Failed to finish process", "process_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "finish_error", "Failed to finish process")
		return
	}

	tuilog.Log.Info("Process finished", "process_id", id, "status", summary.Status)
	writeJSON(w, http.StatusOK, summary)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

// handleStats handles GET /v1/collector/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, running := s.registry.Count()
	writeJSON(w, http.StatusOK, CollectorStats{
		TotalProcesses:   total,
		RunningProcesses: running,
		UptimeSeconds:    time.Since(s.startedAt).Seconds(),
		StartedAt:        s.startedAt,
	})
}
