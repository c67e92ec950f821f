package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wethinkt/go-proctail/internal/collect"
	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	shipTimeout    = 30 * time.Second
)

// Shipper sends process registrations and patch messages to a collector.
type Shipper struct {
	collectorURL string
	token        string
	client       *http.Client
	backoff      time.Duration
}

// NewShipper creates a new Shipper targeting the collector at collectorURL.
func NewShipper(collectorURL, token string) *Shipper {
	return &Shipper{
		collectorURL: strings.TrimRight(collectorURL, "/"),
		token:        token,
		client: &http.Client{
			Timeout: shipTimeout,
		},
		backoff: initialBackoff,
	}
}

func (s *Shipper) processURL(id, suffix string) string {
	return s.collectorURL + "/v1/processes/" + url.PathEscape(id) + suffix
}

// Register registers a process with the collector.
func (s *Shipper) Register(ctx context.Context, req collect.RegisterRequest) (collect.ProcessSummary, error) {
	var summary collect.ProcessSummary
	_, err := s.post(ctx, s.collectorURL+"/v1/processes", req, &summary)
	if err != nil {
		return summary, fmt.Errorf("register process: %w", err)
	}
	return summary, nil
}

// Ship sends a message to the patches endpoint of its process with retry and
// exponential backoff.
func (s *Shipper) Ship(ctx context.Context, msg stream.Message) (*ShipResult, error) {
	start := time.Now()
	var resp collect.PatchResponse
	status, err := s.post(ctx, s.processURL(msg.ProcessID, "/patches"), msg, &resp)

	result := &ShipResult{
		Operations: len(msg.Ops),
		Accepted:   resp.Accepted,
		Sequence:   resp.Sequence,
		StatusCode: status,
		Error:      err,
		Duration:   time.Since(start),
	}
	shipDurationSeconds.Observe(result.Duration.Seconds())
	if err != nil {
		shipRequestsTotal.WithLabelValues("error").Inc()
		return result, err
	}
	shipRequestsTotal.WithLabelValues("ok").Inc()
	tuilog.Log.Debug("Ship succeeded",
		"process_id", msg.ProcessID,
		"operations", result.Operations,
		"sequence", result.Sequence,
		"duration", result.Duration,
	)
	return result, nil
}

// Finish marks a process finished.
func (s *Shipper) Finish(ctx context.Context, id, status string) error {
	_, err := s.post(ctx, s.processURL(id, "/finish"), collect.FinishRequest{Status: status}, nil)
	if err != nil {
		return fmt.Errorf("finish process %s: %w", id, err)
	}
	return nil
}

// post sends body as JSON and decodes a 2xx response into out. Transport
// errors, 429 and 5xx responses are retried.
func (s *Shipper) post(ctx context.Context, target string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	var statusCode int

	backoff := s.backoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			tuilog.Log.Debug("Retrying request", "url", target, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return statusCode, ctx.Err()
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		statusCode = resp.StatusCode
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if statusCode >= 200 && statusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return statusCode, fmt.Errorf("decode response: %w", err)
				}
			}
			return statusCode, nil
		}

		lastErr = fmt.Errorf("collector returned %d: %s", statusCode, strings.TrimSpace(string(respBody)))
		// Don't retry on client errors (4xx) except 429
		if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests {
			break
		}
	}
	return statusCode, lastErr
}

// Ping checks that the collector is reachable.
func (s *Shipper) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.collectorURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}

	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping collector: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("collector unhealthy: %d", resp.StatusCode)
	}
	return nil
}
