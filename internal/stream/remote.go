package stream

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/wethinkt/go-proctail/internal/tuilog"
)

const (
	maxReconnectDelay   = 30 * time.Second
	baseReconnectDelay  = 1 * time.Second
	maxConsecutiveFails = 5
)

// StreamRemote connects to a collector WebSocket endpoint and streams
// messages. It reconnects with exponential backoff until ctx is cancelled.
// The collector starts every connection with a reset+backfill message, so a
// reconnect never duplicates entries.
// The token is sent as a Bearer Authorization header.
func StreamRemote(ctx context.Context, wsURL string, token string) (<-chan Message, error) {
	ch := make(chan Message, 64)
	go streamRemoteLoop(ctx, wsURL, token, ch)
	return ch, nil
}

func streamRemoteLoop(ctx context.Context, wsURL string, token string, ch chan<- Message) {
	defer close(ch)

	consecutiveFails := 0
	for {
		if ctx.Err() != nil {
			return
		}

		received, err := streamRemoteOnce(ctx, wsURL, token, ch)
		if ctx.Err() != nil {
			return
		}

		if received > 0 {
			consecutiveFails = 0
		}
		consecutiveFails++
		if err != nil {
			tuilog.Log.Warn("WebSocket stream disconnected", "url", wsURL, "error", err, "failures", consecutiveFails)
		}
		if consecutiveFails >= maxConsecutiveFails {
			tuilog.Log.Error("Collector unreachable, still retrying", "url", wsURL, "failures", consecutiveFails)
		}

		delay := backoff(consecutiveFails)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// backoff returns the delay before reconnect attempt n (1-based).
func backoff(n int) time.Duration {
	delay := time.Duration(float64(baseReconnectDelay) * math.Pow(2, float64(min(max(n-1, 0), 5))))
	return min(delay, maxReconnectDelay)
}

func streamRemoteOnce(ctx context.Context, wsURL string, token string, ch chan<- Message) (int, error) {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{
			"Authorization": []string{"Bearer " + token},
		}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return 0, err
	}
	defer conn.CloseNow()
	conn.SetReadLimit(16 << 20)

	received := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return received, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.ProcessID == "" {
			tuilog.Log.Debug("Failed to parse WS message", "error", err)
			continue
		}
		received++

		select {
		case ch <- msg:
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client closing")
			return received, ctx.Err()
		}
	}
}
