package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wethinkt/go-proctail/internal/collect"
	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Exporter ships the messages of a local patch file to a collector. Each
// process id seen in the file is registered once under the configured
// attempt before its first message is shipped.
type Exporter struct {
	cfg     ExporterConfig
	shipper *Shipper

	// Stats tracked atomically
	messagesShipped atomic.Int64
	messagesFailed  atomic.Int64
	lastShipTime    atomic.Int64 // unix nano

	mu         sync.Mutex
	registered map[string]bool
	finished   map[string]bool
}

// New creates a new Exporter with the given configuration.
func New(cfg ExporterConfig) (*Exporter, error) {
	cfg.Defaults()
	if cfg.CollectorURL == "" {
		return nil, errors.New("collector URL is required")
	}
	if cfg.AttemptID == "" {
		return nil, errors.New("attempt id is required")
	}
	if cfg.Path == "" {
		return nil, errors.New("patch file is required")
	}
	if cfg.ProcessID == "" {
		cfg.ProcessID = strings.TrimSuffix(filepath.Base(cfg.Path), filepath.Ext(cfg.Path))
	}

	return &Exporter{
		cfg:        cfg,
		shipper:    NewShipper(cfg.CollectorURL, cfg.Token),
		registered: make(map[string]bool),
		finished:   make(map[string]bool),
	}, nil
}

// Run ships the file. Without Follow it returns once every message has been
// shipped and every process marked finished; with Follow it blocks until ctx
// is cancelled or the file is removed.
func (e *Exporter) Run(ctx context.Context) error {
	if err := e.shipper.Ping(ctx); err != nil {
		return err
	}
	if !e.cfg.Quiet {
		tuilog.Log.Info("Exporter started", "collector", e.cfg.CollectorURL, "path", e.cfg.Path, "follow", e.cfg.Follow)
	}

	if e.cfg.Follow {
		return e.follow(ctx)
	}
	return e.exportOnce(ctx)
}

// exportOnce ships the current content of the file and finishes its
// processes. The first message of each process resets its collector log, so
// shipping a file twice does not duplicate entries.
func (e *Exporter) exportOnce(ctx context.Context) error {
	msgs, err := stream.ReadFile(e.cfg.Path, e.cfg.ProcessID)
	if err != nil {
		return fmt.Errorf("read patch file: %w", err)
	}

	seen := make(map[string]bool)
	for _, msg := range msgs {
		if !seen[msg.ProcessID] {
			seen[msg.ProcessID] = true
			msg.Reset = true
		}
		if err := e.ship(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var regErr *registerError
			if errors.As(err, &regErr) {
				return err
			}
		}
	}
	return e.finishAll(ctx)
}

// follow ships the backfill of the file, then every appended line.
func (e *Exporter) follow(ctx context.Context) error {
	ch, err := stream.StreamLocal(ctx, e.cfg.Path, e.cfg.ProcessID)
	if err != nil {
		return fmt.Errorf("open patch file: %w", err)
	}
	for msg := range ch {
		if err := e.ship(ctx, msg); err != nil {
			var regErr *registerError
			if errors.As(err, &regErr) {
				return err
			}
		}
	}
	if ctx.Err() != nil {
		tuilog.Log.Info("Exporter shutting down")
		return nil
	}
	// The file was removed; nothing more will arrive.
	return e.finishAll(ctx)
}

// registerError marks a failed registration, which stops the export.
type registerError struct{ err error }

func (r *registerError) Error() string { return r.err.Error() }
func (r *registerError) Unwrap() error { return r.err }

func (e *Exporter) ship(ctx context.Context, msg stream.Message) error {
	if msg.Info != nil {
		// Recorded info must not move the process to another attempt.
		info := *msg.Info
		info.ID = msg.ProcessID
		info.AttemptID = e.cfg.AttemptID
		msg.Info = &info
	}
	if err := e.ensureRegistered(ctx, msg); err != nil {
		return &registerError{err: err}
	}

	if _, err := e.shipper.Ship(ctx, msg); err != nil {
		tuilog.Log.Warn("Ship failed", "process_id", msg.ProcessID, "operations", len(msg.Ops), "error", err)
		e.messagesFailed.Add(1)
		messagesFailed.Inc()
		return err
	}

	e.messagesShipped.Add(1)
	messagesShipped.Inc()
	e.lastShipTime.Store(time.Now().UnixNano())
	if msg.Finished {
		e.mu.Lock()
		e.finished[msg.ProcessID] = true
		e.mu.Unlock()
	}
	return nil
}

func (e *Exporter) ensureRegistered(ctx context.Context, msg stream.Message) error {
	e.mu.Lock()
	done := e.registered[msg.ProcessID]
	e.mu.Unlock()
	if done {
		return nil
	}

	req := collect.RegisterRequest{
		ID:        msg.ProcessID,
		AttemptID: e.cfg.AttemptID,
		RunReason: e.cfg.RunReason,
	}
	if msg.Info != nil && msg.Info.RunReason != "" {
		req.RunReason = msg.Info.RunReason
	}
	if _, err := e.shipper.Register(ctx, req); err != nil {
		return err
	}
	tuilog.Log.Info("Registered process", "process_id", msg.ProcessID, "attempt_id", e.cfg.AttemptID)

	e.mu.Lock()
	e.registered[msg.ProcessID] = true
	e.mu.Unlock()
	return nil
}

// finishAll marks every registered process that has not finished itself.
func (e *Exporter) finishAll(ctx context.Context) error {
	var errs []error
	for _, id := range e.pending() {
		if err := e.shipper.Finish(ctx, id, "completed"); err != nil {
			errs = append(errs, err)
			continue
		}
		e.mu.Lock()
		e.finished[id] = true
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (e *Exporter) pending() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for id := range e.registered {
		if !e.finished[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stats returns current exporter statistics.
func (e *Exporter) Stats() ExporterStats {
	e.mu.Lock()
	procs := make([]string, 0, len(e.registered))
	for id := range e.registered {
		procs = append(procs, id)
	}
	e.mu.Unlock()
	sort.Strings(procs)

	lastShip := e.lastShipTime.Load()
	var lastShipTime time.Time
	if lastShip > 0 {
		lastShipTime = time.Unix(0, lastShip)
	}

	return ExporterStats{
		MessagesShipped: e.messagesShipped.Load(),
		MessagesFailed:  e.messagesFailed.Load(),
		Processes:       procs,
		LastShipTime:    lastShipTime,
		CollectorURL:    e.cfg.CollectorURL,
	}
}
