package tui

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/wethinkt/go-proctail/internal/patchstream"
	"github.com/wethinkt/go-proctail/internal/stream"
)

// Source provides the attempts a timeline can show and opens their streams.
type Source interface {
	// Attempts returns the selectable attempt ids.
	Attempts() []string
	// Processes returns the known processes of an attempt, oldest first.
	Processes(attemptID string) []patchstream.StaticInfo
	// OpenAttempt opens the message streams of an attempt whose processes
	// were listed by Processes. Streams end when ctx is cancelled.
	OpenAttempt(ctx context.Context, attemptID string, processes []patchstream.StaticInfo) ([]<-chan stream.Message, error)
}

// LiveSource is a Source whose process list changes while it is shown.
type LiveSource interface {
	Source
	Subscribe() (<-chan stream.ProcessEvent, func())
	OpenProcess(ctx context.Context, processID string) (<-chan stream.Message, error)
}

// HubSource shows the attempts known to a collector.
type HubSource struct {
	Hub *stream.Hub
}

func (s HubSource) Attempts() []string { return s.Hub.Attempts() }

func (s HubSource) Processes(attemptID string) []patchstream.StaticInfo {
	return s.Hub.List(attemptID)
}

func (s HubSource) OpenAttempt(ctx context.Context, _ string, processes []patchstream.StaticInfo) ([]<-chan stream.Message, error) {
	chans := make([]<-chan stream.Message, 0, len(processes))
	for _, p := range processes {
		ch, err := s.Hub.Stream(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		chans = append(chans, ch)
	}
	return chans, nil
}

func (s HubSource) Subscribe() (<-chan stream.ProcessEvent, func()) {
	return s.Hub.Subscribe()
}

func (s HubSource) OpenProcess(ctx context.Context, processID string) (<-chan stream.Message, error) {
	return s.Hub.Stream(ctx, processID)
}

// FileSource shows a single JSONL patch file as one attempt.
type FileSource struct {
	Path string
	// ProcessID names the process of bare operation arrays in the file.
	ProcessID string
}

// NewFileSource creates a source for path. The default process id is the
// file name without extension.
func NewFileSource(path, processID string) FileSource {
	if processID == "" {
		processID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return FileSource{Path: path, ProcessID: processID}
}

func (s FileSource) Attempts() []string { return []string{s.Path} }

func (s FileSource) Processes(string) []patchstream.StaticInfo {
	return []patchstream.StaticInfo{{ID: s.ProcessID}}
}

func (s FileSource) OpenAttempt(ctx context.Context, _ string, _ []patchstream.StaticInfo) ([]<-chan stream.Message, error) {
	ch, err := stream.StreamLocal(ctx, s.Path, s.ProcessID)
	if err != nil {
		return nil, err
	}
	return []<-chan stream.Message{ch}, nil
}
