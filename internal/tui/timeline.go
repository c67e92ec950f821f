package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/google/uuid"

	"github.com/wethinkt/go-proctail/internal/conversation"
	"github.com/wethinkt/go-proctail/internal/patchstream"
	"github.com/wethinkt/go-proctail/internal/present"
	"github.com/wethinkt/go-proctail/internal/stream"
	"github.com/wethinkt/go-proctail/internal/tuilog"
)

// Layout lines outside the timeline body.
const (
	headerLines = 2
	footerLines = 1
)

// TimelineOptions configure a TimelineModel.
type TimelineOptions struct {
	// Attempt is the attempt shown first; empty selects the newest.
	Attempt string
	// Present holds the windowing constants, in terminal lines.
	Present  present.Options
	Markdown bool
}

// attemptOpenedMsg carries the merged batch stream of an attempt.
type attemptOpenedMsg struct {
	generation string
	ch         <-chan stream.Batch
	sources    int
}

// batchMsg delivers one batch to the TUI.
type batchMsg struct {
	batch stream.Batch
	ch    <-chan stream.Batch // pass channel back for next read
}

// streamClosedMsg signals that a batch channel was drained.
type streamClosedMsg struct {
	generation string
}

// streamErrorMsg signals that streams could not be opened.
type streamErrorMsg struct {
	generation string
	err        error
}

// processEventMsg delivers a change of the collector's process list.
type processEventMsg struct {
	event stream.ProcessEvent
	ch    <-chan stream.ProcessEvent
}

// TimelineModel shows the live timeline of one attempt at a time.
type TimelineModel struct {
	ctx      context.Context
	source   Source
	history  *conversation.History
	ctrl     *present.Controller
	vp       *timelineViewport
	renderer *Renderer
	spinner  spinner.Model
	keys     timelineKeyMap

	attempts   []string
	current    int
	attemptID  string
	generation string // stamps the batches of the current selection
	streamCtx  context.Context
	cancel     context.CancelFunc
	opened     map[string]bool

	events      <-chan stream.ProcessEvent
	unsubEvents func()
	pending     tea.Cmd

	expanded      bool
	width, height int
	ready         bool
	ended         bool
	streamErr     error
	openStreams   int // merged streams of the current generation

	lines    []string // rendered window
	linesTop int      // timeline offset of lines[0]
}

// NewTimelineModel creates a timeline over src. The first attempt starts
// loading when the program starts.
func NewTimelineModel(ctx context.Context, src Source, opts TimelineOptions) TimelineModel {
	vp := &timelineViewport{}
	ctrl := present.NewController(vp, opts.Present)
	vp.ctrl = ctrl

	s := spinner.New(
		spinner.WithSpinner(spinner.MiniDot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent))),
	)

	m := TimelineModel{
		ctx:      ctx,
		source:   src,
		history:  conversation.New(),
		ctrl:     ctrl,
		vp:       vp,
		renderer: NewRenderer(80, opts.Markdown),
		spinner:  s,
		keys:     defaultTimelineKeyMap(),
		current:  -1,
	}

	m.attempts = src.Attempts()
	switch {
	case opts.Attempt != "":
		m.current = slices.Index(m.attempts, opts.Attempt)
		if m.current < 0 {
			m.attempts = append(m.attempts, opts.Attempt)
			m.current = len(m.attempts) - 1
		}
	case len(m.attempts) > 0:
		m.current = len(m.attempts) - 1
	}

	if live, ok := src.(LiveSource); ok {
		m.events, m.unsubEvents = live.Subscribe()
	}
	m.pending = m.startAttempt()
	return m
}

func (m TimelineModel) Init() tea.Cmd {
	return tea.Batch(m.pending, m.spinner.Tick, waitForProcessEvent(m.events))
}

// AttemptID returns the attempt being shown.
func (m TimelineModel) AttemptID() string { return m.attemptID }

// Controller exposes the presentation state.
func (m TimelineModel) Controller() *present.Controller { return m.ctrl }

func (m TimelineModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp.height = max(1, msg.Height-headerLines-footerLines)
		m.renderer.SetWidth(msg.Width)
		m.ready = true
		m.relayout()
		return m, nil

	case attemptOpenedMsg:
		if msg.generation != m.generation {
			return m, nil
		}
		m.openStreams++
		m.ended = false
		if msg.sources == 0 {
			m.ctrl.Deliver(m.history.Display(), present.Initial)
			m.relayout()
		}
		return m, waitForBatch(msg.ch, msg.generation)

	case batchMsg:
		if msg.batch.AttemptID != m.generation {
			return m, nil
		}
		if upd, ok := m.history.Deliver(msg.batch); ok {
			m.ctrl.Deliver(upd.Display, upd.AddType)
			m.relayout()
		}
		return m, waitForBatch(msg.ch, m.generation)

	case streamClosedMsg:
		if msg.generation != m.generation {
			return m, nil
		}
		m.openStreams--
		if m.openStreams > 0 {
			return m, nil
		}
		m.ended = true
		if m.ctrl.Loading() {
			m.ctrl.Deliver(m.history.Display(), present.Initial)
			m.relayout()
		}
		return m, nil

	case streamErrorMsg:
		if msg.generation != m.generation {
			return m, nil
		}
		tuilog.Log.Error("Failed to open attempt", "attempt_id", m.attemptID, "error", msg.err)
		m.streamErr = msg.err
		m.ctrl.Deliver(m.history.Display(), present.Initial)
		m.relayout()
		return m, nil

	case processEventMsg:
		cmd := m.handleProcessEvent(msg.event)
		return m, tea.Batch(cmd, waitForProcessEvent(msg.ch))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m TimelineModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.stop()
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextAttempt):
		return m, m.switchAttempt(1)
	case key.Matches(msg, m.keys.PrevAttempt):
		return m, m.switchAttempt(-1)
	case key.Matches(msg, m.keys.Expand):
		m.toggleExpanded()
		return m, nil
	case key.Matches(msg, m.keys.Up):
		m.scrollBy(-1)
	case key.Matches(msg, m.keys.Down):
		m.scrollBy(1)
	case key.Matches(msg, m.keys.PgUp):
		m.scrollBy(-m.vp.height)
	case key.Matches(msg, m.keys.PgDown):
		m.scrollBy(m.vp.height)
	case key.Matches(msg, m.keys.Top):
		m.scrollBy(-m.vp.top)
	case key.Matches(msg, m.keys.Bottom):
		if n := m.ctrl.Len(); n > 0 {
			m.vp.ScrollToEntry(n-1, present.ScrollOptions{Align: present.AlignEnd})
		}
		m.relayout()
		m.ctrl.OnScroll(m.vp.position())
	}
	return m, nil
}

func (m *TimelineModel) scrollBy(delta int) {
	m.vp.scrollBy(delta)
	m.ctrl.OnScroll(m.vp.position())
	m.relayout()
}

// switchAttempt selects the attempt delta positions away.
func (m *TimelineModel) switchAttempt(delta int) tea.Cmd {
	if live, ok := m.source.(LiveSource); ok {
		m.refreshAttempts(live)
	}
	n := len(m.attempts)
	if n < 2 {
		return nil
	}
	m.current = ((m.current+delta)%n + n) % n
	return m.startAttempt()
}

// startAttempt cancels the current streams and resets the history and the
// controller before any batch of the new selection can arrive.
func (m *TimelineModel) startAttempt() tea.Cmd {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.streamErr = nil
	m.ended = false
	m.openStreams = 0
	m.lines = nil
	m.vp.top = 0
	m.vp.target = nil
	m.ctrl.Reset()

	if m.current < 0 || m.current >= len(m.attempts) {
		m.attemptID = ""
		m.generation = ""
		m.history.Start("", nil)
		return nil
	}

	m.attemptID = m.attempts[m.current]
	m.generation = uuid.New().String()
	procs := m.source.Processes(m.attemptID)
	m.history.Start(m.generation, procs)
	m.opened = make(map[string]bool, len(procs))
	for _, p := range procs {
		m.opened[p.ID] = true
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.streamCtx, m.cancel = ctx, cancel
	tuilog.Log.Info("Showing attempt", "attempt_id", m.attemptID, "processes", len(procs))
	return openAttempt(ctx, m.source, m.attemptID, m.generation, procs)
}

func (m *TimelineModel) handleProcessEvent(ev stream.ProcessEvent) tea.Cmd {
	live, ok := m.source.(LiveSource)
	if !ok {
		return nil
	}
	m.refreshAttempts(live)

	if m.attemptID == "" {
		if len(m.attempts) == 0 {
			return nil
		}
		m.current = len(m.attempts) - 1
		return m.startAttempt()
	}
	if ev.Process.AttemptID != m.attemptID {
		return nil
	}

	switch ev.Type {
	case "added":
		if m.opened[ev.Process.ID] {
			return nil
		}
		m.opened[ev.Process.ID] = true
		m.history.Store().SetStaticInfo(ev.Process)
		return openProcess(m.streamCtx, live, ev.Process.ID, m.generation)
	case "updated":
		m.history.Store().SetStaticInfo(ev.Process)
	}
	return nil
}

// refreshAttempts reloads the attempt list, keeping the current selection.
func (m *TimelineModel) refreshAttempts(src Source) {
	attempts := src.Attempts()
	if m.attemptID != "" && !slices.Contains(attempts, m.attemptID) {
		attempts = append(attempts, m.attemptID)
	}
	m.attempts = attempts
	m.current = slices.Index(attempts, m.attemptID)
}

func (m *TimelineModel) stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.unsubEvents != nil {
		m.unsubEvents()
	}
}

// relayout renders the window at the current scroll position and measures
// its rows. A pending scroll target is re-resolved after every measuring
// pass, since measured heights replace the estimates it was computed from.
// toggleExpanded flips group expansion. Every row changes height, so
// measured sizes are dropped and the view is re-anchored on the tail when
// following, or on the first visible row otherwise.
func (m *TimelineModel) toggleExpanded() {
	m.expanded = !m.expanded

	n := m.ctrl.Len()
	anchor, align := -1, present.AlignStart
	if n > 0 && m.ctrl.ShouldAutoscroll() {
		anchor, align = n-1, present.AlignEnd
	} else {
		for _, row := range m.ctrl.Window(m.vp.top, m.vp.height).Rows {
			if row.Offset+row.Size > m.vp.top {
				anchor = row.Index
				break
			}
		}
	}

	m.ctrl.ForgetSizes()
	if anchor >= 0 {
		m.vp.ScrollToEntry(anchor, present.ScrollOptions{Align: align})
	}
	m.relayout()
	m.ctrl.OnScroll(m.vp.position())
}

func (m *TimelineModel) relayout() {
	if !m.ready {
		return
	}

	var (
		w     present.Window
		parts []string
	)
	for range 4 {
		m.vp.resolve()
		m.vp.clamp()
		w = m.ctrl.Window(m.vp.top, m.vp.height)
		parts = parts[:0]
		changed := false
		for _, row := range w.Rows {
			s := m.renderer.Row(row.Entry, m.expanded)
			parts = append(parts, s)
			if m.ctrl.Measure(row.Key, lipgloss.Height(s)) {
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	// Rows before the window were not measured in the last pass, so its
	// padding still holds.
	m.vp.resolve()
	m.vp.target = nil
	m.vp.clamp()

	m.lines = strings.Split(strings.Join(parts, "\n"), "\n")
	m.linesTop = w.PaddingBefore
}

func (m TimelineModel) View() tea.View {
	if !m.ready {
		v := tea.NewView(m.spinner.View() + " Connecting...")
		v.AltScreen = true
		return v
	}

	s := GetStyles()
	var body string
	switch {
	case m.attemptID == "":
		body = s.Muted.Render("Waiting for processes...")
	case m.ctrl.Loading():
		body = m.spinner.View() + " " + s.Muted.Render("Loading attempt...")
	case m.ctrl.Len() == 0:
		body = s.Muted.Render("No entries yet")
	default:
		body = strings.Join(m.visibleLines(), "\n")
	}
	body = lipgloss.NewStyle().Height(m.vp.height).MaxHeight(m.vp.height).Render(body)

	footer := s.Help.Render(m.keys.helpLine())
	v := tea.NewView(m.renderHeader() + "\n" + body + "\n" + footer)
	v.AltScreen = true
	return v
}

// visibleLines returns the window lines inside the viewport.
func (m TimelineModel) visibleLines() []string {
	start := min(max(m.vp.top-m.linesTop, 0), len(m.lines))
	end := min(start+m.vp.height, len(m.lines))
	return m.lines[start:end]
}

func (m TimelineModel) renderHeader() string {
	s := GetStyles()

	attempt := m.attemptID
	if len(attempt) > 12 {
		attempt = attempt[:12]
	}
	title := s.Title.Render("proctail")
	if attempt != "" {
		title += s.Info.Render(fmt.Sprintf("  attempt %s (%d/%d)", attempt, m.current+1, len(m.attempts)))
	}

	var status string
	switch {
	case m.streamErr != nil:
		status = s.Disconnected.Render("error: " + m.streamErr.Error())
	case m.ended:
		status = s.Info.Render("ended")
	default:
		status = m.spinner.View() + " " + s.Live.Render("live")
	}

	follow := "following"
	if !m.ctrl.ShouldAutoscroll() {
		follow = "paused (G to follow)"
	}
	procs := len(m.history.ProcessIDs())
	info := s.Info.Render(fmt.Sprintf("%d processes  %d items  %s", procs, m.ctrl.Len(), follow))
	if m.expanded {
		info += s.Info.Render("  expanded")
	}
	return title + "  " + status + "\n" + info
}

// openAttempt opens the streams of an attempt and merges them.
func openAttempt(ctx context.Context, src Source, attemptID, generation string, procs []patchstream.StaticInfo) tea.Cmd {
	return func() tea.Msg {
		chans, err := src.OpenAttempt(ctx, attemptID, procs)
		if err != nil {
			return streamErrorMsg{generation: generation, err: err}
		}
		return attemptOpenedMsg{
			generation: generation,
			ch:         stream.Mux(ctx, generation, chans...),
			sources:    len(chans),
		}
	}
}

// openProcess opens the stream of a process that joined the attempt.
func openProcess(ctx context.Context, src LiveSource, processID, generation string) tea.Cmd {
	return func() tea.Msg {
		ch, err := src.OpenProcess(ctx, processID)
		if err != nil {
			tuilog.Log.Warn("Failed to open process stream", "process_id", processID, "error", err)
			return nil
		}
		return attemptOpenedMsg{
			generation: generation,
			ch:         stream.Mux(ctx, generation, ch),
			sources:    1,
		}
	}
}

// waitForBatch returns a command that blocks until the next batch arrives.
func waitForBatch(ch <-chan stream.Batch, generation string) tea.Cmd {
	return func() tea.Msg {
		b, ok := <-ch
		if !ok {
			return streamClosedMsg{generation: generation}
		}
		return batchMsg{batch: b, ch: ch}
	}
}

// waitForProcessEvent returns a command that blocks until the process list
// changes. A nil channel yields no command.
func waitForProcessEvent(ch <-chan stream.ProcessEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return processEventMsg{event: ev, ch: ch}
	}
}

// timelineViewport owns the scroll position of the timeline body, in lines.
// It receives scroll requests from the controller.
type timelineViewport struct {
	ctrl   *present.Controller
	top    int
	height int
	target *scrollTarget
}

type scrollTarget struct {
	index int
	align present.Align
}

// ScrollToEntry implements present.Scroller. The terminal has no smooth
// scrolling; every request jumps.
func (v *timelineViewport) ScrollToEntry(index int, opts present.ScrollOptions) {
	v.target = &scrollTarget{index: index, align: opts.Align}
	v.resolve()
}

// resolve moves to the pending target, if any.
func (v *timelineViewport) resolve() {
	if v.target != nil {
		v.top = v.ctrl.OffsetOf(v.target.index, v.target.align, v.height)
	}
}

func (v *timelineViewport) maxTop() int {
	return max(0, v.ctrl.TotalSize()-v.height)
}

func (v *timelineViewport) clamp() {
	v.top = min(max(v.top, 0), v.maxTop())
}

func (v *timelineViewport) scrollBy(delta int) {
	v.target = nil
	v.top += delta
	v.clamp()
}

func (v *timelineViewport) position() present.ScrollPosition {
	return present.ScrollPosition{
		ScrollTop:    v.top,
		ScrollHeight: v.ctrl.TotalSize(),
		ClientHeight: v.height,
	}
}
