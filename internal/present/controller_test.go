package present

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wethinkt/go-proctail/internal/aggregate"
	"github.com/wethinkt/go-proctail/internal/entry"
)

type scrollCall struct {
	Index int
	Opts  ScrollOptions
}

type recordingScroller struct {
	calls []scrollCall
}

func (r *recordingScroller) ScrollToEntry(index int, opts ScrollOptions) {
	r.calls = append(r.calls, scrollCall{index, opts})
}

func items(n int) []aggregate.DisplayEntry {
	out := make([]aggregate.DisplayEntry, n)
	for i := range out {
		out[i] = aggregate.Single{Entry: entry.NewStdOut("line").WithKey("p", fmt.Sprintf("p:%d", i))}
	}
	return out
}

// scrolledUp is a position far from the bottom.
var scrolledUp = ScrollPosition{ScrollTop: 0, ScrollHeight: 5000, ClientHeight: 500}

func TestDeliver_AutoscrollPolicy(t *testing.T) {
	tests := []struct {
		name       string
		scrolledUp bool
		addType    AddEntryType
		want       []scrollCall
	}{
		{"running at bottom", false, Running, []scrollCall{{2, ScrollOptions{Align: AlignEnd, Smooth: true}}}},
		{"running scrolled up", true, Running, nil},
		{"plan at bottom", false, Plan, []scrollCall{{2, ScrollOptions{Align: AlignEnd, Smooth: true}}}},
		{"plan scrolled up", true, Plan, nil},
		{"historic at bottom", false, Historic, nil},
		{"initial scrolled up", true, Initial, []scrollCall{{2, ScrollOptions{Align: AlignEnd}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingScroller{}
			c := NewController(s, DefaultOptions)
			c.Deliver(items(1), Initial)
			s.calls = nil

			if tt.scrolledUp {
				c.OnScroll(scrolledUp)
			}
			c.Deliver(items(3), tt.addType)

			if diff := cmp.Diff(tt.want, s.calls); diff != "" {
				t.Errorf("scroll calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeliver_UnchangedCountIsNoop(t *testing.T) {
	s := &recordingScroller{}
	c := NewController(s, DefaultOptions)
	c.Deliver(items(2), Initial)
	c.Deliver(items(2), Running)
	c.Deliver(items(2), Initial)

	if len(s.calls) != 1 {
		t.Errorf("got %d scroll calls, want 1: %+v", len(s.calls), s.calls)
	}
}

func TestDeliver_Loading(t *testing.T) {
	c := NewController(nil, DefaultOptions)
	if !c.Loading() {
		t.Fatal("new controller should be loading")
	}

	c.Deliver(items(2), Running)
	if !c.Loading() {
		t.Error("Running batch cleared loading")
	}

	// The Initial batch can carry the same count as an earlier delivery.
	c.Deliver(items(2), Initial)
	if c.Loading() {
		t.Error("Initial batch did not clear loading")
	}
}

func TestOnScroll_Threshold(t *testing.T) {
	tests := []struct {
		distance int
		want     bool
	}{
		{0, true},
		{99, true},
		{100, false},
		{800, false},
	}
	for _, tt := range tests {
		c := NewController(nil, DefaultOptions)
		c.OnScroll(ScrollPosition{ScrollTop: 1000 - 200 - tt.distance, ScrollHeight: 1000, ClientHeight: 200})
		if got := c.ShouldAutoscroll(); got != tt.want {
			t.Errorf("distance %d: ShouldAutoscroll = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestOnScroll_BackToBottomResumes(t *testing.T) {
	s := &recordingScroller{}
	c := NewController(s, DefaultOptions)
	c.Deliver(items(1), Initial)
	c.OnScroll(scrolledUp)
	c.Deliver(items(2), Running)
	c.OnScroll(ScrollPosition{ScrollTop: 4500, ScrollHeight: 5000, ClientHeight: 500})
	c.Deliver(items(3), Running)

	want := []scrollCall{
		{0, ScrollOptions{Align: AlignEnd}},
		{2, ScrollOptions{Align: AlignEnd, Smooth: true}},
	}
	if diff := cmp.Diff(want, s.calls); diff != "" {
		t.Errorf("scroll calls mismatch (-want +got):\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	s := &recordingScroller{}
	c := NewController(s, DefaultOptions)
	c.Deliver(items(4), Initial)
	c.OnScroll(scrolledUp)
	c.Measure("p:0", 7)

	c.Reset()

	if !c.Loading() || !c.ShouldAutoscroll() || c.Len() != 0 {
		t.Errorf("after Reset: loading=%v autoscroll=%v len=%d", c.Loading(), c.ShouldAutoscroll(), c.Len())
	}

	// The next process starts with the same count and must still get its
	// initial scroll.
	c.Deliver(items(4), Initial)
	if got := len(s.calls); got != 2 {
		t.Errorf("got %d scroll calls, want 2", got)
	}
	if got := c.SizeOf(0); got != DefaultOptions.EstimatedSize {
		t.Errorf("SizeOf(0) after Reset = %d, want estimate", got)
	}
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(nil, Options{Overscan: -1})
	if diff := cmp.Diff(DefaultOptions, c.Options()); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestAddEntryTypeString(t *testing.T) {
	for typ, want := range map[AddEntryType]string{
		Initial: "initial", Running: "running", Historic: "historic", Plan: "plan", AddEntryType(9): "unknown",
	} {
		if got := typ.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", typ, got, want)
		}
	}
}
