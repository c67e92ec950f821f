// Package present decides what part of the aggregated timeline is
// materialized and when the view follows the tail.
package present

import "github.com/wethinkt/go-proctail/internal/aggregate"

// AddEntryType says how a batch of entries was added. It only drives the
// scroll policy.
type AddEntryType int

const (
	// Initial is the first batch after a process or attempt is selected.
	Initial AddEntryType = iota
	// Running is a live update of the process being followed.
	Running
	// Historic is backfill for an earlier process.
	Historic
	// Plan is a live update that ends with a presented plan.
	Plan
)

func (t AddEntryType) String() string {
	switch t {
	case Initial:
		return "initial"
	case Running:
		return "running"
	case Historic:
		return "historic"
	case Plan:
		return "plan"
	default:
		return "unknown"
	}
}

// Align is where a scroll target lands in the viewport.
type Align int

const (
	AlignStart Align = iota
	AlignCenter
	AlignEnd
)

// ScrollOptions qualify a ScrollToEntry request.
type ScrollOptions struct {
	Align  Align
	Smooth bool
}

// Scroller is implemented by the view that owns the scroll position.
type Scroller interface {
	ScrollToEntry(index int, opts ScrollOptions)
}

// ScrollPosition is a scroll observation reported by the view, in its own
// layout unit.
type ScrollPosition struct {
	ScrollTop    int
	ScrollHeight int
	ClientHeight int
}

// DistanceFromBottom is how far the viewport bottom is from the content end.
func (p ScrollPosition) DistanceFromBottom() int {
	return p.ScrollHeight - (p.ScrollTop + p.ClientHeight)
}

// Options are the layout constants of a Controller.
type Options struct {
	// NearBottomThreshold is the distance from the bottom below which the
	// view counts as following the tail.
	NearBottomThreshold int
	// Overscan is the number of rows materialized beyond each viewport edge.
	Overscan int
	// EstimatedSize is assumed for rows that have not been measured.
	EstimatedSize int
}

// DefaultOptions are in pixel-like units.
var DefaultOptions = Options{
	NearBottomThreshold: 100,
	Overscan:            5,
	EstimatedSize:       120,
}

// Controller holds the windowing and autoscroll state of one timeline view.
// It is driven from a single update loop and is not safe for concurrent use.
type Controller struct {
	opts     Options
	scroller Scroller

	items      []aggregate.DisplayEntry
	lastCount  int
	autoscroll bool
	loading    bool

	sizes   map[string]int
	offsets []int // len(items)+1 prefix sums; nil when stale
}

// NewController creates a controller that scrolls through s. Unset threshold
// and size, or a negative overscan, fall back to DefaultOptions.
func NewController(s Scroller, opts Options) *Controller {
	if opts.NearBottomThreshold <= 0 {
		opts.NearBottomThreshold = DefaultOptions.NearBottomThreshold
	}
	if opts.Overscan < 0 {
		opts.Overscan = DefaultOptions.Overscan
	}
	if opts.EstimatedSize <= 0 {
		opts.EstimatedSize = DefaultOptions.EstimatedSize
	}
	return &Controller{
		opts:       opts,
		scroller:   s,
		autoscroll: true,
		loading:    true,
		sizes:      make(map[string]int),
	}
}

// SetScroller replaces the scroll target.
func (c *Controller) SetScroller(s Scroller) { c.scroller = s }

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

// Deliver replaces the displayed items and applies the scroll policy for t.
// Nothing scrolls unless the item count changed since the last delivery.
func (c *Controller) Deliver(items []aggregate.DisplayEntry, t AddEntryType) {
	c.items = items
	c.offsets = nil

	if t == Initial {
		c.loading = false
	}
	if len(items) == c.lastCount {
		return
	}
	c.lastCount = len(items)
	if len(items) == 0 {
		return
	}

	last := len(items) - 1
	switch t {
	case Initial:
		c.scrollTo(last, ScrollOptions{Align: AlignEnd})
	case Running, Plan:
		if c.autoscroll {
			c.scrollTo(last, ScrollOptions{Align: AlignEnd, Smooth: true})
		}
	case Historic:
	}
}

func (c *Controller) scrollTo(index int, opts ScrollOptions) {
	if c.scroller != nil {
		c.scroller.ScrollToEntry(index, opts)
	}
}

// OnScroll records a user scroll. The view follows the tail again once it is
// scrolled back near the bottom.
func (c *Controller) OnScroll(p ScrollPosition) {
	c.autoscroll = p.DistanceFromBottom() < c.opts.NearBottomThreshold
}

// Reset forgets everything about the previous process or attempt.
func (c *Controller) Reset() {
	c.items = nil
	c.lastCount = 0
	c.autoscroll = true
	c.loading = true
	c.sizes = make(map[string]int)
	c.offsets = nil
}

// ShouldAutoscroll reports whether live updates move the view to the tail.
func (c *Controller) ShouldAutoscroll() bool { return c.autoscroll }

// Loading reports whether the first Initial batch is still outstanding.
func (c *Controller) Loading() bool { return c.loading }

// Items returns the delivered display entries.
func (c *Controller) Items() []aggregate.DisplayEntry { return c.items }

// Len returns the number of delivered display entries.
func (c *Controller) Len() int { return len(c.items) }
