package present

import (
	"sort"

	"github.com/wethinkt/go-proctail/internal/aggregate"
)

// Row is a materialized window position.
type Row struct {
	Index  int
	Key    string
	Entry  aggregate.DisplayEntry
	Offset int
	Size   int
	// Measured is false while Size is the estimate.
	Measured bool
}

// Window is the part of the timeline to render. Rows outside it are
// represented by PaddingBefore and PaddingAfter.
type Window struct {
	Rows          []Row
	PaddingBefore int
	PaddingAfter  int
	TotalSize     int
}

// Measure records the rendered size of the item with the given key. It
// reports whether the layout changed.
func (c *Controller) Measure(key string, size int) bool {
	if size < 0 {
		size = 0
	}
	if old, ok := c.sizes[key]; ok && old == size {
		return false
	}
	c.sizes[key] = size
	c.offsets = nil
	return true
}

// ForgetSizes drops every measured size, so rows fall back to the estimate
// until they are measured again. Used when the rendering of all rows changes.
func (c *Controller) ForgetSizes() {
	c.sizes = make(map[string]int)
	c.offsets = nil
}

// SizeOf returns the measured or estimated size of the item at index.
func (c *Controller) SizeOf(index int) int {
	if index < 0 || index >= len(c.items) {
		return 0
	}
	if size, ok := c.sizes[c.items[index].Key()]; ok {
		return size
	}
	return c.opts.EstimatedSize
}

func (c *Controller) layout() []int {
	if c.offsets != nil {
		return c.offsets
	}
	offsets := make([]int, len(c.items)+1)
	for i := range c.items {
		offsets[i+1] = offsets[i] + c.SizeOf(i)
	}
	c.offsets = offsets
	return offsets
}

// TotalSize is the size of the whole timeline.
func (c *Controller) TotalSize() int {
	offsets := c.layout()
	return offsets[len(offsets)-1]
}

// Window returns the rows intersecting [scrollTop, scrollTop+clientHeight)
// plus Overscan rows on each side.
func (c *Controller) Window(scrollTop, clientHeight int) Window {
	offsets := c.layout()
	n := len(c.items)
	total := offsets[n]
	if n == 0 {
		return Window{}
	}
	if scrollTop < 0 {
		scrollTop = 0
	}
	bottom := scrollTop + clientHeight

	// first item ending after scrollTop, first item starting at or after bottom
	first := sort.Search(n, func(i int) bool { return offsets[i+1] > scrollTop })
	end := sort.Search(n, func(i int) bool { return offsets[i] >= bottom })
	if end <= first {
		end = first + 1
	}

	start := max(0, first-c.opts.Overscan)
	end = min(n, end+c.opts.Overscan)

	rows := make([]Row, 0, end-start)
	for i := start; i < end; i++ {
		key := c.items[i].Key()
		_, measured := c.sizes[key]
		rows = append(rows, Row{
			Index:    i,
			Key:      key,
			Entry:    c.items[i],
			Offset:   offsets[i],
			Size:     offsets[i+1] - offsets[i],
			Measured: measured,
		})
	}
	return Window{
		Rows:          rows,
		PaddingBefore: offsets[start],
		PaddingAfter:  total - offsets[end],
		TotalSize:     total,
	}
}

// OffsetOf returns the scroll position that shows the item at index with the
// given alignment in a viewport of clientHeight.
func (c *Controller) OffsetOf(index int, align Align, clientHeight int) int {
	offsets := c.layout()
	n := len(c.items)
	if n == 0 {
		return 0
	}
	index = min(max(index, 0), n-1)
	start, size := offsets[index], offsets[index+1]-offsets[index]

	var top int
	switch align {
	case AlignStart:
		top = start
	case AlignCenter:
		top = start + size/2 - clientHeight/2
	case AlignEnd:
		top = start + size - clientHeight
	}
	maxTop := max(0, offsets[n]-clientHeight)
	return min(max(top, 0), maxTop)
}
