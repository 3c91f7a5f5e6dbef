package domain

import "sort"

// Timeline answers "which item is playing at t" for one analysis collection.
// The input is sorted once on construction; lookups are binary searches over
// the cached start keys. A Timeline is immutable and safe for concurrent use.
type Timeline struct {
	items  []TimedItem
	starts []float64
}

// NewTimeline builds a Timeline over a sorted copy of items. Items sharing a
// start keep their original relative order.
func NewTimeline(items []TimedItem) *Timeline {
	sorted := make([]TimedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	starts := make([]float64, len(sorted))
	for i, it := range sorted {
		starts[i] = it.Start
	}
	return &Timeline{items: sorted, starts: starts}
}

// Len returns the number of items.
func (tl *Timeline) Len() int {
	return len(tl.items)
}

// At returns the i-th item in start order.
func (tl *Timeline) At(i int) (TimedItem, bool) {
	if i < 0 || i >= len(tl.items) {
		return TimedItem{}, false
	}
	return tl.items[i], true
}

// Items returns the sorted items. The slice must not be modified.
func (tl *Timeline) Items() []TimedItem {
	return tl.items
}

// CurrentIndex returns the index of the item with the greatest start <= t,
// or -1 when t precedes every item. With duplicate starts the last one wins.
func (tl *Timeline) CurrentIndex(t float64) int {
	// first index whose start is strictly greater than t
	i := sort.Search(len(tl.starts), func(i int) bool {
		return tl.starts[i] > t
	})
	return i - 1
}

// Current returns the item playing at t.
func (tl *Timeline) Current(t float64) (TimedItem, bool) {
	return tl.At(tl.CurrentIndex(t))
}

// Next returns the item n positions after Current(t). It reports false when
// t precedes every item, when n is negative, or when the position runs past
// the end of the collection.
func (tl *Timeline) Next(t float64, n int) (TimedItem, bool) {
	if n < 0 {
		return TimedItem{}, false
	}
	i := tl.CurrentIndex(t)
	if i < 0 {
		return TimedItem{}, false
	}
	return tl.At(i + n)
}
