// Package ringbuf provides a fixed-capacity ring of model.Candle indexed
// from the newest element. It backs the strategy's recent-candle window.
//
// A Window is owned by a single goroutine; it has no locking.
package ringbuf

import "threebar/internal/model"

// DefaultCapacity is the window size used by the three-bar strategy.
const DefaultCapacity = 10

// Window holds the most recent candles, newest first.
// Push is O(1); once full, each Push overwrites the oldest slot.
type Window struct {
	buf  []model.Candle
	head int // slot of the newest candle
	n    int
}

// New creates a window. Capacity below 1 is raised to 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]model.Candle, capacity), head: -1}
}

// Push inserts c as the newest candle, evicting the oldest when full.
func (w *Window) Push(c model.Candle) {
	w.head = (w.head + 1) % len(w.buf)
	w.buf[w.head] = c
	if w.n < len(w.buf) {
		w.n++
	}
}

// At returns the i-th newest candle; At(0) is the newest.
// ok is false when i is outside [0, Len()).
func (w *Window) At(i int) (c model.Candle, ok bool) {
	if i < 0 || i >= w.n {
		return model.Candle{}, false
	}
	idx := (w.head - i + len(w.buf)) % len(w.buf)
	return w.buf[idx], true
}

// Len returns the number of candles held.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Snapshot returns up to n held candles, newest first.
// n <= 0 returns every held candle.
func (w *Window) Snapshot(n int) []model.Candle {
	if n <= 0 || n > w.n {
		n = w.n
	}
	out := make([]model.Candle, 0, n)
	for i := 0; i < n; i++ {
		c, _ := w.At(i)
		out = append(out, c)
	}
	return out
}
