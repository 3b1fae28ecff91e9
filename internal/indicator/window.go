package indicator

import "signal-engine/internal/model"

// Window keeps the most recent closed candles of one symbol in chronological
// order. It is not safe for concurrent use.
type Window struct {
	capacity int
	candles  []model.Candle
}

// NewWindow creates a window holding at most capacity candles (minimum 1).
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		candles:  make([]model.Candle, 0, capacity),
	}
}

// Push appends c. A candle with the same open time as the newest one replaces
// it; a candle older than the newest one is ignored and Push returns false.
func (w *Window) Push(c model.Candle) bool {
	if n := len(w.candles); n > 0 {
		last := w.candles[n-1].TS
		switch {
		case c.TS.Equal(last):
			w.candles[n-1] = c
			return true
		case c.TS.Before(last):
			return false
		}
	}

	if len(w.candles) == w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
	return true
}

// Len returns the number of candles held.
func (w *Window) Len() int { return len(w.candles) }

// Cap returns the window capacity.
func (w *Window) Cap() int { return w.capacity }

// Candles returns a copy of the held candles, oldest first.
func (w *Window) Candles() []model.Candle {
	out := make([]model.Candle, len(w.candles))
	copy(out, w.candles)
	return out
}
