package risk

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Auto-halt after N losses in a sliding time window
// ═══════════════════════════════════════════════════════════════════════════════

// lossWindow counts loss events inside a trailing time window. Entries older
// than the window are evicted lazily on every check. Caller serializes access.
type lossWindow struct {
	maxLosses int
	window    time.Duration
	events    []time.Time
}

func newLossWindow(maxLosses int, window time.Duration) *lossWindow {
	return &lossWindow{maxLosses: maxLosses, window: window}
}

// record appends a loss event and reports whether the threshold is reached.
func (w *lossWindow) record(now time.Time) bool {
	w.events = append(w.events, now)
	w.evict(now)
	return len(w.events) >= w.maxLosses
}

// tripped reports whether the current window holds enough losses to halt.
func (w *lossWindow) tripped(now time.Time) bool {
	w.evict(now)
	return len(w.events) >= w.maxLosses
}

// count returns the number of losses inside the window.
func (w *lossWindow) count(now time.Time) int {
	w.evict(now)
	return len(w.events)
}

func (w *lossWindow) evict(now time.Time) {
	for len(w.events) > 0 && now.Sub(w.events[0]) > w.window {
		w.events = w.events[1:]
	}
}

func (w *lossWindow) reset() {
	w.events = nil
}
