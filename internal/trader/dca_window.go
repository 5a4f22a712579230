package trader

import (
	"sync"
	"time"
)

// DCAWindow is the rolling-window rate limiter for staged buys. A request
// is granted only when fewer than max grants fall inside the trailing
// window; the grant itself is recorded. Purely time-based, per coin.
type DCAWindow struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	grants map[string][]time.Time
}

// NewDCAWindow creates a limiter allowing max grants per coin per window.
func NewDCAWindow(window time.Duration, max int) *DCAWindow {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if max <= 0 {
		max = 2
	}
	return &DCAWindow{
		window: window,
		max:    max,
		grants: make(map[string][]time.Time),
	}
}

// TryAcquire grants a DCA slot for the coin at the given instant. On
// grant the instant is recorded in the window. Denial is not an error;
// the caller re-checks next cycle.
func (w *DCAWindow) TryAcquire(coin string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	recent := w.prune(coin, now)
	if len(recent) >= w.max {
		return false
	}
	w.grants[coin] = append(recent, now)
	return true
}

// Count returns how many grants fall inside the coin's current window.
func (w *DCAWindow) Count(coin string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	recent := w.prune(coin, now)
	w.grants[coin] = recent
	return len(recent)
}

// Release removes a previously recorded grant. Called when the order the
// grant was acquired for is rejected, so a failed DCA does not consume
// budget.
func (w *DCAWindow) Release(coin string, granted time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	grants := w.grants[coin]
	for i := len(grants) - 1; i >= 0; i-- {
		if grants[i].Equal(granted) {
			w.grants[coin] = append(grants[:i], grants[i+1:]...)
			return
		}
	}
}

// ResetForTrade clears the coin's window. Called when a trade opens or
// closes so a fresh position starts with full DCA budget.
func (w *DCAWindow) ResetForTrade(coin string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.grants, coin)
}

// prune drops grants older than the window. Caller holds the lock.
func (w *DCAWindow) prune(coin string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	kept := w.grants[coin][:0]
	for _, t := range w.grants[coin] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
