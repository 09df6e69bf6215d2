package usage

import (
	"time"

	"github.com/bdobrica/prepmate/internal/prepmate/store"
)

// AdvanceWindow is the single reset rule shared by every window: once now
// reaches state.StartedAt+dur, the counters drop to zero and the window
// restarts at now. The second result reports whether a reset happened.
func AdvanceWindow(state store.WindowCounter, now time.Time, dur time.Duration) (store.WindowCounter, bool) {
	if now.Before(state.StartedAt.Add(dur)) {
		return state, false
	}
	return store.WindowCounter{StartedAt: now}, true
}

// remaining returns the time left until the window resets, never negative.
func remaining(state store.WindowCounter, now time.Time, dur time.Duration) time.Duration {
	left := state.StartedAt.Add(dur).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
