package panel

import "time"

// DefaultRefreshInterval caps panel refreshes at two per second.
const DefaultRefreshInterval = 500 * time.Millisecond

// Throttle admits at most one render per interval. It is not safe for concurrent
// use; each stream owns one.
type Throttle struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
}

func NewThrottle(interval time.Duration) *Throttle {
	return NewThrottleWithClock(interval, time.Now)
}

func NewThrottleWithClock(interval time.Duration, now func() time.Time) *Throttle {
	if interval < 0 {
		interval = 0
	}
	return &Throttle{interval: interval, now: now}
}

// Next returns 0 and records a render when one may happen now. Otherwise it returns
// how long the caller has to wait.
func (t *Throttle) Next() time.Duration {
	now := t.now()
	if !t.last.IsZero() {
		if wait := t.interval - now.Sub(t.last); wait > 0 {
			return wait
		}
	}
	t.last = now
	return 0
}
