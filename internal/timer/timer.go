package timer

import (
	"sync"
	"time"
)

// Clock is the source of current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a clock that moves only when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a manual clock starting at the given instant.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the current manual time.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Timer is a passive countdown.
//
// It never fires by itself: the owner polls Expired and Remaining from its
// periodic routine. The zero value is a stopped timer.
type Timer struct {
	start    time.Time
	interval time.Duration
	armed    bool
}

// Set arms the timer to expire interval after now.
func (m *Timer) Set(now time.Time, interval time.Duration) {
	m.start = now
	m.interval = interval
	m.armed = true
}

// Reset re-arms the timer with its previous interval.
func (m *Timer) Reset(now time.Time) {
	m.Set(now, m.interval)
}

// Stop disarms the timer.
func (m *Timer) Stop() {
	*m = Timer{}
}

// Armed reports whether the timer was set and not stopped.
func (m *Timer) Armed() bool {
	return m.armed
}

// Interval returns the interval the timer was last set with.
func (m *Timer) Interval() time.Duration {
	return m.interval
}

// Expired reports whether an armed timer has run out.
//
// A stopped timer never expires.
func (m *Timer) Expired(now time.Time) bool {
	if !m.armed {
		return false
	}
	return !now.Before(m.start.Add(m.interval))
}

// Remaining returns the time left before expiration, zero when stopped or
// expired.
func (m *Timer) Remaining(now time.Time) time.Duration {
	if !m.armed {
		return 0
	}
	left := m.start.Add(m.interval).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}
