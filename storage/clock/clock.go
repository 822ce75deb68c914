package clock

import (
	"sync"
	"time"
)

// Clock is a source of wall-clock time. Injecting it lets tests drive
// time-dependent behavior deterministically.
type Clock interface {
	// Now returns the current time
	Now() time.Time
}

var _ Clock = (*SystemClock)(nil)

// SystemClock reads the real wall clock
type SystemClock struct {
}

// Now implements Clock.Now
func (clock *SystemClock) Now() time.Time {
	return time.Now()
}

var _ Clock = (*FakeClock)(nil)

// FakeClock is a clock that only moves when told to
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a fake clock frozen at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements Clock.Now
func (clock *FakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	return clock.now
}

// Advance moves the clock forward by d
func (clock *FakeClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	clock.now = clock.now.Add(d)
}
