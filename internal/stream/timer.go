// SPDX-License-Identifier: MIT

package stream

import (
	"sync"
	"time"
)

// Timer is the per-stream swap clock. It is created when a stream starts and
// replaced or cleared on switch.
type Timer struct {
	mu       sync.Mutex
	start    time.Time
	interval time.Duration
	now      func() time.Time
}

// NewTimer starts a swap clock with the given interval. A nil now func
// defaults to time.Now.
func NewTimer(interval time.Duration, now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{
		start:    now(),
		interval: interval,
		now:      now,
	}
}

// HasElapsed reports whether the swap interval has passed since start.
func (t *Timer) HasElapsed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.start) >= t.interval
}

// Remaining returns the time left before the swap fires, clamped to >= 0.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	left := t.interval - t.now().Sub(t.start)
	if left < 0 {
		return 0
	}
	return left
}

// Interval returns the configured swap interval.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Modify updates the swap interval and optionally restarts the clock.
// A non-positive interval leaves state unchanged and is reported.
func (t *Timer) Modify(interval time.Duration, resetTime bool) error {
	if interval <= 0 {
		return errInvalidInterval(interval)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = interval
	if resetTime {
		t.start = t.now()
	}
	return nil
}
