// Package ratewindow provides a fixed-window admission counter, the
// simplified sibling of github.com/joeycumines/go-catrate's sliding-window
// ring-buffer Limiter. catrate's algorithm (catrate/ring.go) tracks
// sub-window counts in a ring buffer so its rate estimate decays smoothly
// within a window; that precision isn't needed for Throttle's rate-limit
// option, which only needs to cap admissions per wall-clock window, so this
// package trades the ring buffer for a single reset-on-rollover counter. See
// DESIGN.md for why catrate's implementation itself was not copied in.
package ratewindow

import "time"

// Limiter admits up to limit events per window, resetting its count each
// time a new window begins.
type Limiter struct {
	window time.Duration
	limit  int

	windowStart time.Duration
	count       int
}

// NewLimiter creates a Limiter admitting up to limit events per window. A
// non-positive limit admits unconditionally; a non-positive window with a
// positive limit admits nothing.
func NewLimiter(window time.Duration, limit int) *Limiter {
	return &Limiter{window: window, limit: limit}
}

// Allow reports whether one more event may be admitted at time now (given as
// a monotonic duration since some fixed epoch — the kernel passes its
// Time-as-duration-since-start), recording the admission if so.
func (l *Limiter) Allow(now time.Duration) bool {
	if l.limit <= 0 {
		return true
	}
	if l.window <= 0 {
		return false
	}
	if now-l.windowStart >= l.window {
		l.windowStart = now
		l.count = 0
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}

// Remaining returns how many more events the current window can admit.
func (l *Limiter) Remaining() int {
	if l.limit <= 0 {
		return -1
	}
	r := l.limit - l.count
	if r < 0 {
		return 0
	}
	return r
}
