package kernel

import (
	"math/rand/v2"
	"time"
)

// Time is a monotonic instant, represented as nanoseconds since an arbitrary
// epoch fixed when its time source was created. It is never read from the wall clock during
// a cycle; the Scheduler snapshots it once at the start of each cycle (see
// Scheduler.RunCycle), so every timer check within a cycle sees the same
// instant.
type Time int64

// Span is a signed nanosecond delta between two Time values.
type Span time.Duration

// Add returns t advanced by s. s may be negative.
func (t Time) Add(s Span) Time { return t + Time(s) }

// Sub returns the Span from u to t (t - u).
func (t Time) Sub(u Time) Span { return Span(t - u) }

// Before reports whether t occurs strictly before u.
func (t Time) Before(u Time) bool { return t < u }

// After reports whether t occurs strictly after u.
func (t Time) After(u Time) bool { return t > u }

// Duration converts a Span to a time.Duration, for interop with the standard
// library (e.g. passing a timeout to time.NewTimer in a driver above this
// kernel).
func (s Span) Duration() time.Duration { return time.Duration(s) }

// SpanOf converts a time.Duration to a Span.
func SpanOf(d time.Duration) Span { return Span(d) }

// Randomize jitters s by a uniformly random amount in [-jitter, +jitter],
// used to desynchronize AtIntervals starts across many callers. A
// nonpositive jitter returns s unchanged.
func (s Span) Randomize(jitter Span) Span {
	if jitter <= 0 {
		return s
	}
	delta := rand.Int64N(int64(jitter)*2+1) - int64(jitter)
	return s + Span(delta)
}

// TimeSource produces the current monotonic Time. The default, installed by
// NewScheduler, wraps time.Now(); tests substitute a fake source so that
// scheduler and wheel behavior can be driven deterministically without real
// sleeps.
type TimeSource interface {
	Now() Time
}

// systemTimeSource is the default TimeSource, backed by the monotonic clock
// reading in the standard library's time.Now.
type systemTimeSource struct {
	start time.Time
}

func newSystemTimeSource() *systemTimeSource {
	return &systemTimeSource{start: time.Now()}
}

func (s *systemTimeSource) Now() Time {
	return Time(time.Since(s.start))
}

// ManualTimeSource is a TimeSource whose value only changes when Advance is
// called. It is intended for tests: drive the Scheduler's notion of time
// without real sleeps, the same role SetTickAnchor/TickAnchor play in
// eventloop.
type ManualTimeSource struct {
	now Time
}

// NewManualTimeSource creates a ManualTimeSource starting at the given Time.
func NewManualTimeSource(start Time) *ManualTimeSource {
	return &ManualTimeSource{now: start}
}

// Now returns the current simulated time.
func (m *ManualTimeSource) Now() Time { return m.now }

// Advance moves the simulated time forward by s, which must be non-negative.
func (m *ManualTimeSource) Advance(s Span) {
	if s < 0 {
		panic("kernel: ManualTimeSource.Advance: negative span")
	}
	m.now = m.now.Add(s)
}

// Set moves the simulated time directly to t. t must not be before the
// current time.
func (m *ManualTimeSource) Set(t Time) {
	if t < m.now {
		panic("kernel: ManualTimeSource.Set: time moved backwards")
	}
	m.now = t
}
