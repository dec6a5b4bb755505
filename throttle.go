package kernel

import (
	"time"

	"github.com/leowzukw/async-kernel/internal/ratewindow"
)

// throttle.go implements Throttle: bounded-concurrency admission over a
// stream of jobs, each producing a Deferred. A Sequencer is a Throttle with
// maxConcurrentJobs fixed at 1, serializing everything it runs. Grounded on
// loop.go's promisifyWg/registry bookkeeping pattern (tracking in-flight
// async work against a budget) and, for the optional rate-limited variant,
// on catrate's sliding-window counting (adapted to a simpler implementation
// in internal/ratewindow — see DESIGN.md for why the full ring-buffer
// algorithm was not carried over verbatim).

type throttleJob struct {
	run  func() *Deferred[any]
	out  *Ivar[any]
	zero any // T's zero value, boxed once at Enqueue time, for Kill to fill with
}

// Throttle bounds how many enqueued jobs run concurrently (in the Async
// sense of "concurrently": with more than one awaiting completion between
// cycles, since the scheduler itself is single-threaded).
type Throttle struct {
	sched   *Scheduler
	maxJobs int
	running int
	queue   []throttleJob

	killed     bool
	killErr    error
	continueOnError bool

	limiter *ratewindow.Limiter
}

// NewThrottle creates a Throttle admitting up to maxConcurrentJobs at once.
// By default a job's failure (panic, routed to the current Monitor as
// usual) does not stop subsequent queued jobs from running; pass
// WithContinueOnError(false) to kill the throttle on the first failure
// instead.
func NewThrottle(s *Scheduler, maxConcurrentJobs int, opts ...ThrottleOption) *Throttle {
	if maxConcurrentJobs < 1 {
		maxConcurrentJobs = 1
	}
	t := &Throttle{sched: s, maxJobs: maxConcurrentJobs, continueOnError: true}
	for _, o := range opts {
		o(t)
	}
	return t
}

// NewSequencer creates a Throttle with maxConcurrentJobs fixed at 1: work
// enqueued on it always runs strictly one-at-a-time, in enqueue order.
func NewSequencer(s *Scheduler, opts ...ThrottleOption) *Throttle {
	return NewThrottle(s, 1, opts...)
}

// ThrottleOption configures a Throttle at construction time.
type ThrottleOption func(*Throttle)

// WithContinueOnError controls whether a failing job kills the throttle.
func WithContinueOnError(continueOnError bool) ThrottleOption {
	return func(t *Throttle) { t.continueOnError = continueOnError }
}

// WithRateLimit additionally bounds the throttle to at most limit admissions
// per window, on top of the concurrency bound — the combination of the two
// is the tightest constraint that applies. Adapted from go-catrate.
func WithRateLimit(window Span, limit int) ThrottleOption {
	return func(t *Throttle) {
		t.limiter = ratewindow.NewLimiter(window.Duration(), limit)
	}
}

// Enqueue submits a job to run once a concurrency (and, if configured, rate)
// slot is free, in FIFO order among everything currently queued. Returns a
// Deferred for the job's eventual result. If the throttle has been killed,
// the returned Deferred resolves immediately to the zero value — inspect
// Throttle.Err to distinguish a kill from a legitimate zero value.
func Enqueue[T any](t *Throttle, run func() *Deferred[T]) *Deferred[T] {
	out := newIvar[any](t.sched)
	if t.killed {
		var zero T
		_ = out.Fill(zero)
		return Map(t.sched, out.Read(), func(v any) T { return v.(T) })
	}
	var zero T
	t.queue = append(t.queue, throttleJob{
		run: func() *Deferred[any] {
			return Map(t.sched, run(), func(v T) any { return v })
		},
		out:  out,
		zero: zero,
	})
	t.pump()
	return Map(t.sched, out.Read(), func(v any) T { return v.(T) })
}

// pump admits as many queued jobs as the concurrency and rate limits allow.
func (t *Throttle) pump() {
	for t.running < t.maxJobs && len(t.queue) > 0 {
		if t.limiter != nil && !t.limiter.Allow(time.Duration(t.sched.now)) {
			break
		}
		j := t.queue[0]
		t.queue = t.queue[1:]
		t.running++
		ctx := t.sched.currentContext
		t.sched.enqueueInternal(ctx, func() { t.runOne(j) })
	}
}

// runOne invokes j.run and wires its result back into the throttle's
// bookkeeping. j.run is called directly rather than solely relying on the
// enclosing job's own panic recovery: that outer recovery would stop the
// panic from crashing the scheduler, but it unwinds past the point where
// t.running would otherwise be decremented and j.out filled, leaking an
// admitted slot forever. Recovering here instead keeps the throttle's own
// state consistent regardless of how j.run fails.
func (t *Throttle) runOne(j throttleJob) {
	d, err := t.callRun(j)
	if err != nil {
		t.running--
		_ = j.out.fillIfEmpty(j.zero)
		propagateError(t.sched.currentContext.Monitor(), err)
		if !t.continueOnError {
			t.Kill()
		}
		t.pump()
		return
	}
	d.uponWithCtx(t.sched.currentContext, func(v any) {
		t.running--
		_ = j.out.fillIfEmpty(v)
		t.pump()
	})
}

// callRun invokes j.run, recovering a panic into an error rather than
// letting it unwind through runOne.
func (t *Throttle) callRun(j throttleJob) (d *Deferred[any], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recoverToError(r, t.sched.opts.recordBacktraces)
		}
	}()
	d = j.run()
	return d, nil
}

// Kill prevents any further queued job from starting; jobs already running
// complete normally. Every job still queued resolves to its zero value.
func (t *Throttle) Kill() {
	t.killed = true
	t.killErr = ErrThrottleKilled
	for _, j := range t.queue {
		_ = j.out.fillIfEmpty(j.zero)
	}
	t.queue = nil
}

// Err returns ErrThrottleKilled once Kill has been called, nil otherwise.
func (t *Throttle) Err() error { return t.killErr }

// NumJobsRunning returns how many admitted jobs are currently in flight.
func (t *Throttle) NumJobsRunning() int { return t.running }

// NumJobsWaiting returns how many jobs are queued but not yet admitted.
func (t *Throttle) NumJobsWaiting() int { return len(t.queue) }
