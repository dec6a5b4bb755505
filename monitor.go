package kernel

import (
	"fmt"
	"runtime"
)

// monitor.go implements the kernel's structured supervision tree. Every Job
// runs with a Monitor attached via its ExecutionContext; an error raised
// inside a job (by panic, caught at the scheduler's job-dispatch boundary —
// see Scheduler.runJob) is routed to that job's Monitor rather than being
// attached to whatever Deferred the job happened to be filling. This
// generalizes eventloop/loop.go's safeExecute uncaught-panic handling from a
// single flat recover-and-log into a tree, so errors can be contained at
// whatever scope called TryWith.

// Monitor is a node in the error-supervision tree. The zero value is not
// usable; construct one with Monitor.Create or via Scheduler's main monitor.
type Monitor struct {
	sched      *Scheduler
	parent     *Monitor
	name       string
	handlers   []func(error)
	forwarding bool
	sawError   bool
}

// newMainMonitor creates the root monitor for a Scheduler. It has no parent;
// errors that reach it with no handler installed fall through to the
// Scheduler's uncaught-error hook.
func newMainMonitor(s *Scheduler) *Monitor {
	return &Monitor{sched: s, name: "main", forwarding: true}
}

// Create returns a new child Monitor of m. By default a child forwards
// unhandled errors to its parent, matching Async_kernel's default monitor
// nesting; Detach turns that off.
func (m *Monitor) Create(name string) *Monitor {
	return &Monitor{sched: m.sched, parent: m, name: name, forwarding: true}
}

// Detach stops m from forwarding unhandled errors to its parent. An error
// that reaches a detached monitor with no handler of its own is routed to
// the Scheduler's uncaught-error hook directly, never reaching m's ancestors.
func (m *Monitor) Detach() { m.forwarding = false }

// Name returns the name given to Create (or "main" for a scheduler's root
// monitor).
func (m *Monitor) Name() string { return m.name }

// HasSeenError reports whether an error has ever propagated through m.
func (m *Monitor) HasSeenError() bool { return m.sawError }

// HandleErrors installs f as an error handler on m. Every error that reaches
// m (raised directly within it, or forwarded up from a child) is delivered to
// every handler installed on m, as a new scheduled job — never synchronously
// within the call that raised the error, the same deferred-dispatch
// discipline Ivar handlers follow.
func (m *Monitor) HandleErrors(f func(error)) {
	m.handlers = append(m.handlers, f)
}

// Current returns the Monitor of the context the Scheduler is presently
// running a job under. It panics if called from outside a running job, the
// same thread-affinity discipline as loop.go's isLoopThread check:
// Monitor.Current has no meaning off the scheduler's own goroutine.
func (m *Monitor) Current() *Monitor {
	if !m.sched.inCycle {
		panic("kernel: Monitor.Current called outside a running job")
	}
	return m.sched.currentContext.Monitor()
}

// raise reports an error that originated while running under m (either a
// panic recovered at the job boundary, or a Monitor.raise from a descendant
// that has nowhere else to go). It delivers to m's own handlers if any are
// installed; otherwise, if m forwards, it walks up to m.parent; otherwise it
// reaches the Scheduler's uncaught-error hook.
func (m *Monitor) raise(err error) {
	m.sawError = true
	if len(m.handlers) > 0 {
		handlers := m.handlers
		ctx := RootExecutionContext(m)
		for _, h := range handlers {
			h := h
			m.sched.enqueueInternal(ctx, func() { h(err) })
		}
		return
	}
	if m.forwarding && m.parent != nil {
		m.parent.raise(err)
		return
	}
	m.sched.uncaught(err, m)
}

// propagateError is the single funnel every panic recovered during job
// execution passes through (see Scheduler.runJob). It never runs handlers
// synchronously: HandleErrors callbacks always arrive as freshly scheduled
// jobs, so a handler that itself raises is caught exactly the same way as
// any other job body.
func propagateError(m *Monitor, err error) {
	if m == nil {
		return
	}
	m.raise(err)
}

// recoverToError converts a recovered panic value, plus the stack captured at
// the point of recovery, into a *UserRaised.
func recoverToError(r any, recordBacktrace bool) error {
	var stack string
	if recordBacktrace {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		stack = string(buf[:n])
	}
	return newUserRaised(r, stack)
}

// TryWithResult is the outcome of TryWith[T]: exactly one of Ok or Err is
// meaningful, distinguished by Failed.
type TryWithResult[T any] struct {
	Ok     T
	Err    error
	Failed bool
}

// TryWith runs f within a context rooted at a fresh, detached child Monitor
// of the current one. f is expected to kick off whatever asynchronous work
// it needs and return a *Deferred[T] for its eventual result. TryWith's own
// synchronous invocation of f is also guarded:
// a panic raised directly (before f returns a Deferred at all) is captured
// the same way a later asynchronous failure would be.
//
// The returned Deferred resolves with the first failure (synchronous panic,
// or any error raised asynchronously by work running under the fresh
// monitor) as Err, or with f's eventual value as Ok if nothing fails first.
// Any failure after the first is not lost: TryWith's own handler on the
// fresh monitor logs it at LevelWarn — it never changes an already-resolved
// result.
func TryWith[T any](s *Scheduler, f func() *Deferred[T]) *Deferred[TryWithResult[T]] {
	parent := s.currentContext.Monitor()
	m := parent.Create("try_with")
	m.Detach()

	out := newIvar[TryWithResult[T]](s)
	filled := false

	m.HandleErrors(func(err error) {
		if !filled {
			filled = true
			out.fillIfEmpty(TryWithResult[T]{Err: err, Failed: true})
			return
		}
		s.logExtraMonitorError(m, err)
	})

	ctx := s.currentContext.WithMonitor(m)
	var inner *Deferred[T]
	func() {
		defer func() {
			if r := recover(); r != nil {
				err := recoverToError(r, s.opts.recordBacktraces)
				if !filled {
					filled = true
					out.fillIfEmpty(TryWithResult[T]{Err: err, Failed: true})
				}
			}
		}()
		inner = withinContext(s, ctx, f)
	}()

	if inner != nil {
		inner.Upon(func(v T) {
			if !filled {
				filled = true
				out.fillIfEmpty(TryWithResult[T]{Ok: v})
			}
		})
	}

	return out.Read()
}

// String implements fmt.Stringer for debugging monitor trees.
func (m *Monitor) String() string {
	if m == nil {
		return "<nil monitor>"
	}
	return fmt.Sprintf("Monitor(%s)", m.name)
}
