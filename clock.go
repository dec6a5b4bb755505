package kernel

// clock.go is the public surface for scheduling work against the timing
// wheel: a ScheduleTimer/runTimers-style pairing, but exposed as composable
// Deferred-returning operations instead of a bare callback-registration API,
// matching the shape of Jane Street Async_kernel's Clock module.

// eventState is the lifecycle of a scheduled Event.
type eventState int8

const (
	eventWaiting eventState = iota
	eventHappened
	eventAborted
)

// Event is a handle to a single scheduled firing, returned by At/After/
// RunAt/RunAfter. It can be canceled (Abort) or moved (Reschedule*) any time
// before it fires.
type Event struct {
	sched *Scheduler
	at    Time
	ref   AlarmRef
	state eventState
	fired *Deferred[struct{}]
}

// At schedules a Deferred to become determined at (or after, if the
// scheduler is not actively ticking at that instant) the given Time.
func (s *Scheduler) At(at Time) *Event {
	iv := newIvar[struct{}](s)
	ev := &Event{sched: s, at: at, fired: iv.Read()}
	ev.ref, _ = s.wheel.Add(at, func() {
		ev.state = eventHappened
		_ = iv.Fill(struct{}{})
	})
	return ev
}

// After schedules a Deferred to become determined once span has elapsed
// from the scheduler's current cycle time.
func (s *Scheduler) After(span Span) *Event {
	return s.At(s.now.Add(span))
}

// RunAt is At plus an attached handler: once the event fires, f(x) runs,
// via the same upon-handler machinery as any other Deferred consumer. f
// never runs if the event is aborted first.
func RunAt[T any](s *Scheduler, at Time, f func(T), x T) *Event {
	ev := s.At(at)
	ev.fired.Upon(func(struct{}) { f(x) })
	return ev
}

// RunAfter is RunAt relative to the scheduler's current cycle time.
func RunAfter[T any](s *Scheduler, span Span, f func(T), x T) *Event {
	return RunAt(s, s.now.Add(span), f, x)
}

// WithTimeout races d against a timeout of span, returning a Deferred
// determined with (value, true) if d completes first, or (zero, false) if
// the timeout elapses first. If d wins, the timeout's wheel alarm is
// aborted; if the timeout wins, d is left running in the background —
// WithTimeout never cancels d itself.
func WithTimeout[T any](s *Scheduler, d *Deferred[T], span Span) *Deferred[Pair[T, bool]] {
	out := newIvar[Pair[T, bool]](s)
	ctx := s.currentContext
	timeout := s.After(span)
	d.uponWithCtx(ctx, func(v T) {
		_ = timeout.Abort()
		_ = out.FillIfEmpty(Pair[T, bool]{First: v, Second: true})
	})
	timeout.fired.uponWithCtx(ctx, func(struct{}) {
		var zero T
		_ = out.FillIfEmpty(Pair[T, bool]{First: zero, Second: false})
	})
	return out.Read()
}

// Fired returns the Deferred determined when the event happens (or
// equivalently never, if it is aborted first).
func (e *Event) Fired() *Deferred[struct{}] { return e.fired }

// State reports whether the event is still pending, has happened, or was
// aborted.
func (e *Event) State() string {
	switch e.state {
	case eventHappened:
		return "happened"
	case eventAborted:
		return "aborted"
	default:
		return "waiting"
	}
}

// Abort cancels a still-pending event; its Deferred is left undetermined
// forever. Returns ErrPreviouslyHappened or ErrPreviouslyAborted if it is
// too late.
func (e *Event) Abort() error {
	switch e.state {
	case eventHappened:
		return ErrPreviouslyHappened
	case eventAborted:
		return ErrPreviouslyAborted
	}
	e.sched.wheel.Remove(e.ref)
	e.state = eventAborted
	return nil
}

// Reschedule moves a still-pending event to a new absolute time. Returns
// ErrPreviouslyHappened once the event has fired (it is marked happened in
// the same step its alarm fires), ErrPreviouslyAborted if it was aborted.
func (e *Event) Reschedule(at Time) error {
	switch e.state {
	case eventHappened:
		return ErrPreviouslyHappened
	case eventAborted:
		return ErrPreviouslyAborted
	}
	e.sched.wheel.Remove(e.ref)
	e.at = at
	ref, err := e.sched.wheel.Add(at, func() {
		e.state = eventHappened
		iv := Ivar[struct{}]{core: e.fired.core}
		_ = iv.Fill(struct{}{})
	})
	if err != nil {
		return err
	}
	e.ref = ref
	return nil
}

// RescheduleAfter is Reschedule relative to the scheduler's current cycle
// time.
func (e *Event) RescheduleAfter(span Span) error {
	return e.Reschedule(e.sched.now.Add(span))
}

// IntervalClock is the handle of a repeating schedule: its period, optional
// jitter and the time of its next tick. Every and EveryPrimed drive one,
// running their body at each tick, until Stop is called. It has no method
// that yields a Deferred per tick, and one made by AtIntervals alone never
// ticks.
type IntervalClock struct {
	sched  *Scheduler
	period Span
	jitter Span
	next   Time
	ref    AlarmRef
	stop   bool
}

// AtIntervals creates an IntervalClock with the given period whose first
// tick time is one period from now. It schedules nothing by itself; Every
// and EveryPrimed build on it.
func AtIntervals(s *Scheduler, period Span) *IntervalClock {
	return &IntervalClock{sched: s, period: period, next: s.now.Add(period)}
}

// WithJitter sets a jitter span applied to each tick via Span.Randomize,
// desynchronizing many IntervalClocks started at the same time.
func (ic *IntervalClock) WithJitter(jitter Span) *IntervalClock {
	ic.jitter = jitter
	return ic
}

// Every runs f every period until f returns false or the Scheduler
// terminates. If continueOnError is true, a panic inside f is still routed
// to the current Monitor (per the kernel's universal panic-recovery
// discipline) but does not stop subsequent ticks; if false, the first panic
// stops the interval permanently. continueOnError governs only whether a
// panicking tick stops the series — f returning false always stops it,
// regardless of continueOnError. Without jitter, ticks fall on multiples of
// period after the first tick, however long f takes; a tick whose time has
// already passed when the previous one runs is skipped, not run late.
func Every(s *Scheduler, period Span, continueOnError bool, f func() bool) *IntervalClock {
	ic := AtIntervals(s, period)
	var tick func()
	ctx := s.currentContext
	schedule := func() {
		ic.ref, _ = s.wheel.Add(ic.next, func() {
			s.enqueueInternal(ctx, tick)
		})
	}
	tick = func() {
		if ic.stop {
			return
		}
		cont := runIntervalTick(s, ctx.Monitor(), continueOnError, f)
		if !cont || ic.stop {
			return
		}
		ic.next = ic.next.Add(ic.period.Randomize(ic.jitter))
		for ic.period > 0 && !ic.next.After(s.now) {
			ic.next = ic.next.Add(ic.period)
		}
		schedule()
	}
	schedule()
	return ic
}

// runIntervalTick invokes f, recovering a panic into m per the kernel's
// panic-to-monitor discipline. When continueOnError is false, a recovered
// panic also stops the interval (returns false); when true, the interval
// keeps going regardless of f's outcome, as long as f did not itself return
// false.
func runIntervalTick(s *Scheduler, m *Monitor, continueOnError bool, f func() bool) (cont bool) {
	cont = true
	defer func() {
		if r := recover(); r != nil {
			err := recoverToError(r, s.opts.recordBacktraces)
			propagateError(m, err)
			if !continueOnError {
				cont = false
			}
		}
	}()
	cont = f()
	return cont
}

// Stop permanently halts the interval; any already-scheduled-but-not-fired
// tick is canceled.
func (ic *IntervalClock) Stop() {
	ic.stop = true
	ic.sched.wheel.Remove(ic.ref)
}

// EveryPrimed is Every's primed counterpart: instead of scheduling each tick
// by wall-clock multiples of period regardless of how long the body takes,
// it waits for the Deferred returned by f before scheduling the next
// interval, so a slow invocation pushes every subsequent tick back rather
// than letting them pile up. f's bool still governs whether the series
// continues, the same way it does for Every.
func EveryPrimed(s *Scheduler, period Span, continueOnError bool, f func() *Deferred[bool]) *IntervalClock {
	ic := AtIntervals(s, period)
	var tick func()
	ctx := s.currentContext
	schedule := func() {
		ic.ref, _ = s.wheel.Add(ic.next, func() {
			s.enqueueInternal(ctx, tick)
		})
	}
	tick = func() {
		if ic.stop {
			return
		}
		runIntervalTickPrimed(s, ctx.Monitor(), continueOnError, f, func(cont bool) {
			if !cont || ic.stop {
				return
			}
			ic.next = s.now.Add(ic.period.Randomize(ic.jitter))
			schedule()
		})
	}
	schedule()
	return ic
}

// runIntervalTickPrimed is runIntervalTick's primed counterpart: f's result
// is itself a Deferred, so continuation is decided asynchronously, via an
// upon-handler, rather than by a value returned synchronously from f.
func runIntervalTickPrimed(s *Scheduler, m *Monitor, continueOnError bool, f func() *Deferred[bool], andThen func(cont bool)) {
	var body *Deferred[bool]
	func() {
		defer func() {
			if r := recover(); r != nil {
				err := recoverToError(r, s.opts.recordBacktraces)
				propagateError(m, err)
				body = nil
			}
		}()
		body = f()
	}()
	if body == nil {
		andThen(continueOnError)
		return
	}
	body.Upon(func(cont bool) { andThen(cont) })
}
