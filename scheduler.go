package kernel

import (
	"context"
	"sync"
	"time"
)

// scheduler.go implements the single-goroutine cooperative loop that drains
// jobs, fires due timers, and recovers panics into the monitor tree.
// Structurally this is eventloop/loop.go's Loop with the I/O poller removed
// (this kernel schedules logical work and timers, not OS file descriptors)
// and its timer heap replaced by the hierarchical TimingWheel in wheel.go.

// Metrics is a snapshot of a Scheduler's runtime state, populated only when
// WithMetrics is enabled, grounded on eventloop's own WithMetrics option and
// the counters it feeds.
type Metrics struct {
	CyclesRun       uint64
	JobsRun         uint64
	NormalQueueLen  int
	LowQueueLen     int
	PendingAlarms   int
	LastCycleJobs   int
	LastCycleTimers int
}

// Scheduler is the kernel's cooperative scheduler: it owns the job queues,
// timing wheel, and monitor tree. All of its exported methods except
// EnqueueExternalJob and Wake must be called from the same goroutine that
// calls RunCycle/Run — there is no internal locking protecting them.
type Scheduler struct {
	opts *kernelOptions

	timeSrc TimeSource
	now     Time

	mainMonitor *Monitor

	normal fifo
	low    fifo
	pool   jobPool

	inbox *externalInbox

	wheel *TimingWheel

	registry *ivarRegistry

	currentContext ExecutionContext

	running     bool
	inCycle     bool
	terminated  bool
	uncaughtFn  func(error, *Monitor)
	metrics     Metrics
	wakeCh      chan struct{}
	wakeOnce    sync.Once
	jobsThisCyc int

	ownerGoroutine uint64
	ownerSet       bool
}

// NewScheduler constructs a Scheduler. By default it uses the real system
// clock; pass a TimeSource override (typically a *ManualTimeSource, for
// tests) via WithTimeSourceOverride-style setup by calling SetTimeSource
// before the first RunCycle.
func NewScheduler(opts ...KernelOption) (*Scheduler, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		opts:    cfg,
		timeSrc: newSystemTimeSource(),
		wakeCh:  make(chan struct{}, 1),
	}
	s.mainMonitor = newMainMonitor(s)
	s.now = s.timeSrc.Now()
	s.wheel = NewTimingWheel(cfg.timingWheelConfig, s.now)
	s.registry = newIvarRegistry()
	s.pool = jobPool{}
	s.inbox = newExternalInbox()
	s.currentContext = RootExecutionContext(s.mainMonitor)
	s.uncaughtFn = defaultUncaughtHook(cfg.logger)
	return s, nil
}

// SetTimeSource overrides the Scheduler's clock. Must be called before the
// first RunCycle.
func (s *Scheduler) SetTimeSource(ts TimeSource) {
	s.timeSrc = ts
	s.now = ts.Now()
	s.wheel.now = s.now
}

// MainMonitor returns the root of the scheduler's monitor tree.
func (s *Scheduler) MainMonitor() *Monitor { return s.mainMonitor }

// NewIvar creates a fresh, undetermined Ivar[T] owned by this Scheduler.
func NewIvar[T any](s *Scheduler) *Ivar[T] { return newIvar[T](s) }

// InstallUncaughtHandler overrides the hook invoked when an error reaches
// the root monitor with nothing to handle it. The default hook logs at
// LevelError via the Scheduler's Logger and does not terminate the process —
// this is a library, not an application main loop, so exiting the process on
// an uncaught application error is the embedder's call, not ours.
func (s *Scheduler) InstallUncaughtHandler(f func(error, *Monitor)) {
	s.uncaughtFn = f
}

func defaultUncaughtHook(logger Logger) func(error, *Monitor) {
	return func(err error, m *Monitor) {
		if !logger.IsEnabled(LevelError) {
			return
		}
		logger.Log(LogEntry{
			Level:     LevelError,
			Category:  "monitor",
			Message:   "uncaught error reached root monitor",
			Err:       err,
			Fields:    map[string]any{"monitor": m.Name()},
			Timestamp: time.Now(),
		})
	}
}

func (s *Scheduler) uncaught(err error, m *Monitor) {
	if s.uncaughtFn != nil {
		s.uncaughtFn(err, m)
	}
}

func (s *Scheduler) logExtraMonitorError(m *Monitor, err error) {
	if !s.opts.logger.IsEnabled(LevelWarn) {
		return
	}
	s.opts.logger.Log(LogEntry{
		Level:    LevelWarn,
		Category: "monitor",
		Message:  "additional error after try_with already resolved",
		Err:      err,
		Fields:   map[string]any{"monitor": m.Name()},
	})
}

// enqueueInternal schedules run under ctx directly into the appropriate
// band, bypassing the external inbox. Used for every purely-internal
// dispatch: ivar handlers firing, timer callbacks, monitor error handlers.
func (s *Scheduler) enqueueInternal(ctx ExecutionContext, run func()) {
	j := s.pool.get(ctx, run)
	switch ctx.Priority() {
	case PriorityLow:
		s.low.pushBack(j)
	default:
		s.normal.pushBack(j)
	}
}

// EnqueueExternalJob submits run, under PriorityNormal rooted at the main
// monitor, from any goroutine. It is the kernel's sole cross-goroutine entry
// point. Returns ErrLoopTerminated once the Scheduler has shut down.
func (s *Scheduler) EnqueueExternalJob(run func()) error {
	err := s.inbox.submit(RootExecutionContext(s.mainMonitor), run)
	if err == nil {
		s.Wake()
	}
	return err
}

// Wake unblocks a goroutine parked in Run's wait-for-work sleep. Safe to
// call from any goroutine.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// withinContext runs f with s.currentContext temporarily set to ctx,
// restoring the previous context on every exit path including a panic. It is
// a package-level generic function, not a method, since Go methods cannot
// carry their own type parameters.
func withinContext[T any](s *Scheduler, ctx ExecutionContext, f func() T) T {
	prev := s.currentContext
	s.currentContext = ctx
	defer func() { s.currentContext = prev }()
	return f()
}

// runJob executes j.run under j.ctx, recovering any panic into j.ctx's
// Monitor rather than letting it escape RunCycle.
func (s *Scheduler) runJob(j *job) {
	prev := s.currentContext
	s.currentContext = j.ctx
	defer func() {
		s.currentContext = prev
		if r := recover(); r != nil {
			err := recoverToError(r, s.opts.recordBacktraces)
			propagateError(j.ctx.Monitor(), err)
		}
	}()
	j.run()
}

// spliceExternal drains the external inbox into the internal band queues.
// Called exactly once per cycle — the only point at which cross-goroutine
// state touches the internal queues.
func (s *Scheduler) spliceExternal() {
	normal, low := s.inbox.drain()
	s.normal.appendAll(&normal)
	s.low.appendAll(&low)
}

// runTimers fires every alarm in the wheel now due, given the cycle's
// snapshot of the current time.
func (s *Scheduler) runTimers() int {
	fired := s.wheel.AdvanceTo(s.now)
	for _, payload := range fired {
		fn := payload.(func())
		fn()
	}
	return len(fired)
}

// RunCycle drains one scheduling cycle: splice external work, advance the
// timing wheel, then run jobs from the normal band (up to the fairness cap),
// falling back to the low band once normal is empty or capped, and falling
// back to low again after that cap too. Returns ErrCycleInProgress if called
// re-entrantly (e.g. from within a job the cycle is itself running).
func (s *Scheduler) RunCycle() error {
	if s.inCycle {
		return ErrCycleInProgress
	}
	if s.terminated {
		return ErrLoopTerminated
	}
	s.checkOwnerThread()
	s.inCycle = true
	defer func() { s.inCycle = false }()

	s.now = s.timeSrc.Now()
	s.spliceExternal()
	timerCount := s.runTimers()

	perBandCap := s.opts.maxNumJobsPerPriorityPerCycle
	jobCount := 0
	jobCount += s.drainBand(&s.normal, perBandCap)
	jobCount += s.drainBand(&s.low, perBandCap)

	if s.opts.metricsEnabled {
		s.metrics.CyclesRun++
		s.metrics.JobsRun += uint64(jobCount)
		s.metrics.LastCycleJobs = jobCount
		s.metrics.LastCycleTimers = timerCount
		s.metrics.NormalQueueLen = s.normal.len
		s.metrics.LowQueueLen = s.low.len
		s.metrics.PendingAlarms = s.wheel.Len()
	}
	s.checkInvariants()
	return nil
}

// checkInvariants runs the scheduler's expensive consistency checks when
// WithCheckInvariants is enabled, panicking on the first violation found.
func (s *Scheduler) checkInvariants() {
	if !s.opts.checkInvariants {
		return
	}
	if err := s.normal.checkInvariants(); err != nil {
		panic(err)
	}
	if err := s.low.checkInvariants(); err != nil {
		panic(err)
	}
	if err := s.wheel.checkInvariants(); err != nil {
		panic(err)
	}
}

func (s *Scheduler) drainBand(q *fifo, limit int) int {
	n := 0
	for n < limit {
		j := q.popFront()
		if j == nil {
			break
		}
		s.runJob(j)
		s.pool.put(j)
		n++
	}
	return n
}

// IsRunning reports whether a Run call is currently driving this Scheduler.
func (s *Scheduler) IsRunning() bool { return s.running }

// IsIdle reports whether the scheduler currently has no pending work: no
// queued jobs, no pending timers, and (best-effort) nothing queued in the
// external inbox.
func (s *Scheduler) IsIdle() bool {
	s.inbox.mu.Lock()
	inboxEmpty := s.inbox.normal.len == 0 && s.inbox.low.len == 0
	s.inbox.mu.Unlock()
	return inboxEmpty && s.normal.len == 0 && s.low.len == 0 && s.wheel.Len() == 0
}

// NextUpcomingEventTime returns the time of the earliest pending alarm, if
// any, letting a caller driving Run sleep precisely rather than busy-poll.
func (s *Scheduler) NextUpcomingEventTime() (Time, bool) {
	return s.wheel.MinAlarmTime()
}

// Run blocks, repeatedly calling RunCycle, until ctx is canceled. Between
// cycles with no immediate work, it sleeps until the earlier of the next
// alarm or a Wake call (from EnqueueExternalJob or an explicit Wake),
// capped at one second so a Scheduler never sleeps through a slow clock
// drift. This is the same Run/run convenience pairing eventloop builds
// around its own cycle-at-a-time core.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running = true
	defer func() { s.running = false }()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.RunCycle(); err != nil {
			return err
		}
		if s.normal.len > 0 || s.low.len > 0 {
			continue
		}

		wait := time.Second
		if at, ok := s.NextUpcomingEventTime(); ok {
			if d := at.Sub(s.now).Duration(); d < wait {
				if d < 0 {
					d = 0
				}
				wait = d
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Shutdown closes the external inbox (further EnqueueExternalJob calls fail
// with ErrLoopTerminated) and marks the scheduler terminated; any cycle in
// progress finishes normally.
func (s *Scheduler) Shutdown() {
	s.inbox.close()
	s.terminated = true
}

// Metrics returns a snapshot of the scheduler's runtime counters. They are
// updated only when WithMetrics(true) was supplied to NewScheduler;
// otherwise every field stays at its zero value.
func (s *Scheduler) Metrics() Metrics { return s.metrics }

// LiveIvarCount returns how many ivars created on this Scheduler are still
// reachable, scavenging collected ones from the tracking registry as a side
// effect. Intended for diagnostics and tests, not the hot path.
func (s *Scheduler) LiveIvarCount() int { return s.registry.LiveCount() }
