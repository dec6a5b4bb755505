package kernel

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerReentrantRunCycle(t *testing.T) {
	s := newTestScheduler(t)
	var reentrantErr error
	_ = s.EnqueueExternalJob(func() {
		reentrantErr = s.RunCycle()
	})
	if err := s.RunCycle(); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if reentrantErr != ErrCycleInProgress {
		t.Fatalf("got %v, want ErrCycleInProgress", reentrantErr)
	}
}

func TestSchedulerCheckInvariantsPasses(t *testing.T) {
	s, err := NewScheduler(WithCheckInvariants(true))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.SetTimeSource(NewManualTimeSource(0))

	for i := 0; i < 5; i++ {
		_ = s.EnqueueExternalJob(func() {})
	}
	_ = s.After(Span(time.Millisecond))
	if err := s.RunCycle(); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if err := s.RunCycle(); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
}

func TestSchedulerMetricsOnlyCollectedWhenEnabled(t *testing.T) {
	s := newTestScheduler(t)
	_ = s.EnqueueExternalJob(func() {})
	_ = s.RunCycle()
	if s.Metrics().CyclesRun != 0 {
		t.Fatalf("got CyclesRun=%d, want 0 (metrics disabled by default)", s.Metrics().CyclesRun)
	}

	m, err := NewScheduler(WithMetrics(true))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	m.SetTimeSource(NewManualTimeSource(0))
	_ = m.EnqueueExternalJob(func() {})
	_ = m.RunCycle()
	if m.Metrics().CyclesRun != 1 || m.Metrics().JobsRun != 1 {
		t.Fatalf("got %+v, want CyclesRun=1 JobsRun=1 once WithMetrics(true) is set", m.Metrics())
	}
}

func TestSchedulerExternalJobFairness(t *testing.T) {
	s := newTestScheduler(t)
	s.opts.maxNumJobsPerPriorityPerCycle = 3

	ran := 0
	for i := 0; i < 10; i++ {
		_ = s.EnqueueExternalJob(func() { ran++ })
	}
	_ = s.RunCycle()
	if ran != 3 {
		t.Fatalf("got %d jobs run, want 3 (fairness cap)", ran)
	}
	_ = s.RunCycle()
	if ran != 6 {
		t.Fatalf("got %d jobs run after 2nd cycle, want 6", ran)
	}
}

func TestSchedulerNormalPreemptsLow(t *testing.T) {
	s := newTestScheduler(t)
	var order []string
	_ = s.inbox.submit(RootExecutionContext(s.mainMonitor).WithPriority(PriorityLow), func() {
		order = append(order, "low")
	})
	_ = s.inbox.submit(RootExecutionContext(s.mainMonitor), func() {
		order = append(order, "normal")
	})
	_ = s.RunCycle()
	if len(order) != 2 || order[0] != "normal" || order[1] != "low" {
		t.Fatalf("got %v, want [normal low]", order)
	}
}

func TestSchedulerPanicRoutesToMonitorNotHandler(t *testing.T) {
	s := newTestScheduler(t)
	var caught error
	s.mainMonitor.HandleErrors(func(err error) { caught = err })

	_ = s.EnqueueExternalJob(func() { panic("boom") })
	_ = s.RunCycle() // runs the panicking job, schedules the handler
	_ = s.RunCycle() // runs the handler job

	if caught == nil {
		t.Fatal("monitor handler never invoked")
	}
	var ur *UserRaised
	if !asUserRaised(caught, &ur) {
		t.Fatalf("got %v, want *UserRaised", caught)
	}
	if ur.Payload != "boom" {
		t.Fatalf("got payload %v, want boom", ur.Payload)
	}
}

func asUserRaised(err error, out **UserRaised) bool {
	ur, ok := err.(*UserRaised)
	if ok {
		*out = ur
	}
	return ok
}

func TestSchedulerRunStopsOnContextCancel(t *testing.T) {
	s := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
