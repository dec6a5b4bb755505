package kernel

import "testing"

func advance(t *testing.T, s *Scheduler, d Span) {
	t.Helper()
	ts := s.timeSrc.(*ManualTimeSource)
	ts.Advance(d)
	_ = s.RunCycle()
}

func TestClockAfterFiresOnceElapsed(t *testing.T) {
	s := newTestScheduler(t)
	ev := s.After(Span(10))

	var fired bool
	ev.Fired().Upon(func(struct{}) { fired = true })

	advance(t, s, Span(5))
	if fired {
		t.Fatal("fired before its span elapsed")
	}
	advance(t, s, Span(5))
	if !fired {
		t.Fatal("did not fire once its span elapsed")
	}
	if ev.State() != "happened" {
		t.Fatalf("got state %q, want happened", ev.State())
	}
}

func TestClockAtFiresAtAbsoluteTime(t *testing.T) {
	s := newTestScheduler(t)
	target := s.now.Add(Span(20))
	ev := s.At(target)

	var fired bool
	ev.Fired().Upon(func(struct{}) { fired = true })

	advance(t, s, Span(20))
	if !fired {
		t.Fatal("did not fire at the target time")
	}
}

func TestClockWithTimeoutValueWins(t *testing.T) {
	s := newTestScheduler(t)
	iv := NewIvar[int](s)
	result := WithTimeout(s, iv.Read(), Span(10))

	_ = iv.Fill(5)
	advance(t, s, Span(1))

	pr, ok := result.Peek()
	if !ok {
		t.Fatal("WithTimeout never resolved")
	}
	if !pr.Second || pr.First != 5 {
		t.Fatalf("got %v, want (5,true)", pr)
	}
	if got := s.wheel.Len(); got != 0 {
		t.Fatalf("got %d live wheel alarms after the value won, want 0 (the timeout alarm should have been aborted)", got)
	}
}

func TestClockWithTimeoutTimeoutWins(t *testing.T) {
	s := newTestScheduler(t)
	iv := NewIvar[int](s)
	result := WithTimeout(s, iv.Read(), Span(10))

	advance(t, s, Span(10))

	pr, ok := result.Peek()
	if !ok {
		t.Fatal("WithTimeout never resolved")
	}
	if pr.Second {
		t.Fatalf("got %v, want timeout (false)", pr)
	}
}

func TestClockEventAbortPreventsFiring(t *testing.T) {
	s := newTestScheduler(t)
	ev := s.After(Span(10))
	var fired bool
	ev.Fired().Upon(func(struct{}) { fired = true })

	if err := ev.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	advance(t, s, Span(20))
	if fired {
		t.Fatal("an aborted event still fired")
	}

	if err := ev.Abort(); err != ErrPreviouslyAborted {
		t.Fatalf("got %v, want ErrPreviouslyAborted", err)
	}
}

func TestClockEventRescheduleErrors(t *testing.T) {
	s := newTestScheduler(t)

	ev := s.After(Span(10))
	advance(t, s, Span(10))
	if err := ev.Reschedule(s.now.Add(Span(5))); err != ErrPreviouslyHappened {
		t.Fatalf("got %v, want ErrPreviouslyHappened", err)
	}

	ev2 := s.After(Span(10))
	_ = ev2.Abort()
	if err := ev2.Reschedule(s.now.Add(Span(5))); err != ErrPreviouslyAborted {
		t.Fatalf("got %v, want ErrPreviouslyAborted", err)
	}
}

func TestClockEventRescheduleMovesFireTime(t *testing.T) {
	s := newTestScheduler(t)
	ev := s.After(Span(10))
	var fired bool
	ev.Fired().Upon(func(struct{}) { fired = true })

	if err := ev.RescheduleAfter(Span(20)); err != nil {
		t.Fatalf("RescheduleAfter: %v", err)
	}

	advance(t, s, Span(10))
	if fired {
		t.Fatal("fired at the original time despite being rescheduled later")
	}
	advance(t, s, Span(10))
	if !fired {
		t.Fatal("did not fire at the rescheduled time")
	}
}

func TestRunAtInvokesCallbackOnceFired(t *testing.T) {
	s := newTestScheduler(t)
	var got int
	ev := RunAt(s, s.now.Add(Span(10)), func(x int) { got = x }, 7)

	advance(t, s, Span(5))
	if got != 0 {
		t.Fatal("fired before its span elapsed")
	}
	advance(t, s, Span(5))
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
	if ev.State() != "happened" {
		t.Fatalf("got state %q, want happened", ev.State())
	}
}

func TestRunAfterSkipsCallbackIfAborted(t *testing.T) {
	s := newTestScheduler(t)
	var called bool
	ev := RunAfter(s, Span(10), func(struct{}) { called = true }, struct{}{})

	if err := ev.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	advance(t, s, Span(20))
	if called {
		t.Fatal("callback ran despite the event being aborted first")
	}
}

func TestEveryPrimedWaitsForBodyBeforeNextTick(t *testing.T) {
	s := newTestScheduler(t)
	var ticks int
	var gate *Ivar[bool]
	ic := EveryPrimed(s, Span(10), true, func() *Deferred[bool] {
		ticks++
		gate = NewIvar[bool](s)
		return gate.Read()
	})
	defer ic.Stop()

	advance(t, s, Span(10))
	if ticks != 1 {
		t.Fatalf("got %d ticks, want 1", ticks)
	}

	// The body's deferred is still undetermined, so the next interval must
	// not be scheduled yet even though a full period has elapsed again.
	advance(t, s, Span(10))
	if ticks != 1 {
		t.Fatalf("got %d ticks, want still 1 (body not yet resolved)", ticks)
	}

	_ = gate.Fill(true)
	_ = s.RunCycle()
	advance(t, s, Span(10))
	if ticks != 2 {
		t.Fatalf("got %d ticks, want 2 once the body resolved", ticks)
	}
}

func TestEveryContinuesPastErrorWhenConfigured(t *testing.T) {
	s := newTestScheduler(t)
	var ticks int
	ic := Every(s, Span(10), true, func() bool {
		ticks++
		if ticks == 2 {
			panic("transient")
		}
		return ticks < 4
	})
	defer ic.Stop()

	for i := 0; i < 5; i++ {
		advance(t, s, Span(10))
	}
	if ticks != 4 {
		t.Fatalf("got %d ticks, want 4 (continueOnError should survive the panic on tick 2)", ticks)
	}
}

func TestEveryStopsOnErrorWhenNotConfigured(t *testing.T) {
	s := newTestScheduler(t)
	var ticks int
	ic := Every(s, Span(10), false, func() bool {
		ticks++
		if ticks == 2 {
			panic("fatal")
		}
		return true
	})
	defer ic.Stop()

	for i := 0; i < 5; i++ {
		advance(t, s, Span(10))
	}
	if ticks != 2 {
		t.Fatalf("got %d ticks, want 2 (should stop permanently after the panicking tick)", ticks)
	}
}

func TestEveryStopsWhenFReturnsFalse(t *testing.T) {
	s := newTestScheduler(t)
	var ticks int
	ic := Every(s, Span(10), true, func() bool {
		ticks++
		return ticks < 3
	})
	defer ic.Stop()

	for i := 0; i < 6; i++ {
		advance(t, s, Span(10))
	}
	if ticks != 3 {
		t.Fatalf("got %d ticks, want 3", ticks)
	}
}
