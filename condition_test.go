package kernel

import "testing"

func TestConditionBroadcastReleasesAllWaiters(t *testing.T) {
	s := newTestScheduler(t)
	c := NewCondition[int](s)

	var got []int
	for i := 0; i < 3; i++ {
		c.Wait().Upon(func(v int) { got = append(got, v) })
	}
	if c.NumWaiters() != 3 {
		t.Fatalf("got %d waiters, want 3", c.NumWaiters())
	}

	c.Broadcast(9)
	_ = s.RunCycle()

	if len(got) != 3 || got[0] != 9 || got[1] != 9 || got[2] != 9 {
		t.Fatalf("got %v, want three 9s", got)
	}
	if c.NumWaiters() != 0 {
		t.Fatalf("waiters not cleared after broadcast: %d", c.NumWaiters())
	}
}

func TestConditionSignalReleasesOneInFIFOOrder(t *testing.T) {
	s := newTestScheduler(t)
	c := NewCondition[int](s)

	var order []int
	d1 := c.Wait()
	d2 := c.Wait()
	d1.Upon(func(v int) { order = append(order, v) })
	d2.Upon(func(v int) { order = append(order, v+100) })

	if ok := c.Signal(1); !ok {
		t.Fatal("Signal reported no waiter")
	}
	_ = s.RunCycle()

	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("got %v, want [1] (first waiter released)", order)
	}
	if c.NumWaiters() != 1 {
		t.Fatalf("got %d waiters remaining, want 1", c.NumWaiters())
	}

	if ok := c.Signal(2); !ok {
		t.Fatal("second Signal reported no waiter")
	}
	_ = s.RunCycle()
	if len(order) != 2 || order[1] != 102 {
		t.Fatalf("got %v, want [1 102]", order)
	}
}

func TestConditionSignalOnEmptyReturnsFalse(t *testing.T) {
	s := newTestScheduler(t)
	c := NewCondition[int](s)
	if c.Signal(1) {
		t.Fatal("Signal on an empty condition reported true")
	}
}

func TestConditionWaitersAfterBroadcastUnaffected(t *testing.T) {
	s := newTestScheduler(t)
	c := NewCondition[int](s)

	var first, second int
	c.Wait().Upon(func(v int) { first = v })
	c.Broadcast(1)
	_ = s.RunCycle()

	c.Wait().Upon(func(v int) { second = v })
	if first != 1 {
		t.Fatalf("got first=%d, want 1", first)
	}
	c.Broadcast(2)
	_ = s.RunCycle()
	if second != 2 {
		t.Fatalf("got second=%d, want 2", second)
	}
}
