package kernel

// condition.go implements an async Condition: a broadcast/signal primitive
// over Deferred instead of native goroutine blocking, using the same
// subscriber fan-out as promise.go (every waiter gets its own Ivar, filled
// together on Broadcast).

// Condition lets any number of waiters park on Wait and be released together
// by Broadcast, or one at a time by Signal.
type Condition[T any] struct {
	sched   *Scheduler
	waiters []*Ivar[T]
}

// NewCondition creates an empty Condition.
func NewCondition[T any](s *Scheduler) *Condition[T] {
	return &Condition[T]{sched: s}
}

// Wait returns a Deferred determined the next time Broadcast or Signal
// releases this waiter.
func (c *Condition[T]) Wait() *Deferred[T] {
	iv := newIvar[T](c.sched)
	c.waiters = append(c.waiters, iv)
	return iv.Read()
}

// Broadcast releases every current waiter with v. Waiters registered after
// this call are not affected.
func (c *Condition[T]) Broadcast(v T) {
	waiters := c.waiters
	c.waiters = nil
	for _, w := range waiters {
		_ = w.Fill(v)
	}
}

// Signal releases exactly one waiter (the one that has been waiting
// longest), if any, with v.
func (c *Condition[T]) Signal(v T) bool {
	if len(c.waiters) == 0 {
		return false
	}
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	_ = w.Fill(v)
	return true
}

// NumWaiters returns how many goroutine-free waiters are currently parked.
func (c *Condition[T]) NumWaiters() int { return len(c.waiters) }
