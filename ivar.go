package kernel

import "weak"

// ivar.go implements the kernel's single-assignment cell with handler-list
// subscription, generalized to Go generics (Ivar[T]/Deferred[T]) from
// eventloop/promise.go's any-typed ChainedPromise. The non-generic ivarCore
// carries the mutable state so a weak.Pointer registry (registry.go) can
// track every live cell through one concrete type, the way promise.go's own
// registry tracks *promise values.
//
// Two invariants load-bearing for everything built on top: a handler is
// never invoked synchronously inside Fill (always dispatched as a freshly
// scheduled Job — "step-ahead" scheduling), and a Bind chain compresses by
// aliasing rather than accumulating a handler per link (forward field
// below).

type ivarState int8

const (
	ivarEmpty ivarState = iota
	ivarFull
)

type handlerNode struct {
	ctx        ExecutionContext
	run        func(any)
	prev, next *handlerNode
}

// ivarCore is the type-erased single-assignment cell. Ivar[T] and
// Deferred[T] are thin, type-safe views over a shared *ivarCore.
type ivarCore struct {
	sched   *Scheduler
	state   ivarState
	value   any
	head    *handlerNode // sentinel; head.next/head.prev form a circular list
	forward *ivarCore    // non-nil once this cell has been compressed into another
}

func newIvarCore(s *Scheduler) *ivarCore {
	c := &ivarCore{sched: s}
	c.head = &handlerNode{}
	c.head.prev, c.head.next = c.head, c.head
	if s != nil && s.registry != nil {
		s.registry.track(c)
	}
	return c
}

// resolve follows the forward chain to the real cell backing c, compressing
// the path as it goes so future lookups are O(1).
func resolve(c *ivarCore) *ivarCore {
	if c.forward == nil {
		return c
	}
	root := c.forward
	for root.forward != nil {
		root = root.forward
	}
	for c.forward != nil && c.forward != root {
		next := c.forward
		c.forward = root
		c = next
	}
	return root
}

// pushHandler appends n to the back of the list, preserving FIFO
// registration order for drainHandlers.
func (c *ivarCore) pushHandler(n *handlerNode) {
	n.prev = c.head.prev
	n.next = c.head
	c.head.prev.next = n
	c.head.prev = n
}

// drainHandlers removes and returns every handler node, in registration
// order, resetting the list to empty.
func (c *ivarCore) drainHandlers() []*handlerNode {
	var out []*handlerNode
	for n := c.head.next; n != c.head; n = n.next {
		out = append(out, n)
	}
	c.head.next, c.head.prev = c.head, c.head
	return out
}

// fill determines the resolved cell's value, scheduling every waiting
// handler as a new job. Returns ErrAlreadyFull if already determined.
func (c *ivarCore) fill(value any) error {
	target := resolve(c)
	target.sched.checkOwnerThread()
	if target.state == ivarFull {
		return ErrAlreadyFull
	}
	target.state = ivarFull
	target.value = value
	handlers := target.drainHandlers()
	for _, h := range handlers {
		h := h
		target.sched.enqueueInternal(h.ctx, func() { h.run(value) })
	}
	return nil
}

func (c *ivarCore) fillIfEmpty(value any) bool {
	return c.fill(value) == nil
}

// upon registers run to be invoked (as a new job, under ctx) once the
// resolved cell is determined. If already determined, the job is scheduled
// immediately (but still never synchronously).
func (c *ivarCore) upon(ctx ExecutionContext, run func(any)) {
	target := resolve(c)
	target.sched.checkOwnerThread()
	if target.state == ivarFull {
		v := target.value
		target.sched.enqueueInternal(ctx, func() { run(v) })
		return
	}
	n := &handlerNode{ctx: ctx, run: run}
	target.pushHandler(n)
}

// alias compresses src into dst: dst becomes the cell that src's eventual
// value flows into, and any handlers already waiting on src move to dst.
// Used by Bind to avoid accumulating one handler per link in a chain.
func alias(src, dst *ivarCore) {
	src = resolve(src)
	dst = resolve(dst)
	if src == dst {
		return
	}
	if src.state == ivarFull {
		_ = dst.fill(src.value)
		return
	}
	if src.head.next != src.head {
		// Splice src's handler list onto the end of dst's.
		if dst.head.next == dst.head {
			dst.head.next, dst.head.prev = src.head.next, src.head.prev
			src.head.next.prev, src.head.prev.next = dst.head, dst.head
		} else {
			srcFirst, srcLast := src.head.next, src.head.prev
			dstLast := dst.head.prev
			dstLast.next, srcFirst.prev = srcFirst, dstLast
			srcLast.next, dst.head.prev = dst.head, srcLast
		}
		src.head.next, src.head.prev = src.head, src.head
	}
	src.forward = dst
}

// peek returns the resolved cell's value and whether it is determined,
// without blocking or registering a handler.
func (c *ivarCore) peek() (any, bool) {
	target := resolve(c)
	if target.state == ivarFull {
		return target.value, true
	}
	return nil, false
}

// Ivar is the writable side of a determined-once cell of type T. Create a
// pair with NewIvar; Fill/FillIfEmpty settle it, Read exposes the
// read-only Deferred view to consumers.
type Ivar[T any] struct {
	core *ivarCore
}

// Deferred is the read-only view of an Ivar[T]'s eventual value, or a value
// produced directly by a combinator (Return, Bind, Map, ...).
type Deferred[T any] struct {
	core *ivarCore
}

func newIvar[T any](s *Scheduler) *Ivar[T] {
	return &Ivar[T]{core: newIvarCore(s)}
}

// Fill determines the ivar's value. It returns ErrAlreadyFull if the ivar
// was already determined; an ivar can be filled at most once.
func (iv *Ivar[T]) Fill(v T) error {
	return iv.core.fill(v)
}

// FillIfEmpty determines the ivar's value if it is not already determined,
// returning whether it did so. Unlike Fill, a already-full ivar is not an
// error here — this is the primitive idempotent combinators like Any build
// on.
func (iv *Ivar[T]) fillIfEmpty(v T) bool {
	return iv.core.fillIfEmpty(v)
}

// FillIfEmpty is the exported form of fillIfEmpty.
func (iv *Ivar[T]) FillIfEmpty(v T) bool { return iv.fillIfEmpty(v) }

// Read returns the read-only Deferred view of iv.
func (iv *Ivar[T]) Read() *Deferred[T] {
	return &Deferred[T]{core: iv.core}
}

// IsDetermined reports whether d's value has been filled.
func (d *Deferred[T]) IsDetermined() bool {
	_, ok := d.core.peek()
	return ok
}

// Peek returns d's value and true if already determined, or the zero value
// and false otherwise. It never blocks and never registers a handler.
func (d *Deferred[T]) Peek() (T, bool) {
	v, ok := d.core.peek()
	if !ok {
		var zero T
		return zero, false
	}
	t, _ := v.(T) // a nil interface value asserts to T's zero value
	return t, true
}

// ValueExn returns d's value, or ErrNotDetermined if d is still Pending.
func (d *Deferred[T]) ValueExn() (T, error) {
	v, ok := d.Peek()
	if !ok {
		var zero T
		return zero, ErrNotDetermined
	}
	return v, nil
}

// Upon registers f to run once d is determined, under the execution context
// current at the time Upon was called. f never runs synchronously within
// Upon, or within whatever Fill call determines d — it is always dispatched
// as a freshly scheduled job.
func (d *Deferred[T]) Upon(f func(T)) {
	ctx := d.core.sched.currentContext
	d.core.upon(ctx, func(v any) { t, _ := v.(T); f(t) })
}

// uponWithCtx is the internal form used by combinators that must pin a
// specific execution context rather than capture it implicitly at call time.
func (d *Deferred[T]) uponWithCtx(ctx ExecutionContext, f func(T)) {
	d.core.upon(ctx, func(v any) { t, _ := v.(T); f(t) })
}

// weak returns the pointer stored in the kernel's ivar registry (registry.go) for
// scavenging; it does not retain the ivarCore strongly.
func (c *ivarCore) weak() weak.Pointer[ivarCore] { return weak.Make(c) }
