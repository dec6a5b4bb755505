package kernel

// pipe.go implements an ordered, bounded, back-pressured, multi-reader/
// writer queue of values, grounded on eventloop/promise.go's promise/channel
// fan-out machinery (its ToChannel/subscribers list) but rebuilt around
// Deferred-returning operations instead of native Go channels, so pushback
// composes with the rest of the kernel's cooperative scheduling instead of
// blocking a goroutine.

// Pipe is a FIFO queue of T with a configurable capacity. Write blocks (via
// the returned Deferred) once the pipe is at capacity, resuming once a
// reader makes room; WriteWithoutPushback never blocks, growing the pipe
// past its nominal capacity when necessary. Read consumes one value,
// blocking if the pipe is currently empty.
type Pipe[T any] struct {
	sched    *Scheduler
	capacity int // 0 means unbounded

	buf []T

	readWaiters  []*Ivar[Pair[T, bool]]
	writeWaiters []pendingWrite[T]

	readClosed  bool
	writeClosed bool

	downstreamFlushed *Ivar[struct{}]
	upstreamFlushed   *Ivar[struct{}]
}

type pendingWrite[T any] struct {
	value T
	done  *Ivar[error] // nil once admitted into the buffer, ErrClosed if CloseRead drops it
}

// NewPipe creates a bounded Pipe with the given capacity (must be >= 1).
func NewPipe[T any](s *Scheduler, capacity int) *Pipe[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Pipe[T]{
		sched:             s,
		capacity:          capacity,
		downstreamFlushed: newIvar[struct{}](s),
		upstreamFlushed:   newIvar[struct{}](s),
	}
}

// Unbounded creates a Pipe with no capacity limit: Write never blocks.
func Unbounded[T any](s *Scheduler) *Pipe[T] {
	return &Pipe[T]{
		sched:             s,
		capacity:          0,
		downstreamFlushed: newIvar[struct{}](s),
		upstreamFlushed:   newIvar[struct{}](s),
	}
}

// Write enqueues v, returning a Deferred that resolves once v has been
// accepted — immediately if there is room, or once a reader has drained
// enough of the backlog otherwise. Returns an already-failed write
// (ErrClosed) if the write end has been closed.
func (p *Pipe[T]) Write(v T) *Deferred[error] {
	if p.writeClosed {
		return Return(p.sched, error(ErrClosed))
	}
	if p.tryDeliverDirect(v) {
		return Return(p.sched, error(nil))
	}
	if p.capacity == 0 || len(p.buf) < p.capacity {
		p.buf = append(p.buf, v)
		return Return(p.sched, error(nil))
	}
	done := newIvar[error](p.sched)
	p.writeWaiters = append(p.writeWaiters, pendingWrite[T]{value: v, done: done})
	return done.Read()
}

// WriteWithoutPushback enqueues v unconditionally, growing the buffer past
// capacity if necessary. Returns ErrClosed if the write end is closed.
func (p *Pipe[T]) WriteWithoutPushback(v T) error {
	if p.writeClosed {
		return ErrClosed
	}
	if p.tryDeliverDirect(v) {
		return nil
	}
	p.buf = append(p.buf, v)
	return nil
}

// tryDeliverDirect hands v straight to a waiting reader, if any, bypassing
// the buffer entirely.
func (p *Pipe[T]) tryDeliverDirect(v T) bool {
	if len(p.readWaiters) == 0 {
		return false
	}
	r := p.readWaiters[0]
	p.readWaiters = p.readWaiters[1:]
	_ = r.Fill(Pair[T, bool]{First: v, Second: true})
	return true
}

// Read removes and returns one value, via a Deferred that resolves
// immediately if the buffer is non-empty, or once a writer supplies one
// otherwise. If the pipe is closed and drained, the Deferred resolves with
// (zero, false).
func (p *Pipe[T]) Read() *Deferred[Pair[T, bool]] {
	if v, ok := p.ReadNow(); ok {
		return Return(p.sched, Pair[T, bool]{First: v, Second: true})
	}
	if p.writeClosed && len(p.buf) == 0 {
		var zero T
		return Return(p.sched, Pair[T, bool]{First: zero, Second: false})
	}
	iv := newIvar[Pair[T, bool]](p.sched)
	p.readWaiters = append(p.readWaiters, iv)
	return iv.Read()
}

// ReadNow attempts to pop a value without blocking, returning ok=false if
// the buffer is currently empty. CloseRead empties the buffer outright, so
// this naturally reports false afterward too.
func (p *Pipe[T]) ReadNow() (T, bool) {
	if len(p.buf) == 0 {
		var zero T
		return zero, false
	}
	v := p.buf[0]
	p.buf = p.buf[1:]
	p.admitWriters()
	return v, true
}

// admitWriters pulls pending writes into the buffer as space frees up,
// filling each writer's completion ivar in FIFO order.
func (p *Pipe[T]) admitWriters() {
	for len(p.writeWaiters) > 0 && (p.capacity == 0 || len(p.buf) < p.capacity) {
		w := p.writeWaiters[0]
		p.writeWaiters = p.writeWaiters[1:]
		p.buf = append(p.buf, w.value)
		_ = w.done.Fill(nil)
	}
	if len(p.buf) == 0 && len(p.writeWaiters) == 0 && p.writeClosed {
		_ = p.downstreamFlushed.FillIfEmpty(struct{}{})
	}
}

// ReadExactly reads exactly n values, or fewer if the pipe closes first
// (the returned slice's length reports how many were actually obtained).
func (p *Pipe[T]) ReadExactly(n int) *Deferred[[]T] {
	out := make([]T, 0, n)
	return p.readExactlyLoop(out, n)
}

func (p *Pipe[T]) readExactlyLoop(acc []T, remaining int) *Deferred[[]T] {
	if remaining == 0 {
		return Return(p.sched, acc)
	}
	return Bind(p.sched, p.Read(), func(pr Pair[T, bool]) *Deferred[[]T] {
		if !pr.Second {
			return Return(p.sched, acc)
		}
		return p.readExactlyLoop(append(acc, pr.First), remaining-1)
	})
}

// ReadBatchConfig bounds a ReadBatch call, adapted from longpoll.Channel's
// drain-then-wait shape: drain whatever is available now, up to MaxSize, but
// wait up to PartialTimeout for at least MinSize if the buffer is currently
// short.
type ReadBatchConfig struct {
	MinSize        int
	MaxSize        int
	PartialTimeout Span
}

// ReadBatch drains up to cfg.MaxSize values. If fewer than cfg.MinSize are
// immediately available and the pipe is still open, it waits up to
// cfg.PartialTimeout for more to arrive before returning whatever it has.
func (p *Pipe[T]) ReadBatch(cfg ReadBatchConfig) *Deferred[[]T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = 1
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}

	drained := p.drainNow(cfg.MaxSize)
	if len(drained) >= cfg.MinSize || (p.writeClosed && len(p.buf) == 0) || cfg.PartialTimeout <= 0 {
		return Return(p.sched, drained)
	}

	result := WithTimeout(p.sched, p.waitForMore(drained, cfg), cfg.PartialTimeout)
	return Map(p.sched, result, func(pr Pair[[]T, bool]) []T { return pr.First })
}

// waitForMore recursively accumulates values (via Read) until MinSize is
// reached or the pipe closes, used as the losing side of the ReadBatch race
// against the partial timeout.
func (p *Pipe[T]) waitForMore(acc []T, cfg ReadBatchConfig) *Deferred[[]T] {
	if len(acc) >= cfg.MaxSize {
		return Return(p.sched, acc)
	}
	return Bind(p.sched, p.Read(), func(pr Pair[T, bool]) *Deferred[[]T] {
		if !pr.Second {
			return Return(p.sched, acc)
		}
		acc = append(acc, pr.First)
		if len(acc) >= cfg.MinSize {
			return Return(p.sched, acc)
		}
		return p.waitForMore(acc, cfg)
	})
}

func (p *Pipe[T]) drainNow(max int) []T {
	n := len(p.buf)
	if n > max {
		n = max
	}
	out := append([]T(nil), p.buf[:n]...)
	p.buf = p.buf[n:]
	p.admitWriters()
	return out
}

// Close closes both ends of the pipe: any value still buffered can still be
// read, but once it drains, pending and future reads resolve to (zero,
// false), and further writes fail with ErrClosed.
func (p *Pipe[T]) Close() {
	p.readClosed = true
	p.closeWrite()
}

// CloseRead closes only the read end: no one will read from this pipe
// again, so any value still buffered is dropped rather than left to drain,
// and every write still blocked on back-pressure is dropped and signaled
// with ErrClosed. Future writes fail with ErrClosed the same way Close
// leaves them. Unlike Close, already-buffered values do not get a chance to
// be read — there is no reader left to read them.
func (p *Pipe[T]) CloseRead() {
	p.readClosed = true
	p.buf = nil
	for _, w := range p.writeWaiters {
		_ = w.done.Fill(ErrClosed)
	}
	p.writeWaiters = nil
	p.closeWrite()
}

// closeWrite marks the write end closed, idempotently, and fills the
// Upstream/Downstream-flushed signals once their conditions hold.
func (p *Pipe[T]) closeWrite() {
	if p.writeClosed {
		return
	}
	p.writeClosed = true
	_ = p.upstreamFlushed.FillIfEmpty(struct{}{})
	if len(p.buf) == 0 {
		_ = p.downstreamFlushed.FillIfEmpty(struct{}{})
		p.releaseReadWaiters()
	}
}

// releaseReadWaiters resolves every still-pending Read with (zero, false),
// used once the buffer is empty and the write end has closed — nothing will
// ever fill these ivars otherwise.
func (p *Pipe[T]) releaseReadWaiters() {
	var zero T
	for _, r := range p.readWaiters {
		_ = r.Fill(Pair[T, bool]{First: zero, Second: false})
	}
	p.readWaiters = nil
}

// DownstreamFlushed returns a Deferred determined once every value written
// before the write end closed has been read.
func (p *Pipe[T]) DownstreamFlushed() *Deferred[struct{}] { return p.downstreamFlushed.Read() }

// UpstreamFlushed returns a Deferred determined once the write end has been
// closed (regardless of whether the buffer has drained yet).
func (p *Pipe[T]) UpstreamFlushed() *Deferred[struct{}] { return p.upstreamFlushed.Read() }

// Len returns the number of values currently buffered (not counting pending
// writers blocked on pushback).
func (p *Pipe[T]) Len() int { return len(p.buf) }

// IsClosed reports whether the pipe has been closed.
func (p *Pipe[T]) IsClosed() bool { return p.writeClosed }

// IsReadClosed reports whether the read end has been closed, via either
// Close or CloseRead.
func (p *Pipe[T]) IsReadClosed() bool { return p.readClosed }
