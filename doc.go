// Package kernel implements a single-threaded, cooperative asynchronous
// execution kernel: an Ivar/Deferred promise substrate, a monitor-based
// supervision tree for structured error containment, a priority-banded job
// scheduler, a hierarchical timing wheel, and back-pressured pipes and
// throttles built on top of the first four.
//
// The design is a Go-native port of the Jane Street Async_kernel shape: every
// suspension point is expressed as a handler registered on a Deferred, never
// as a blocking call inside a job body. A single goroutine drains the
// Scheduler's queues; the only cross-goroutine surface is the external job
// inbox that foreign goroutines use to hand work back to that goroutine.
package kernel
