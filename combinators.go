package kernel

// combinators.go implements composition operators atop Ivar/Deferred and the
// Bind-chain compression in ivar.go (alias). Structurally these mirror
// eventloop/promise.go's ChainedPromise.Then family, generalized to preserve
// the value's static type through the chain instead of erasing to any, and
// to route callback panics through the current Monitor instead of rejecting
// the resulting promise.

// Return creates an already-determined Deferred[T], the kernel's monadic
// unit.
func Return[T any](s *Scheduler, v T) *Deferred[T] {
	iv := newIvar[T](s)
	_ = iv.Fill(v)
	return iv.Read()
}

// Never returns a Deferred[T] that is never determined. Useful as a neutral
// element for combinators like Any over a statically-sized but sometimes-
// empty set of branches.
func Never[T any](s *Scheduler) *Deferred[T] {
	return newIvar[T](s).Read()
}

// Bind sequences d with f: the returned Deferred is determined by f's result
// once d is determined and f(value) itself completes. Chains of Bind
// compress via alias (ivar.go) rather than accumulating one handler per
// link.
func Bind[A, B any](s *Scheduler, d *Deferred[A], f func(A) *Deferred[B]) *Deferred[B] {
	r := newIvar[B](s)
	ctx := s.currentContext
	d.uponWithCtx(ctx, func(a A) {
		inner := f(a)
		alias(inner.core, r.core)
	})
	return r.Read()
}

// Map transforms d's eventual value with f, without requiring f to return a
// Deferred itself.
func Map[A, B any](s *Scheduler, d *Deferred[A], f func(A) B) *Deferred[B] {
	return Bind(s, d, func(a A) *Deferred[B] {
		return Return(s, f(a))
	})
}

// Ignore discards d's value once determined, signalling only completion.
func Ignore[T any](s *Scheduler, d *Deferred[T]) *Deferred[struct{}] {
	return Map(s, d, func(T) struct{} { return struct{}{} })
}

// Join flattens a Deferred of a Deferred into one level.
func Join[T any](s *Scheduler, d *Deferred[*Deferred[T]]) *Deferred[T] {
	return Bind(s, d, func(inner *Deferred[T]) *Deferred[T] { return inner })
}

// Pair holds two values of possibly different types, as produced by Both
// and WithTimeout.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Both waits for both a and b, returning their values as a pair once both
// are determined.
func Both[A, B any](s *Scheduler, a *Deferred[A], b *Deferred[B]) *Deferred[Pair[A, B]] {
	return Bind(s, a, func(av A) *Deferred[Pair[A, B]] {
		return Map(s, b, func(bv B) Pair[A, B] {
			return Pair[A, B]{First: av, Second: bv}
		})
	})
}

// All waits for every Deferred in ds, returning their values in the same
// order. If ds is empty, the result is immediately determined as an empty
// slice.
func All[T any](s *Scheduler, ds []*Deferred[T]) *Deferred[[]T] {
	if len(ds) == 0 {
		return Return(s, []T{})
	}
	results := make([]T, len(ds))
	remaining := len(ds)
	out := newIvar[[]T](s)
	ctx := s.currentContext
	for i, d := range ds {
		i := i
		d.uponWithCtx(ctx, func(v T) {
			results[i] = v
			remaining--
			if remaining == 0 {
				_ = out.Fill(results)
			}
		})
	}
	return out.Read()
}

// Choose returns a Deferred determined by whichever of a or b becomes
// determined first; the loser's eventual value, if any, is simply never
// observed (it is not an error for the loser to also complete later).
func Choose[T any](s *Scheduler, a, b *Deferred[T]) *Deferred[T] {
	out := newIvar[T](s)
	ctx := s.currentContext
	a.uponWithCtx(ctx, func(v T) { _ = out.FillIfEmpty(v) })
	b.uponWithCtx(ctx, func(v T) { _ = out.FillIfEmpty(v) })
	return out.Read()
}

// Any is Choose generalized to a slice: determined by whichever of ds
// becomes determined first.
func Any[T any](s *Scheduler, ds []*Deferred[T]) *Deferred[T] {
	out := newIvar[T](s)
	ctx := s.currentContext
	for _, d := range ds {
		d.uponWithCtx(ctx, func(v T) { _ = out.FillIfEmpty(v) })
	}
	return out.Read()
}

// AnyUnit is determined as soon as any one of ds is determined, discarding
// every value — useful for "wait until at least one of these events has
// happened" without caring which.
func AnyUnit[T any](s *Scheduler, ds []*Deferred[T]) *Deferred[struct{}] {
	out := newIvar[struct{}](s)
	ctx := s.currentContext
	for _, d := range ds {
		d.uponWithCtx(ctx, func(T) { _ = out.FillIfEmpty(struct{}{}) })
	}
	return out.Read()
}
