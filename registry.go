package kernel

import "weak"

// registry.go adapts eventloop/registry.go's weak.Pointer-based promise
// registry to ivarCore: a ring of weak references the Scheduler can
// periodically scavenge, so a long-lived Scheduler can report how many
// ivars are still reachable without itself keeping every ivar ever created
// alive. Unlike a promise registry wired to RejectAll-on-shutdown, this one
// drives no shutdown semantics of its own — an Ivar that's simply abandoned
// (GC'd with nothing ever reading it) is not an error condition here.
type ivarRegistry struct {
	refs []weak.Pointer[ivarCore]
	next int
}

const ivarRegistryRingSize = 1024

func newIvarRegistry() *ivarRegistry {
	return &ivarRegistry{refs: make([]weak.Pointer[ivarCore], 0, ivarRegistryRingSize)}
}

// track records c in the registry, recycling the oldest slot once the ring
// is full (the oldest entry is simply dropped — if it was already collected
// this is free; if not, it is just no longer scavenge-tracked, which only
// affects the accuracy of LiveCount, not correctness).
func (r *ivarRegistry) track(c *ivarCore) {
	wp := c.weak()
	if len(r.refs) < cap(r.refs) {
		r.refs = append(r.refs, wp)
		return
	}
	r.refs[r.next] = wp
	r.next = (r.next + 1) % len(r.refs)
}

// LiveCount returns how many tracked ivars are still reachable, compacting
// dead entries out of the ring as a side effect.
func (r *ivarRegistry) LiveCount() int {
	live := r.refs[:0]
	count := 0
	for _, wp := range r.refs {
		if wp.Value() != nil {
			live = append(live, wp)
			count++
		}
	}
	r.refs = live
	r.next = 0
	return count
}
