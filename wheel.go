package kernel

import "fmt"

// wheel.go implements a hierarchical timing wheel: a multi-level bucketed
// structure where each level's buckets are longer-spanning than the level
// below it, alarms cascade down one level each time the level below
// completes a full rotation, and addition/removal are O(1) (amortized, for
// cascading) via intrusive doubly-linked bucket lists — the same O(1)-
// removal discipline ivar.go's handler lists use for Deferred
// subscribers, applied here to timers instead.

// TimingWheelConfig describes the shape of a TimingWheel: the bit-width of
// each level (2^bits buckets per level) and the duration a single level-0
// bucket spans. Level i's bucket span is level (i-1)'s total span
// (2^bits[i-1] * span[i-1]), so the wheel's horizon is the product of every
// level's bucket count and the base resolution.
type TimingWheelConfig struct {
	LevelBits      []uint
	BaseResolution Span
}

// DefaultTimingWheelConfig returns the kernel's default wheel shape: five
// levels of 6 bits (64 buckets) each, at 1ms base resolution, giving a
// horizon of roughly 1ms * 64^5 ≈ 12.4 days — ample for any practical
// with_timeout/at_intervals use while keeping level count (and therefore
// MinAlarmTime's O(L) cost) small.
func DefaultTimingWheelConfig() TimingWheelConfig {
	return TimingWheelConfig{
		LevelBits:      []uint{6, 6, 6, 6, 6},
		BaseResolution: Span(1_000_000), // 1ms, in nanoseconds
	}
}

type alarmNode struct {
	at      Time
	payload any
	level   int
	prev    *alarmNode
	next    *alarmNode
	inWheel bool
}

// AlarmRef is an opaque handle to a pending entry in a TimingWheel, returned
// by Add and consumed by Remove.
type AlarmRef struct {
	node *alarmNode
}

// Valid reports whether the AlarmRef refers to an entry still pending in the
// wheel (not yet fired or removed).
func (r AlarmRef) Valid() bool { return r.node != nil && r.node.inWheel }

type wheelLevel struct {
	bits       uint
	size       int
	resolution Span // duration spanned by a single bucket at this level
	cursor     int
	buckets    []*alarmNode // one sentinel per bucket, circular doubly-linked list
	minAt      Time
	minValid   bool
}

func newWheelLevel(bits uint, resolution Span) wheelLevel {
	size := 1 << bits
	buckets := make([]*alarmNode, size)
	for i := range buckets {
		sentinel := &alarmNode{}
		sentinel.prev, sentinel.next = sentinel, sentinel
		buckets[i] = sentinel
	}
	return wheelLevel{bits: bits, size: size, resolution: resolution, buckets: buckets}
}

func bucketPush(sentinel, node *alarmNode) {
	node.next = sentinel.next
	node.prev = sentinel
	sentinel.next.prev = node
	sentinel.next = node
	node.inWheel = true
}

func bucketRemove(node *alarmNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.prev = nil
	node.next = nil
	node.inWheel = false
}

// bucketDrain removes and returns every node in sentinel's bucket, resetting
// the bucket to empty.
func bucketDrain(sentinel *alarmNode) []*alarmNode {
	var out []*alarmNode
	for n := sentinel.next; n != sentinel; {
		next := n.next
		n.prev, n.next = nil, nil
		n.inWheel = false
		out = append(out, n)
		n = next
	}
	sentinel.next, sentinel.prev = sentinel, sentinel
	return out
}

// TimingWheel is a hierarchical bucketed schedule of future-dated events. It
// is not safe for concurrent use — like the rest of the kernel's core
// state, it is owned exclusively by the Scheduler's single goroutine.
type TimingWheel struct {
	levels []wheelLevel
	now    Time
	count  int
}

// NewTimingWheel creates a TimingWheel whose current time is start.
func NewTimingWheel(cfg TimingWheelConfig, start Time) *TimingWheel {
	if len(cfg.LevelBits) == 0 {
		cfg = DefaultTimingWheelConfig()
	}
	w := &TimingWheel{now: start}
	resolution := cfg.BaseResolution
	if resolution <= 0 {
		resolution = Span(1_000_000)
	}
	for _, bits := range cfg.LevelBits {
		lvl := newWheelLevel(bits, resolution)
		w.levels = append(w.levels, lvl)
		resolution = resolution * Span(lvl.size)
	}
	return w
}

// Now returns the wheel's current time: the last level-0 tick boundary
// AdvanceTo reached, which can trail the time last passed to AdvanceTo by
// less than one base resolution.
func (w *TimingWheel) Now() Time { return w.now }

// Horizon returns the exclusive upper bound on the times the wheel can
// currently schedule: Add fails with ErrOutOfRange for an at at or past it.
func (w *TimingWheel) Horizon() Time {
	top := w.levels[len(w.levels)-1]
	return w.now.Add(Span(top.size) * top.resolution)
}

// Add schedules payload to fire at (or after) at, returning an AlarmRef that
// Remove can later use to cancel it. An at at or before the wheel's current
// time is placed in the next-to-fire bucket rather than invoked inline — it
// fires on the next AdvanceTo. Add fails with ErrOutOfRange if at is beyond
// the wheel's horizon.
func (w *TimingWheel) Add(at Time, payload any) (AlarmRef, error) {
	node := &alarmNode{at: at, payload: payload}
	if err := w.place(node); err != nil {
		return AlarmRef{}, err
	}
	w.count++
	return AlarmRef{node: node}, nil
}

// place inserts node into the correct bucket for its `at` relative to the
// wheel's current time, choosing the lowest level whose range covers the
// remaining delay.
func (w *TimingWheel) place(node *alarmNode) error {
	delay := node.at.Sub(w.now)
	if delay <= 0 {
		lvl := &w.levels[0]
		idx := (lvl.cursor + 1) % lvl.size
		node.level = 0
		bucketPush(lvl.buckets[idx], node)
		w.touchMin(0, node.at)
		return nil
	}

	for i := range w.levels {
		lvl := &w.levels[i]
		levelRange := lvl.resolution * Span(lvl.size)
		if delay < levelRange {
			var offset int
			if i == 0 {
				// Level 0 buckets fire directly (no further redistribution),
				// so the offset must land the alarm at the exact tick its
				// delay demands.
				offset = int(delay/lvl.resolution) + 1
				if Span(offset-1)*lvl.resolution == delay {
					offset-- // exact multiple: lands precisely
				}
			} else {
				// Higher levels only redistribute, not fire: the bucket
				// visited at elapsed time offset*resolution recomputes the
				// alarm's remaining delay and re-places it, so offset must
				// be the largest rotation count not exceeding delay (floor),
				// guaranteeing the remainder fits within this level's own
				// resolution (one full rotation of the level below).
				offset = int(delay / lvl.resolution)
			}
			if offset < 1 {
				offset = 1
			}
			if offset > lvl.size {
				offset = lvl.size
			}
			idx := (lvl.cursor + offset) % lvl.size
			node.level = i
			bucketPush(lvl.buckets[idx], node)
			w.touchMin(i, node.at)
			return nil
		}
	}
	return ErrOutOfRange
}

func (w *TimingWheel) touchMin(level int, at Time) {
	lvl := &w.levels[level]
	if !lvl.minValid || at < lvl.minAt {
		lvl.minAt = at
		lvl.minValid = true
	}
}

// Remove cancels a pending alarm. It is a no-op, returning false, if the
// alarm has already fired or been removed.
func (w *TimingWheel) Remove(ref AlarmRef) bool {
	if !ref.Valid() {
		return false
	}
	node := ref.node
	level := node.level
	at := node.at
	bucketRemove(node)
	w.count--
	lvl := &w.levels[level]
	if lvl.minValid && at == lvl.minAt {
		lvl.minValid = false // recomputed lazily, see recomputeLevelMin
	}
	return true
}

// recomputeLevelMin rescans a single level's buckets for its minimum
// pending `at`. Bounded by that level's bucket count, independent of the
// total number of alarms in the wheel.
func (w *TimingWheel) recomputeLevelMin(level int) {
	lvl := &w.levels[level]
	var min Time
	found := false
	for _, sentinel := range lvl.buckets {
		for n := sentinel.next; n != sentinel; n = n.next {
			if !found || n.at < min {
				min = n.at
				found = true
			}
		}
	}
	lvl.minAt = min
	lvl.minValid = found
}

// MinAlarmTime returns the earliest pending alarm's time, or false if the
// wheel holds no alarms. Cost is bounded by the level count plus, only on a
// cache miss (an exact-minimum alarm having just been removed), a rescan of
// that one level's buckets.
func (w *TimingWheel) MinAlarmTime() (Time, bool) {
	var (
		min   Time
		found bool
	)
	for i := range w.levels {
		lvl := &w.levels[i]
		if !lvl.minValid {
			w.recomputeLevelMin(i)
		}
		if lvl.minValid && (!found || lvl.minAt < min) {
			min = lvl.minAt
			found = true
		}
	}
	return min, found
}

// AdvanceTo moves the wheel's current time forward by every whole
// base-resolution tick that fits before now (a no-op if now is not after the
// current time) and returns every payload whose alarm time is at or before
// now, in the order their buckets were crossed. Fired alarms are removed
// from the wheel; no alarm fires before its time.
//
// Ticks where nothing is due at any level are skipped by advancing every
// level's cursor directly (skipTicks, a carry across at most len(levels)
// digits) instead of visiting them one base-resolution unit at a time;
// nextEventTicks finds the next tick actually worth visiting, so only ticks
// where something fires or cascades are processed bucket-by-bucket.
func (w *TimingWheel) AdvanceTo(now Time) []any {
	if now <= w.now {
		return nil
	}
	if w.count == 0 {
		// Fast path: nothing scheduled, so there is nothing to cascade or
		// fire — jump directly instead of ticking bucket-by-bucket.
		w.now = now
		return nil
	}

	var fired []any
	base := w.levels[0].resolution
	for now.Sub(w.now) >= base {
		maxTicks := int64(now.Sub(w.now) / base)
		ticks := w.nextEventTicks()
		if ticks <= 0 || ticks > maxTicks {
			ticks = maxTicks
		}
		if ticks > 1 {
			w.skipTicks(ticks - 1)
			w.now = w.now.Add(Span(ticks-1) * base)
		}
		w.now = w.now.Add(base)
		fired = append(fired, w.tickLevel0()...)
	}
	// now lies inside the next level-0 tick: fire the alarms in that tick's
	// bucket that are already due, leaving the rest for the tick itself.
	lvl := &w.levels[0]
	sentinel := lvl.buckets[(lvl.cursor+1)%lvl.size]
	for n := sentinel.next; n != sentinel; {
		next := n.next
		if n.at <= now {
			bucketRemove(n)
			w.count--
			lvl.minValid = false
			fired = append(fired, n.payload)
		}
		n = next
	}
	return fired
}

// nextEventTicks returns the number of level-0 ticks until the nearest
// bucket holding something actually fires (level 0) or comes due to
// cascade (every other level, on its fixed rotation schedule — a level i
// bucket is visited once every periods[i] ticks, precisely when levels
// 0..i-1 have collectively completed a rotation, independent of what it
// holds). Cost is bounded by the sum of the levels' bucket counts, never by
// the number of ticks being skipped.
func (w *TimingWheel) nextEventTicks() int64 {
	levels := w.levels
	periods := make([]int64, len(levels)+1)
	periods[0] = 1
	for i, lvl := range levels {
		periods[i+1] = periods[i] * int64(lvl.size)
	}

	best := int64(-1)
	consider := func(candidate int64) {
		if best < 0 || candidate < best {
			best = candidate
		}
	}

	lvl0 := &levels[0]
	for off := 1; off <= lvl0.size; off++ {
		idx := (lvl0.cursor + off) % lvl0.size
		if bucketNonEmpty(lvl0.buckets[idx]) {
			consider(int64(off))
			break
		}
	}

	// combined tracks combinedValue(i): the elapsed-tick offset, within
	// level i's cascade period, that levels 0..i-1's cursors represent.
	combined := int64(0)
	for i := 1; i < len(levels); i++ {
		combined += int64(levels[i-1].cursor) * periods[i-1]
		lvl := &levels[i]
		ticksToWrap := periods[i] - combined%periods[i]
		for k := 0; k < lvl.size; k++ {
			idx := (lvl.cursor + 1 + k) % lvl.size
			if bucketNonEmpty(lvl.buckets[idx]) {
				consider(ticksToWrap + int64(k)*periods[i])
				break
			}
		}
	}

	return best
}

func bucketNonEmpty(sentinel *alarmNode) bool { return sentinel.next != sentinel }

// skipTicks advances every level's cursor by n level-0 ticks directly, via
// the same carry propagation repeated level-0 wraps would produce, without
// draining or cascading any bucket. Safe only when every bucket that would
// be crossed is empty — nextEventTicks guarantees AdvanceTo never calls this
// past a bucket holding something.
func (w *TimingWheel) skipTicks(n int64) {
	carry := n
	for i := range w.levels {
		lvl := &w.levels[i]
		size := int64(lvl.size)
		total := int64(lvl.cursor) + carry
		lvl.cursor = int(total % size)
		carry = total / size
		if carry == 0 {
			break
		}
	}
}

// tickLevel0 advances level 0's cursor by one bucket, collecting its fired
// alarms, then cascades higher levels whenever the level below them
// completes a full rotation.
func (w *TimingWheel) tickLevel0() []any {
	lvl := &w.levels[0]
	lvl.cursor = (lvl.cursor + 1) % lvl.size
	nodes := bucketDrain(lvl.buckets[lvl.cursor])
	if !lvl.minValid || len(nodes) > 0 {
		lvl.minValid = false
	}
	fired := make([]any, 0, len(nodes))
	for _, n := range nodes {
		w.count--
		fired = append(fired, n.payload)
	}

	if lvl.cursor == 0 {
		w.cascade(1)
	}
	return fired
}

// cascade redistributes the alarms in level `level`'s current bucket into
// lower levels (their delay now fits, by construction of the level sizing),
// advancing that level's cursor and recursing upward if it, too, completes a
// rotation.
func (w *TimingWheel) cascade(level int) {
	if level >= len(w.levels) {
		return
	}
	lvl := &w.levels[level]
	lvl.cursor = (lvl.cursor + 1) % lvl.size
	nodes := bucketDrain(lvl.buckets[lvl.cursor])
	lvl.minValid = false
	for _, n := range nodes {
		w.count--
		// Count was decremented for bookkeeping consistency with place(),
		// which increments it again via re-insertion below — net effect is
		// zero for alarms that are merely demoted, not fired.
		n.prev, n.next = nil, nil
		_ = w.place(n)
		w.count++
	}
	if lvl.cursor == 0 {
		w.cascade(level + 1)
	}
}

// Len returns the number of alarms currently pending in the wheel.
func (w *TimingWheel) Len() int { return w.count }

// checkInvariants verifies w.count matches the number of nodes actually
// linked into its buckets. Used only when WithCheckInvariants is enabled;
// cost is proportional to the number of pending alarms.
func (w *TimingWheel) checkInvariants() error {
	n := 0
	for _, lvl := range w.levels {
		for _, sentinel := range lvl.buckets {
			for node := sentinel.next; node != sentinel; node = node.next {
				n++
			}
		}
	}
	if n != w.count {
		return fmt.Errorf("kernel: timing wheel count mismatch: tracked %d, linked %d", w.count, n)
	}
	return nil
}
