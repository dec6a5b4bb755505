package kernel

import "testing"

func TestBothWaitsForBothSides(t *testing.T) {
	s := newTestScheduler(t)
	a := NewIvar[int](s)
	b := NewIvar[string](s)

	pair := Both(s, a.Read(), b.Read())
	_ = a.Fill(1)
	_ = s.RunCycle()
	if _, ok := pair.Peek(); ok {
		t.Fatal("Both resolved before its second side was determined")
	}

	_ = b.Fill("x")
	_ = s.RunCycle()
	_ = s.RunCycle()

	v, ok := pair.Peek()
	if !ok || v.First != 1 || v.Second != "x" {
		t.Fatalf("got %v %v, want (1,x) true", v, ok)
	}
}

func TestJoinFlattensOneLevel(t *testing.T) {
	s := newTestScheduler(t)
	inner := Return(s, 5)
	outer := Return(s, inner)
	flat := Join(s, outer)

	var got int
	flat.Upon(func(v int) { got = v })
	_ = s.RunCycle()
	_ = s.RunCycle()
	if got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
}

func TestIgnoreDiscardsValue(t *testing.T) {
	s := newTestScheduler(t)
	d := Return(s, "payload")
	done := Ignore(s, d)
	_ = s.RunCycle()
	if _, ok := done.Peek(); !ok {
		t.Fatal("Ignore never resolved")
	}
}

func TestAnyUnitResolvesOnFirstCompletion(t *testing.T) {
	s := newTestScheduler(t)
	a := NewIvar[int](s)
	b := NewIvar[int](s)

	done := AnyUnit(s, []*Deferred[int]{a.Read(), b.Read()})
	_ = b.Fill(2)
	_ = s.RunCycle()

	if _, ok := done.Peek(); !ok {
		t.Fatal("AnyUnit did not resolve once one input was determined")
	}
}

func TestNeverStaysUndetermined(t *testing.T) {
	s := newTestScheduler(t)
	d := Never[int](s)
	for i := 0; i < 5; i++ {
		_ = s.RunCycle()
	}
	if _, ok := d.Peek(); ok {
		t.Fatal("Never resolved on its own")
	}
}

func TestAllWaitsForEveryElement(t *testing.T) {
	s := newTestScheduler(t)
	a := NewIvar[int](s)
	b := NewIvar[int](s)
	c := NewIvar[int](s)

	d := All(s, []*Deferred[int]{a.Read(), b.Read(), c.Read()})
	_ = b.Fill(2)
	_ = s.RunCycle()
	if _, ok := d.Peek(); ok {
		t.Fatal("All resolved before every element was determined")
	}

	_ = a.Fill(1)
	_ = c.Fill(3)
	_ = s.RunCycle()

	got, ok := d.Peek()
	if !ok || len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("got %v %v, want [1 2 3] true", got, ok)
	}
}

func TestAllOnEmptySliceResolvesImmediately(t *testing.T) {
	s := newTestScheduler(t)
	d := All[int](s, nil)
	if got, ok := d.Peek(); !ok || len(got) != 0 {
		t.Fatalf("got %v %v, want [] true", got, ok)
	}
}

func TestChooseResolvesWithFirstCompletion(t *testing.T) {
	s := newTestScheduler(t)
	a := NewIvar[int](s)
	b := NewIvar[int](s)

	d := Choose(s, a.Read(), b.Read())
	_ = b.Fill(9)
	_ = s.RunCycle()
	_ = a.Fill(1)
	_ = s.RunCycle()

	v, ok := d.Peek()
	if !ok || v != 9 {
		t.Fatalf("got %v %v, want 9 true", v, ok)
	}
}

func TestAnyResolvesWithFirstValue(t *testing.T) {
	s := newTestScheduler(t)
	a := NewIvar[int](s)
	b := NewIvar[int](s)

	d := Any(s, []*Deferred[int]{a.Read(), b.Read()})
	_ = a.Fill(11)
	_ = s.RunCycle()
	_ = b.Fill(22)
	_ = s.RunCycle()

	v, ok := d.Peek()
	if !ok || v != 11 {
		t.Fatalf("got %v %v, want 11 true", v, ok)
	}
}
