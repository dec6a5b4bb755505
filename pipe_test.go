package kernel

import "testing"

func TestPipeCapacityBackpressure(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 2)

	if err, ok := p.Write(1).Peek(); !ok || err != nil {
		t.Fatalf("write 1: %v %v", err, ok)
	}
	_ = s.RunCycle()
	if err, ok := p.Write(2).Peek(); !ok || err != nil {
		t.Fatalf("write 2: %v %v", err, ok)
	}
	_ = s.RunCycle()

	// Pipe is now at capacity 2; a third write must block until a read
	// makes room.
	w3 := p.Write(3)
	_ = s.RunCycle()
	if _, ok := w3.Peek(); ok {
		t.Fatal("third write completed despite pipe being at capacity")
	}

	r := p.Read()
	_ = s.RunCycle()
	pr, ok := r.Peek()
	if !ok || pr.First != 1 {
		t.Fatalf("got %v %v, want (1,true)", pr, ok)
	}

	_ = s.RunCycle()
	if _, ok := w3.Peek(); !ok {
		t.Fatal("third write did not unblock after a read freed capacity")
	}
}

func TestPipeOrderPreservation(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 10)
	for i := 0; i < 5; i++ {
		_ = p.WriteWithoutPushback(i)
	}
	var got []int
	for i := 0; i < 5; i++ {
		pr, ok := p.ReadNow()
		if !ok {
			t.Fatalf("expected value at i=%d", i)
		}
		got = append(got, pr)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got %v, want [0 1 2 3 4]", got)
		}
	}
}

func TestPipeCloseDrainsThenEOF(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 4)
	_ = p.WriteWithoutPushback(1)
	p.Close()

	r1 := p.Read()
	_ = s.RunCycle()
	pr, ok := r1.Peek()
	if !ok || !pr.Second || pr.First != 1 {
		t.Fatalf("got %v %v, want (1,true)", pr, ok)
	}

	r2 := p.Read()
	_ = s.RunCycle()
	pr2, ok := r2.Peek()
	if !ok || pr2.Second {
		t.Fatalf("got %v %v, want (_,false) end-of-pipe", pr2, ok)
	}
}

func TestPipeCloseReleasesPendingRead(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 4)

	r := p.Read()
	_ = s.RunCycle()
	if _, ok := r.Peek(); ok {
		t.Fatal("read resolved before anything was written or closed")
	}

	p.Close()
	_ = s.RunCycle()

	pr, ok := r.Peek()
	if !ok || pr.Second {
		t.Fatalf("got %v %v, want (_,false) once a pending read's pipe closes empty", pr, ok)
	}
}

func TestPipeCloseReadSignalsPendingWriter(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 1)
	_ = p.Write(1)
	_ = s.RunCycle()

	w2 := p.Write(2) // blocks: pipe is at capacity
	_ = s.RunCycle()
	if _, ok := w2.Peek(); ok {
		t.Fatal("second write completed despite pipe being at capacity")
	}

	p.CloseRead()
	_ = s.RunCycle()

	err, ok := w2.Peek()
	if !ok || err != ErrClosed {
		t.Fatalf("got %v %v, want ErrClosed once CloseRead drops a blocked writer", err, ok)
	}
}

func TestPipeCloseReadDropsBufferedValues(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 4)
	_ = p.WriteWithoutPushback(1)
	_ = p.WriteWithoutPushback(2)

	p.CloseRead()

	if v, ok := p.ReadNow(); ok {
		t.Fatalf("got (%v,true), want buffered values dropped by CloseRead", v)
	}
	if !p.IsReadClosed() {
		t.Fatal("IsReadClosed false after CloseRead")
	}
}

func TestPipeWriteAfterCloseFails(t *testing.T) {
	s := newTestScheduler(t)
	p := NewPipe[int](s, 4)
	p.Close()
	err, ok := p.Write(1).Peek()
	if !ok || err != ErrClosed {
		t.Fatalf("got %v %v, want ErrClosed", err, ok)
	}
}
