package kernel

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
)

// threadcheck.go backs WithDetectInvalidAccessFromThread: an opt-in guard
// that panics the first time an Ivar is touched from a goroutine other than
// the one driving the Scheduler's cycles. There is no public API for a
// goroutine's identity, so this parses it out of the calling goroutine's own
// stack trace header ("goroutine 123 [running]:") the way most
// goroutine-local-storage shims do in the absence of one.

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// checkOwnerThread enforces single-goroutine ownership when
// detectInvalidAccessFromThread is enabled. The first call binds the owner;
// every later call must come from that same goroutine. A no-op otherwise.
func (s *Scheduler) checkOwnerThread() {
	if !s.opts.detectInvalidAccessFromThread {
		return
	}
	id := currentGoroutineID()
	if !s.ownerSet {
		s.ownerGoroutine = id
		s.ownerSet = true
		return
	}
	if id != s.ownerGoroutine {
		panic(fmt.Sprintf("kernel: accessed from goroutine %d, owned by goroutine %d (WithDetectInvalidAccessFromThread)", id, s.ownerGoroutine))
	}
}
