// Package spinlock implements the lightweight spinlock spec.md §4.5 and
// §9 call for in the IVF parallel build. It guards the build's one shared
// counter, the nparticipantsdone-equivalent ivfflatLeader.done; the build
// keeps no shared reltuples/indtuples counters, since the leader computes
// tuple counts itself. Contention is brief (a counter increment), so
// spinning briefly before yielding beats a full mutex parking a goroutine.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a simple test-and-set spinlock that yields between failed
// compare-and-swap attempts.
type SpinLock struct {
	state int32
}

// Acquire spins until the lock is free, then takes it.
func (s *SpinLock) Acquire() {
	for !atomic.CompareAndSwapInt32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

// Release frees the lock.
func (s *SpinLock) Release() {
	atomic.StoreInt32(&s.state, 0)
}

// With runs fn while holding the lock.
func (s *SpinLock) With(fn func()) {
	s.Acquire()
	defer s.Release()
	fn()
}
