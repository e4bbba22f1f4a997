package utils

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a test-and-set lock. Waiters yield the processor between attempts, but critical
// sections guarded by it must still be short and must never block.
type SpinLock struct {
	state atomic.Int32
}

func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

func (l *SpinLock) Unlock() {
	if !l.state.CompareAndSwap(1, 0) {
		panic("unlock of unlocked spinlock")
	}
}

type OptionalSpinLock struct {
	Spin    SpinLock
	UseLock bool
}

func (l *OptionalSpinLock) Lock() {
	if l.UseLock {
		l.Spin.Lock()
	}
}

func (l *OptionalSpinLock) Unlock() {
	if l.UseLock {
		l.Spin.Unlock()
	}
}
