package indexer

import (
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// lockSet hands out one IndexLock per collection, so runs against
// different collections never contend.
type lockSet struct {
	mu    sync.Mutex
	locks map[string]*IndexLock
}

func newLockSet() *lockSet {
	return &lockSet{locks: make(map[string]*IndexLock)}
}

func (s *lockSet) forCollection(collection string) *IndexLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[collection]
	if !ok {
		lock = &IndexLock{}
		s.locks[collection] = lock
	}
	return lock
}
