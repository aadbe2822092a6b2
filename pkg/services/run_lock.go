package services

import "sync"

// runLocks serializes read-modify-write cycles on a single run record.
// Entries are dropped once no caller holds or waits on them.
type runLocks struct {
	mu    sync.Mutex
	locks map[string]*runLock
}

type runLock struct {
	mu      sync.Mutex
	waiters int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[string]*runLock)}
}

// lock blocks until runID is free and returns the matching unlock.
func (l *runLocks) lock(runID string) func() {
	l.mu.Lock()

	entry, ok := l.locks[runID]
	if !ok {
		entry = &runLock{}
		l.locks[runID] = entry
	}

	entry.waiters++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.waiters--

		if entry.waiters == 0 {
			delete(l.locks, runID)
		}

		l.mu.Unlock()
	}
}
