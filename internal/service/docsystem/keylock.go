package docsystem

import (
	"sync"

	models "scrapbook/internal/domain/models/docsystem"
)

// keyLock hands out one mutex per document key. Entries are reference
// counted and removed when the last holder unlocks, so the map only holds
// keys with in-flight commits.
type keyLock struct {
	mu    sync.Mutex
	locks map[models.DocumentKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[models.DocumentKey]*refMutex)}
}

// Lock blocks until key is held and returns the unlock func
func (k *keyLock) Lock(key models.DocumentKey) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of keys currently tracked
func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
