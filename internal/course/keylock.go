package course

import "sync"

// keyedLocks serializes runs per course key. Two runs for the same key race
// on git state and the symlink swap; runs for different keys are independent.
// The locking is in-process only: callers running multiple coursesync
// processes against the same roots must serialize externally.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
