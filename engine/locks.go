package engine

import "sync"

// treeLocks serializes transitions per instance tree. Every mutating
// operation locks the rootProcessInstanceId for its whole duration, so
// parent propagation and child spawning inside one tree never interleave.
type treeLocks struct {
	mu    sync.Mutex
	locks map[string]*treeLock
}

type treeLock struct {
	mu   sync.Mutex
	refs int
}

func newTreeLocks() *treeLocks {
	return &treeLocks{locks: make(map[string]*treeLock)}
}

func (t *treeLocks) Lock(key string) {
	t.mu.Lock()
	entry, ok := t.locks[key]
	if !ok {
		entry = &treeLock{}
		t.locks[key] = entry
	}
	entry.refs++
	t.mu.Unlock()
	entry.mu.Lock()
}

func (t *treeLocks) Unlock(key string) {
	t.mu.Lock()
	entry := t.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
	entry.mu.Unlock()
}
