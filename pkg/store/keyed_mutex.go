package store

import (
	"context"
	"sync"
)

// keyedMutex serializes writers per conversation key within one process.
// Entries are reference-counted and removed when the last waiter leaves,
// so the map does not grow with conversation churn.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{} // capacity 1; holding the token = holding the lock
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// acquire blocks until the key's lock is held or ctx expires.
func (m *keyedMutex) acquire(ctx context.Context, key string) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.drop(key)
		return ctx.Err()
	}
}

// release frees the key's lock.
func (m *keyedMutex) release(key string) {
	m.mu.Lock()
	l, ok := m.locks[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-l.ch
	m.drop(key)
}

func (m *keyedMutex) drop(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok {
		l.refs--
		if l.refs <= 0 {
			delete(m.locks, key)
		}
	}
}
