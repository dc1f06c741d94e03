package store

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend implements Backend in process memory with lazy TTL expiry.
// It serves two roles: the degradation fallback when Redis is unreachable,
// and a hermetic backend for tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests use this to exercise TTL expiry
// without sleeping.
func (b *MemoryBackend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// get returns a live entry, expiring it lazily. Caller holds b.mu.
func (b *MemoryBackend) get(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !b.now().Before(e.expiresAt) {
		delete(b.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements Backend.
func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
	return nil
}

// Del implements Backend.
func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// TryLock implements Backend.
func (b *MemoryBackend) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, held := b.get(key); held {
		return false, nil
	}
	e := memoryEntry{value: []byte("1")}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
	return true, nil
}

// Unlock implements Backend.
func (b *MemoryBackend) Unlock(ctx context.Context, key string) error {
	return b.Del(ctx, key)
}

// Ping implements Backend.
func (b *MemoryBackend) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of live keys. Used by tests.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key := range b.entries {
		if _, ok := b.get(key); ok {
			n++
		}
	}
	return n
}
