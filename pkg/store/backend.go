// Package store persists per-conversation state as a single namespaced
// blob with TTL, behind a thin key-value backend interface. A Redis
// backend is the production path; an in-memory backend implements the
// same contract (including TTL) and doubles as the degradation fallback,
// so the planner is agnostic to which is active.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrConversationBusy is returned when another writer held the
	// per-conversation lock beyond the bounded wait.
	ErrConversationBusy = errors.New("conversation busy")

	// ErrBackendUnavailable wraps backend I/O failures.
	ErrBackendUnavailable = errors.New("store backend unavailable")
)

// Backend is the minimal key-value contract both store implementations
// satisfy. Values are opaque blobs; TTL is refreshed on every Set.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error

	// TryLock attempts to acquire a lease on key for ttl without blocking.
	// Returns false when another holder owns the lease.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error

	Ping(ctx context.Context) error
}
