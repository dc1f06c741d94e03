package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// FailoverBackend serves every operation from the primary backend and
// degrades to the fallback when the primary is unavailable. A fallback hit
// marks the request's DegradationFlag (if one is on the context) and bumps
// the fallbacks counter. ErrNotFound is a result, not a failure: it never
// triggers fallback.
type FailoverBackend struct {
	primary  Backend
	fallback Backend
	metrics  *Metrics
}

// NewFailoverBackend composes primary and fallback backends.
func NewFailoverBackend(primary, fallback Backend, metrics *Metrics) *FailoverBackend {
	return &FailoverBackend{primary: primary, fallback: fallback, metrics: metrics}
}

func (b *FailoverBackend) degrade(ctx context.Context, op string, err error) {
	slog.Warn("Store primary unavailable, using in-memory fallback",
		"op", op, "error", err)
	if b.metrics != nil {
		b.metrics.Fallbacks.Inc()
	}
	markDegraded(ctx)
}

// Get implements Backend.
func (b *FailoverBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.primary.Get(ctx, key)
	if err != nil && errors.Is(err, ErrBackendUnavailable) {
		b.degrade(ctx, "get", err)
		return b.fallback.Get(ctx, key)
	}
	return val, err
}

// Set implements Backend.
func (b *FailoverBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.primary.Set(ctx, key, value, ttl)
	if err != nil && errors.Is(err, ErrBackendUnavailable) {
		b.degrade(ctx, "set", err)
		return b.fallback.Set(ctx, key, value, ttl)
	}
	return err
}

// Del implements Backend.
func (b *FailoverBackend) Del(ctx context.Context, key string) error {
	err := b.primary.Del(ctx, key)
	if err != nil && errors.Is(err, ErrBackendUnavailable) {
		b.degrade(ctx, "del", err)
		return b.fallback.Del(ctx, key)
	}
	return err
}

// TryLock implements Backend.
func (b *FailoverBackend) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.primary.TryLock(ctx, key, ttl)
	if err != nil && errors.Is(err, ErrBackendUnavailable) {
		b.degrade(ctx, "trylock", err)
		return b.fallback.TryLock(ctx, key, ttl)
	}
	return ok, err
}

// Unlock implements Backend.
func (b *FailoverBackend) Unlock(ctx context.Context, key string) error {
	err := b.primary.Unlock(ctx, key)
	if err != nil && errors.Is(err, ErrBackendUnavailable) {
		b.degrade(ctx, "unlock", err)
		return b.fallback.Unlock(ctx, key)
	}
	return err
}

// Ping implements Backend. Reports primary health only; the fallback is
// always nominally healthy.
func (b *FailoverBackend) Ping(ctx context.Context) error {
	return b.primary.Ping(ctx)
}
