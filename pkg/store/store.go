package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
)

// UpdateMode selects how an entity-frame delta is applied.
type UpdateMode int

const (
	// ModeMerge adds/overwrites the delta's set kinds.
	ModeMerge UpdateMode = iota
	// ModeReplaceScope discards prior bindings and installs the delta
	// wholesale. Used on scope breaks.
	ModeReplaceScope
)

// lockLeaseTTL bounds how long a crashed holder can keep a conversation
// locked across replicas. Must exceed the longest request deadline.
const lockLeaseTTL = 3 * time.Minute

// lockPollInterval is the retry cadence while waiting for the cross-replica
// lease.
const lockPollInterval = 50 * time.Millisecond

// Store is the Conversation Store: one namespaced blob per conversation,
// TTL refreshed on every write, one writer per conversation at a time.
type Store struct {
	backend  Backend
	metrics  *Metrics
	maxTurns int
	ttl      time.Duration
	prefix   string
	lockWait time.Duration
	local    *keyedMutex
	now      func() time.Time
}

// New creates a conversation store over the given backend.
func New(backend Backend, metrics *Metrics, cfg *config.ConversationConfig) *Store {
	return &Store{
		backend:  backend,
		metrics:  metrics,
		maxTurns: cfg.MaxTurns,
		ttl:      cfg.TTL.Std(),
		prefix:   cfg.KeyPrefix,
		lockWait: cfg.LockWait.Std(),
		local:    newKeyedMutex(),
		now:      time.Now,
	}
}

// SetClock overrides the time source for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// MaxTurns returns the FIFO cap.
func (s *Store) MaxTurns() int { return s.maxTurns }

func (s *Store) historyKey(convID string) string {
	return fmt.Sprintf("%s:%s:history", s.prefix, convID)
}

func (s *Store) lockKey(convID string) string {
	return fmt.Sprintf("%s:%s:lock", s.prefix, convID)
}

// Load fetches a conversation. Returns ErrNotFound when none exists.
func (s *Store) Load(ctx context.Context, convID string) (*models.Conversation, error) {
	if s.metrics != nil {
		s.metrics.Reads.Inc()
	}
	blob, err := s.backend.Get(ctx, s.historyKey(convID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if s.metrics != nil {
				s.metrics.Misses.Inc()
			}
			return nil, ErrNotFound
		}
		if s.metrics != nil {
			s.metrics.Errors.Inc()
		}
		return nil, err
	}

	var conv models.Conversation
	if err := json.Unmarshal(blob, &conv); err != nil {
		if s.metrics != nil {
			s.metrics.Errors.Inc()
		}
		return nil, fmt.Errorf("corrupt conversation blob for %s: %w", convID, err)
	}
	return &conv, nil
}

// Save writes the conversation blob atomically and refreshes its TTL.
func (s *Store) Save(ctx context.Context, conv *models.Conversation) error {
	if s.metrics != nil {
		s.metrics.Writes.Inc()
	}
	blob, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	if err := s.backend.Set(ctx, s.historyKey(conv.ID), blob, s.ttl); err != nil {
		if s.metrics != nil {
			s.metrics.Errors.Inc()
		}
		return err
	}
	return nil
}

// AppendTurn pushes a turn (creating the conversation on first use), trims
// the FIFO, and refreshes the TTL in one write-through.
func (s *Store) AppendTurn(ctx context.Context, convID string, turn models.Turn) error {
	conv, err := s.Load(ctx, convID)
	if errors.Is(err, ErrNotFound) {
		conv = models.NewConversation(convID, s.now())
	} else if err != nil {
		return err
	}
	conv.AppendTurn(turn, s.maxTurns)
	return s.Save(ctx, conv)
}

// UpdateEntities applies a frame delta with the given mode.
func (s *Store) UpdateEntities(ctx context.Context, convID string, delta models.EntityFrame, mode UpdateMode) error {
	conv, err := s.Load(ctx, convID)
	if errors.Is(err, ErrNotFound) {
		conv = models.NewConversation(convID, s.now())
	} else if err != nil {
		return err
	}
	switch mode {
	case ModeReplaceScope:
		conv.Frame = delta.Clone()
	default:
		conv.Frame.Merge(delta)
	}
	return s.Save(ctx, conv)
}

// SetLastResult records the artifact ids of the most recent data-bearing turn.
func (s *Store) SetLastResult(ctx context.Context, convID string, rs models.ResultSet) error {
	conv, err := s.Load(ctx, convID)
	if errors.Is(err, ErrNotFound) {
		conv = models.NewConversation(convID, s.now())
	} else if err != nil {
		return err
	}
	conv.LastResult = &rs
	return s.Save(ctx, conv)
}

// Clear deletes a conversation (explicit reset).
func (s *Store) Clear(ctx context.Context, convID string) error {
	if err := s.backend.Del(ctx, s.historyKey(convID)); err != nil {
		if s.metrics != nil {
			s.metrics.Errors.Inc()
		}
		return err
	}
	return nil
}

// Acquire serializes writers on one conversation: an in-process keyed mutex
// plus a cross-replica lease. Waits up to the configured lock_wait, then
// fails with ErrConversationBusy. The returned release must be called
// exactly once.
func (s *Store) Acquire(ctx context.Context, convID string) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	if err := s.local.acquire(waitCtx, convID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationBusy, convID)
	}

	lockKey := s.lockKey(convID)
	for {
		ok, lockErr := s.backend.TryLock(waitCtx, lockKey, lockLeaseTTL)
		if lockErr != nil {
			s.local.release(convID)
			if s.metrics != nil {
				s.metrics.Errors.Inc()
			}
			return nil, lockErr
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			s.local.release(convID)
			return nil, fmt.Errorf("%w: %s", ErrConversationBusy, convID)
		case <-time.After(lockPollInterval):
		}
	}

	return func() {
		// Release uses a fresh context: the request context may already be
		// cancelled, and leaving the lease to expire would block the
		// conversation for lockLeaseTTL.
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer unlockCancel()
		_ = s.backend.Unlock(unlockCtx, lockKey)
		s.local.release(convID)
	}, nil
}

// Ping reports backend health.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}
