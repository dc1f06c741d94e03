package respcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/store"
)

func intPtr(v int) *int { return &v }

func testCacheConfig() *config.CacheConfig {
	return &config.CacheConfig{
		DataQueryTTL:   config.Duration(4 * time.Hour),
		StatisticalTTL: config.Duration(24 * time.Hour),
		MaxEntries:     3,
	}
}

func TestBuildKey(t *testing.T) {
	frame := models.EntityFrame{GovernmentNumber: intPtr(37), Topic: "חינוך"}

	t.Run("deterministic", func(t *testing.T) {
		a := BuildKey("v1", "החלטות ממשלה 37", frame)
		b := BuildKey("v1", "החלטות ממשלה 37", frame)
		assert.Equal(t, a, b)
	})

	t.Run("whitespace and case normalize away", func(t *testing.T) {
		a := BuildKey("v1", "  החלטות   ממשלה 37 ", frame)
		b := BuildKey("v1", "החלטות ממשלה 37", frame)
		assert.Equal(t, a, b)
	})

	t.Run("pipeline version partitions keys", func(t *testing.T) {
		assert.NotEqual(t,
			BuildKey("v1", "שאילתה", frame),
			BuildKey("v2", "שאילתה", frame))
	})

	t.Run("entity frame partitions keys", func(t *testing.T) {
		other := models.EntityFrame{GovernmentNumber: intPtr(36), Topic: "חינוך"}
		assert.NotEqual(t,
			BuildKey("v1", "שאילתה", frame),
			BuildKey("v1", "שאילתה", other))
	})

	t.Run("decision number does not enter the key", func(t *testing.T) {
		withDecision := frame.Clone()
		withDecision.DecisionNumber = intPtr(2983)
		assert.Equal(t,
			BuildKey("v1", "שאילתה", frame),
			BuildKey("v1", "שאילתה", withDecision))
	})
}

func TestCache_GetPut(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	cache := New(backend, testCacheConfig(), nil)

	entry := Entry{
		Response:        "תשובה",
		Intent:          models.IntentDataQuery,
		PipelineVersion: "v1",
		OriginConvID:    "c1",
		CreatedAt:       time.Now(),
	}

	t.Run("miss before write", func(t *testing.T) {
		_, err := cache.Get(ctx, "respcache:k1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("round-trips the entry", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, "respcache:k1", entry))
		got, err := cache.Get(ctx, "respcache:k1")
		require.NoError(t, err)
		assert.Equal(t, "תשובה", got.Response)
		assert.Equal(t, models.IntentDataQuery, got.Intent)
		assert.Equal(t, "v1", got.PipelineVersion)
	})
}

func TestCache_TTLByIntent(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	cache := New(backend, testCacheConfig(), nil)

	now := time.Now()
	backend.SetClock(func() time.Time { return now })

	require.NoError(t, cache.Put(ctx, "respcache:data", Entry{Intent: models.IntentDataQuery}))
	require.NoError(t, cache.Put(ctx, "respcache:stat", Entry{Intent: models.IntentStatistical}))

	// Past the DATA_QUERY TTL but inside the STATISTICAL one.
	now = now.Add(5 * time.Hour)

	_, err := cache.Get(ctx, "respcache:data")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = cache.Get(ctx, "respcache:stat")
	assert.NoError(t, err)
}

func TestCache_HardCapEviction(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	cache := New(backend, testCacheConfig(), nil)

	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("respcache:k%d", i)
		require.NoError(t, cache.Put(ctx, key, Entry{Intent: models.IntentDataQuery}))
	}

	// Oldest write is evicted once the cap (3) is exceeded.
	_, err := cache.Get(ctx, "respcache:k0")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for i := 1; i < 4; i++ {
		_, err := cache.Get(ctx, fmt.Sprintf("respcache:k%d", i))
		assert.NoError(t, err)
	}
}
