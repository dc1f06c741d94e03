package respcache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceci-ai/botchain/pkg/config"
	"github.com/ceci-ai/botchain/pkg/models"
	"github.com/ceci-ai/botchain/pkg/store"
)

// Entry is a memoized whole-pipeline answer plus origin metadata.
type Entry struct {
	Response        string        `json:"response"`
	Intent          models.Intent `json:"intent"`
	PipelineVersion string        `json:"pipeline_version"`
	OriginConvID    string        `json:"origin_conv_id"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Metrics exposes the cache's observable counters.
type Metrics struct {
	Hits   prometheus.Counter
	Misses prometheus.Counter
	Writes prometheus.Counter
	Errors prometheus.Counter
}

// NewMetrics registers the cache counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_response_cache_hits_total",
			Help: "Response cache hits.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_response_cache_misses_total",
			Help: "Response cache misses.",
		}),
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_response_cache_writes_total",
			Help: "Response cache writes.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_response_cache_errors_total",
			Help: "Response cache backend errors.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Hits, m.Misses, m.Writes, m.Errors)
	}
	return m
}

// Cache stores entries in the shared key-value backend with a per-intent
// TTL. A per-process recency index enforces the hard entry cap: when this
// replica's writes exceed the cap, the least recently written key is
// evicted. With multiple replicas the cap is approximate per replica;
// TTLs bound the total either way.
type Cache struct {
	backend store.Backend
	cfg     *config.CacheConfig
	metrics *Metrics

	mu      sync.Mutex
	recency *list.List               // front = most recently written
	index   map[string]*list.Element // key → recency node
}

// New creates a response cache over the given backend.
func New(backend store.Backend, cfg *config.CacheConfig, metrics *Metrics) *Cache {
	return &Cache{
		backend: backend,
		cfg:     cfg,
		metrics: metrics,
		recency: list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Get returns the entry for key, or store.ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	blob, err := c.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.Misses.Inc()
			}
			return nil, store.ErrNotFound
		}
		if c.metrics != nil {
			c.metrics.Errors.Inc()
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(blob, &entry); err != nil {
		if c.metrics != nil {
			c.metrics.Errors.Inc()
		}
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	if c.metrics != nil {
		c.metrics.Hits.Inc()
	}
	return &entry, nil
}

// Put stores an entry under key with the TTL for its intent.
func (c *Cache) Put(ctx context.Context, key string, entry Entry) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.backend.Set(ctx, key, blob, c.ttlFor(entry.Intent)); err != nil {
		if c.metrics != nil {
			c.metrics.Errors.Inc()
		}
		return err
	}
	if c.metrics != nil {
		c.metrics.Writes.Inc()
	}
	c.trackAndEvict(ctx, key)
	return nil
}

// ttlFor maps an intent to its configured TTL.
func (c *Cache) ttlFor(intent models.Intent) time.Duration {
	if intent == models.IntentStatistical {
		return c.cfg.StatisticalTTL.Std()
	}
	return c.cfg.DataQueryTTL.Std()
}

// trackAndEvict maintains the recency index and deletes the oldest entry
// once the per-replica cap is exceeded.
func (c *Cache) trackAndEvict(ctx context.Context, key string) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.recency.MoveToFront(el)
		c.mu.Unlock()
		return
	}
	c.index[key] = c.recency.PushFront(key)

	var evict string
	if c.cfg.MaxEntries > 0 && c.recency.Len() > c.cfg.MaxEntries {
		oldest := c.recency.Back()
		evict = oldest.Value.(string)
		c.recency.Remove(oldest)
		delete(c.index, evict)
	}
	c.mu.Unlock()

	if evict != "" {
		_ = c.backend.Del(ctx, evict)
	}
}
