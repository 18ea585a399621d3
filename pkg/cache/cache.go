// Package cache implements the bounded, time-expiring result cache shared by
// all analysis requests.
//
// Entries are addressed by a SHA-256 fingerprint of the tool name and the
// normalized query. Expiry is checked lazily on read; RemoveExpired and
// RunSweeper reclaim memory for entries nobody reads again. When the cache is
// full, the entry touched least recently (by Get or Set) is evicted before a
// new key is inserted, so the size never exceeds the configured maximum.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/intentd/pkg/models"
)

// Options configures a Cache.
type Options struct {
	Enabled bool
	TTL     time.Duration
	MaxSize int
	// Now overrides the clock; nil means time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

// Cache is an in-memory LRU result cache with per-entry TTL.
// It is safe for concurrent use.
type Cache struct {
	enabled bool
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	// recency orders entries from most (front) to least (back) recently touched.
	recency *list.List
	bytes   int64

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

type entry struct {
	key        string
	value      models.AnalysisResult
	expiresAt  time.Time
	lastAccess time.Time
	size       int64
}

// New creates a Cache from opts.
func New(opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		enabled: opts.Enabled,
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     now,
		logger:  logger,
		entries: make(map[string]*list.Element),
		recency: list.New(),
	}
}

// Key computes the fingerprint of a tool name and query. Queries that differ
// only by letter case or surrounding whitespace share a key.
func Key(toolName, query string) string {
	sum := sha256.Sum256([]byte(toolName + ":" + models.NormalizeQuery(query)))
	return hex.EncodeToString(sum[:])
}

// Enabled reports whether the cache stores anything.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// Get returns a copy of the value cached for (toolName, query). The copy is
// shallow: top-level keys may be changed freely, nested lists are shared.
// It reports false when the cache is disabled, the key is unknown, or the
// entry has expired; expired entries are removed.
func (c *Cache) Get(toolName, query string) (models.AnalysisResult, bool) {
	if !c.enabled {
		return nil, false
	}
	key := Key(toolName, query)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	e := el.Value.(*entry)
	now := c.now()
	if now.After(e.expiresAt) {
		c.removeLocked(el)
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	e.lastAccess = now
	c.recency.MoveToFront(el)
	c.hits.Add(1)
	c.logger.Debug("cache hit", zap.String("tool", toolName), zap.String("key", key))
	return maps.Clone(e.value), true
}

// Set stores a shallow copy of value under (toolName, query) with expiry now+TTL.
func (c *Cache) Set(toolName, query string, value models.AnalysisResult) {
	if !c.enabled || c.maxSize < 1 {
		return
	}
	key := Key(toolName, query)
	value = maps.Clone(value)
	size := approxSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		c.bytes += size - e.size
		e.value = value
		e.size = size
		e.expiresAt = now.Add(c.ttl)
		e.lastAccess = now
		c.recency.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	e := &entry{
		key:        key,
		value:      value,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
		size:       size,
	}
	c.entries[key] = c.recency.PushFront(e)
	c.bytes += size
	c.logger.Debug("cached result", zap.String("tool", toolName), zap.String("key", key))
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	c.bytes = 0
	c.logger.Info("cache cleared", zap.Int("entries", n))
}

// RemoveExpired deletes every expired entry and returns how many were removed.
func (c *Cache) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		c.expirations.Add(int64(removed))
		c.logger.Info("removed expired cache entries", zap.Int("count", removed))
	}
	return removed
}

// RunSweeper calls RemoveExpired every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || !c.enabled {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// Stats returns a snapshot of the cache state and counters.
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	size := len(c.entries)
	bytes := c.bytes
	c.mu.Unlock()

	return models.CacheStats{
		Enabled:     c.enabled,
		TTLSeconds:  int64(c.ttl / time.Second),
		MaxSize:     c.maxSize,
		CurrentSize: size,
		ApproxBytes: bytes,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

func (c *Cache) evictOldestLocked() {
	el := c.recency.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.removeLocked(el)
	c.evictions.Add(1)
	c.logger.Debug("evicted cache entry", zap.String("key", e.key), zap.Time("last_access", e.lastAccess))
}

func (c *Cache) removeLocked(el *list.Element) {
	e := c.recency.Remove(el).(*entry)
	delete(c.entries, e.key)
	c.bytes -= e.size
}

func approxSize(v models.AnalysisResult) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
