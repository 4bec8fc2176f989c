package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teamlens/kestrel/internal/domain"
)

// New creates a cache based on configuration.
// "memory" returns the local LRU store.
// "redis" returns a FailoverCache: Redis primary with a local LRU fallback.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryCache(cfg.LocalMaxSize), nil

	case "redis":
		return NewFailoverCache(cfg)

	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// FailoverCache serves reads and writes from a durable Redis primary and
// degrades transparently to a local in-process store when the primary is
// unreachable. Callers never see which backend served a value; a backend
// failure surfaces as a plain miss, never as an error.
type FailoverCache struct {
	primary *RedisBackend
	local   *MemoryCache

	healthy        atomic.Bool
	hits           atomic.Int64
	misses         atomic.Int64
	fallbackReads  atomic.Int64
	fallbackWrites atomic.Int64
}

// NewFailoverCache creates a failover cache with Redis + local LRU.
func NewFailoverCache(cfg domain.CacheConfig) (*FailoverCache, error) {
	primary, err := NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis backend: %w", err)
	}

	c := &FailoverCache{
		primary: primary,
		local:   NewMemoryCache(cfg.LocalMaxSize),
	}
	c.healthy.Store(true)
	return c, nil
}

// Get checks the primary first, then the local fallback. "Not found" and
// "backend unavailable" are both reported as a miss.
func (c *FailoverCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.primary.Get(ctx, key)
	if err != nil {
		c.healthy.Store(false)
		c.fallbackReads.Add(1)
		slog.Warn("cache primary read failed, using local fallback",
			"key", key,
			"error", err,
		)
	} else {
		c.healthy.Store(true)
		if val != nil {
			c.hits.Add(1)
			return val, true
		}
	}

	// Values written while the primary was down live only in the local
	// store, so a primary miss falls through.
	if val, ok := c.local.Get(ctx, key); ok {
		c.hits.Add(1)
		return val, true
	}

	c.misses.Add(1)
	return nil, false
}

// Set writes to the primary, silently degrading to the local store when the
// primary is unavailable. Returns false when the write landed in the fallback.
func (c *FailoverCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if err := c.primary.Set(ctx, key, value, ttl); err != nil {
		c.healthy.Store(false)
		c.fallbackWrites.Add(1)
		slog.Warn("cache primary write failed, using local fallback",
			"key", key,
			"error", err,
		)
		c.local.Set(ctx, key, value, ttl)
		return false
	}
	c.healthy.Store(true)
	return true
}

// Delete removes the key from both backends.
func (c *FailoverCache) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	if err := c.primary.Delete(ctx, key); err != nil {
		c.healthy.Store(false)
		return err
	}
	return nil
}

// DeleteMatching removes all keys under the prefix from both backends.
func (c *FailoverCache) DeleteMatching(ctx context.Context, prefix string) (int, error) {
	n, _ := c.local.DeleteMatching(ctx, prefix)
	m, err := c.primary.DeleteMatching(ctx, prefix)
	if err != nil {
		c.healthy.Store(false)
		return n, err
	}
	return n + m, nil
}

// Stats reports counters plus the primary health flag. Health is
// observability only; it never gates Get/Set behavior.
func (c *FailoverCache) Stats(ctx context.Context) domain.CacheStats {
	healthy := c.primary.Ping(ctx) == nil
	c.healthy.Store(healthy)

	localStats := c.local.Stats(ctx)
	return domain.CacheStats{
		Backend:        "redis+memory",
		PrimaryHealthy: healthy,
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		FallbackReads:  c.fallbackReads.Load(),
		FallbackWrites: c.fallbackWrites.Load(),
		LocalSize:      localStats.LocalSize,
		LocalCapacity:  localStats.LocalCapacity,
	}
}

// Close closes both backends.
func (c *FailoverCache) Close() error {
	_ = c.local.Close()
	return c.primary.Close()
}
