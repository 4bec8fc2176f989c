package domain

import (
	"context"
	"time"
)

// Cache defines the interface for the tiered key/value store.
// Implementations must never fail reads: a backend error is reported
// to the caller as a plain miss so metrics computations keep working.
type Cache interface {
	// Get retrieves a value from cache.
	// The second return is false for "not found" AND for "backend unavailable".
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores a value with an explicit TTL. The TTL is always reapplied
	// at write time; there is no refresh-on-read. Returns false when the
	// write landed in the local fallback instead of the primary backend.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeleteMatching removes every key with the given prefix.
	// Used to invalidate a whole namespace after a mutation.
	DeleteMatching(ctx context.Context, prefix string) (int, error)

	// Stats reports cache observability counters. Health never gates
	// Get/Set behavior.
	Stats(ctx context.Context) CacheStats

	// Lifecycle
	Close() error
}

// CacheStats holds cache observability counters.
type CacheStats struct {
	Backend        string `json:"backend"`
	PrimaryHealthy bool   `json:"primaryHealthy"`
	Hits           int64  `json:"hits"`
	Misses         int64  `json:"misses"`
	FallbackReads  int64  `json:"fallbackReads"`
	FallbackWrites int64  `json:"fallbackWrites"`
	LocalSize      int    `json:"localSize"`
	LocalCapacity  int    `json:"localCapacity"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Backend is "memory" or "redis". With "redis" the store runs in
	// failover mode: Redis primary, local LRU fallback.
	Backend string

	// Local LRU settings
	LocalMaxSize int

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}
