package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teamlens/kestrel/internal/domain"
)

// FetchFn produces a value from the source of truth on a cache miss.
type FetchFn func(ctx context.Context) (any, error)

// Fetcher wraps a cache with read-through, write-back semantics.
// A fetch error on a cold cache propagates unchanged to the caller;
// masking upstream failures is the report orchestrator's job, one layer up.
type Fetcher struct {
	cache domain.Cache
	group singleflight.Group
}

// NewFetcher creates a cache-backed fetcher.
func NewFetcher(cache domain.Cache) *Fetcher {
	return &Fetcher{cache: cache}
}

// FetchWithCache returns the cached value for (namespace, identifier, params)
// or invokes fetchFn, writes the result back under the same key and TTL, and
// returns the raw JSON bytes. Concurrent misses for the same key are
// collapsed into a single fetch.
func (f *Fetcher) FetchWithCache(ctx context.Context, namespace, identifier string, params map[string]any, ttl time.Duration, fetchFn FetchFn) ([]byte, error) {
	key := Key(namespace, identifier, params)

	if data, ok := f.cache.Get(ctx, key); ok {
		return data, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the key between
		// our miss and acquiring the flight.
		if data, ok := f.cache.Get(ctx, key); ok {
			return data, nil
		}

		result, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode cache value for %s: %w", key, err)
		}

		f.cache.Set(ctx, key, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// FetchInto is FetchWithCache plus decoding into out.
func (f *Fetcher) FetchInto(ctx context.Context, namespace, identifier string, params map[string]any, ttl time.Duration, fetchFn FetchFn, out any) error {
	data, err := f.FetchWithCache(ctx, namespace, identifier, params, ttl, fetchFn)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode cached value: %w", err)
	}
	return nil
}

// InvalidateNamespace evicts every entry under a namespace.
func (f *Fetcher) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	return f.cache.DeleteMatching(ctx, NamespacePrefix(namespace))
}

// Stats exposes the underlying cache counters.
func (f *Fetcher) Stats(ctx context.Context) domain.CacheStats {
	return f.cache.Stats(ctx)
}
