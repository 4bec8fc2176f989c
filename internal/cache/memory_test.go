package cache

import (
	"context"
	"testing"
	"time"

	"github.com/teamlens/kestrel/internal/domain"
)

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache(100)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if ok := cache.Set(ctx, "key1", []byte("value1"), time.Minute); !ok {
			t.Fatal("Set failed")
		}

		val, ok := cache.Get(ctx, "key1")
		if !ok {
			t.Fatal("expected hit")
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		if _, ok := cache.Get(ctx, "nonexistent"); ok {
			t.Error("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		cache.Set(ctx, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		if _, ok := cache.Get(ctx, "key2"); ok {
			t.Error("expected miss after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		cache.Set(ctx, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		if _, ok := cache.Get(ctx, "expiring"); !ok {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		if _, ok := cache.Get(ctx, "expiring"); ok {
			t.Error("expected miss after expiration")
		}
	})

	t.Run("TTLReappliedOnOverwrite", func(t *testing.T) {
		cache.Set(ctx, "rewrite", []byte("v1"), 10*time.Millisecond)
		cache.Set(ctx, "rewrite", []byte("v2"), time.Minute)

		time.Sleep(20 * time.Millisecond)

		val, ok := cache.Get(ctx, "rewrite")
		if !ok {
			t.Fatal("expected value to survive: overwrite must reapply TTL")
		}
		if string(val) != "v2" {
			t.Errorf("expected 'v2', got '%s'", string(val))
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewMemoryCache(3)

		smallCache.Set(ctx, "a", []byte("1"), time.Minute)
		smallCache.Set(ctx, "b", []byte("2"), time.Minute)
		smallCache.Set(ctx, "c", []byte("3"), time.Minute)

		// Access 'a' to make it recently used
		smallCache.Get(ctx, "a")

		// Add 'd' - should evict 'b' (oldest accessed)
		smallCache.Set(ctx, "d", []byte("4"), time.Minute)

		if _, ok := smallCache.Get(ctx, "b"); ok {
			t.Error("expected 'b' to be evicted")
		}
		if _, ok := smallCache.Get(ctx, "a"); !ok {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("DeleteMatching", func(t *testing.T) {
		nsCache := NewMemoryCache(50)

		nsCache.Set(ctx, "kestrel:workItems:q1:aa", []byte("1"), time.Minute)
		nsCache.Set(ctx, "kestrel:workItems:q2:bb", []byte("2"), time.Minute)
		nsCache.Set(ctx, "kestrel:iterations:Atlas:cc", []byte("3"), time.Minute)

		removed, err := nsCache.DeleteMatching(ctx, NamespacePrefix("workItems"))
		if err != nil {
			t.Fatalf("DeleteMatching failed: %v", err)
		}
		if removed != 2 {
			t.Errorf("expected 2 removed, got %d", removed)
		}

		if _, ok := nsCache.Get(ctx, "kestrel:iterations:Atlas:cc"); !ok {
			t.Error("expected other namespace to survive eviction")
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewMemoryCache(50)
		statsCache.Set(ctx, "k1", []byte("v1"), time.Minute)
		statsCache.Set(ctx, "k2", []byte("v2"), time.Minute)
		statsCache.Get(ctx, "k1")
		statsCache.Get(ctx, "missing")

		stats := statsCache.Stats(ctx)
		if stats.LocalSize != 2 {
			t.Errorf("expected size 2, got %d", stats.LocalSize)
		}
		if stats.LocalCapacity != 50 {
			t.Errorf("expected capacity 50, got %d", stats.LocalCapacity)
		}
		if stats.Hits != 1 || stats.Misses != 1 {
			t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewMemoryCache(10)
		testCache.Set(ctx, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}

		if _, ok := testCache.Get(ctx, "k"); ok {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryBackend", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Backend:      "memory",
			LocalMaxSize: 100,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*MemoryCache); !ok {
			t.Error("expected MemoryCache for memory backend")
		}
	})

	t.Run("UnsupportedBackend", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Backend: "memcached",
		}

		if _, err := New(cfg); err == nil {
			t.Error("expected error for unsupported backend")
		}
	})
}
