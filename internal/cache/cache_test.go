package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestLRUCacheEviction tests size-based eviction
func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[string](3, time.Hour) // 3 items max

	// Fill beyond capacity
	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")
	c.Set("key4", "value4") // Should evict key1

	// key1 should be evicted (LRU)
	if _, found := c.Get("key1"); found {
		t.Error("key1 should have been evicted")
	}

	// Others should still exist
	for _, key := range []string{"key2", "key3", "key4"} {
		if _, found := c.Get(key); !found {
			t.Errorf("%s should still exist", key)
		}
	}
	if c.Size() != 3 {
		t.Errorf("Size() = %d, want 3", c.Size())
	}
}

// TestLRUCacheRecencyOrder verifies a Get refreshes an entry's position
func TestLRUCacheRecencyOrder(t *testing.T) {
	c := NewLRUCache[string](2, time.Hour)

	c.Set("old", "a")
	c.Set("new", "b")
	c.Get("old") // now most recently used
	c.Set("newest", "c")

	if _, found := c.Get("old"); !found {
		t.Error("old was touched and should survive eviction")
	}
	if _, found := c.Get("new"); found {
		t.Error("new should have been evicted")
	}
}

// TestLRUCacheTTLExpiration tests time-based expiration
func TestLRUCacheTTLExpiration(t *testing.T) {
	c := NewLRUCache[decimal.Decimal](100, 50*time.Millisecond)

	c.Set("USD->EUR@2024-01-15", decimal.RequireFromString("0.92"))

	// Should exist immediately
	if rate, found := c.Get("USD->EUR@2024-01-15"); !found || rate.String() != "0.92" {
		t.Errorf("Get() = %v, %v, want 0.92, true", rate, found)
	}

	// Wait for expiration
	time.Sleep(60 * time.Millisecond)

	if _, found := c.Get("USD->EUR@2024-01-15"); found {
		t.Error("entry should have expired")
	}
}

// TestLRUCacheClear verifies Clear drops everything at once
func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache[string](10, time.Hour)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Clear()

	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", c.Size())
	}
	if _, found := c.Get("key1"); found {
		t.Error("key1 should be gone after Clear")
	}

	// Cache stays usable after Clear
	c.Set("key3", "value3")
	if _, found := c.Get("key3"); !found {
		t.Error("key3 should be retrievable after Clear")
	}
}

// TestLRUCacheCleanExpired tests the cleanup mechanism
func TestLRUCacheCleanExpired(t *testing.T) {
	c := NewLRUCache[string](100, 50*time.Millisecond)

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Set("key3", "value3")

	// Wait for expiration
	time.Sleep(60 * time.Millisecond)

	if removed := c.CleanExpired(); removed != 3 {
		t.Errorf("CleanExpired() = %d, want 3", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size() after cleanup = %d, want 0", c.Size())
	}
}

// TestManagerStop verifies the cleanup goroutine shuts down
func TestManagerStop(t *testing.T) {
	m := NewManager()
	c := NewLRUCache[string](10, time.Nanosecond)
	m.Register(c)
	m.StartCleanup(5 * time.Millisecond)

	c.Set("key", "value")
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	if c.Size() != 0 {
		t.Errorf("Size() after cleanup pass = %d, want 0", c.Size())
	}
}

// BenchmarkLRUCache benchmarks a mixed read/write workload
func BenchmarkLRUCache(b *testing.B) {
	c := NewLRUCache[decimal.Decimal](1000, time.Hour)
	rate := decimal.RequireFromString("1.0953")

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("pair-%d", i%100)
		if i%10 == 0 {
			c.Set(key, rate)
		} else {
			c.Get(key)
		}
	}
}
