package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory(100)
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Error("empty cache should miss")
	}

	m.Set(ctx, "k1", []byte("v1"), time.Minute)

	val, ok := m.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected hit after set")
	}
	if string(val) != "v1" {
		t.Errorf("expected v1, got %s", val)
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(100)
	ctx := context.Background()

	m.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
	m.Set(ctx, "forever", []byte("v"), 0)

	time.Sleep(20 * time.Millisecond)

	if _, ok := m.Get(ctx, "short"); ok {
		t.Error("expired entry should miss")
	}
	if _, ok := m.Get(ctx, "forever"); !ok {
		t.Error("zero-TTL entry should never expire")
	}
}

func TestMemory_BatchEviction(t *testing.T) {
	m := NewMemory(50)
	ctx := context.Background()

	for i := 0; i < 51; i++ {
		m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	// 51 > 50 triggers eviction of 10% of maxSize = 5 oldest entries.
	stats := m.Stats()
	if stats.Evictions != 5 {
		t.Errorf("expected 5 evictions, got %d", stats.Evictions)
	}
	if stats.Size != 46 {
		t.Errorf("expected 46 entries after eviction, got %d", stats.Size)
	}

	// The oldest keys went first.
	if _, ok := m.Get(ctx, "k0"); ok {
		t.Error("k0 should have been evicted")
	}
	if _, ok := m.Get(ctx, "k50"); !ok {
		t.Error("newest key should survive eviction")
	}
}

func TestMemory_EvictionMinimumOne(t *testing.T) {
	m := NewMemory(5)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	// 10% of 5 rounds to 0; at least one entry must still be evicted.
	if m.Stats().Evictions != 1 {
		t.Errorf("expected exactly 1 eviction, got %d", m.Stats().Evictions)
	}
}

func TestMemory_AccessOrderProtectsHotKeys(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}

	// Touch k0 so it is no longer the LRU victim.
	if _, ok := m.Get(ctx, "k0"); !ok {
		t.Fatal("k0 should be present")
	}

	m.Set(ctx, "overflow", []byte("v"), time.Minute)

	if _, ok := m.Get(ctx, "k0"); !ok {
		t.Error("recently accessed key should survive eviction")
	}
	if _, ok := m.Get(ctx, "k1"); ok {
		t.Error("k1 was the LRU entry and should have been evicted")
	}
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	m.Clear(ctx)

	if m.Stats().Size != 0 {
		t.Errorf("expected empty cache after clear, got %d entries", m.Stats().Size)
	}
}

func TestStats_HitRate(t *testing.T) {
	if (Stats{}).HitRate() != 0 {
		t.Error("hit rate with no lookups should be 0")
	}
	rate := Stats{Hits: 3, Misses: 1}.HitRate()
	if rate != 0.75 {
		t.Errorf("expected 0.75, got %v", rate)
	}
}
