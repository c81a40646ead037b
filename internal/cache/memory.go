package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is a bounded in-memory backend. Access order is maintained by the
// underlying LRU; when a Set pushes the size past maxSize, the least-recently
// used 10% (minimum 1) are evicted in one batch. Expired entries are purged
// lazily on Get.
type Memory struct {
	entries *lru.Cache[string, *memoryEntry]
	maxSize int
	mutex   sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// NewMemory creates a memory backend holding at most maxSize entries.
func NewMemory(maxSize int) *Memory {
	if maxSize < 1 {
		maxSize = 1
	}
	// Double capacity keeps the library's own eviction out of the way; batch
	// eviction below is the only reaper.
	entries, _ := lru.New[string, *memoryEntry](maxSize * 2)
	return &Memory{
		entries: entries,
		maxSize: maxSize,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, ok := m.entries.Get(key)
	if !ok {
		m.misses.Add(1)
		return nil, false
	}

	if entry.expired(time.Now()) {
		m.entries.Remove(key)
		m.misses.Add(1)
		return nil, false
	}

	m.hits.Add(1)
	return entry.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	now := time.Now()
	entry := &memoryEntry{
		value:     value,
		createdAt: now,
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries.Add(key, entry)
	m.sets.Add(1)

	if m.entries.Len() > m.maxSize {
		m.evictBatch()
	}
}

// evictBatch removes the least-recently-used 10% of maxSize, at least one.
// Callers hold the mutex.
func (m *Memory) evictBatch() {
	count := m.maxSize / 10
	if count < 1 {
		count = 1
	}
	for i := 0; i < count && m.entries.Len() > 0; i++ {
		if _, _, ok := m.entries.RemoveOldest(); ok {
			m.evictions.Add(1)
		}
	}
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries.Remove(key)
}

func (m *Memory) Exists(ctx context.Context, key string) bool {
	_, ok := m.Get(ctx, key)
	return ok
}

func (m *Memory) Clear(_ context.Context) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries.Purge()
}

func (m *Memory) Stats() Stats {
	m.mutex.Lock()
	size := m.entries.Len()
	m.mutex.Unlock()

	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Sets:      m.sets.Load(),
		Evictions: m.evictions.Load(),
		Size:      size,
	}
}

func (m *Memory) Close() error {
	m.Clear(context.Background())
	return nil
}
