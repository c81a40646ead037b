// Package cache provides the namespaced TTL cache backing the recommendation
// engine: a bounded in-memory backend and a Redis-backed distributed backend
// behind one Manager.
package cache

import (
	"context"
	"time"
)

// Backend is a TTL key-value store. Values are opaque encoded bytes; encoding
// is the Manager's concern so both backends behave identically.
//
// Backends never return errors to callers: a failing read is a miss, a failing
// write is a no-op. Failures are logged at the backend.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Exists(ctx context.Context, key string) bool
	Clear(ctx context.Context)
	Stats() Stats
	Close() error
}

// Stats are cumulative backend counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// HitRate is hits/(hits+misses), or 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
