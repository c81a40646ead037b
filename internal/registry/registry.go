// Package registry maps catalog IDs to features-service IDs and remembers
// which catalog IDs the features service does not know, so repeated lookups
// stop costing upstream calls.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"moodlist/internal/cache"
)

// MissingEntry is the negative record for a catalog ID absent upstream.
type MissingEntry struct {
	CatalogID string    `json:"catalog_id"`
	MarkedAt  time.Time `json:"marked_at"`
	Reason    string    `json:"reason"`
}

// ValidatedEntry records a confirmed catalog↔features mapping. It is stored
// under both the forward (catalog→features) and reverse (features→catalog)
// keys; the pair is logically atomic even though the store is not — a crashed
// half-write only costs one extra healing API call.
type ValidatedEntry struct {
	CatalogID   string    `json:"catalog_id"`
	FeaturesID  string    `json:"features_id"`
	ValidatedAt time.Time `json:"validated_at"`
}

// Registry is the cross-service ID registry. A Bloom filter fronts the
// missing-ID lookups: a negative test skips the cache read entirely when this
// process is the only writer (memory backend). With a shared distributed
// backend the filter is advisory and the cache stays authoritative.
type Registry struct {
	cache  *cache.Manager
	logger *zap.Logger

	// soleWriter is true when no other process can write negative entries.
	soleWriter bool

	bloomMu sync.RWMutex
	missing *bloom.BloomFilter
}

const bloomCapacity = 100000

func New(cacheManager *cache.Manager, soleWriter bool, logger *zap.Logger) *Registry {
	return &Registry{
		cache:      cacheManager,
		logger:     logger,
		soleWriter: soleWriter,
		missing:    bloom.NewWithEstimates(bloomCapacity, 0.001),
	}
}

// MarkMissing stores a 90-day negative entry for a catalog ID.
func (r *Registry) MarkMissing(ctx context.Context, catalogID, reason string) {
	entry := MissingEntry{
		CatalogID: catalogID,
		MarkedAt:  time.Now(),
		Reason:    reason,
	}
	r.cache.Set(ctx, cache.CategoryMissingID, entry, catalogID)

	r.bloomMu.Lock()
	r.missing.AddString(catalogID)
	r.bloomMu.Unlock()

	r.logger.Debug("marked catalog ID missing upstream",
		zap.String("catalogID", catalogID),
		zap.String("reason", reason))
}

// MarkValidated stores the forward and reverse mapping entries for 180 days.
// Both writes always happen together.
func (r *Registry) MarkValidated(ctx context.Context, catalogID, featuresID string) {
	entry := ValidatedEntry{
		CatalogID:   catalogID,
		FeaturesID:  featuresID,
		ValidatedAt: time.Now(),
	}
	r.cache.Set(ctx, cache.CategoryValidatedID, entry, "fwd", catalogID)
	r.cache.Set(ctx, cache.CategoryValidatedID, entry, "rev", featuresID)
}

// IsMissing reports whether the catalog ID has a live negative entry.
func (r *Registry) IsMissing(ctx context.Context, catalogID string) bool {
	r.bloomMu.RLock()
	maybe := r.missing.TestString(catalogID)
	r.bloomMu.RUnlock()

	if !maybe && r.soleWriter {
		return false
	}

	var entry MissingEntry
	return r.cache.Get(ctx, cache.CategoryMissingID, &entry, catalogID)
}

// Lookup returns the features ID for a catalog ID when validated.
func (r *Registry) Lookup(ctx context.Context, catalogID string) (string, bool) {
	var entry ValidatedEntry
	if r.cache.Get(ctx, cache.CategoryValidatedID, &entry, "fwd", catalogID) {
		return entry.FeaturesID, true
	}
	return "", false
}

// ReverseLookup returns the catalog ID for a features ID when validated.
func (r *Registry) ReverseLookup(ctx context.Context, featuresID string) (string, bool) {
	var entry ValidatedEntry
	if r.cache.Get(ctx, cache.CategoryValidatedID, &entry, "rev", featuresID) {
		return entry.CatalogID, true
	}
	return "", false
}

// BulkCheckMissing splits ids into those still worth an upstream call and
// those with live negative entries.
func (r *Registry) BulkCheckMissing(ctx context.Context, ids []string) (toCheck, knownMissing []string) {
	for _, id := range ids {
		if r.IsMissing(ctx, id) {
			knownMissing = append(knownMissing, id)
		} else {
			toCheck = append(toCheck, id)
		}
	}
	return toCheck, knownMissing
}

// BulkGetValidated returns the validated catalog→features mappings among ids.
func (r *Registry) BulkGetValidated(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string)
	for _, id := range ids {
		if featuresID, ok := r.Lookup(ctx, id); ok {
			out[id] = featuresID
		}
	}
	return out
}
