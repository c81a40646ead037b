package cache

import (
	"context"
	"crypto/md5" //nolint:gosec // cache key derivation, not security
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Category names a keyspace with a fixed default TTL.
type Category string

const (
	CategoryUserProfile       Category = "user_profile"
	CategoryTopTracks         Category = "top_tracks"
	CategoryTopArtists        Category = "top_artists"
	CategoryArtistTopTracks   Category = "artist_top_tracks"
	CategoryRecommendations   Category = "recommendations"
	CategoryMoodAnalysis      Category = "mood_analysis"
	CategoryWorkflowState     Category = "workflow_state"
	CategoryTrackDetails      Category = "track_details"
	CategoryWorkflowArtifacts Category = "workflow_artifacts"
	CategoryValidatedSeeds    Category = "validated_seeds"
	CategoryArtistEnrichment  Category = "artist_enrichment"
	CategoryPopularMood       Category = "popular_mood_cache"
	CategoryMissingID         Category = "missing_id"
	CategoryValidatedID       Category = "validated_id"
	CategoryDenyList          Category = "deny_list"
	CategoryAnchorTracks      Category = "anchor_tracks"
	CategoryFailedArtists     Category = "failed_artists"
)

// defaultTTLs is the per-category TTL table.
var defaultTTLs = map[Category]time.Duration{
	CategoryUserProfile:       time.Hour,
	CategoryTopTracks:         30 * time.Minute,
	CategoryTopArtists:        30 * time.Minute,
	CategoryArtistTopTracks:   2 * time.Hour,
	CategoryRecommendations:   30 * time.Minute,
	CategoryMoodAnalysis:      time.Hour,
	CategoryWorkflowState:     5 * time.Minute,
	CategoryTrackDetails:      2 * time.Hour,
	CategoryWorkflowArtifacts: 30 * time.Minute,
	CategoryValidatedSeeds:    2 * time.Hour,
	CategoryArtistEnrichment:  time.Hour,
	CategoryPopularMood:       4 * time.Hour,
	CategoryMissingID:         90 * 24 * time.Hour,
	CategoryValidatedID:       180 * 24 * time.Hour,
	CategoryDenyList:          24 * time.Hour,
	CategoryAnchorTracks:      15 * time.Minute,
	CategoryFailedArtists:     10 * time.Minute,
}

// TTLFor returns the default TTL for a category (0 when unknown).
func TTLFor(category Category) time.Duration {
	return defaultTTLs[category]
}

// Manager namespaces all cache access by category and hides the backend's
// encoding. The backend can be swapped at runtime; holders of the Manager keep
// a valid reference across the swap.
type Manager struct {
	backend   atomic.Pointer[Backend]
	keyPrefix string
	logger    *zap.Logger
}

func NewManager(backend Backend, keyPrefix string, logger *zap.Logger) *Manager {
	m := &Manager{
		keyPrefix: keyPrefix,
		logger:    logger,
	}
	m.backend.Store(&backend)
	return m
}

// SwapBackend replaces the backend in place.
func (m *Manager) SwapBackend(backend Backend) {
	m.backend.Store(&backend)
}

func (m *Manager) be() Backend {
	return *m.backend.Load()
}

// Key builds `{prefix}{category}:{md5(category:arg1:arg2:...)}`. Hashing
// bounds key length and keeps categories from colliding on shared prefixes.
func (m *Manager) Key(category Category, args ...string) string {
	h := md5.Sum([]byte(string(category) + ":" + strings.Join(args, ":"))) //nolint:gosec
	return m.keyPrefix + string(category) + ":" + hex.EncodeToString(h[:])
}

// GetJSON reads and decodes a cached value into dest. Any failure is a miss.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) bool {
	data, ok := m.be().Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		m.logger.Warn("cache decode failed, treating as miss",
			zap.String("key", key), zap.Error(err))
		m.be().Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes and writes a value with the category TTL (ttl overrides
// when > 0). Encode failures drop the write silently.
func (m *Manager) SetJSON(ctx context.Context, key string, category Category, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		m.logger.Warn("cache encode failed, dropping write",
			zap.String("key", key), zap.Error(err))
		return
	}
	if ttl <= 0 {
		ttl = TTLFor(category)
	}
	m.be().Set(ctx, key, data, ttl)
}

// Get/Set/Delete/Exists in category terms.

func (m *Manager) Get(ctx context.Context, category Category, dest any, args ...string) bool {
	return m.GetJSON(ctx, m.Key(category, args...), dest)
}

func (m *Manager) Set(ctx context.Context, category Category, value any, args ...string) {
	m.SetJSON(ctx, m.Key(category, args...), category, value, 0)
}

func (m *Manager) SetWithTTL(ctx context.Context, category Category, value any, ttl time.Duration, args ...string) {
	m.SetJSON(ctx, m.Key(category, args...), category, value, ttl)
}

func (m *Manager) Delete(ctx context.Context, category Category, args ...string) {
	m.be().Delete(ctx, m.Key(category, args...))
}

func (m *Manager) Exists(ctx context.Context, category Category, args ...string) bool {
	return m.be().Exists(ctx, m.Key(category, args...))
}

func (m *Manager) Clear(ctx context.Context) {
	m.be().Clear(ctx)
}

func (m *Manager) Stats() Stats {
	return m.be().Stats()
}

func (m *Manager) Close() error {
	return m.be().Close()
}
