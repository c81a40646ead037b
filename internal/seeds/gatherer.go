// Package seeds gathers the seed material for a recommendation run: the
// user's listening history, merged user mentions, and the Catalog-to-Features
// ID resolution that the seed-based strategy depends on.
package seeds

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/registry"
)

const (
	topTracksLimit  = 20
	topArtistsLimit = 10
	defaultRange    = "medium_term"

	remixSeedCap    = 30
	negativeSeedCap = 5
	resolveBatch    = 40
)

// Progress labels emitted into WorkflowState.CurrentStep per sub-step.
const (
	StepTracksFetched  = "gathering_seeds_tracks_fetched"
	StepArtistsFetched = "gathering_seeds_artists_fetched"
	StepSeedsResolved  = "gathering_seeds_resolved"
)

type Gatherer struct {
	catalog  core.CatalogClient
	features core.FeaturesClient
	registry *registry.Registry
	cache    *cache.Manager
	logger   *zap.Logger
}

func NewGatherer(catalogClient core.CatalogClient, featuresClient core.FeaturesClient, reg *registry.Registry, cacheManager *cache.Manager, logger *zap.Logger) *Gatherer {
	return &Gatherer{
		catalog:  catalogClient,
		features: featuresClient,
		registry: reg,
		cache:    cacheManager,
		logger:   logger.Named("seeds"),
	}
}

// Gather fills state.SeedTracks and the seed-related metadata. The returned
// error is fatal only when nothing at all could be gathered; partial failures
// are recorded as stage errors and the workflow continues.
func (g *Gatherer) Gather(ctx context.Context, state *core.WorkflowState) error {
	token := state.Metadata.SpotifyAccessToken

	topTracks := g.topTracks(ctx, state, token)
	state.CurrentStep = StepTracksFetched

	topArtists, err := g.cachedTopArtists(ctx, token, state.UserID)
	if err != nil {
		state.Metadata.RecordStageError("top_artists", err)
	}
	state.Metadata.DiscoveredArtists = topArtists
	state.CurrentStep = StepArtistsFetched

	merged := mergeMentionsFront(state.Metadata.UserMentionedTracks, topTracks)

	catalogIDs := make([]string, 0, len(merged))
	for _, t := range merged {
		if t.ID != "" {
			catalogIDs = append(catalogIDs, t.ID)
		}
	}

	resolved, err := g.ResolveFeatureIDs(ctx, catalogIDs)
	if err != nil {
		state.Metadata.RecordStageError("seed_resolution", err)
	}

	state.SeedTracks = state.SeedTracks[:0]
	for _, id := range catalogIDs {
		if _, ok := resolved[id]; ok {
			state.SeedTracks = append(state.SeedTracks, id)
		}
	}
	state.CurrentStep = StepSeedsResolved

	g.logger.Info("seeds gathered",
		zap.String("user_id", state.UserID),
		zap.Int("top_tracks", len(topTracks)),
		zap.Int("top_artists", len(topArtists)),
		zap.Int("resolved", len(state.SeedTracks)))

	if len(state.SeedTracks) == 0 && len(topArtists) == 0 && len(state.Metadata.AnchorTracks) == 0 {
		return fmt.Errorf("no seed material: %w", core.ErrNoRecommendations)
	}
	return nil
}

// topTracks returns the remix seed list in remix mode, otherwise the user's
// cached top tracks.
func (g *Gatherer) topTracks(ctx context.Context, state *core.WorkflowState, token string) []core.Track {
	if state.Metadata.IntentAnalysis != nil && state.Metadata.IntentAnalysis.IsRemix {
		seeds := state.Metadata.RemixSeedTracks
		if len(seeds) > remixSeedCap {
			seeds = seeds[:remixSeedCap]
		}
		return seeds
	}

	tracks, err := g.cachedTopTracks(ctx, token, state.UserID)
	if err != nil {
		state.Metadata.RecordStageError("top_tracks", err)
		return nil
	}
	return tracks
}

func (g *Gatherer) cachedTopTracks(ctx context.Context, token, userID string) ([]core.Track, error) {
	args := []string{userID, defaultRange, fmt.Sprint(topTracksLimit)}

	var tracks []core.Track
	if g.cache.Get(ctx, cache.CategoryTopTracks, &tracks, args...) {
		return tracks, nil
	}
	tracks, err := g.catalog.TopTracks(ctx, token, defaultRange, topTracksLimit)
	if err != nil {
		return nil, err
	}
	g.cache.Set(ctx, cache.CategoryTopTracks, tracks, args...)
	return tracks, nil
}

func (g *Gatherer) cachedTopArtists(ctx context.Context, token, userID string) ([]core.Artist, error) {
	args := []string{userID, defaultRange, fmt.Sprint(topArtistsLimit)}

	var artists []core.Artist
	if g.cache.Get(ctx, cache.CategoryTopArtists, &artists, args...) {
		return artists, nil
	}
	artists, err := g.catalog.TopArtists(ctx, token, defaultRange, topArtistsLimit)
	if err != nil {
		return nil, err
	}
	g.cache.Set(ctx, cache.CategoryTopArtists, artists, args...)
	return artists, nil
}

// Warm pre-fills the listening-history caches and the Catalog-to-Features ID
// registry for a user, so the next workflow skips the upstream round trips.
func (g *Gatherer) Warm(ctx context.Context, token, userID string) error {
	tracks, err := g.cachedTopTracks(ctx, token, userID)
	if err != nil {
		return fmt.Errorf("warm top tracks: %w", err)
	}
	if _, err := g.cachedTopArtists(ctx, token, userID); err != nil {
		return fmt.Errorf("warm top artists: %w", err)
	}

	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	if _, err := g.ResolveFeatureIDs(ctx, ids); err != nil {
		return fmt.Errorf("warm feature ids: %w", err)
	}
	return nil
}

// mergeMentionsFront puts user-mentioned tracks first, then the top tracks,
// deduplicated by id with the mention copy winning.
func mergeMentionsFront(mentions, top []core.Track) []core.Track {
	seen := make(map[string]bool, len(mentions)+len(top))
	out := make([]core.Track, 0, len(mentions)+len(top))
	for _, t := range mentions {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	for _, t := range top {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	return out
}

// ResolveFeatureIDs maps Catalog IDs to Features IDs, short-circuiting through
// the registry. Only registry misses reach the upstream, in batches of 40;
// successes and absences are written back so the next run skips the call.
func (g *Gatherer) ResolveFeatureIDs(ctx context.Context, catalogIDs []string) (map[string]string, error) {
	resolved := g.registry.BulkGetValidated(ctx, catalogIDs)

	var unresolved []string
	for _, id := range catalogIDs {
		if _, ok := resolved[id]; !ok {
			unresolved = append(unresolved, id)
		}
	}
	toCheck, knownMissing := g.registry.BulkCheckMissing(ctx, unresolved)
	if len(knownMissing) > 0 {
		g.logger.Debug("skipping known-missing ids", zap.Int("count", len(knownMissing)))
	}

	var firstErr error
	for start := 0; start < len(toCheck); start += resolveBatch {
		end := start + resolveBatch
		if end > len(toCheck) {
			end = len(toCheck)
		}
		batch := toCheck[start:end]

		mapping, err := g.features.GetMultipleTracks(ctx, batch)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			g.logger.Warn("feature id batch failed",
				zap.Int("batch_size", len(batch)), zap.Error(err))
			continue
		}
		for _, catalogID := range batch {
			featuresID, ok := mapping[catalogID]
			if !ok {
				g.registry.MarkMissing(ctx, catalogID, "absent from features upstream")
				continue
			}
			g.registry.MarkValidated(ctx, catalogID, featuresID)
			resolved[catalogID] = featuresID
		}
	}
	return resolved, firstErr
}

// NegativeSeeds derives negative seeds from the previous iteration's outliers:
// tracks whose confidence fell below the floor. The features service only
// understands its own ids, so catalog-sourced outliers are mapped through the
// registry first and dropped when no mapping exists; recommendation-sourced
// tracks already carry features ids. The upstream accepts at most 5.
func (g *Gatherer) NegativeSeeds(ctx context.Context, previous []core.TrackRecommendation, floor float64) []string {
	type outlier struct {
		id          string
		fromCatalog bool
	}
	var outliers []outlier
	var catalogIDs []string
	for _, rec := range previous {
		if rec.Protected || rec.ConfidenceScore >= floor || rec.TrackID == "" {
			continue
		}
		fromCatalog := rec.Source != core.SourceRecoBeat
		if fromCatalog {
			catalogIDs = append(catalogIDs, rec.TrackID)
		}
		outliers = append(outliers, outlier{id: rec.TrackID, fromCatalog: fromCatalog})
	}
	resolved := g.registry.BulkGetValidated(ctx, catalogIDs)

	var out []string
	for _, o := range outliers {
		id := o.id
		if o.fromCatalog {
			mapped, ok := resolved[id]
			if !ok {
				g.logger.Debug("outlier has no features id, skipped",
					zap.String("track_id", id))
				continue
			}
			id = mapped
		}
		out = append(out, id)
		if len(out) == negativeSeedCap {
			break
		}
	}
	return out
}
