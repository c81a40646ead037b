package strategy

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/scoring"
)

const (
	maxDiscoveryArtists         = 20
	discoveryHybridRatio        = 0.3
	discoveryMinPopularity      = 20
	discoveryMaxPopularity      = 80
	minDiscoveryTracksPerArtist = 3
	maxDiscoveryTracksPerArtist = 10
	discoveryConcurrency        = 5

	// relaxedCohesion applies because discovery artists already passed a
	// coarser mood match.
	relaxedCohesion = 0.2
)

// ArtistDiscovery generates the bulk of the playlist: deep-cut-leaning hybrid
// tracks from the mood-matched artists, cohesion-checked against the target
// features.
type ArtistDiscovery struct {
	catalog  core.CatalogClient
	features core.FeaturesClient
	cache    *cache.Manager
	logger   *zap.Logger
}

func NewArtistDiscovery(catalogClient core.CatalogClient, featuresClient core.FeaturesClient, cacheManager *cache.Manager, logger *zap.Logger) *ArtistDiscovery {
	return &ArtistDiscovery{
		catalog:  catalogClient,
		features: featuresClient,
		cache:    cacheManager,
		logger:   logger.Named("artist_discovery"),
	}
}

func (s *ArtistDiscovery) Name() string { return "artist_discovery" }

func (s *ArtistDiscovery) Generate(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error) {
	artists := state.Metadata.MoodMatchedArtists
	if len(artists) == 0 {
		artists = state.Metadata.DiscoveredArtists
	}
	if len(artists) > maxDiscoveryArtists {
		artists = artists[:maxDiscoveryArtists]
	}
	if len(artists) == 0 {
		return nil, nil
	}

	var targets map[core.FeatureName]core.FeatureTarget
	if state.Metadata.TargetFeatures != nil {
		targets = state.Metadata.TargetFeatures
	} else if state.MoodAnalysis != nil {
		targets = state.MoodAnalysis.TargetFeatures
	}
	token := state.Metadata.SpotifyAccessToken

	target, share := generationBudget(state)
	perArtist := perArtistLimit(shareOf(target, share), len(artists))

	var (
		mu        sync.Mutex
		out       []core.TrackRecommendation
		attempted int
		failed    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	for _, artist := range artists {
		var skip bool
		if s.cache.Exists(ctx, cache.CategoryFailedArtists, artist.ID) {
			s.logger.Debug("skipping recently failed artist", zap.String("artist", artist.Name))
			skip = true
		}
		mu.Lock()
		if !skip {
			attempted++
		}
		mu.Unlock()
		if skip {
			continue
		}

		g.Go(func() error {
			recs, err := s.artistTracks(gctx, token, artist, targets, perArtist)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.cache.Set(gctx, cache.CategoryFailedArtists, artist.Name, artist.ID)
				s.logger.Warn("discovery artist failed",
					zap.String("artist", artist.Name), zap.Error(err))
				return nil
			}
			out = append(out, recs...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if attempted > 0 && failed == attempted {
		return nil, fmt.Errorf("all %d discovery artists failed", attempted)
	}
	if attempted > 0 && failed*2 > attempted {
		s.logger.Error("over half of discovery artists failed",
			zap.Int("attempted", attempted), zap.Int("failed", failed))
	}

	s.logger.Info("artist discovery complete",
		zap.Int("artists", attempted), zap.Int("failed", failed), zap.Int("tracks", len(out)))
	return out, nil
}

// perArtistLimit spreads the discovery budget over the artists, doubled so
// the cohesion and violation filters have surplus to cut.
func perArtistLimit(want, artists int) int {
	if artists == 0 {
		return 0
	}
	per := (want*2 + artists - 1) / artists
	if per < minDiscoveryTracksPerArtist {
		per = minDiscoveryTracksPerArtist
	}
	if per > maxDiscoveryTracksPerArtist {
		per = maxDiscoveryTracksPerArtist
	}
	return per
}

// artistTracks fetches one artist's discovery-focused hybrid tracks, joins
// audio features in one id-mapping batch, and keeps only cohesive tracks.
func (s *ArtistDiscovery) artistTracks(ctx context.Context, token string, artist core.Artist, targets map[core.FeatureName]core.FeatureTarget, limit int) ([]core.TrackRecommendation, error) {
	tracks, err := s.catalog.HybridArtistTracks(ctx, token, artist.ID, artist.Name, core.HybridOptions{
		TopTracksRatio: discoveryHybridRatio,
		MinPopularity:  discoveryMinPopularity,
		MaxPopularity:  discoveryMaxPopularity,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no tracks for artist %s", artist.Name)
	}

	featuresByID := s.batchFeatures(ctx, tracks)

	var out []core.TrackRecommendation
	for _, track := range tracks {
		features := featuresByID[track.ID]
		if len(features) > 0 && scoring.Cohesion(features, targets) < relaxedCohesion {
			continue
		}
		rec := recommendation(track, core.SourceArtistDiscovery, 0)
		rec.AudioFeatures = features
		rec.ConfidenceScore = scoring.Confidence(&rec, targets)
		rec.Reasoning = "discovered via " + artist.Name
		out = append(out, rec)
	}
	return out, nil
}

// batchFeatures maps the tracks' catalog ids to features-service ids in a
// single call, then fetches the features. Failures degrade to featureless
// tracks rather than dropping the artist.
func (s *ArtistDiscovery) batchFeatures(ctx context.Context, tracks []core.Track) map[string]core.AudioFeatures {
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	mapping, err := s.features.GetMultipleTracks(ctx, ids)
	if err != nil {
		s.logger.Debug("feature id mapping failed", zap.Error(err))
		return nil
	}

	var mu sync.Mutex
	out := make(map[string]core.AudioFeatures, len(mapping))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(discoveryConcurrency)
	for catalogID, featuresID := range mapping {
		g.Go(func() error {
			features, err := s.features.AudioFeatures(gctx, featuresID)
			if err != nil {
				return nil
			}
			mu.Lock()
			out[catalogID] = features
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
