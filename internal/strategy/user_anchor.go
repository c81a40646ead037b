package strategy

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moodlist/internal/catalog"
	"moodlist/internal/core"
	"moodlist/internal/scoring"
)

const (
	anchorArtistHybridRatio = 0.9
	anchorArtistConfidence  = 0.85
	anchorArtistTrackLimit  = 5
	anchorSearchConcurrency = 4
)

// UserAnchor guarantees that explicitly mentioned tracks and artists appear in
// the result. Track mentions become fully protected recommendations; artist
// mentions contribute their most popular tracks.
type UserAnchor struct {
	catalog core.CatalogClient
	logger  *zap.Logger
}

func NewUserAnchor(catalogClient core.CatalogClient, logger *zap.Logger) *UserAnchor {
	return &UserAnchor{
		catalog: catalogClient,
		logger:  logger.Named("user_anchor"),
	}
}

func (s *UserAnchor) Name() string { return "user_anchor" }

func (s *UserAnchor) Generate(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error) {
	var out []core.TrackRecommendation

	for _, track := range state.Metadata.UserMentionedTracks {
		rec := recommendation(track, core.SourceAnchorTrack, 1.0)
		rec.UserMentioned = true
		rec.Protected = true
		rec.AnchorType = core.AnchorUser
		rec.Reasoning = "explicitly requested"
		out = append(out, rec)
	}

	artistTracks, err := s.mentionedArtistTracks(ctx, state)
	if err != nil {
		return out, err
	}

	var temporal *core.TemporalContext
	if state.MoodAnalysis != nil {
		temporal = state.MoodAnalysis.TemporalContext
	}
	for _, rec := range artistTracks {
		// Only explicit track mentions bypass the temporal filter. Artist
		// tracks are protected downstream but still filtered here, so the
		// check runs against an unprotected copy.
		probe := rec
		probe.Protected = false
		if !scoring.PassesTemporalFilter(&probe, temporal) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// mentionedArtistTracks resolves every mentioned artist name in parallel, then
// fetches popular-focused hybrid tracks per resolved artist. The prefetched
// top tracks from resolution are reused so each artist costs one extra call at
// most.
func (s *UserAnchor) mentionedArtistTracks(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error) {
	names := state.Metadata.UserMentionedArtists
	if len(names) == 0 {
		return nil, nil
	}
	token := state.Metadata.SpotifyAccessToken

	type resolved struct {
		artist core.Artist
		top    []core.Track
	}
	results := make([]*resolved, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(anchorSearchConcurrency)
	for i, name := range names {
		g.Go(func() error {
			artists, err := s.catalog.SearchArtists(gctx, token, name, 5)
			if err != nil {
				s.logger.Warn("mentioned artist search failed",
					zap.String("artist", name), zap.Error(err))
				return nil
			}
			match := catalog.BestArtistMatch(artists, name)
			if match == nil {
				s.logger.Warn("mentioned artist not found", zap.String("artist", name))
				return nil
			}
			top, err := s.catalog.ArtistTopTracks(gctx, token, match.ID, match.Name)
			if err != nil {
				s.logger.Warn("mentioned artist top tracks failed",
					zap.String("artist", match.Name), zap.Error(err))
				return nil
			}
			results[i] = &resolved{artist: *match, top: top}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var out []core.TrackRecommendation

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(anchorSearchConcurrency)
	for _, r := range results {
		if r == nil {
			continue
		}
		g.Go(func() error {
			tracks, err := s.catalog.HybridArtistTracks(gctx, token, r.artist.ID, r.artist.Name, core.HybridOptions{
				TopTracksRatio: anchorArtistHybridRatio,
				Limit:          anchorArtistTrackLimit,
				PrefetchedTop:  r.top,
			})
			if err != nil {
				s.logger.Warn("mentioned artist hybrid fetch failed",
					zap.String("artist", r.artist.Name), zap.Error(err))
				return nil
			}
			mu.Lock()
			for _, track := range tracks {
				rec := recommendation(track, core.SourceAnchorTrack, anchorArtistConfidence)
				rec.Protected = true
				rec.AnchorType = core.AnchorArtistMentioned
				rec.Reasoning = "by requested artist " + r.artist.Name
				out = append(out, rec)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
