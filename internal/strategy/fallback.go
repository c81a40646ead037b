package strategy

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"moodlist/internal/core"
	"moodlist/internal/scoring"
)

const (
	fallbackArtistCount = 3
	fallbackBatchSize   = 20
)

// Fallback is the last resort when no seeds exist: search the features
// service for artists matching the mood keywords and request one
// recommendation batch from their ids.
type Fallback struct {
	features core.FeaturesClient
	logger   *zap.Logger
}

func NewFallback(featuresClient core.FeaturesClient, logger *zap.Logger) *Fallback {
	return &Fallback{
		features: featuresClient,
		logger:   logger.Named("fallback"),
	}
}

func (s *Fallback) Name() string { return "fallback" }

func (s *Fallback) Generate(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error) {
	if len(state.SeedTracks) > 0 {
		return nil, nil
	}

	query := s.keywordQuery(state)
	if query == "" {
		return nil, nil
	}

	artists, err := s.features.SearchArtists(ctx, query, fallbackArtistCount)
	if err != nil {
		return nil, err
	}
	if len(artists) > fallbackArtistCount {
		artists = artists[:fallbackArtistCount]
	}
	if len(artists) == 0 {
		s.logger.Warn("fallback found no artists", zap.String("query", query))
		return nil, nil
	}

	ids := make([]string, 0, len(artists))
	for _, a := range artists {
		if a.ID != "" {
			ids = append(ids, a.ID)
		}
	}

	tracks, err := s.features.Recommend(ctx, ids, nil, fallbackBatchSize)
	if err != nil {
		return nil, err
	}

	var targets map[core.FeatureName]core.FeatureTarget
	if state.MoodAnalysis != nil {
		targets = state.MoodAnalysis.TargetFeatures
	}

	out := make([]core.TrackRecommendation, 0, len(tracks))
	for _, track := range tracks {
		rec := recommendation(track, core.SourceRecoBeat, 0)
		rec.ConfidenceScore = scoring.Confidence(&rec, targets)
		rec.Reasoning = "mood keyword fallback"
		out = append(out, rec)
	}

	s.logger.Info("fallback generation complete",
		zap.String("query", query), zap.Int("tracks", len(out)))
	return out, nil
}

// keywordQuery joins the best available mood keywords into one search query.
func (s *Fallback) keywordQuery(state *core.WorkflowState) string {
	if state.MoodAnalysis == nil {
		return strings.TrimSpace(state.MoodPrompt)
	}
	keywords := state.MoodAnalysis.SearchKeywords
	if len(keywords) == 0 {
		keywords = state.MoodAnalysis.GenreKeywords
	}
	if len(keywords) == 0 {
		return strings.TrimSpace(state.MoodPrompt)
	}
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}
	return strings.Join(keywords, " ")
}
