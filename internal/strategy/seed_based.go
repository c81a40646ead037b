package strategy

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moodlist/internal/core"
	"moodlist/internal/guard"
	"moodlist/internal/registry"
	"moodlist/internal/scoring"
)

const (
	seedChunkSize        = 3
	seedChunkConcurrency = 10
	minSeedRequestSize   = 4
	maxSeedRequestSize   = 10
	maxNegativeSeeds     = 5
)

// SeedBased calls the features recommendation endpoint per seed chunk. Every
// combination passes the guardrails first; a rejected combination gets one
// repaired retry, and permanent upstream failures land on the deny list.
type SeedBased struct {
	features core.FeaturesClient
	guard    *guard.Guardrails
	registry *registry.Registry
	logger   *zap.Logger
}

func NewSeedBased(featuresClient core.FeaturesClient, guardrails *guard.Guardrails, reg *registry.Registry, logger *zap.Logger) *SeedBased {
	return &SeedBased{
		features: featuresClient,
		guard:    guardrails,
		registry: reg,
		logger:   logger.Named("seed_based"),
	}
}

func (s *SeedBased) Name() string { return "seed_based" }

func (s *SeedBased) Generate(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error) {
	seeds := s.featureSeedIDs(ctx, state.SeedTracks)
	if len(seeds) == 0 {
		return nil, nil
	}
	negatives := state.NegativeSeeds
	if len(negatives) > maxNegativeSeeds {
		negatives = negatives[:maxNegativeSeeds]
	}

	var targets map[core.FeatureName]core.FeatureTarget
	if state.Metadata.TargetFeatures != nil {
		targets = state.Metadata.TargetFeatures
	} else if state.MoodAnalysis != nil {
		targets = state.MoodAnalysis.TargetFeatures
	}

	target, share := generationBudget(state)
	size := seedRequestSize(target, share)

	var (
		mu  sync.Mutex
		out []core.TrackRecommendation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedChunkConcurrency)
	for start := 0; start < len(seeds); start += seedChunkSize {
		end := start + seedChunkSize
		if end > len(seeds) {
			end = len(seeds)
		}
		chunk := seeds[start:end]

		g.Go(func() error {
			recs := s.generateChunk(gctx, chunk, negatives, targets, size)
			mu.Lock()
			out = append(out, recs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("seed-based generation complete",
		zap.Int("seeds", len(seeds)), zap.Int("tracks", len(out)))
	return out, nil
}

// featureSeedIDs maps the catalog seed ids to features-service ids through the
// registry, order-preserving and deduplicated. Unresolved ids are skipped; the
// gatherer already marked them.
func (s *SeedBased) featureSeedIDs(ctx context.Context, catalogIDs []string) []string {
	catalogIDs = dedupeOrdered(catalogIDs)
	resolved := s.registry.BulkGetValidated(ctx, catalogIDs)

	out := make([]string, 0, len(resolved))
	for _, id := range catalogIDs {
		if featuresID, ok := resolved[id]; ok {
			out = append(out, featuresID)
		}
	}
	return out
}

// seedRequestSize sizes one chunk's request from the seed group's slice of the
// playlist, doubled so the scoring filters have surplus to cut.
func seedRequestSize(target int, share float64) int {
	size := 2 * shareOf(target, 1-share)
	if size < minSeedRequestSize {
		size = minSeedRequestSize
	}
	if size > maxSeedRequestSize {
		size = maxSeedRequestSize
	}
	return size
}

// generateChunk runs one guarded recommendation call. Guardrail rejections and
// retriable upstream failures get exactly one repaired retry; a failing retry
// drops the chunk.
func (s *SeedBased) generateChunk(ctx context.Context, chunk, negatives []string, targets map[core.FeatureName]core.FeatureTarget, size int) []core.TrackRecommendation {
	params := guard.SeedParams{
		Seeds:     chunk,
		Negatives: negatives,
		Size:      size,
	}

	ok, validationErr, repaired := s.guard.ValidateAndAutoBalance(ctx, params)
	if !ok {
		if repaired == nil {
			s.logger.Warn("seed chunk rejected without repair", zap.Error(validationErr))
			return nil
		}
		s.logger.Debug("seed chunk repaired", zap.Error(validationErr))
		params = *repaired
		if ok, err, _ := s.guard.ValidateAndAutoBalance(ctx, params); !ok {
			s.logger.Warn("repaired seed chunk still invalid", zap.Error(err))
			return nil
		}
	}

	tracks, err := s.features.Recommend(ctx, params.Seeds, params.Negatives, params.Size)
	if err != nil {
		if guard.ShouldSkipRetry(err.Error()) {
			s.guard.AddToDenyList(ctx, params.Seeds, params.Negatives, params.Features, err.Error())
			return nil
		}
		fb := guard.SuggestFallback(params.Seeds, params.Negatives, err.Error())
		if fb == nil {
			return nil
		}
		fb.Params.Size = params.Size
		s.logger.Debug("retrying seed chunk with fallback",
			zap.String("strategy", string(fb.Strategy)), zap.Error(err))
		tracks, err = s.features.Recommend(ctx, fb.Params.Seeds, fb.Params.Negatives, fb.Params.Size)
		if err != nil {
			s.logger.Warn("seed chunk failed after fallback", zap.Error(err))
			return nil
		}
	}

	return s.joinAndScore(ctx, tracks, targets)
}

// joinAndScore fetches audio features for each recommended track in parallel
// and scores the results. The returned ids are features-service ids; the
// enrichment pass resolves catalog identities later.
func (s *SeedBased) joinAndScore(ctx context.Context, tracks []core.Track, targets map[core.FeatureName]core.FeatureTarget) []core.TrackRecommendation {
	recs := make([]core.TrackRecommendation, len(tracks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedChunkConcurrency)
	for i, track := range tracks {
		g.Go(func() error {
			features, err := s.features.AudioFeatures(gctx, track.ID)
			if err != nil {
				features = nil
			}
			rec := recommendation(track, core.SourceRecoBeat, 0)
			rec.AudioFeatures = features
			rec.ConfidenceScore = scoring.Confidence(&rec, targets)
			rec.Reasoning = "recommended from listening history"
			recs[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]core.TrackRecommendation, 0, len(recs))
	for _, rec := range recs {
		if rec.TrackID != "" {
			out = append(out, rec)
		}
	}
	return out
}
