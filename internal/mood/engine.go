// Package mood turns a free-text prompt into a structured analysis with target
// audio features. The LLM path is primary; a rule-based table covers LLM
// failure, and the two compose without the fallback ever overwriting an
// LLM-set feature.
package mood

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/llm"
)

// featureBounds is the valid value range per feature.
var featureBounds = map[core.FeatureName][2]float64{
	core.FeatureAcousticness:     {0, 1},
	core.FeatureDanceability:     {0, 1},
	core.FeatureEnergy:           {0, 1},
	core.FeatureInstrumentalness: {0, 1},
	core.FeatureLiveness:         {0, 1},
	core.FeatureSpeechiness:      {0, 1},
	core.FeatureValence:          {0, 1},
	core.FeatureMode:             {0, 1},
	core.FeatureKey:              {-1, 11},
	core.FeatureLoudness:         {-60, 2},
	core.FeatureTempo:            {0, 250},
	core.FeaturePopularity:       {0, 100},
}

// Engine analyzes mood prompts.
type Engine struct {
	analyzer core.Analyzer
	cache    *cache.Manager
	validate *validator.Validate
	logger   *zap.Logger
}

func NewEngine(analyzer core.Analyzer, cacheManager *cache.Manager, logger *zap.Logger) *Engine {
	return &Engine{
		analyzer: analyzer,
		cache:    cacheManager,
		validate: validator.New(),
		logger:   logger.Named("mood"),
	}
}

// Analyze produces the mood analysis for a prompt. Results are cached per
// prompt for an hour.
func (e *Engine) Analyze(ctx context.Context, prompt string) (*core.MoodAnalysis, error) {
	var cached core.MoodAnalysis
	if e.cache.Get(ctx, cache.CategoryMoodAnalysis, &cached, prompt) {
		return &cached, nil
	}

	analysis := e.analyzeUncached(ctx, prompt, "")
	e.cache.Set(ctx, cache.CategoryMoodAnalysis, analysis, prompt)
	return analysis, nil
}

// AnalyzeWithAnchorContext re-runs the analysis with the selected anchors as
// additional context; results are cached separately from the plain analysis.
func (e *Engine) AnalyzeWithAnchorContext(ctx context.Context, prompt string, anchors []core.AnchorCandidate) (*core.MoodAnalysis, error) {
	if len(anchors) == 0 {
		return e.Analyze(ctx, prompt)
	}

	var sb strings.Builder
	for i := range anchors {
		track := &anchors[i].Track
		fmt.Fprintf(&sb, "- %s by %s\n", track.Name, track.FirstArtist())
	}
	anchorContext := sb.String()

	var cached core.MoodAnalysis
	if e.cache.Get(ctx, cache.CategoryMoodAnalysis, &cached, prompt, anchorContext) {
		return &cached, nil
	}

	analysis := e.analyzeUncached(ctx, prompt, anchorContext)
	e.cache.Set(ctx, cache.CategoryMoodAnalysis, analysis, prompt, anchorContext)
	return analysis, nil
}

func (e *Engine) analyzeUncached(ctx context.Context, prompt, anchorContext string) *core.MoodAnalysis {
	analysis, err := e.analyzeLLM(ctx, prompt, anchorContext)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("LLM analysis failed, using rule-based fallback",
				zap.Error(err))
		}
		analysis = &core.MoodAnalysis{}
	}

	// The fallback fills gaps the LLM left; LLM-set features stay untouched.
	applyFallback(analysis, prompt)
	return analysis
}

func (e *Engine) analyzeLLM(ctx context.Context, prompt, anchorContext string) (*core.MoodAnalysis, error) {
	system := systemPrompt
	if anchorContext != "" {
		system += anchorContextPromptSuffix + anchorContext
	}

	completion, err := e.analyzer.Complete(ctx, system, prompt)
	if err != nil {
		return nil, err
	}

	raw, err := llm.ExtractJSON(completion)
	if err != nil {
		return nil, err
	}

	var analysis core.MoodAnalysis
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&analysis); err != nil {
		// Models occasionally add fields outside the contract; retry leniently
		// before giving up on the completion.
		if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
	}

	if err := e.Validate(&analysis); err != nil {
		return nil, fmt.Errorf("invalid analysis: %w", err)
	}
	return &analysis, nil
}

// Validate checks an analysis against the structural rules: known feature
// names, per-feature value bounds, weights in [0,1], disjoint region lists,
// hex colors, and a sane temporal range.
func (e *Engine) Validate(analysis *core.MoodAnalysis) error {
	if err := e.validate.Struct(analysis); err != nil {
		return err
	}

	for name, target := range analysis.TargetFeatures {
		bounds, known := featureBounds[name]
		if !known {
			return fmt.Errorf("unknown feature %q", name)
		}
		if target.Low < bounds[0] || target.High > bounds[1] {
			return fmt.Errorf("feature %q target [%v,%v] outside [%v,%v]",
				name, target.Low, target.High, bounds[0], bounds[1])
		}
	}

	for name := range analysis.FeatureWeights {
		if _, known := featureBounds[name]; !known {
			return fmt.Errorf("unknown feature %q in weights", name)
		}
	}

	preferred := make(map[string]bool, len(analysis.PreferredRegions))
	for _, region := range analysis.PreferredRegions {
		preferred[strings.ToLower(region)] = true
	}
	for _, region := range analysis.ExcludedRegions {
		if preferred[strings.ToLower(region)] {
			return fmt.Errorf("region %q both preferred and excluded", region)
		}
	}

	if tc := analysis.TemporalContext; tc != nil && tc.YearRange != nil {
		if tc.YearRange[0] > tc.YearRange[1] {
			return fmt.Errorf("temporal year range inverted: %v", *tc.YearRange)
		}
	}

	return nil
}
