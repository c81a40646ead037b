package background

import (
	"context"
	"time"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
)

// precomputeUser is the placeholder identity for workflows that run without a
// real user. It carries no listening history, so the generators fall back to
// mood-driven discovery.
const precomputeUser = "popular_mood_precompute"

// popularMoods are the prompts precomputed into the popular-mood cache.
var popularMoods = []string{
	"happy_energetic",
	"sad_melancholic",
	"calm_relaxing",
	"focus_study",
	"workout_intense",
	"party_dance",
	"romantic_evening",
	"nostalgic_throwback",
}

// workflowRunner is the slice of the engine the precompute needs.
type workflowRunner interface {
	Run(ctx context.Context, userID, prompt string) (*core.WorkflowState, error)
}

type seedWarmer interface {
	Warm(ctx context.Context, token, userID string) error
}

// PopularMoodEntry is the cached result of one precomputed mood.
type PopularMoodEntry struct {
	MoodKey         string                     `json:"mood_key"`
	Analysis        *core.MoodAnalysis         `json:"analysis,omitempty"`
	Recommendations []core.TrackRecommendation `json:"recommendations"`
	ComputedAt      time.Time                  `json:"computed_at"`
}

type Precompute struct {
	config core.BackgroundConfig
	runner workflowRunner
	cache  *cache.Manager
	logger *zap.Logger
}

func NewPrecompute(config core.BackgroundConfig, runner workflowRunner, cacheManager *cache.Manager, logger *zap.Logger) *Precompute {
	return &Precompute{
		config: config,
		runner: runner,
		cache:  cacheManager,
		logger: logger.Named("precompute"),
	}
}

// Start schedules the precompute sweep on the manager. A sweep walks the
// popular moods once; already-cached moods are skipped, so restarting the
// process does not recompute warm entries.
func (p *Precompute) Start(m *Manager) {
	if !p.config.PrecomputeEnabled {
		p.logger.Info("popular-mood precompute disabled")
		return
	}
	m.Spawn("popular_mood_precompute", p.sweep)
}

func (p *Precompute) sweep(ctx context.Context) {
	for i, mood := range popularMoods {
		if ctx.Err() != nil {
			return
		}
		if p.cache.Exists(ctx, cache.CategoryPopularMood, mood) {
			p.logger.Debug("popular mood already cached", zap.String("mood", mood))
			continue
		}

		if err := p.computeOne(ctx, mood); err != nil {
			p.logger.Warn("popular mood precompute failed",
				zap.String("mood", mood), zap.Error(err))
		}

		// Pause between moods so the sweep never competes with live traffic.
		if i < len(popularMoods)-1 && !sleepCtx(ctx, p.config.InterMoodSleep) {
			return
		}
	}
	p.logger.Info("popular mood sweep complete")
}

// computeOne kicks off a workflow for the mood and polls its progress until it
// reaches a terminal state or the poll window expires.
func (p *Precompute) computeOne(ctx context.Context, mood string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		state *core.WorkflowState
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		state, err := p.runner.Run(runCtx, precomputeUser, mood)
		done <- outcome{state, err}
	}()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(p.config.PollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			cancel()
			return core.ErrWorkflowTimeout
		case out := <-done:
			if out.err != nil {
				return out.err
			}
			if out.state.Status != core.StatusCompleted {
				return core.ErrNoRecommendations
			}
			p.cache.Set(ctx, cache.CategoryPopularMood, &PopularMoodEntry{
				MoodKey:         mood,
				Analysis:        out.state.MoodAnalysis,
				Recommendations: out.state.Recommendations,
				ComputedAt:      time.Now().UTC(),
			}, mood)
			p.logger.Info("popular mood cached",
				zap.String("mood", mood),
				zap.Int("tracks", len(out.state.Recommendations)))
			return nil
		case <-ticker.C:
			p.logger.Debug("popular mood still computing", zap.String("mood", mood))
		}
	}
}

// Cached returns the precomputed entry for a mood key, if present.
func (p *Precompute) Cached(ctx context.Context, mood string) (*PopularMoodEntry, bool) {
	var entry PopularMoodEntry
	if !p.cache.Get(ctx, cache.CategoryPopularMood, &entry, mood) {
		return nil, false
	}
	return &entry, true
}

// WarmUser schedules fire-and-forget cache warming for a user's listening
// history. Failures are logged, never surfaced.
func WarmUser(m *Manager, warmer seedWarmer, tokens core.TokenSource, userID string, logger *zap.Logger) {
	m.Spawn("warm_user_"+userID, func(ctx context.Context) {
		token, err := tokens.EnsureValidToken(ctx, userID)
		if err != nil {
			logger.Debug("cache warming skipped, no token",
				zap.String("user_id", userID), zap.Error(err))
			return
		}
		if err := warmer.Warm(ctx, token, userID); err != nil {
			logger.Debug("cache warming incomplete",
				zap.String("user_id", userID), zap.Error(err))
		}
	})
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
