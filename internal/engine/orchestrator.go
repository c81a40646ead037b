// Package engine drives the recommendation workflow state machine: mood
// analysis, anchor selection, seed gathering, candidate generation, and
// finalization, with per-stage failure capture.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"moodlist/internal/anchor"
	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/httpserver"
	"moodlist/internal/playlist"
	"moodlist/internal/scoring"
	"moodlist/internal/strategy"
)

const (
	discoveryKeywordLimit = 3
	discoveryArtistLimit  = 7

	// outlierFloor marks previous-iteration tracks as negative seeds.
	outlierFloor = 0.4
)

// moodEngine is the slice of internal/mood the orchestrator needs.
type moodEngine interface {
	Analyze(ctx context.Context, prompt string) (*core.MoodAnalysis, error)
	AnalyzeWithAnchorContext(ctx context.Context, prompt string, anchors []core.AnchorCandidate) (*core.MoodAnalysis, error)
}

type anchorSelector interface {
	SelectAnchors(ctx context.Context, token, userID, prompt string, analysis *core.MoodAnalysis) (*anchor.Result, error)
}

type seedGatherer interface {
	Gather(ctx context.Context, state *core.WorkflowState) error
	NegativeSeeds(ctx context.Context, previous []core.TrackRecommendation, floor float64) []string
}

type Orchestrator struct {
	config   core.EngineConfig
	mood     moodEngine
	anchors  anchorSelector
	gatherer seedGatherer
	catalog  core.CatalogClient
	tokens   core.TokenSource

	userAnchor strategy.Generator
	discovery  strategy.Generator
	seedBased  strategy.Generator
	fallback   strategy.Generator

	notifier core.ProgressNotifier
	cache    *cache.Manager
	metrics  *httpserver.Metrics
	logger   *zap.Logger
}

type Deps struct {
	Mood       moodEngine
	Anchors    anchorSelector
	Gatherer   seedGatherer
	Catalog    core.CatalogClient
	Tokens     core.TokenSource
	UserAnchor strategy.Generator
	Discovery  strategy.Generator
	SeedBased  strategy.Generator
	Fallback   strategy.Generator
	Notifier   core.ProgressNotifier
	Cache      *cache.Manager
	Metrics    *httpserver.Metrics
}

func New(config core.EngineConfig, deps Deps, logger *zap.Logger) *Orchestrator {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = core.NopNotifier{}
	}
	return &Orchestrator{
		config:     config,
		mood:       deps.Mood,
		anchors:    deps.Anchors,
		gatherer:   deps.Gatherer,
		catalog:    deps.Catalog,
		tokens:     deps.Tokens,
		userAnchor: deps.UserAnchor,
		discovery:  deps.Discovery,
		seedBased:  deps.SeedBased,
		fallback:   deps.Fallback,
		notifier:   notifier,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     logger.Named("engine"),
	}
}

// Run executes one full workflow for a prompt. The returned state is terminal:
// Completed with recommendations, or Failed/Error with stage errors recorded.
func (o *Orchestrator) Run(ctx context.Context, userID, prompt string) (*core.WorkflowState, error) {
	state := core.NewWorkflowState(uuid.NewString(), userID, prompt)
	o.metrics.WorkflowStarted()
	defer o.metrics.WorkflowFinished()

	err := o.run(ctx, state)
	if err != nil {
		status := core.StatusFailed
		if ctx.Err() != nil {
			status = core.StatusError
		}
		o.transition(state, status, "workflow_failed")
		o.metrics.RecordWorkflow(state.Status)
		return state, err
	}

	o.transition(state, core.StatusCompleted, "completed")
	o.metrics.RecordWorkflow(core.StatusCompleted)
	o.metrics.RecordRecommendations(state.Recommendations)
	return state, nil
}

func (o *Orchestrator) run(ctx context.Context, state *core.WorkflowState) error {
	token, err := o.tokens.EnsureValidToken(ctx, state.UserID)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	state.Metadata.SpotifyAccessToken = token

	// Mood analysis and early anchors.
	o.transition(state, core.StatusAnalyzingMood, "analyzing_mood")
	started := time.Now()

	analysis, err := o.mood.Analyze(ctx, state.MoodPrompt)
	if err != nil {
		return fmt.Errorf("mood analysis: %w", err)
	}
	state.MoodAnalysis = analysis

	o.selectEarlyAnchors(ctx, state)
	o.discoverArtists(ctx, state)

	// Second analysis pass with anchor context sharpens the targets.
	if refined, err := o.mood.AnalyzeWithAnchorContext(ctx, state.MoodPrompt, state.Metadata.AnchorTracks); err != nil {
		state.Metadata.RecordStageError("anchor_context_mood", err)
	} else {
		state.MoodAnalysis = refined
	}
	state.Metadata.TargetFeatures = state.MoodAnalysis.TargetFeatures
	state.Metadata.FeatureWeights = state.MoodAnalysis.FeatureWeights
	state.Metadata.PlaylistTarget = &core.PlaylistTarget{
		TargetCount:    o.config.TargetCount,
		MinCount:       o.config.MinCount,
		MaxCount:       o.config.MaxCount,
		MaxAnchors:     o.config.MaxAnchors,
		DiscoveryShare: o.config.DiscoveryShare,
	}
	o.metrics.ObserveStage("analyzing_mood", time.Since(started))

	// Seeds.
	o.transition(state, core.StatusGatheringSeeds, "gathering_seeds")
	started = time.Now()
	o.refreshToken(ctx, state)
	if err := o.gatherer.Gather(ctx, state); err != nil {
		if errors.Is(err, core.ErrNoRecommendations) {
			return err
		}
		state.Metadata.RecordStageError("gather_seeds", err)
	}
	o.metrics.ObserveStage("gathering_seeds", time.Since(started))

	// Generation loop.
	o.transition(state, core.StatusGeneratingRecommendations, "generating_recommendations")
	started = time.Now()
	final, err := o.generationLoop(ctx, state)
	if err != nil {
		return err
	}
	o.metrics.ObserveStage("generating_recommendations", time.Since(started))

	// Finalize.
	o.transition(state, core.StatusFinalizing, "finalizing")
	started = time.Now()
	o.refreshToken(ctx, state)
	state.Recommendations = o.enrich(ctx, state, final)
	o.metrics.ObserveStage("finalizing", time.Since(started))

	if len(state.Recommendations) == 0 {
		return core.ErrNoRecommendations
	}
	return nil
}

func (o *Orchestrator) selectEarlyAnchors(ctx context.Context, state *core.WorkflowState) {
	result, err := o.anchors.SelectAnchors(ctx, state.Metadata.SpotifyAccessToken,
		state.UserID, state.MoodPrompt, state.MoodAnalysis)
	if err != nil {
		state.Metadata.RecordStageError("anchor_selection", err)
		return
	}
	state.Metadata.AnchorTracks = result.Anchors
	for _, a := range result.Anchors {
		state.Metadata.AnchorTrackIDs = append(state.Metadata.AnchorTrackIDs, a.Track.ID)
	}
	state.Metadata.UserMentionedTrackIDs = result.UserMentionedIDs
	state.Metadata.UserMentionedTracks = result.UserMentionedTracks
	state.Metadata.IntentAnalysis = result.Intent
	if result.Intent != nil {
		state.Metadata.UserMentionedArtists = result.Intent.MentionedArtists
	}
}

// discoverArtists finds mood-matched artists by searching the catalog with the
// analysis keywords. They feed the artist-discovery strategy.
func (o *Orchestrator) discoverArtists(ctx context.Context, state *core.WorkflowState) {
	keywords := state.MoodAnalysis.GenreKeywords
	if len(keywords) == 0 {
		keywords = state.MoodAnalysis.SearchKeywords
	}
	if len(keywords) > discoveryKeywordLimit {
		keywords = keywords[:discoveryKeywordLimit]
	}

	seen := make(map[string]bool)
	var artists []core.Artist
	for _, keyword := range keywords {
		found, err := o.catalog.SearchArtists(ctx, state.Metadata.SpotifyAccessToken, keyword, discoveryArtistLimit)
		if err != nil {
			state.Metadata.RecordStageError("discover_artists", err)
			continue
		}
		for _, artist := range found {
			if artist.ID == "" || seen[artist.ID] {
				continue
			}
			seen[artist.ID] = true
			artists = append(artists, artist)
		}
	}
	state.Metadata.MoodMatchedArtists = artists
}

func (o *Orchestrator) generationLoop(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error) {
	target := *state.Metadata.PlaylistTarget

	var final []core.TrackRecommendation
	for iteration := 1; iteration <= o.maxIterations(); iteration++ {
		state.CurrentStep = fmt.Sprintf("generating_recommendations_iteration_%d", iteration)
		o.notify(state)

		candidates := o.generateCandidates(ctx, state)
		if len(candidates) == 0 && len(state.Metadata.AnchorTracks) == 0 {
			return nil, core.ErrNoRecommendations
		}

		scored := o.scoreAndFilter(candidates, state)
		capped := playlist.EnforceRatio(scored, target)
		final = playlist.ApplyDiversity(playlist.Deduplicate(capped))

		cohesion := meanNonProtectedConfidence(final)
		o.logger.Info("iteration complete",
			zap.String("session_id", state.SessionID),
			zap.Int("iteration", iteration),
			zap.Int("candidates", len(candidates)),
			zap.Int("final", len(final)),
			zap.Float64("cohesion", cohesion))

		if cohesion >= o.config.CohesionThreshold || iteration == o.maxIterations() {
			break
		}
		state.NegativeSeeds = o.gatherer.NegativeSeeds(ctx, final, outlierFloor)
	}
	return final, nil
}

// generateCandidates runs the strategies concurrently. A failing strategy is
// recorded and skipped, never fatal on its own.
func (o *Orchestrator) generateCandidates(ctx context.Context, state *core.WorkflowState) []core.TrackRecommendation {
	generators := []strategy.Generator{o.userAnchor, o.discovery, o.seedBased}
	if len(state.SeedTracks) == 0 {
		generators = append(generators, o.fallback)
	}

	var (
		mu  sync.Mutex
		out []core.TrackRecommendation
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, gen := range generators {
		if gen == nil {
			continue
		}
		g.Go(func() error {
			recs, err := gen.Generate(gctx, state)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				state.Metadata.RecordStageError(gen.Name(), err)
				return nil
			}
			out = append(out, recs...)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// scoreAndFilter fills in missing confidence scores and applies the violation
// and temporal filters. Protected tracks pass everything.
func (o *Orchestrator) scoreAndFilter(candidates []core.TrackRecommendation, state *core.WorkflowState) []core.TrackRecommendation {
	targets := state.Metadata.TargetFeatures
	var temporal *core.TemporalContext
	if state.MoodAnalysis != nil {
		temporal = state.MoodAnalysis.TemporalContext
	}

	out := make([]core.TrackRecommendation, 0, len(candidates))
	for _, rec := range candidates {
		if rec.ConfidenceScore == 0 {
			rec.ConfidenceScore = scoring.Confidence(&rec, targets)
		}
		if !scoring.PassesViolationFilter(&rec, targets) {
			continue
		}
		if !scoring.PassesTemporalFilter(&rec, temporal) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (o *Orchestrator) maxIterations() int {
	if o.config.MaxIterations < 1 {
		return 1
	}
	return o.config.MaxIterations
}

// refreshToken re-reads the access token before Catalog-heavy stages; long
// workflows can outlive the token that started them.
func (o *Orchestrator) refreshToken(ctx context.Context, state *core.WorkflowState) {
	token, err := o.tokens.EnsureValidToken(ctx, state.UserID)
	if err != nil {
		state.Metadata.RecordStageError("token_refresh", err)
		return
	}
	state.Metadata.SpotifyAccessToken = token
}

// transition moves the state machine and notifies fire-and-forget.
func (o *Orchestrator) transition(state *core.WorkflowState, status core.Status, step string) {
	state.Transition(status, step)
	o.notify(state)
	if o.cache != nil {
		o.cache.Set(context.Background(), cache.CategoryWorkflowState, state, state.SessionID)
	}
}

// notify is fire-and-forget by contract: ProgressNotifier implementations
// must not block, so the call is synchronous and cheap.
func (o *Orchestrator) notify(state *core.WorkflowState) {
	o.notifier.Notify(state)
}

func meanNonProtectedConfidence(recs []core.TrackRecommendation) float64 {
	sum, n := 0.0, 0
	for _, rec := range recs {
		if rec.Protected {
			continue
		}
		sum += rec.ConfidenceScore
		n++
	}
	if n == 0 {
		// All-protected playlists are maximally cohesive with the request.
		return 1
	}
	return sum / float64(n)
}

// unknownArtist marks a recommendation whose artist identity never resolved.
func unknownArtist(rec *core.TrackRecommendation) bool {
	if len(rec.Artists) == 0 {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(rec.Artists[0]), "unknown artist")
}
