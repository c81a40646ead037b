// Package anchor selects the reference tracks that shape a playlist: explicit
// user mentions, tracks by mentioned or recommended artists, and genre-search
// hits scored against the mood targets.
package anchor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/catalog"
	"moodlist/internal/core"
	"moodlist/internal/llm"
	"moodlist/internal/scoring"
)

// Rescore refreshes candidate scores once audio features are known, averaging
// the existing score with the mood match. Protected anchors keep their score.
func Rescore(candidates []core.AnchorCandidate, targets map[core.FeatureName]core.FeatureTarget) {
	for i := range candidates {
		if candidates[i].Protected || len(candidates[i].Features) == 0 {
			continue
		}
		match := scoring.MoodMatch(candidates[i].Features, targets)
		candidates[i].Score = (candidates[i].Score + match) / 2
		candidates[i].Confidence = candidates[i].Score
	}
}

const (
	minAnchorCount = 3
	maxAnchorCount = 8

	defaultAnchorCount = 5
	genreScoreCutoff   = 0.6
	scriptPenalty      = 0.5

	tracksPerArtistAnchor = 3
	genreSearchLimit      = 10
	maxGenreKeywords      = 3
)

// Result is one anchor-selection run: the chosen anchors plus the intent data
// the rest of the workflow consumes.
type Result struct {
	Anchors             []core.AnchorCandidate `json:"anchors"`
	Intent              *core.IntentAnalysis   `json:"intent"`
	UserMentionedIDs    []string               `json:"user_mentioned_ids"`
	UserMentionedTracks []core.Track           `json:"user_mentioned_tracks"`
}

type Selector struct {
	catalog  core.CatalogClient
	analyzer core.Analyzer
	cache    *cache.Manager
	logger   *zap.Logger
}

func NewSelector(catalogClient core.CatalogClient, analyzer core.Analyzer, cacheManager *cache.Manager, logger *zap.Logger) *Selector {
	return &Selector{
		catalog:  catalogClient,
		analyzer: analyzer,
		cache:    cacheManager,
		logger:   logger.Named("anchor"),
	}
}

// SelectAnchors runs the three anchor tiers and composes the final set. User
// mentions are always included and protected; the remaining slots are filled
// from artist and genre anchors by score descending. Results are cached for
// 15 minutes per (user, prompt).
func (s *Selector) SelectAnchors(ctx context.Context, token, userID, prompt string, analysis *core.MoodAnalysis) (*Result, error) {
	var cached Result
	if s.cache.Get(ctx, cache.CategoryAnchorTracks, &cached, userID, prompt) {
		renormalizeProtection(&cached)
		s.logger.Debug("anchor selection served from cache",
			zap.String("user_id", userID), zap.Int("anchors", len(cached.Anchors)))
		return &cached, nil
	}

	intent := s.ExtractIntent(ctx, prompt)

	userAnchors := s.userAnchors(ctx, token, intent)
	artistAnchors := s.artistAnchors(ctx, token, intent, analysis)
	genreAnchors := s.genreAnchors(ctx, token, prompt, analysis)

	candidates := append(artistAnchors, genreAnchors...)
	s.scoreCandidates(ctx, prompt, analysis, candidates)
	candidates = dropWeakGenreAnchors(candidates)

	targetCount := s.strategyCount(ctx, prompt, analysis)

	result := &Result{
		Anchors: compose(userAnchors, candidates, targetCount),
		Intent:  intent,
	}
	for _, a := range userAnchors {
		result.UserMentionedIDs = append(result.UserMentionedIDs, a.Track.ID)
		result.UserMentionedTracks = append(result.UserMentionedTracks, a.Track)
	}

	s.cache.Set(ctx, cache.CategoryAnchorTracks, result, userID, prompt)
	s.logger.Info("anchors selected",
		zap.String("user_id", userID),
		zap.Int("user_anchors", len(userAnchors)),
		zap.Int("artist_anchors", len(artistAnchors)),
		zap.Int("genre_anchors", len(genreAnchors)),
		zap.Int("final", len(result.Anchors)))
	return result, nil
}

// userAnchors resolves every explicitly mentioned track against the catalog.
// Mentions that cannot be resolved are logged and skipped, never guessed.
func (s *Selector) userAnchors(ctx context.Context, token string, intent *core.IntentAnalysis) []core.AnchorCandidate {
	var anchors []core.AnchorCandidate
	for _, mention := range intent.MentionedTracks {
		query := fmt.Sprintf("track:%q", mention.Name)
		if mention.Artist != "" {
			query += fmt.Sprintf(" artist:%q", mention.Artist)
		}
		tracks, err := s.catalog.SearchTracks(ctx, token, query, 3)
		if err != nil {
			s.logger.Warn("mentioned track lookup failed",
				zap.String("title", mention.Name), zap.Error(err))
			continue
		}
		if len(tracks) == 0 {
			s.logger.Warn("mentioned track not found in catalog",
				zap.String("title", mention.Name), zap.String("artist", mention.Artist))
			continue
		}
		anchors = append(anchors, core.UserAnchor(tracks[0]))
	}
	return anchors
}

// artistAnchors fetches top tracks for mentioned and recommended artists.
// Mentioned artists outrank recommended ones through a small score offset.
func (s *Selector) artistAnchors(ctx context.Context, token string, intent *core.IntentAnalysis, analysis *core.MoodAnalysis) []core.AnchorCandidate {
	type artistRef struct {
		name       string
		anchorType core.AnchorType
		baseScore  float64
	}

	var refs []artistRef
	seen := make(map[string]bool)
	for _, name := range intent.MentionedArtists {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, artistRef{name: name, anchorType: core.AnchorArtistMentioned, baseScore: 0.9})
	}
	if analysis != nil {
		for _, name := range analysis.ArtistRecommendations {
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, artistRef{name: name, anchorType: core.AnchorArtistRecommended, baseScore: 0.7})
		}
	}

	var anchors []core.AnchorCandidate
	for _, ref := range refs {
		artists, err := s.catalog.SearchArtists(ctx, token, ref.name, 5)
		if err != nil {
			s.logger.Warn("artist anchor search failed",
				zap.String("artist", ref.name), zap.Error(err))
			continue
		}
		match := catalog.BestArtistMatch(artists, ref.name)
		if match == nil {
			continue
		}
		tracks, err := s.catalog.ArtistTopTracks(ctx, token, match.ID, match.Name)
		if err != nil {
			s.logger.Warn("artist anchor top tracks failed",
				zap.String("artist", match.Name), zap.Error(err))
			continue
		}
		if len(tracks) > tracksPerArtistAnchor {
			tracks = tracks[:tracksPerArtistAnchor]
		}
		for _, track := range tracks {
			anchors = append(anchors, core.AnchorCandidate{
				Track:      track,
				Score:      ref.baseScore,
				Confidence: ref.baseScore,
				Source:     core.SourceAnchorTrack,
				AnchorType: ref.anchorType,
			})
		}
	}
	return anchors
}

// genreAnchors searches the catalog by genre keyword and scores hits against
// the mood targets. Non-Latin-script hits without a matching region cue in the
// prompt lose half their score; anything below the cutoff is dropped.
func (s *Selector) genreAnchors(ctx context.Context, token, prompt string, analysis *core.MoodAnalysis) []core.AnchorCandidate {
	if analysis == nil {
		return nil
	}
	keywords := analysis.GenreKeywords
	if len(keywords) == 0 {
		keywords = analysis.SearchKeywords
	}
	if len(keywords) > maxGenreKeywords {
		keywords = keywords[:maxGenreKeywords]
	}

	seen := make(map[string]bool)
	var anchors []core.AnchorCandidate
	for _, keyword := range keywords {
		tracks, err := s.catalog.SearchTracks(ctx, token, keyword, genreSearchLimit)
		if err != nil {
			s.logger.Warn("genre anchor search failed",
				zap.String("keyword", keyword), zap.Error(err))
			continue
		}
		for _, track := range tracks {
			if seen[track.ID] {
				continue
			}
			seen[track.ID] = true

			score := genreScore(track)
			if scriptMismatch(prompt, append([]string{track.Name}, track.Artists...)...) {
				score *= scriptPenalty
			}
			if score < genreScoreCutoff {
				continue
			}
			anchors = append(anchors, core.AnchorCandidate{
				Track:      track,
				Score:      score,
				Confidence: score,
				Source:     core.SourceAnchorTrack,
				AnchorType: core.AnchorGenre,
			})
		}
	}
	return anchors
}

// genreScore is the popularity heuristic for genre-search hits. Catalog
// search results carry no audio features; Rescore sharpens the score later
// once features are fetched.
func genreScore(track core.Track) float64 {
	score := 0.5 + float64(track.Popularity)/200
	if score > 1 {
		score = 1
	}
	return score
}

// llmStrategy is the LLM's per-prompt anchor strategy.
type llmStrategy struct {
	AnchorCount    int  `json:"anchor_count"`
	GenreDiversity bool `json:"genre_diversity"`
}

const strategySystemPrompt = `You plan how many anchor tracks a playlist needs.

Return ONLY a JSON object:
{"anchor_count": 5, "genre_diversity": true}

anchor_count must be between 3 and 8. Use more anchors for vague prompts,
fewer for very specific ones. genre_diversity is true when the prompt spans
multiple genres.`

// strategyCount asks the LLM for the anchor count and clamps it to [3,8].
// Without an LLM the default count is used.
func (s *Selector) strategyCount(ctx context.Context, prompt string, analysis *core.MoodAnalysis) int {
	user := prompt
	if analysis != nil && analysis.MoodInterpretation != "" {
		user += "\n\nInterpretation: " + analysis.MoodInterpretation
	}

	completion, err := s.analyzer.Complete(ctx, strategySystemPrompt, user)
	if err != nil {
		return defaultAnchorCount
	}
	raw, err := llm.ExtractJSON(completion)
	if err != nil {
		return defaultAnchorCount
	}
	var strategy llmStrategy
	if err := json.Unmarshal([]byte(raw), &strategy); err != nil {
		return defaultAnchorCount
	}

	count := strategy.AnchorCount
	if count < minAnchorCount {
		count = minAnchorCount
	}
	if count > maxAnchorCount {
		count = maxAnchorCount
	}
	return count
}

const scoreSystemPrompt = `You rate how well candidate tracks fit a playlist request.

Given a request and a numbered candidate list, return ONLY a JSON object
mapping each candidate number (as a string) to a fitness score in [0,1]:
{"1": 0.9, "2": 0.35}

Score low for tracks whose language, region, or style conflicts with the
request. Score every candidate.`

// scoreCandidates asks the LLM to re-score the candidate batch in place.
// Protected candidates and LLM failures leave the heuristic scores untouched.
func (s *Selector) scoreCandidates(ctx context.Context, prompt string, analysis *core.MoodAnalysis, candidates []core.AnchorCandidate) {
	if len(candidates) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("Request: ")
	sb.WriteString(prompt)
	if analysis != nil && analysis.MoodInterpretation != "" {
		sb.WriteString("\nInterpretation: ")
		sb.WriteString(analysis.MoodInterpretation)
	}
	sb.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s by %s\n", i+1, c.Track.Name, strings.Join(c.Track.Artists, ", "))
	}

	completion, err := s.analyzer.Complete(ctx, scoreSystemPrompt, sb.String())
	if err != nil {
		return
	}
	raw, err := llm.ExtractJSON(completion)
	if err != nil {
		return
	}
	var scores map[string]float64
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return
	}

	for i := range candidates {
		if candidates[i].Protected {
			continue
		}
		score, ok := scores[fmt.Sprintf("%d", i+1)]
		if !ok || score < 0 || score > 1 {
			continue
		}
		candidates[i].Score = score
		candidates[i].Confidence = score
	}
}

// dropWeakGenreAnchors re-applies the genre cutoff after rescoring. A genre
// hit only ever entered on its heuristic score; once the LLM rates it below
// the cutoff it no longer qualifies.
func dropWeakGenreAnchors(candidates []core.AnchorCandidate) []core.AnchorCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if c.AnchorType == core.AnchorGenre && !c.Protected && c.Score < genreScoreCutoff {
			continue
		}
		out = append(out, c)
	}
	return out
}

// compose always takes every user anchor, then fills the remaining slots from
// the scored candidates by score descending.
func compose(userAnchors, candidates []core.AnchorCandidate, targetCount int) []core.AnchorCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	remaining := targetCount - len(userAnchors)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > len(candidates) {
		remaining = len(candidates)
	}

	out := make([]core.AnchorCandidate, 0, len(userAnchors)+remaining)
	out = append(out, userAnchors...)
	out = append(out, candidates[:remaining]...)
	return out
}

// renormalizeProtection re-derives protection from the cached user-mention
// ids. Stale cached flags must not protect tracks the current prompt does not
// mention.
func renormalizeProtection(result *Result) {
	mentioned := make(map[string]bool, len(result.UserMentionedIDs))
	for _, id := range result.UserMentionedIDs {
		mentioned[id] = true
	}
	for i := range result.Anchors {
		isUser := mentioned[result.Anchors[i].Track.ID]
		result.Anchors[i].Protected = isUser
		if isUser {
			result.Anchors[i].AnchorType = core.AnchorUser
			result.Anchors[i].Score = 1.0
			result.Anchors[i].Confidence = 1.0
		} else if result.Anchors[i].AnchorType == core.AnchorUser {
			result.Anchors[i].AnchorType = core.AnchorNone
		}
	}
}
