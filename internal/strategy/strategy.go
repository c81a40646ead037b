// Package strategy holds the candidate generators. Each strategy turns the
// gathered workflow state into TrackRecommendation candidates; the
// orchestrator merges, scores, and filters them afterwards.
package strategy

import (
	"context"
	"math"

	"moodlist/internal/core"
)

// Generator is one candidate source. Generators may run concurrently; they
// read the workflow state but never mutate it.
type Generator interface {
	Name() string
	Generate(ctx context.Context, state *core.WorkflowState) ([]core.TrackRecommendation, error)
}

// Fallback sizing when the orchestrator did not set a playlist target.
const (
	defaultPlaylistTarget = 20
	defaultDiscoveryShare = 0.95
)

// generationBudget reads the playlist target and the discovery share that
// size each strategy's request volume.
func generationBudget(state *core.WorkflowState) (int, float64) {
	target, share := defaultPlaylistTarget, defaultDiscoveryShare
	if pt := state.Metadata.PlaylistTarget; pt != nil {
		if pt.TargetCount > 0 {
			target = pt.TargetCount
		}
		if pt.DiscoveryShare > 0 && pt.DiscoveryShare < 1 {
			share = pt.DiscoveryShare
		}
	}
	return target, share
}

// shareOf is the ceiling of share x count.
func shareOf(count int, share float64) int {
	return int(math.Ceil(float64(count) * share))
}

// recommendation builds the common recommendation shape from a catalog track.
func recommendation(track core.Track, source core.Source, confidence float64) core.TrackRecommendation {
	return core.TrackRecommendation{
		TrackID:         track.ID,
		TrackName:       track.Name,
		Artists:         track.Artists,
		SpotifyURI:      track.URI,
		ConfidenceScore: confidence,
		Source:          source,
		Popularity:      track.Popularity,
		ReleaseDate:     track.ReleaseDate,
	}
}

// dedupeOrdered removes duplicate ids, keeping first occurrences in order.
func dedupeOrdered(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
