package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"moodlist/internal/core"
	"moodlist/pkg/fuzzy"
)

const enrichMatchThreshold = 0.5

// enrich resolves catalog identities for recommendations that lack a URI or a
// known artist. Protected tracks survive even when enrichment fails;
// non-protected unenrichable tracks are removed.
func (o *Orchestrator) enrich(ctx context.Context, state *core.WorkflowState, recs []core.TrackRecommendation) []core.TrackRecommendation {
	normalizer := fuzzy.NewNormalizer()
	token := state.Metadata.SpotifyAccessToken

	out := make([]core.TrackRecommendation, 0, len(recs))
	for _, rec := range recs {
		if rec.SpotifyURI != "" && !unknownArtist(&rec) {
			out = append(out, rec)
			continue
		}

		enriched, ok := o.enrichOne(ctx, token, normalizer, &rec)
		switch {
		case ok:
			out = append(out, *enriched)
		case rec.Protected:
			o.logger.Warn("protected track kept without enrichment",
				zap.String("track", rec.TrackName))
			out = append(out, rec)
		default:
			o.logger.Debug("unenrichable track dropped",
				zap.String("track", rec.TrackName))
		}
	}
	return out
}

func (o *Orchestrator) enrichOne(ctx context.Context, token string, normalizer *fuzzy.Normalizer, rec *core.TrackRecommendation) (*core.TrackRecommendation, bool) {
	query := fmt.Sprintf("track:%q", rec.TrackName)
	wantArtist := ""
	if len(rec.Artists) > 0 && !unknownArtist(rec) {
		wantArtist = rec.Artists[0]
		query += fmt.Sprintf(" artist:%q", wantArtist)
	}

	tracks, err := o.catalog.SearchTracks(ctx, token, query, 5)
	if err != nil || len(tracks) == 0 {
		return nil, false
	}

	match := bestEnrichmentMatch(normalizer, tracks, wantArtist)
	if match == nil {
		return nil, false
	}

	enriched := *rec
	enriched.TrackID = match.ID
	enriched.SpotifyURI = match.URI
	if len(match.Artists) > 0 {
		enriched.Artists = match.Artists
	}
	if enriched.ReleaseDate == "" {
		enriched.ReleaseDate = match.ReleaseDate
	}
	if enriched.Popularity == 0 {
		enriched.Popularity = match.Popularity
	}
	return &enriched, true
}

// bestEnrichmentMatch requires at least half of the wanted artist's
// non-stopword tokens to appear in the candidate's artist name. Without a
// wanted artist the first hit wins.
func bestEnrichmentMatch(normalizer *fuzzy.Normalizer, tracks []core.Track, wantArtist string) *core.Track {
	if wantArtist == "" {
		return &tracks[0]
	}
	for i := range tracks {
		for _, artist := range tracks[i].Artists {
			if normalizer.TokenOverlap(wantArtist, artist) >= enrichMatchThreshold {
				return &tracks[i]
			}
		}
	}
	return nil
}
