// Package playlist finalizes a candidate list: the 98:2 source-ratio cap,
// multi-key deduplication, and the artist-diversity penalty. The ordering
// produced by EnforceRatio is final; the later steps must not re-sort.
package playlist

import (
	"sort"
	"strings"

	"moodlist/pkg/fuzzy"

	"moodlist/internal/core"
)

const (
	diversityPenaltyStep = 0.1
	diversityFloor       = 0.1
	maxNonUserAnchors    = 5
	seedShare            = 0.02
)

// EnforceRatio applies the source-ratio invariants:
//   - user-mentioned anchors are unlimited and count toward nothing
//   - other anchors are capped at target.MaxAnchors (default 5)
//   - remaining slots split 98% artist-discovery / 2% seed-based, with the
//     seed group always getting at least one slot and never more than its
//     quota, even when discovery comes up short
//
// Each group is sorted by confidence descending, then concatenated
// anchors | artist | seed. The concatenated order is final.
func EnforceRatio(recs []core.TrackRecommendation, target core.PlaylistTarget) []core.TrackRecommendation {
	var userAnchors, otherAnchors, artistTracks, seedTracks []core.TrackRecommendation
	for _, rec := range recs {
		switch {
		case rec.UserMentioned:
			userAnchors = append(userAnchors, rec)
		case rec.Source == core.SourceAnchorTrack:
			otherAnchors = append(otherAnchors, rec)
		case rec.Source == core.SourceArtistDiscovery:
			artistTracks = append(artistTracks, rec)
		default:
			seedTracks = append(seedTracks, rec)
		}
	}

	byConfidence := func(group []core.TrackRecommendation) {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].ConfidenceScore > group[j].ConfidenceScore
		})
	}
	byConfidence(userAnchors)
	byConfidence(otherAnchors)
	byConfidence(artistTracks)
	byConfidence(seedTracks)

	anchorCap := target.MaxAnchors
	if anchorCap <= 0 {
		anchorCap = maxNonUserAnchors
	}
	if len(otherAnchors) > anchorCap {
		otherAnchors = otherAnchors[:anchorCap]
	}

	targetCount := target.TargetCount
	if targetCount <= 0 {
		targetCount = len(recs)
	}

	remaining := targetCount - len(userAnchors) - len(otherAnchors)
	if remaining < 0 {
		remaining = 0
	}

	seedQuota := int(float64(remaining) * seedShare)
	if seedQuota < 1 {
		seedQuota = 1
	}
	if seedQuota > len(seedTracks) {
		seedQuota = len(seedTracks)
	}
	artistQuota := remaining - seedQuota
	if artistQuota < 0 {
		artistQuota = 0
	}
	if artistQuota > len(artistTracks) {
		// A discovery shortfall shrinks the playlist; seed tracks never
		// exceed their quota to fill it.
		artistQuota = len(artistTracks)
	}

	out := make([]core.TrackRecommendation, 0, len(userAnchors)+len(otherAnchors)+artistQuota+seedQuota)
	out = append(out, userAnchors...)
	out = append(out, otherAnchors...)
	out = append(out, artistTracks[:artistQuota]...)
	out = append(out, seedTracks[:seedQuota]...)
	return out
}

// Deduplicate removes entries sharing a track id, a normalized track name, or
// a URI with an earlier entry. First occurrence wins, so protected anchors at
// the front survive every collision.
func Deduplicate(recs []core.TrackRecommendation) []core.TrackRecommendation {
	normalizer := fuzzy.NewNormalizer()

	seenID := make(map[string]bool, len(recs))
	seenName := make(map[string]bool, len(recs))
	seenURI := make(map[string]bool, len(recs))

	out := make([]core.TrackRecommendation, 0, len(recs))
	for _, rec := range recs {
		name := normalizer.NormalizeTitle(rec.TrackName)
		if rec.TrackID != "" && seenID[rec.TrackID] {
			continue
		}
		if name != "" && seenName[name] {
			continue
		}
		if rec.SpotifyURI != "" && seenURI[rec.SpotifyURI] {
			continue
		}
		if rec.TrackID != "" {
			seenID[rec.TrackID] = true
		}
		if name != "" {
			seenName[name] = true
		}
		if rec.SpotifyURI != "" {
			seenURI[rec.SpotifyURI] = true
		}
		out = append(out, rec)
	}
	return out
}

// ApplyDiversity penalizes artist repetition: each non-protected track loses
// 0.1 per repeated occurrence of each of its artists, floored at 0.1.
// Afterwards the protected and non-protected partitions are sorted
// independently and concatenated protected-first; the combined list is never
// re-sorted as a whole.
func ApplyDiversity(recs []core.TrackRecommendation) []core.TrackRecommendation {
	counts := make(map[string]int)
	for _, rec := range recs {
		for _, artist := range rec.Artists {
			counts[artistKey(artist)]++
		}
	}

	var protected, rest []core.TrackRecommendation
	for _, rec := range recs {
		if !rec.Protected {
			for _, artist := range rec.Artists {
				if n := counts[artistKey(artist)]; n > 1 {
					rec.ConfidenceScore -= diversityPenaltyStep * float64(n-1)
				}
			}
			if rec.ConfidenceScore < diversityFloor {
				rec.ConfidenceScore = diversityFloor
			}
			rest = append(rest, rec)
		} else {
			protected = append(protected, rec)
		}
	}

	sort.SliceStable(protected, func(i, j int) bool {
		return protected[i].ConfidenceScore > protected[j].ConfidenceScore
	})
	sort.SliceStable(rest, func(i, j int) bool {
		return rest[i].ConfidenceScore > rest[j].ConfidenceScore
	})

	return append(protected, rest...)
}

func artistKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
