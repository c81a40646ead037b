package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

const (
	defaultHybridLimit = 10
	deepCutAlbumLimit  = 6
	albumTrackLimit    = 20
)

// HybridArtistTracks mixes an artist's top tracks with album deep cuts
// according to opts.TopTracksRatio. A popularity window, when set, filters both
// pools; deep cuts from album listings carry no popularity and pass the filter.
func (c *Client) HybridArtistTracks(ctx context.Context, token, artistID, artistName string, opts core.HybridOptions) ([]core.Track, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultHybridLimit
	}
	ratio := opts.TopTracksRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.5
	}

	top := opts.PrefetchedTop
	if top == nil {
		fetched, err := c.ArtistTopTracks(ctx, token, artistID, artistName)
		if err != nil {
			return nil, fmt.Errorf("hybrid tracks: %w", err)
		}
		top = fetched
	}
	top = filterPopularity(top, opts.MinPopularity, opts.MaxPopularity)

	topQuota := int(float64(limit)*ratio + 0.5)
	if topQuota > len(top) {
		topQuota = len(top)
	}

	result := make([]core.Track, 0, limit)
	seen := make(map[string]bool, limit)
	for _, t := range top[:topQuota] {
		result = append(result, t)
		seen[t.ID] = true
	}

	if len(result) < limit {
		deep, err := c.deepCuts(ctx, token, artistID, limit-len(result), seen, opts)
		if err != nil {
			// Top tracks alone are an acceptable result; deep cuts are
			// best-effort.
			c.logger.Debug("deep cut fetch failed, returning top tracks only",
				zap.String("artist_id", artistID),
				zap.Error(err))
		} else {
			result = append(result, deep...)
		}
	}

	// Backfill from the remaining top tracks when deep cuts came up short.
	for _, t := range top[topQuota:] {
		if len(result) >= limit {
			break
		}
		if !seen[t.ID] {
			result = append(result, t)
			seen[t.ID] = true
		}
	}

	return result, nil
}

// deepCuts walks the artist's albums newest-first and collects tracks absent
// from the top-tracks pool.
func (c *Client) deepCuts(ctx context.Context, token, artistID string, want int, seen map[string]bool, opts core.HybridOptions) ([]core.Track, error) {
	albums, err := c.ArtistAlbums(ctx, token, artistID, deepCutAlbumLimit)
	if err != nil {
		return nil, err
	}

	var cuts []core.Track
	for _, album := range albums {
		if len(cuts) >= want {
			break
		}
		tracks, err := c.AlbumTracks(ctx, token, album.ID, albumTrackLimit)
		if err != nil {
			c.logger.Debug("album tracks fetch failed, skipping album",
				zap.String("album_id", album.ID),
				zap.Error(err))
			continue
		}
		for i := range tracks {
			if len(cuts) >= want {
				break
			}
			t := tracks[i]
			if seen[t.ID] {
				continue
			}
			// Album listings leave album metadata empty; carry it from the
			// listing so temporal filtering still works.
			if t.Album == "" {
				t.Album = album.Name
			}
			if t.ReleaseDate == "" {
				t.ReleaseDate = album.ReleaseDate
			}
			if t.Popularity > 0 && !withinPopularity(t.Popularity, opts.MinPopularity, opts.MaxPopularity) {
				continue
			}
			seen[t.ID] = true
			cuts = append(cuts, t)
		}
	}
	return cuts, nil
}

func withinPopularity(popularity, min, max int) bool {
	if min > 0 && popularity < min {
		return false
	}
	if max > 0 && popularity > max {
		return false
	}
	return true
}

func filterPopularity(tracks []core.Track, min, max int) []core.Track {
	if min <= 0 && max <= 0 {
		return tracks
	}
	out := make([]core.Track, 0, len(tracks))
	for _, t := range tracks {
		if withinPopularity(t.Popularity, min, max) {
			out = append(out, t)
		}
	}
	return out
}
