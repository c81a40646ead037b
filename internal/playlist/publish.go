package playlist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

// addTracksBatch is the Catalog's per-request cap for playlist additions.
const addTracksBatch = 100

// Publisher pushes a finalized recommendation list to the Catalog as a
// playlist.
type Publisher struct {
	catalog core.CatalogClient
	logger  *zap.Logger
}

func NewPublisher(catalogClient core.CatalogClient, logger *zap.Logger) *Publisher {
	return &Publisher{
		catalog: catalogClient,
		logger:  logger.Named("publish"),
	}
}

// Publish creates the playlist and adds every recommendation that carries a
// URI, batched per the Catalog limit. Returns the new playlist ID.
func (p *Publisher) Publish(ctx context.Context, token, userID, name, description string, recs []core.TrackRecommendation) (string, error) {
	uris := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.SpotifyURI != "" {
			uris = append(uris, rec.SpotifyURI)
		}
	}
	if len(uris) == 0 {
		return "", fmt.Errorf("publish: %w", core.ErrNoRecommendations)
	}

	playlistID, err := p.catalog.CreatePlaylist(ctx, token, userID, name, description)
	if err != nil {
		return "", fmt.Errorf("create playlist: %w", err)
	}

	for start := 0; start < len(uris); start += addTracksBatch {
		end := min(start+addTracksBatch, len(uris))
		if err := p.catalog.AddTracksToPlaylist(ctx, token, playlistID, uris[start:end]); err != nil {
			return playlistID, fmt.Errorf("add tracks %d..%d: %w", start, end, err)
		}
	}

	p.logger.Info("playlist published",
		zap.String("playlist_id", playlistID),
		zap.Int("tracks", len(uris)))
	return playlistID, nil
}

// UploadCover sets the playlist cover image. Failures are non-fatal for the
// publish flow; the caller decides whether to surface them.
func (p *Publisher) UploadCover(ctx context.Context, token, playlistID, jpegBase64 string) error {
	if jpegBase64 == "" {
		return nil
	}
	if err := p.catalog.UploadCover(ctx, token, playlistID, jpegBase64); err != nil {
		return fmt.Errorf("upload cover: %w", err)
	}
	return nil
}
