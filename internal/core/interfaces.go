package core

import (
	"context"
)

// UserProfile is the catalog user record the engine consumes.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country,omitempty"`
}

// Album is a catalog album reference used for deep-cut discovery.
type Album struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date,omitempty"`
	AlbumType   string `json:"album_type,omitempty"`
}

// HybridOptions tunes the hybrid top-tracks/deep-cuts fetch for an artist.
type HybridOptions struct {
	// TopTracksRatio is the share of the result drawn from the artist's top
	// tracks; the remainder comes from album deep cuts.
	TopTracksRatio float64
	MinPopularity  int
	MaxPopularity  int
	Limit          int
	// Prefetched top tracks, when the caller already holds them, avoid a
	// second sequential call.
	PrefetchedTop []Track
}

// CatalogClient is the music catalog / user-library upstream (Spotify-shaped).
type CatalogClient interface {
	CurrentUser(ctx context.Context, token string) (*UserProfile, error)
	TopTracks(ctx context.Context, token, timeRange string, limit int) ([]Track, error)
	TopArtists(ctx context.Context, token, timeRange string, limit int) ([]Artist, error)
	SearchTracks(ctx context.Context, token, query string, limit int) ([]Track, error)
	SearchArtists(ctx context.Context, token, query string, limit int) ([]Artist, error)
	ArtistTopTracks(ctx context.Context, token, artistID, artistName string) ([]Track, error)
	ArtistAlbums(ctx context.Context, token, artistID string, limit int) ([]Album, error)
	AlbumTracks(ctx context.Context, token, albumID string, limit int) ([]Track, error)
	GetTrack(ctx context.Context, token, trackID string) (*Track, error)
	HybridArtistTracks(ctx context.Context, token, artistID, artistName string, opts HybridOptions) ([]Track, error)
	CreatePlaylist(ctx context.Context, token, userID, name, description string) (string, error)
	AddTracksToPlaylist(ctx context.Context, token, playlistID string, uris []string) error
	UploadCover(ctx context.Context, token, playlistID, jpegBase64 string) error
}

// FeaturesClient is the audio-analysis / recommendation upstream (RecoBeat-shaped).
type FeaturesClient interface {
	// Recommend requests tracks for up to 5 seeds and 5 negative seeds.
	// Audio-feature parameters are deliberately not part of the call; they
	// empirically degrade results.
	Recommend(ctx context.Context, seeds, negatives []string, size int) ([]Track, error)
	// GetMultipleTracks maps catalog IDs (max 40 per call) to features-service
	// IDs; absent IDs are simply missing from the result.
	GetMultipleTracks(ctx context.Context, catalogIDs []string) (map[string]string, error)
	GetTrack(ctx context.Context, featuresID string) (*Track, error)
	AudioFeatures(ctx context.Context, featuresID string) (AudioFeatures, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]Artist, error)
	GetMultipleArtists(ctx context.Context, ids []string) ([]Artist, error)
	ArtistTracks(ctx context.Context, artistID string, limit int) ([]Track, error)
}

// Analyzer is the opaque LLM capability: a system/user prompt pair in, raw
// completion text out. Implementations live in internal/llm.
type Analyzer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// TokenSource yields a valid Catalog access token for a user, refreshing if
// needed.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, userID string) (string, error)
}

// ProgressNotifier receives workflow state snapshots on every transition.
// Implementations must not block.
type ProgressNotifier interface {
	Notify(state *WorkflowState)
}

// NopNotifier discards progress updates.
type NopNotifier struct{}

func (NopNotifier) Notify(*WorkflowState) {}
