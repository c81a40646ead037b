// Package catalog is the client for the music catalog / user-library upstream.
// Every call goes through the rate-limited httpx tool; responses are mapped to
// the core model at the edge.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/httpx"
)

const (
	maxTopLimit       = 50
	addTracksBatch    = 100
	searchFallbackCap = 10
)

// Client implements core.CatalogClient.
type Client struct {
	tool    *httpx.Tool
	cache   *cache.Manager
	markets []string
	logger  *zap.Logger
}

func NewClient(cfg core.CatalogConfig, shared *httpx.Shared, cacheManager *cache.Manager, logger *zap.Logger) *Client {
	markets := cfg.Markets
	if len(markets) == 0 {
		markets = []string{"US"}
	}
	return &Client{
		tool: httpx.NewTool(httpx.ToolConfig{
			Name:              "catalog",
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerMinute: cfg.RequestsPerMinute,
			MinInterval:       cfg.MinInterval,
		}, shared),
		cache:   cacheManager,
		markets: markets,
		logger:  logger.Named("catalog"),
	}
}

// Wire DTOs. The upstream nests artists and albums inside track objects; the
// core model flattens them.

type trackDTO struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URI     string `json:"uri"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name        string `json:"name"`
		ReleaseDate string `json:"release_date"`
	} `json:"album"`
	Popularity int `json:"popularity"`
	DurationMS int `json:"duration_ms"`
}

type artistDTO struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
}

type albumDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
	AlbumType   string `json:"album_type"`
}

func (d *trackDTO) toTrack() core.Track {
	t := core.Track{
		ID:          d.ID,
		Name:        d.Name,
		URI:         d.URI,
		Album:       d.Album.Name,
		ReleaseDate: d.Album.ReleaseDate,
		Popularity:  d.Popularity,
		DurationMS:  d.DurationMS,
	}
	for _, a := range d.Artists {
		t.Artists = append(t.Artists, a.Name)
		t.ArtistIDs = append(t.ArtistIDs, a.ID)
	}
	return t
}

func (d *artistDTO) toArtist() core.Artist {
	return core.Artist{ID: d.ID, Name: d.Name, Genres: d.Genres, Popularity: d.Popularity}
}

func authHeader(token string) http.Header {
	h := make(http.Header, 1)
	h.Set("Authorization", "Bearer "+token)
	return h
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxTopLimit {
		return maxTopLimit
	}
	return limit
}

// CurrentUser fetches the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context, token string) (*core.UserProfile, error) {
	var profile core.UserProfile
	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/me",
		Headers: authHeader(token),
	}, &profile)
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return &profile, nil
}

// TopTracks fetches the user's top tracks for a time range.
func (c *Client) TopTracks(ctx context.Context, token, timeRange string, limit int) ([]core.Track, error) {
	var resp struct {
		Items []trackDTO `json:"items"`
	}
	q := url.Values{}
	q.Set("time_range", timeRange)
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/me/top/tracks",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("top tracks: %w", err)
	}

	tracks := make([]core.Track, 0, len(resp.Items))
	for i := range resp.Items {
		tracks = append(tracks, resp.Items[i].toTrack())
	}
	return tracks, nil
}

// TopArtists fetches the user's top artists for a time range.
func (c *Client) TopArtists(ctx context.Context, token, timeRange string, limit int) ([]core.Artist, error) {
	var resp struct {
		Items []artistDTO `json:"items"`
	}
	q := url.Values{}
	q.Set("time_range", timeRange)
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/me/top/artists",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("top artists: %w", err)
	}

	artists := make([]core.Artist, 0, len(resp.Items))
	for i := range resp.Items {
		artists = append(artists, resp.Items[i].toArtist())
	}
	return artists, nil
}

// SearchTracks runs a track search.
func (c *Client) SearchTracks(ctx context.Context, token, query string, limit int) ([]core.Track, error) {
	var resp struct {
		Tracks struct {
			Items []trackDTO `json:"items"`
		} `json:"tracks"`
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/search",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("search tracks %q: %w", query, err)
	}

	tracks := make([]core.Track, 0, len(resp.Tracks.Items))
	for i := range resp.Tracks.Items {
		tracks = append(tracks, resp.Tracks.Items[i].toTrack())
	}
	return tracks, nil
}

// SearchArtists runs an artist search.
func (c *Client) SearchArtists(ctx context.Context, token, query string, limit int) ([]core.Artist, error) {
	var resp struct {
		Artists struct {
			Items []artistDTO `json:"items"`
		} `json:"artists"`
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "artist")
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/search",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("search artists %q: %w", query, err)
	}

	artists := make([]core.Artist, 0, len(resp.Artists.Items))
	for i := range resp.Artists.Items {
		artists = append(artists, resp.Artists.Items[i].toArtist())
	}
	return artists, nil
}

// ArtistTopTracks fetches an artist's top tracks, falling back through the
// configured market chain and finally to a name-based track search. Results are
// cached per (artist, market).
func (c *Client) ArtistTopTracks(ctx context.Context, token, artistID, artistName string) ([]core.Track, error) {
	var lastErr error
	for _, market := range c.markets {
		var cached []core.Track
		if c.cache.Get(ctx, cache.CategoryArtistTopTracks, &cached, artistID, market) {
			return cached, nil
		}

		tracks, err := c.artistTopTracksInMarket(ctx, token, artistID, market)
		if err != nil {
			lastErr = err
			c.logger.Debug("artist top tracks failed in market, falling through",
				zap.String("artist_id", artistID),
				zap.String("market", market),
				zap.Error(err))
			continue
		}
		if len(tracks) > 0 {
			c.cache.Set(ctx, cache.CategoryArtistTopTracks, tracks, artistID, market)
			return tracks, nil
		}
	}

	if artistName != "" {
		tracks, err := c.SearchTracks(ctx, token, fmt.Sprintf("artist:%q", artistName), searchFallbackCap)
		if err == nil && len(tracks) > 0 {
			c.logger.Debug("artist top tracks resolved via name search",
				zap.String("artist", artistName),
				zap.Int("tracks", len(tracks)))
			return tracks, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	if lastErr == nil {
		lastErr = &core.NotFoundError{ID: artistID}
	}
	return nil, fmt.Errorf("artist top tracks %s: %w", artistID, lastErr)
}

func (c *Client) artistTopTracksInMarket(ctx context.Context, token, artistID, market string) ([]core.Track, error) {
	var resp struct {
		Tracks []trackDTO `json:"tracks"`
	}
	q := url.Values{}
	q.Set("market", market)

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/artists/" + artistID + "/top-tracks",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, err
	}

	tracks := make([]core.Track, 0, len(resp.Tracks))
	for i := range resp.Tracks {
		tracks = append(tracks, resp.Tracks[i].toTrack())
	}
	return tracks, nil
}

// ArtistAlbums lists an artist's albums.
func (c *Client) ArtistAlbums(ctx context.Context, token, artistID string, limit int) ([]core.Album, error) {
	var resp struct {
		Items []albumDTO `json:"items"`
	}
	q := url.Values{}
	q.Set("include_groups", "album,single")
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/artists/" + artistID + "/albums",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("artist albums %s: %w", artistID, err)
	}

	albums := make([]core.Album, 0, len(resp.Items))
	for _, a := range resp.Items {
		albums = append(albums, core.Album{
			ID:          a.ID,
			Name:        a.Name,
			ReleaseDate: a.ReleaseDate,
			AlbumType:   a.AlbumType,
		})
	}
	return albums, nil
}

// AlbumTracks lists the tracks of an album. The upstream's album-tracks items
// omit popularity and album data; callers needing those fetch the full track.
func (c *Client) AlbumTracks(ctx context.Context, token, albumID string, limit int) ([]core.Track, error) {
	var resp struct {
		Items []trackDTO `json:"items"`
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(clampLimit(limit)))

	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/albums/" + albumID + "/tracks",
		Query:   q,
		Headers: authHeader(token),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("album tracks %s: %w", albumID, err)
	}

	tracks := make([]core.Track, 0, len(resp.Items))
	for i := range resp.Items {
		tracks = append(tracks, resp.Items[i].toTrack())
	}
	return tracks, nil
}

// GetTrack fetches one track, cached under track_details.
func (c *Client) GetTrack(ctx context.Context, token, trackID string) (*core.Track, error) {
	var cached core.Track
	if c.cache.Get(ctx, cache.CategoryTrackDetails, &cached, trackID) {
		return &cached, nil
	}

	var dto trackDTO
	err := c.tool.Do(ctx, httpx.Request{
		Path:    "/tracks/" + trackID,
		Headers: authHeader(token),
	}, &dto)
	if err != nil {
		return nil, fmt.Errorf("get track %s: %w", trackID, err)
	}

	track := dto.toTrack()
	c.cache.Set(ctx, cache.CategoryTrackDetails, track, trackID)
	return &track, nil
}

// CreatePlaylist creates an empty playlist and returns its id.
func (c *Client) CreatePlaylist(ctx context.Context, token, userID, name, description string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.tool.Do(ctx, httpx.Request{
		Method:  http.MethodPost,
		Path:    "/users/" + userID + "/playlists",
		Headers: authHeader(token),
		Body: map[string]any{
			"name":        name,
			"description": description,
			"public":      false,
		},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("create playlist: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create playlist: empty id in response")
	}
	return resp.ID, nil
}

// AddTracksToPlaylist appends URIs in batches of 100.
func (c *Client) AddTracksToPlaylist(ctx context.Context, token, playlistID string, uris []string) error {
	for start := 0; start < len(uris); start += addTracksBatch {
		end := start + addTracksBatch
		if end > len(uris) {
			end = len(uris)
		}
		err := c.tool.Do(ctx, httpx.Request{
			Method:  http.MethodPost,
			Path:    "/playlists/" + playlistID + "/tracks",
			Headers: authHeader(token),
			Body:    map[string]any{"uris": uris[start:end]},
		}, nil)
		if err != nil {
			return fmt.Errorf("add tracks batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// UploadCover uploads a base64-encoded JPEG cover. The upstream answers 202.
func (c *Client) UploadCover(ctx context.Context, token, playlistID, jpegBase64 string) error {
	headers := authHeader(token)
	err := c.tool.Do(ctx, httpx.Request{
		Method:       http.MethodPut,
		Path:         "/playlists/" + playlistID + "/images",
		Headers:      headers,
		RawBody:      []byte(jpegBase64),
		ContentType:  "image/jpeg",
		ExpectStatus: http.StatusAccepted,
	}, nil)
	if err != nil {
		return fmt.Errorf("upload cover: %w", err)
	}
	return nil
}

// BestArtistMatch picks the search candidate whose lowercased name equals or
// substring-matches the wanted name, preferring exact matches.
func BestArtistMatch(candidates []core.Artist, wanted string) *core.Artist {
	loweredWant := strings.ToLower(strings.TrimSpace(wanted))
	if loweredWant == "" || len(candidates) == 0 {
		return nil
	}

	var substring *core.Artist
	for i := range candidates {
		loweredGot := strings.ToLower(candidates[i].Name)
		if loweredGot == loweredWant {
			return &candidates[i]
		}
		if substring == nil &&
			(strings.Contains(loweredGot, loweredWant) || strings.Contains(loweredWant, loweredGot)) {
			substring = &candidates[i]
		}
	}
	if substring != nil {
		return substring
	}
	return &candidates[0]
}
