// Package features is the client for the audio-analysis / recommendation
// upstream. The service is slow and fragile under concurrency, so every tool is
// flagged for the process-wide semaphore and runs with a long timeout.
package features

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"moodlist/internal/core"
	"moodlist/internal/httpx"
)

const (
	maxSeeds          = 5
	maxNegatives      = 5
	maxMultipleTracks = 40
	maxMultipleArtist = 50
)

// Client implements core.FeaturesClient.
type Client struct {
	tool   *httpx.Tool
	logger *zap.Logger
}

func NewClient(cfg core.FeaturesConfig, shared *httpx.Shared, logger *zap.Logger) *Client {
	return &Client{
		tool: httpx.NewTool(httpx.ToolConfig{
			Name:               "features",
			BaseURL:            cfg.BaseURL,
			Timeout:            cfg.Timeout,
			MaxRetries:         cfg.MaxRetries,
			RequestsPerMinute:  cfg.RequestsPerMinute,
			MinInterval:        cfg.MinInterval,
			RequiredFields:     nil,
			UseGlobalSemaphore: true,
		}, shared),
		logger: logger.Named("features"),
	}
}

type trackDTO struct {
	ID      string `json:"id"`
	Name    string `json:"trackTitle"`
	Href    string `json:"href"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
	ReleaseDate string `json:"releaseDate"`
	Popularity  int    `json:"popularity"`
	DurationMS  int    `json:"durationMs"`
}

func (d *trackDTO) toTrack() core.Track {
	t := core.Track{
		ID:          d.ID,
		Name:        d.Name,
		ReleaseDate: d.ReleaseDate,
		Popularity:  d.Popularity,
		DurationMS:  d.DurationMS,
	}
	for _, a := range d.Artists {
		t.Artists = append(t.Artists, a.Name)
		t.ArtistIDs = append(t.ArtistIDs, a.ID)
	}
	return t
}

type artistDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
}

// Recommend requests tracks for up to 5 seeds and up to 5 negative seeds.
// Audio-feature parameters are deliberately never sent; they degrade results.
func (c *Client) Recommend(ctx context.Context, seeds, negatives []string, size int) ([]core.Track, error) {
	if len(seeds) == 0 {
		return nil, &core.ValidationError{Message: "at least one seed is required"}
	}
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}
	if len(negatives) > maxNegatives {
		negatives = negatives[:maxNegatives]
	}
	if size < 1 || size > 100 {
		return nil, &core.ValidationError{Message: fmt.Sprintf("size %d out of range [1,100]", size)}
	}

	q := url.Values{}
	q.Set("seeds", httpx.JoinList(seeds))
	if len(negatives) > 0 {
		q.Set("negativeSeeds", httpx.JoinList(negatives))
	}
	q.Set("size", strconv.Itoa(size))

	var resp struct {
		Content []trackDTO `json:"content"`
	}
	if err := c.tool.Do(ctx, httpx.Request{Path: "/track/recommendation", Query: q}, &resp); err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}

	tracks := make([]core.Track, 0, len(resp.Content))
	for i := range resp.Content {
		tracks = append(tracks, resp.Content[i].toTrack())
	}
	return tracks, nil
}

// GetMultipleTracks resolves catalog IDs (max 40 per call) to this service's
// IDs. Absent IDs are simply missing from the returned map.
func (c *Client) GetMultipleTracks(ctx context.Context, catalogIDs []string) (map[string]string, error) {
	if len(catalogIDs) == 0 {
		return map[string]string{}, nil
	}
	if len(catalogIDs) > maxMultipleTracks {
		return nil, &core.ValidationError{
			Message: fmt.Sprintf("at most %d ids per call, got %d", maxMultipleTracks, len(catalogIDs)),
		}
	}

	q := url.Values{}
	q.Set("ids", httpx.JoinList(catalogIDs))

	var resp struct {
		Content []struct {
			ID   string `json:"id"`
			Href string `json:"href"`
		} `json:"content"`
	}
	if err := c.tool.Do(ctx, httpx.Request{Path: "/track", Query: q}, &resp); err != nil {
		return nil, fmt.Errorf("get multiple tracks: %w", err)
	}

	// The upstream echoes the catalog id inside the href; pair results back to
	// the requested ids by position when hrefs are absent.
	mapping := make(map[string]string, len(resp.Content))
	for i, item := range resp.Content {
		catalogID := catalogIDFromHref(item.Href)
		if catalogID == "" && i < len(catalogIDs) {
			catalogID = catalogIDs[i]
		}
		if catalogID != "" && item.ID != "" {
			mapping[catalogID] = item.ID
		}
	}
	return mapping, nil
}

// GetTrack fetches one track by this service's ID.
func (c *Client) GetTrack(ctx context.Context, featuresID string) (*core.Track, error) {
	var dto trackDTO
	if err := c.tool.Do(ctx, httpx.Request{Path: "/track/" + featuresID}, &dto); err != nil {
		return nil, fmt.Errorf("get track %s: %w", featuresID, err)
	}
	track := dto.toTrack()
	return &track, nil
}

// AudioFeatures fetches the measured audio features of a track. The result map
// may be partial; absent features are simply not present.
func (c *Client) AudioFeatures(ctx context.Context, featuresID string) (core.AudioFeatures, error) {
	var raw map[string]float64
	if err := c.tool.Do(ctx, httpx.Request{Path: "/track/" + featuresID + "/audio-features"}, &raw); err != nil {
		return nil, fmt.Errorf("audio features %s: %w", featuresID, err)
	}

	features := make(core.AudioFeatures, len(raw))
	for _, name := range core.AllFeatures {
		if v, ok := raw[string(name)]; ok {
			features[name] = v
		}
	}
	return features, nil
}

// SearchArtists searches artists by name.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int) ([]core.Artist, error) {
	q := url.Values{}
	q.Set("searchText", query)
	if limit > 0 {
		q.Set("size", strconv.Itoa(limit))
	}

	var resp struct {
		Content []artistDTO `json:"content"`
	}
	if err := c.tool.Do(ctx, httpx.Request{Path: "/artist/search", Query: q}, &resp); err != nil {
		return nil, fmt.Errorf("search artists %q: %w", query, err)
	}

	artists := make([]core.Artist, 0, len(resp.Content))
	for _, a := range resp.Content {
		artists = append(artists, core.Artist{ID: a.ID, Name: a.Name, Popularity: a.Popularity})
	}
	return artists, nil
}

// GetMultipleArtists fetches up to 50 artists by ID.
func (c *Client) GetMultipleArtists(ctx context.Context, ids []string) ([]core.Artist, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > maxMultipleArtist {
		return nil, &core.ValidationError{
			Message: fmt.Sprintf("at most %d ids per call, got %d", maxMultipleArtist, len(ids)),
		}
	}

	q := url.Values{}
	q.Set("ids", httpx.JoinList(ids))

	var resp struct {
		Content []artistDTO `json:"content"`
	}
	if err := c.tool.Do(ctx, httpx.Request{Path: "/artist", Query: q}, &resp); err != nil {
		return nil, fmt.Errorf("get multiple artists: %w", err)
	}

	artists := make([]core.Artist, 0, len(resp.Content))
	for _, a := range resp.Content {
		artists = append(artists, core.Artist{ID: a.ID, Name: a.Name, Popularity: a.Popularity})
	}
	return artists, nil
}

// ArtistTracks lists tracks for an artist.
func (c *Client) ArtistTracks(ctx context.Context, artistID string, limit int) ([]core.Track, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("size", strconv.Itoa(limit))
	}

	var resp struct {
		Content []trackDTO `json:"content"`
	}
	if err := c.tool.Do(ctx, httpx.Request{Path: "/artist/" + artistID + "/track", Query: q}, &resp); err != nil {
		return nil, fmt.Errorf("artist tracks %s: %w", artistID, err)
	}

	tracks := make([]core.Track, 0, len(resp.Content))
	for i := range resp.Content {
		tracks = append(tracks, resp.Content[i].toTrack())
	}
	return tracks, nil
}

// catalogIDFromHref extracts the trailing catalog id from an href like
// "https://open.spotify.com/track/<id>".
func catalogIDFromHref(href string) string {
	if href == "" {
		return ""
	}
	for i := len(href) - 1; i >= 0; i-- {
		if href[i] == '/' {
			return href[i+1:]
		}
	}
	return ""
}
