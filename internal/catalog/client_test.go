package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/httpx"
)

func newTestClient(t *testing.T, handler http.Handler, markets ...string) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	if len(markets) == 0 {
		markets = []string{"US"}
	}
	cfg := core.DefaultConfig().Catalog
	cfg.BaseURL = server.URL
	cfg.Markets = markets
	cfg.MinInterval = 0

	manager := cache.NewManager(cache.NewMemory(1000), "test:", zap.NewNop())
	return NewClient(cfg, httpx.NewShared(0, zap.NewNop()), manager, zap.NewNop())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func trackItem(id, name, artist, releaseDate string, popularity int) map[string]any {
	return map[string]any{
		"id":   id,
		"name": name,
		"uri":  "spotify:track:" + id,
		"artists": []map[string]any{
			{"id": "art-" + artist, "name": artist},
		},
		"album":       map[string]any{"name": "Album", "release_date": releaseDate},
		"popularity":  popularity,
		"duration_ms": 210000,
	}
}

func TestTopTracks_MapsWireShape(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/top/tracks" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("time_range"); got != "medium_term" {
			t.Errorf("unexpected time_range %q", got)
		}
		writeJSON(w, map[string]any{
			"items": []map[string]any{trackItem("t1", "Song", "Artist", "2001-05-01", 70)},
		})
	}))

	tracks, err := client.TopTracks(context.Background(), "tok", "medium_term", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	got := tracks[0]
	if got.ID != "t1" || got.Name != "Song" || got.FirstArtist() != "Artist" {
		t.Errorf("bad mapping: %+v", got)
	}
	if got.URI != "spotify:track:t1" || got.Popularity != 70 {
		t.Errorf("bad mapping: %+v", got)
	}
	if year, ok := got.ReleaseYear(); !ok || year != 2001 {
		t.Errorf("release year not carried: %v %v", year, ok)
	}
}

func TestArtistTopTracks_MarketFallback(t *testing.T) {
	var marketsTried []string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		market := r.URL.Query().Get("market")
		marketsTried = append(marketsTried, market)
		if market == "US" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"tracks": []map[string]any{trackItem("t1", "Hit", "Artist", "2010", 80)},
		})
	}), "US", "GB")

	tracks, err := client.ArtistTopTracks(context.Background(), "tok", "artist1", "Artist")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "t1" {
		t.Fatalf("unexpected tracks: %+v", tracks)
	}
	if len(marketsTried) != 2 || marketsTried[0] != "US" || marketsTried[1] != "GB" {
		t.Errorf("expected US then GB, got %v", marketsTried)
	}
}

func TestArtistTopTracks_NameSearchFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/search" {
			writeJSON(w, map[string]any{
				"tracks": map[string]any{
					"items": []map[string]any{trackItem("t9", "Found", "Justice", "2007", 75)},
				},
			})
			return
		}
		// Every market returns an empty top-tracks list.
		writeJSON(w, map[string]any{"tracks": []map[string]any{}})
	}), "US", "GB")

	tracks, err := client.ArtistTopTracks(context.Background(), "tok", "artist1", "Justice")
	if err != nil {
		t.Fatalf("expected name-search fallback, got %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "t9" {
		t.Errorf("unexpected tracks: %+v", tracks)
	}
}

func TestArtistTopTracks_CachesPerMarket(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{
			"tracks": []map[string]any{trackItem("t1", "Hit", "Artist", "2010", 80)},
		})
	}))

	ctx := context.Background()
	if _, err := client.ArtistTopTracks(ctx, "tok", "artist1", "Artist"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.ArtistTopTracks(ctx, "tok", "artist1", "Artist"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("second call should be served from cache, got %d upstream calls", calls.Load())
	}
}

func TestAddTracksToPlaylist_Batches(t *testing.T) {
	var batches []int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URIs []string `json:"uris"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		batches = append(batches, len(body.URIs))
		writeJSON(w, map[string]any{"snapshot_id": "s"})
	}))

	uris := make([]string, 250)
	for i := range uris {
		uris[i] = "spotify:track:x"
	}
	if err := client.AddTracksToPlaylist(context.Background(), "tok", "pl1", uris); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 3 || batches[0] != 100 || batches[1] != 100 || batches[2] != 50 {
		t.Errorf("expected batches [100 100 50], got %v", batches)
	}
}

func TestUploadCover_Accepts202(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.WriteHeader(http.StatusAccepted)
	}))

	if err := client.UploadCover(context.Background(), "tok", "pl1", "aGVsbG8="); err != nil {
		t.Fatalf("202 must be accepted: %v", err)
	}
}

func TestHybridArtistTracks_MixesTopAndDeepCuts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/artists/a1/top-tracks":
			writeJSON(w, map[string]any{
				"tracks": []map[string]any{
					trackItem("top1", "Top One", "Artist", "2015", 90),
					trackItem("top2", "Top Two", "Artist", "2016", 85),
					trackItem("top3", "Top Three", "Artist", "2017", 80),
				},
			})
		case r.URL.Path == "/artists/a1/albums":
			writeJSON(w, map[string]any{
				"items": []map[string]any{
					{"id": "alb1", "name": "Deep Album", "release_date": "2012-01-01", "album_type": "album"},
				},
			})
		case r.URL.Path == "/albums/alb1/tracks":
			writeJSON(w, map[string]any{
				"items": []map[string]any{
					trackItem("top1", "Top One", "Artist", "", 0),
					trackItem("deep1", "Deep One", "Artist", "", 0),
					trackItem("deep2", "Deep Two", "Artist", "", 0),
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	tracks, err := client.HybridArtistTracks(context.Background(), "tok", "a1", "Artist", core.HybridOptions{
		TopTracksRatio: 0.5,
		Limit:          4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 4 {
		t.Fatalf("expected 4 tracks, got %d: %+v", len(tracks), tracks)
	}
	// Half the quota from top tracks, the rest from deep cuts; the album copy
	// of top1 must not reappear.
	seen := make(map[string]int)
	for _, tr := range tracks {
		seen[tr.ID]++
	}
	if seen["top1"] != 1 || seen["top2"] != 1 {
		t.Errorf("top quota not honored: %v", seen)
	}
	if seen["deep1"] != 1 || seen["deep2"] != 1 {
		t.Errorf("deep cuts not mixed in: %v", seen)
	}
	// Deep cuts inherit album release metadata.
	for _, tr := range tracks {
		if tr.ID == "deep1" && tr.ReleaseDate != "2012-01-01" {
			t.Errorf("deep cut missing album release date: %+v", tr)
		}
	}
}

func TestHybridArtistTracks_PopularityWindow(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/artists/a1/top-tracks":
			writeJSON(w, map[string]any{
				"tracks": []map[string]any{
					trackItem("mega", "Mega Hit", "Artist", "2015", 95),
					trackItem("mid", "Mid Track", "Artist", "2016", 60),
					trackItem("filler", "Filler", "Artist", "2017", 5),
				},
			})
		case "/artists/a1/albums":
			writeJSON(w, map[string]any{"items": []map[string]any{}})
		}
	}))

	tracks, err := client.HybridArtistTracks(context.Background(), "tok", "a1", "Artist", core.HybridOptions{
		TopTracksRatio: 1.0,
		MinPopularity:  20,
		MaxPopularity:  80,
		Limit:          5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "mid" {
		t.Errorf("popularity window should keep only the mid track: %+v", tracks)
	}
}

func TestHybridArtistTracks_UsesPrefetchedTop(t *testing.T) {
	var topCalls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/artists/a1/top-tracks" {
			topCalls.Add(1)
		}
		writeJSON(w, map[string]any{"items": []map[string]any{}, "tracks": []map[string]any{}})
	}))

	prefetched := []core.Track{
		{ID: "p1", Name: "Pre One", Artists: []string{"Artist"}, Popularity: 50},
		{ID: "p2", Name: "Pre Two", Artists: []string{"Artist"}, Popularity: 55},
	}
	tracks, err := client.HybridArtistTracks(context.Background(), "tok", "a1", "Artist", core.HybridOptions{
		TopTracksRatio: 1.0,
		Limit:          2,
		PrefetchedTop:  prefetched,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if topCalls.Load() != 0 {
		t.Error("prefetched top tracks must avoid the top-tracks call")
	}
	if len(tracks) != 2 {
		t.Errorf("expected both prefetched tracks, got %+v", tracks)
	}
}

func TestBestArtistMatch(t *testing.T) {
	candidates := []core.Artist{
		{ID: "1", Name: "Justice League Soundtrack"},
		{ID: "2", Name: "Justice"},
		{ID: "3", Name: "Justin"},
	}

	got := BestArtistMatch(candidates, "Justice")
	if got == nil || got.ID != "2" {
		t.Errorf("exact match must win, got %+v", got)
	}

	got = BestArtistMatch(candidates[:1], "justice")
	if got == nil || got.ID != "1" {
		t.Errorf("substring match expected, got %+v", got)
	}

	if got := BestArtistMatch(nil, "x"); got != nil {
		t.Errorf("no candidates must yield nil, got %+v", got)
	}
}
