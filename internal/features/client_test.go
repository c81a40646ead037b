package features

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"moodlist/internal/core"
	"moodlist/internal/httpx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := core.DefaultConfig().Features
	cfg.BaseURL = server.URL
	cfg.MinInterval = 0

	return NewClient(cfg, httpx.NewShared(cfg.MaxConcurrency, zap.NewNop()), zap.NewNop())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestRecommend_NeverSendsFeatureParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("seeds") != "s1,s2" {
			t.Errorf("unexpected seeds %q", q.Get("seeds"))
		}
		if q.Get("negativeSeeds") != "n1" {
			t.Errorf("unexpected negatives %q", q.Get("negativeSeeds"))
		}
		if q.Get("size") != "20" {
			t.Errorf("unexpected size %q", q.Get("size"))
		}
		for _, forbidden := range []string{"target_energy", "energy", "valence", "min_energy"} {
			if q.Has(forbidden) {
				t.Errorf("feature param %q must never be sent", forbidden)
			}
		}
		writeJSON(w, map[string]any{
			"content": []map[string]any{
				{
					"id":         "r1",
					"trackTitle": "Reco",
					"artists":    []map[string]any{{"id": "a1", "name": "Artist"}},
					"popularity": 55,
				},
			},
		})
	})

	tracks, err := client.Recommend(context.Background(), []string{"s1", "s2"}, []string{"n1"}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "r1" || tracks[0].Name != "Reco" {
		t.Errorf("bad mapping: %+v", tracks)
	}
}

func TestRecommend_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("validation failures must not reach the upstream")
	})

	var vErr *core.ValidationError
	if _, err := client.Recommend(context.Background(), nil, nil, 20); !errors.As(err, &vErr) {
		t.Errorf("empty seeds must be a validation error, got %v", err)
	}
	if _, err := client.Recommend(context.Background(), []string{"s"}, nil, 0); !errors.As(err, &vErr) {
		t.Errorf("size 0 must be a validation error, got %v", err)
	}
	if _, err := client.Recommend(context.Background(), []string{"s"}, nil, 101); !errors.As(err, &vErr) {
		t.Errorf("size 101 must be a validation error, got %v", err)
	}
}

func TestRecommend_CapsSeedCounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("seeds"); got != "1,2,3,4,5" {
			t.Errorf("seeds must be capped at 5, got %q", got)
		}
		if got := r.URL.Query().Get("negativeSeeds"); got != "a,b,c,d,e" {
			t.Errorf("negatives must be capped at 5, got %q", got)
		}
		writeJSON(w, map[string]any{"content": []map[string]any{}})
	})

	_, err := client.Recommend(context.Background(),
		[]string{"1", "2", "3", "4", "5", "6"},
		[]string{"a", "b", "c", "d", "e", "f"}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetMultipleTracks_MapsByHref(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"content": []map[string]any{
				{"id": "f1", "href": "https://open.spotify.com/track/cat1"},
				{"id": "f2", "href": "https://open.spotify.com/track/cat2"},
			},
		})
	})

	mapping, err := client.GetMultipleTracks(context.Background(), []string{"cat1", "cat2", "cat3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mapping["cat1"] != "f1" || mapping["cat2"] != "f2" {
		t.Errorf("bad mapping: %v", mapping)
	}
	if _, ok := mapping["cat3"]; ok {
		t.Error("absent ids must be missing from the result")
	}
}

func TestGetMultipleTracks_RejectsOversizedBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversized batches must not reach the upstream")
	})

	ids := make([]string, 41)
	for i := range ids {
		ids[i] = "x"
	}
	var vErr *core.ValidationError
	if _, err := client.GetMultipleTracks(context.Background(), ids); !errors.As(err, &vErr) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAudioFeatures_KeepsKnownFeaturesOnly(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"energy":      0.8,
			"valence":     0.3,
			"tempo":       128.0,
			"unknownProp": 42.0,
		})
	})

	features, err := client.AudioFeatures(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if features[core.FeatureEnergy] != 0.8 || features[core.FeatureTempo] != 128.0 {
		t.Errorf("bad features: %v", features)
	}
	if len(features) != 3 {
		t.Errorf("unknown properties must be dropped: %v", features)
	}
}

func TestGetTrack_NotFoundMapsToTypedError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetTrack(context.Background(), "missing")
	if !core.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
