package seeds

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"moodlist/internal/cache"
	"moodlist/internal/core"
	"moodlist/internal/registry"
)

type fakeCatalog struct {
	core.CatalogClient

	topTracksCalls int
	topTracks      []core.Track
	topArtists     []core.Artist
}

func (f *fakeCatalog) TopTracks(_ context.Context, _, _ string, _ int) ([]core.Track, error) {
	f.topTracksCalls++
	return f.topTracks, nil
}

func (f *fakeCatalog) TopArtists(_ context.Context, _, _ string, _ int) ([]core.Artist, error) {
	return f.topArtists, nil
}

type fakeFeatures struct {
	core.FeaturesClient

	batches [][]string
	mapping map[string]string
	err     error
}

func (f *fakeFeatures) GetMultipleTracks(_ context.Context, catalogIDs []string) (map[string]string, error) {
	f.batches = append(f.batches, catalogIDs)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, id := range catalogIDs {
		if fid, ok := f.mapping[id]; ok {
			out[id] = fid
		}
	}
	return out, nil
}

func newTestGatherer(catalog *fakeCatalog, features *fakeFeatures) (*Gatherer, *cache.Manager) {
	manager := cache.NewManager(cache.NewMemory(1000), "test:", zap.NewNop())
	reg := registry.New(manager, true, zap.NewNop())
	return NewGatherer(catalog, features, reg, manager, zap.NewNop()), manager
}

func TestGather_MentionsMergeToFront(t *testing.T) {
	catalog := &fakeCatalog{
		topTracks: []core.Track{
			{ID: "top1", Name: "Top One"},
			{ID: "mention1", Name: "Mentioned"}, // duplicate of the mention
			{ID: "top2", Name: "Top Two"},
		},
	}
	features := &fakeFeatures{mapping: map[string]string{
		"mention1": "f-m1", "top1": "f-t1", "top2": "f-t2",
	}}
	gatherer, _ := newTestGatherer(catalog, features)

	state := core.NewWorkflowState("s1", "u1", "chill")
	state.Metadata.UserMentionedTracks = []core.Track{{ID: "mention1", Name: "Mentioned"}}

	if err := gatherer.Gather(context.Background(), state); err != nil {
		t.Fatal(err)
	}

	want := []string{"mention1", "top1", "top2"}
	if len(state.SeedTracks) != len(want) {
		t.Fatalf("got %v", state.SeedTracks)
	}
	for i, id := range want {
		if state.SeedTracks[i] != id {
			t.Errorf("position %d: got %s, want %s", i, state.SeedTracks[i], id)
		}
	}
}

func TestGather_TopTracksCached(t *testing.T) {
	catalog := &fakeCatalog{topTracks: []core.Track{{ID: "t1"}}}
	features := &fakeFeatures{mapping: map[string]string{"t1": "f1"}}
	gatherer, _ := newTestGatherer(catalog, features)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		state := core.NewWorkflowState(fmt.Sprint("s", i), "u1", "chill")
		if err := gatherer.Gather(ctx, state); err != nil {
			t.Fatal(err)
		}
	}
	if catalog.topTracksCalls != 1 {
		t.Errorf("top tracks cached for 30 minutes, got %d upstream calls", catalog.topTracksCalls)
	}
}

func TestGather_RemixModeCapsAndSkipsHistory(t *testing.T) {
	catalog := &fakeCatalog{topTracks: []core.Track{{ID: "should-not-appear"}}}
	features := &fakeFeatures{mapping: map[string]string{}}

	var remix []core.Track
	mapping := make(map[string]string)
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("r%02d", i)
		remix = append(remix, core.Track{ID: id})
		mapping[id] = "f-" + id
	}
	features.mapping = mapping
	gatherer, _ := newTestGatherer(catalog, features)

	state := core.NewWorkflowState("s1", "u1", "remix this")
	state.Metadata.IntentAnalysis = &core.IntentAnalysis{IsRemix: true}
	state.Metadata.RemixSeedTracks = remix

	if err := gatherer.Gather(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if catalog.topTracksCalls != 0 {
		t.Error("remix mode must not fetch listening history")
	}
	if len(state.SeedTracks) != remixSeedCap {
		t.Errorf("remix seeds capped at %d, got %d", remixSeedCap, len(state.SeedTracks))
	}
}

func TestResolveFeatureIDs_RegistryShortCircuit(t *testing.T) {
	features := &fakeFeatures{mapping: map[string]string{"b": "f-b"}}
	gatherer, manager := newTestGatherer(&fakeCatalog{}, features)
	ctx := context.Background()

	reg := registry.New(manager, false, zap.NewNop())
	reg.MarkValidated(ctx, "a", "f-a")

	resolved, err := gatherer.ResolveFeatureIDs(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if resolved["a"] != "f-a" || resolved["b"] != "f-b" {
		t.Errorf("unexpected mapping: %v", resolved)
	}
	if len(features.batches) != 1 || len(features.batches[0]) != 2 {
		t.Errorf("validated ids must bypass the upstream: %v", features.batches)
	}

	// "c" was absent and is now marked missing; the next run skips it.
	features.batches = nil
	if _, err := gatherer.ResolveFeatureIDs(ctx, []string{"c"}); err != nil {
		t.Fatal(err)
	}
	if len(features.batches) != 0 {
		t.Errorf("known-missing id must not be re-checked: %v", features.batches)
	}
}

func TestResolveFeatureIDs_Batches(t *testing.T) {
	mapping := make(map[string]string)
	var ids []string
	for i := 0; i < 90; i++ {
		id := fmt.Sprintf("t%02d", i)
		ids = append(ids, id)
		mapping[id] = "f-" + id
	}
	features := &fakeFeatures{mapping: mapping}
	gatherer, _ := newTestGatherer(&fakeCatalog{}, features)

	resolved, err := gatherer.ResolveFeatureIDs(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 90 {
		t.Errorf("expected 90 resolved, got %d", len(resolved))
	}
	if len(features.batches) != 3 {
		t.Fatalf("expected batches of 40, got %d batches", len(features.batches))
	}
	if len(features.batches[0]) != 40 || len(features.batches[2]) != 10 {
		t.Errorf("batch sizes wrong: %d, %d", len(features.batches[0]), len(features.batches[2]))
	}
}

func TestResolveFeatureIDs_PartialFailure(t *testing.T) {
	features := &fakeFeatures{err: errors.New("upstream down")}
	gatherer, _ := newTestGatherer(&fakeCatalog{}, features)

	resolved, err := gatherer.ResolveFeatureIDs(context.Background(), []string{"a"})
	if err == nil {
		t.Error("expected the batch error to surface")
	}
	if len(resolved) != 0 {
		t.Errorf("nothing resolved on failure, got %v", resolved)
	}
}

func TestGather_FatalOnlyWhenEverythingEmpty(t *testing.T) {
	gatherer, _ := newTestGatherer(&fakeCatalog{}, &fakeFeatures{})

	state := core.NewWorkflowState("s1", "u1", "chill")
	err := gatherer.Gather(context.Background(), state)
	if !errors.Is(err, core.ErrNoRecommendations) {
		t.Errorf("empty seeds+artists+anchors must be fatal, got %v", err)
	}

	// Any anchor keeps the workflow alive.
	state = core.NewWorkflowState("s2", "u1", "chill")
	state.Metadata.AnchorTracks = []core.AnchorCandidate{{Track: core.Track{ID: "a"}}}
	if err := gatherer.Gather(context.Background(), state); err != nil {
		t.Errorf("anchors present, must not be fatal: %v", err)
	}
}

func TestNegativeSeeds(t *testing.T) {
	gatherer, _ := newTestGatherer(&fakeCatalog{}, &fakeFeatures{})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		gatherer.registry.MarkValidated(ctx, fmt.Sprintf("low%d", i), fmt.Sprintf("f-low%d", i))
	}
	gatherer.registry.MarkValidated(ctx, "good", "f-good")
	gatherer.registry.MarkValidated(ctx, "prot", "f-prot")

	var previous []core.TrackRecommendation
	for i := 0; i < 10; i++ {
		previous = append(previous, core.TrackRecommendation{
			TrackID:         fmt.Sprintf("low%d", i),
			Source:          core.SourceArtistDiscovery,
			ConfidenceScore: 0.2,
		})
	}
	previous = append(previous,
		core.TrackRecommendation{TrackID: "good", ConfidenceScore: 0.9},
		core.TrackRecommendation{TrackID: "prot", ConfidenceScore: 0.1, Protected: true},
	)

	negatives := gatherer.NegativeSeeds(ctx, previous, 0.4)
	if len(negatives) != negativeSeedCap {
		t.Fatalf("negatives capped at %d, got %d", negativeSeedCap, len(negatives))
	}
	for _, id := range negatives {
		if id == "f-good" || id == "f-prot" {
			t.Errorf("%s must not become a negative seed", id)
		}
	}
}

func TestNegativeSeeds_FeatureIDSpace(t *testing.T) {
	gatherer, _ := newTestGatherer(&fakeCatalog{}, &fakeFeatures{})
	ctx := context.Background()
	gatherer.registry.MarkValidated(ctx, "cat1", "f-cat1")

	previous := []core.TrackRecommendation{
		// Catalog-sourced outlier with a known mapping.
		{TrackID: "cat1", Source: core.SourceArtistDiscovery, ConfidenceScore: 0.1},
		// Catalog-sourced outlier the registry has never seen.
		{TrackID: "cat2", Source: core.SourceAnchorTrack, ConfidenceScore: 0.1},
		// Recommendation-sourced outlier already carries a features id.
		{TrackID: "f-rec1", Source: core.SourceRecoBeat, ConfidenceScore: 0.1},
	}

	negatives := gatherer.NegativeSeeds(ctx, previous, 0.4)
	want := []string{"f-cat1", "f-rec1"}
	if len(negatives) != len(want) {
		t.Fatalf("negatives = %v, want %v", negatives, want)
	}
	for i, id := range want {
		if negatives[i] != id {
			t.Errorf("negatives[%d] = %s, want %s", i, negatives[i], id)
		}
	}
	for _, id := range negatives {
		if id == "cat1" || id == "cat2" {
			t.Errorf("catalog id %s leaked into the negative seeds", id)
		}
	}
}
