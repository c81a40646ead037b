package scoring

import (
	"math"
	"testing"

	"moodlist/internal/core"
)

func targets(pairs map[core.FeatureName]core.FeatureTarget) map[core.FeatureName]core.FeatureTarget {
	return pairs
}

func TestMoodMatch_MidpointSimilarity(t *testing.T) {
	features := core.AudioFeatures{
		core.FeatureEnergy:  0.8,
		core.FeatureValence: 0.5,
	}
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureEnergy:  core.RangeTarget(0.6, 1.0), // midpoint 0.8, perfect
		core.FeatureValence: core.SingleTarget(0.7),     // off by 0.2
	})

	got := MoodMatch(features, tg)
	want := (1.0 + 0.8) / 2
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMoodMatch_Empty(t *testing.T) {
	if got := MoodMatch(nil, nil); got != 0 {
		t.Errorf("empty inputs must score 0, got %v", got)
	}
	// Targets on features the track lacks contribute nothing.
	tg := targets(map[core.FeatureName]core.FeatureTarget{core.FeatureEnergy: core.SingleTarget(0.5)})
	if got := MoodMatch(core.AudioFeatures{core.FeatureTempo: 120}, tg); got != 0 {
		t.Errorf("no comparable features must score 0, got %v", got)
	}
}

func TestConfidence_Composition(t *testing.T) {
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureEnergy: core.SingleTarget(0.8),
	})

	rec := &core.TrackRecommendation{
		Popularity:    60,
		AudioFeatures: core.AudioFeatures{core.FeatureEnergy: 0.8},
		Source:        core.SourceAnchorTrack,
	}
	got := Confidence(rec, tg)
	want := 0.6 + 0.15*0.6 + 0.40*1.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConfidence_NoFeaturesBonus(t *testing.T) {
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureEnergy: core.SingleTarget(0.8),
	})
	rec := &core.TrackRecommendation{Popularity: 0}
	got := Confidence(rec, tg)
	if math.Abs(got-(0.6+0.10)) > 1e-9 {
		t.Errorf("expected base + no-features bonus, got %v", got)
	}
}

func TestConfidence_SpeechinessAndLivenessPenalties(t *testing.T) {
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureSpeechiness: core.SingleTarget(0.1),
		core.FeatureLiveness:    core.SingleTarget(0.2),
	})
	rec := &core.TrackRecommendation{
		AudioFeatures: core.AudioFeatures{
			core.FeatureSpeechiness: 0.5,
			core.FeatureLiveness:    0.9,
		},
	}
	got := Confidence(rec, tg)
	// base + mood(0, no mood features present but features map non-empty)
	// - 0.15*(0.5-0.3) - 0.10*(0.9-0.5)
	want := 0.6 + 0.40*0 - 0.15*0.2 - 0.10*0.4
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConfidence_RecoBeatCorrection(t *testing.T) {
	rec := &core.TrackRecommendation{
		Popularity: 100,
		Source:     core.SourceRecoBeat,
	}
	plain := &core.TrackRecommendation{Popularity: 100}
	tg := targets(nil)

	withCorrection := Confidence(rec, tg)
	without := Confidence(plain, tg)
	if math.Abs(withCorrection-without*0.85) > 1e-9 {
		t.Errorf("reccobeat correction not applied: %v vs %v", withCorrection, without)
	}
}

func TestCohesion(t *testing.T) {
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureEnergy: core.SingleTarget(0.5),
		core.FeatureTempo:  core.SingleTarget(120),
	})
	features := core.AudioFeatures{
		core.FeatureEnergy: 0.65, // off 0.15, tol 0.3 -> 0.5
		core.FeatureTempo:  140,  // off 20, tol 40 -> 0.5
	}
	if got := Cohesion(features, tg); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("got %v, want 0.5", got)
	}

	if got := Cohesion(nil, tg); got != 0.5 {
		t.Errorf("no comparable features must return 0.5, got %v", got)
	}
}

func TestCountCriticalViolations(t *testing.T) {
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureEnergy:       core.SingleTarget(0.9),
		core.FeatureAcousticness: core.SingleTarget(0.9),
		core.FeatureLiveness:     core.SingleTarget(0.0),
	})
	features := core.AudioFeatures{
		core.FeatureEnergy:       0.1, // off 0.8 > 2*0.20 -> critical
		core.FeatureAcousticness: 0.2, // off 0.7 > 2*0.25 -> critical
		core.FeatureLiveness:     1.0, // liveness is not in the critical set
	}
	if got := CountCriticalViolations(features, tg); got != 2 {
		t.Errorf("expected 2 critical violations, got %d", got)
	}
}

func TestPassesViolationFilter(t *testing.T) {
	tg := targets(map[core.FeatureName]core.FeatureTarget{
		core.FeatureEnergy:       core.SingleTarget(0.9),
		core.FeatureAcousticness: core.SingleTarget(0.9),
		core.FeatureDanceability: core.SingleTarget(0.9),
	})
	badFeatures := core.AudioFeatures{
		core.FeatureEnergy:       0.1,
		core.FeatureAcousticness: 0.1,
		core.FeatureDanceability: 0.1,
	}

	rec := &core.TrackRecommendation{AudioFeatures: badFeatures}
	if PassesViolationFilter(rec, tg) {
		t.Error("3 critical violations must be dropped at threshold 2")
	}

	protected := &core.TrackRecommendation{AudioFeatures: badFeatures, Protected: true}
	if !PassesViolationFilter(protected, tg) {
		t.Error("protected tracks are never dropped")
	}

	// The discovery source tolerates 2 violations.
	twoBad := core.AudioFeatures{
		core.FeatureEnergy:       0.1,
		core.FeatureAcousticness: 0.1,
		core.FeatureDanceability: 0.9,
	}
	discovery := &core.TrackRecommendation{AudioFeatures: twoBad, Source: core.SourceArtistDiscovery}
	if !PassesViolationFilter(discovery, tg) {
		t.Error("artist_discovery threshold is 3; 2 violations must pass")
	}
	plain := &core.TrackRecommendation{AudioFeatures: twoBad}
	if PassesViolationFilter(plain, tg) {
		t.Error("2 violations must be dropped for non-discovery sources")
	}
}

func TestPassesTemporalFilter_Boundaries(t *testing.T) {
	yr := [2]int{1990, 1999}
	strict := &core.TemporalContext{IsTemporal: true, YearRange: &yr, Decade: "1990s"}
	loose := &core.TemporalContext{IsTemporal: true, YearRange: &yr}

	atMinMinus5 := &core.TrackRecommendation{ReleaseDate: "1985-06-01"}
	if PassesTemporalFilter(atMinMinus5, strict) {
		t.Error("strict context must reject min-5")
	}
	if !PassesTemporalFilter(atMinMinus5, loose) {
		t.Error("loose context must accept min-5")
	}

	atMinMinus6 := &core.TrackRecommendation{ReleaseDate: "1984"}
	if PassesTemporalFilter(atMinMinus6, loose) {
		t.Error("loose context must reject min-6")
	}

	unparseable := &core.TrackRecommendation{ReleaseDate: "unknown"}
	if !PassesTemporalFilter(unparseable, strict) {
		t.Error("unparseable dates are accepted")
	}

	protected := &core.TrackRecommendation{ReleaseDate: "1950", Protected: true}
	if !PassesTemporalFilter(protected, strict) {
		t.Error("protected tracks bypass the temporal filter")
	}

	if !PassesTemporalFilter(&core.TrackRecommendation{ReleaseDate: "1950"}, nil) {
		t.Error("nil context filters nothing")
	}
}
