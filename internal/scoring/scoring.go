// Package scoring derives confidence scores from audio features and filters
// candidates by feature violations and temporal constraints.
package scoring

import (
	"math"

	"moodlist/internal/core"
)

// moodMatchFeatures are the features compared for the mood-match component.
var moodMatchFeatures = []core.FeatureName{
	core.FeatureEnergy,
	core.FeatureValence,
	core.FeatureDanceability,
	core.FeatureAcousticness,
}

// cohesionTolerances are the per-feature tolerances for artist-track cohesion.
var cohesionTolerances = map[core.FeatureName]float64{
	core.FeatureEnergy:           0.3,
	core.FeatureValence:          0.3,
	core.FeatureDanceability:     0.3,
	core.FeatureAcousticness:     0.4,
	core.FeatureInstrumentalness: 0.25,
	core.FeatureSpeechiness:      0.25,
	core.FeatureTempo:            40,
	core.FeatureLoudness:         6,
	core.FeatureLiveness:         0.4,
	core.FeaturePopularity:       30,
}

// violationTolerances are wider than cohesion tolerances; they bound the
// violation-based filter.
var violationTolerances = map[core.FeatureName]float64{
	core.FeatureSpeechiness:      0.15,
	core.FeatureInstrumentalness: 0.15,
	core.FeatureEnergy:           0.20,
	core.FeatureValence:          0.25,
	core.FeatureDanceability:     0.20,
	core.FeatureTempo:            30,
	core.FeatureLoudness:         5,
	core.FeatureAcousticness:     0.25,
	core.FeatureLiveness:         0.30,
	core.FeaturePopularity:       20,
}

// criticalFeatures are the only features whose violations count toward the
// drop threshold.
var criticalFeatures = map[core.FeatureName]bool{
	core.FeatureEnergy:           true,
	core.FeatureAcousticness:     true,
	core.FeatureInstrumentalness: true,
	core.FeatureDanceability:     true,
}

const (
	baseConfidence       = 0.6
	popularityWeight     = 0.15
	moodMatchWeight      = 0.40
	noFeaturesBonus      = 0.10
	speechinessPenalty   = 0.15
	livenessPenalty      = 0.10
	recoBeatCorrection   = 0.85
	violationThreshold   = 2
	discoveryThreshold   = 3
	lenientTemporalSlack = 5
)

// MoodMatch is the average per-feature similarity against the targets over the
// features present in both maps. Range targets collapse to their midpoint.
func MoodMatch(features core.AudioFeatures, targets map[core.FeatureName]core.FeatureTarget) float64 {
	if len(features) == 0 || len(targets) == 0 {
		return 0
	}

	sum, n := 0.0, 0
	for _, name := range moodMatchFeatures {
		target, hasTarget := targets[name]
		value, hasValue := features[name]
		if !hasTarget || !hasValue {
			continue
		}
		sum += math.Max(0, 1-math.Abs(value-target.Midpoint()))
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Confidence computes the confidence score for a candidate without an upstream
// score. Upstream-provided scores should be normalized and used instead.
func Confidence(rec *core.TrackRecommendation, targets map[core.FeatureName]core.FeatureTarget) float64 {
	score := baseConfidence
	score += popularityWeight * float64(rec.Popularity) / 100

	if len(rec.AudioFeatures) > 0 {
		score += moodMatchWeight * MoodMatch(rec.AudioFeatures, targets)
	} else if len(targets) > 0 {
		score += noFeaturesBonus
	}

	if target, ok := targets[core.FeatureSpeechiness]; ok && target.Midpoint() < 0.2 {
		if v, has := rec.AudioFeatures[core.FeatureSpeechiness]; has {
			score -= speechinessPenalty * math.Max(0, v-0.3)
		}
	}
	if target, ok := targets[core.FeatureLiveness]; ok && target.Midpoint() < 0.3 {
		if v, has := rec.AudioFeatures[core.FeatureLiveness]; has {
			score -= livenessPenalty * math.Max(0, v-0.5)
		}
	}

	if rec.Source == core.SourceRecoBeat {
		score *= recoBeatCorrection
	}

	return clamp01(score)
}

// Cohesion scores how well a track's features sit inside the cohesion
// tolerances. Returns 0.5 when no comparable features are present.
func Cohesion(features core.AudioFeatures, targets map[core.FeatureName]core.FeatureTarget) float64 {
	sum, n := 0.0, 0
	for name, tolerance := range cohesionTolerances {
		target, hasTarget := targets[name]
		value, hasValue := features[name]
		if !hasTarget || !hasValue {
			continue
		}
		sum += math.Max(0, 1-math.Abs(value-target.Midpoint())/tolerance)
		n++
	}
	if n == 0 {
		return 0.5
	}
	return sum / float64(n)
}

// CountCriticalViolations counts features from the critical set whose distance
// from the extended target exceeds twice the violation tolerance. Binary
// features (mode, key) carry no tolerance and never violate.
func CountCriticalViolations(features core.AudioFeatures, targets map[core.FeatureName]core.FeatureTarget) int {
	violations := 0
	for name, tolerance := range violationTolerances {
		if !criticalFeatures[name] {
			continue
		}
		target, hasTarget := targets[name]
		value, hasValue := features[name]
		if !hasTarget || !hasValue {
			continue
		}
		distance := distanceOutsideRange(value, target)
		if distance > 2*tolerance {
			violations++
		}
	}
	return violations
}

// distanceOutsideRange is zero inside the target range and the distance to the
// nearest edge outside it.
func distanceOutsideRange(value float64, target core.FeatureTarget) float64 {
	if target.Contains(value) {
		return 0
	}
	if value < target.Low {
		return target.Low - value
	}
	return value - target.High
}

// PassesViolationFilter reports whether a candidate survives the
// violation-based filter. Protected tracks always pass. The artist-discovery
// source gets a looser threshold.
func PassesViolationFilter(rec *core.TrackRecommendation, targets map[core.FeatureName]core.FeatureTarget) bool {
	if rec.Protected {
		return true
	}
	threshold := violationThreshold
	if rec.Source == core.SourceArtistDiscovery {
		threshold = discoveryThreshold
	}
	return CountCriticalViolations(rec.AudioFeatures, targets) < threshold
}

// PassesTemporalFilter applies the release-year window from the temporal
// context. Strict contexts (a named decade or era) use zero tolerance; loose
// ones allow 5 years of slack. Unparseable dates pass, and protected tracks
// bypass the filter entirely.
func PassesTemporalFilter(rec *core.TrackRecommendation, tc *core.TemporalContext) bool {
	if rec.Protected {
		return true
	}
	if tc == nil || !tc.IsTemporal || tc.YearRange == nil {
		return true
	}

	year, ok := rec.ReleaseYear()
	if !ok {
		return true
	}

	tolerance := lenientTemporalSlack
	if tc.Explicit() {
		tolerance = 0
	}
	return year >= tc.YearRange[0]-tolerance && year <= tc.YearRange[1]+tolerance
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
