package mood

import (
	"strings"

	"moodlist/internal/core"
)

// moodProfile is one named entry of the rule-based fallback table. A profile
// matches when any keyword appears in the lowercased prompt.
type moodProfile struct {
	name     string
	keywords []string
	features map[core.FeatureName]core.FeatureTarget
	weights  map[core.FeatureName]float64
}

var fallbackProfiles = []moodProfile{
	{
		name:     "indie",
		keywords: []string{"indie", "alternative", "underground", "lo-fi", "lofi"},
		features: map[core.FeatureName]core.FeatureTarget{
			core.FeatureEnergy:       core.RangeTarget(0.4, 0.7),
			core.FeatureAcousticness: core.RangeTarget(0.3, 0.7),
			core.FeaturePopularity:   core.RangeTarget(10, 60),
		},
		weights: map[core.FeatureName]float64{
			core.FeatureEnergy:       0.6,
			core.FeatureAcousticness: 0.5,
		},
	},
	{
		name:     "party",
		keywords: []string{"party", "club", "dance", "celebration", "banger"},
		features: map[core.FeatureName]core.FeatureTarget{
			core.FeatureEnergy:       core.RangeTarget(0.7, 1.0),
			core.FeatureDanceability: core.RangeTarget(0.7, 1.0),
			core.FeatureValence:      core.RangeTarget(0.6, 1.0),
		},
		weights: map[core.FeatureName]float64{
			core.FeatureEnergy:       0.9,
			core.FeatureDanceability: 0.9,
		},
	},
	{
		name:     "chill",
		keywords: []string{"chill", "relax", "calm", "mellow", "laid back", "laid-back"},
		features: map[core.FeatureName]core.FeatureTarget{
			core.FeatureEnergy:       core.RangeTarget(0.2, 0.5),
			core.FeatureValence:      core.RangeTarget(0.4, 0.8),
			core.FeatureAcousticness: core.RangeTarget(0.3, 0.8),
		},
		weights: map[core.FeatureName]float64{
			core.FeatureEnergy: 0.8,
		},
	},
	{
		name:     "focus",
		keywords: []string{"focus", "study", "concentrat", "work", "coding", "deep work"},
		features: map[core.FeatureName]core.FeatureTarget{
			core.FeatureEnergy:           core.RangeTarget(0.2, 0.5),
			core.FeatureInstrumentalness: core.RangeTarget(0.5, 1.0),
			core.FeatureSpeechiness:      core.RangeTarget(0.0, 0.2),
		},
		weights: map[core.FeatureName]float64{
			core.FeatureInstrumentalness: 0.9,
			core.FeatureSpeechiness:      0.7,
		},
	},
	{
		name:     "emotional",
		keywords: []string{"emotional", "heartbreak", "cry", "melanchol", "nostalgi"},
		features: map[core.FeatureName]core.FeatureTarget{
			core.FeatureValence:      core.RangeTarget(0.0, 0.4),
			core.FeatureEnergy:       core.RangeTarget(0.2, 0.5),
			core.FeatureAcousticness: core.RangeTarget(0.4, 0.9),
		},
		weights: map[core.FeatureName]float64{
			core.FeatureValence: 0.9,
		},
	},
}

// keywordOverlay forces a feature range when a trigger word appears, regardless
// of which profiles matched.
type keywordOverlay struct {
	keywords []string
	feature  core.FeatureName
	target   core.FeatureTarget
}

var fallbackOverlays = []keywordOverlay{
	{[]string{"energetic", "workout", "hype", "pump"}, core.FeatureEnergy, core.RangeTarget(0.7, 1.0)},
	{[]string{"sad", "dark", "moody", "gloomy"}, core.FeatureValence, core.RangeTarget(0.0, 0.4)},
	{[]string{"happy", "upbeat", "joyful", "cheerful"}, core.FeatureValence, core.RangeTarget(0.6, 1.0)},
	{[]string{"acoustic", "unplugged", "stripped"}, core.FeatureAcousticness, core.RangeTarget(0.6, 1.0)},
	{[]string{"instrumental", "no vocals", "without vocals"}, core.FeatureInstrumentalness, core.RangeTarget(0.6, 1.0)},
	{[]string{"danceable", "groovy", "groove"}, core.FeatureDanceability, core.RangeTarget(0.7, 1.0)},
	{[]string{"slow", "sleepy", "bedtime"}, core.FeatureTempo, core.RangeTarget(50, 100)},
	{[]string{"fast", "speed", "racing"}, core.FeatureTempo, core.RangeTarget(130, 200)},
}

// regionCues map language/genre cues to a region name.
var regionCues = map[string][]string{
	"france":        {"french", "france", "chanson"},
	"japan":         {"japanese", "j-pop", "jpop", "city pop", "japan"},
	"korea":         {"korean", "k-pop", "kpop", "korea"},
	"latin america": {"latin", "reggaeton", "spanish", "salsa", "bachata"},
	"brazil":        {"brazilian", "bossa", "samba", "brazil"},
	"uk":            {"british", "britpop", "uk garage", "grime"},
	"germany":       {"german", "krautrock", "germany"},
	"india":         {"bollywood", "hindi", "indian"},
}

// defaultExcludedThemes are dropped when the prompt explicitly asks for them.
var defaultExcludedThemes = []string{"holiday", "kids"}

var themeTriggers = map[string][]string{
	"holiday": {"christmas", "holiday", "xmas", "festive"},
	"kids":    {"kids", "children", "nursery"},
}

// FallbackAnalysis builds a MoodAnalysis from the rule table alone.
func FallbackAnalysis(prompt string) *core.MoodAnalysis {
	analysis := &core.MoodAnalysis{
		TargetFeatures: map[core.FeatureName]core.FeatureTarget{},
		FeatureWeights: map[core.FeatureName]float64{},
	}
	applyFallback(analysis, prompt)
	return analysis
}

// applyFallback layers the rule table onto an analysis. Features already set
// (by the LLM) are never overwritten.
func applyFallback(analysis *core.MoodAnalysis, prompt string) {
	lowered := strings.ToLower(prompt)

	if analysis.TargetFeatures == nil {
		analysis.TargetFeatures = map[core.FeatureName]core.FeatureTarget{}
	}
	if analysis.FeatureWeights == nil {
		analysis.FeatureWeights = map[core.FeatureName]float64{}
	}

	var matched []string
	for _, profile := range fallbackProfiles {
		if !containsAny(lowered, profile.keywords) {
			continue
		}
		matched = append(matched, profile.name)
		for feature, target := range profile.features {
			if _, set := analysis.TargetFeatures[feature]; !set {
				analysis.TargetFeatures[feature] = target
			}
		}
		for feature, weight := range profile.weights {
			if _, set := analysis.FeatureWeights[feature]; !set {
				analysis.FeatureWeights[feature] = weight
			}
		}
	}

	for _, overlay := range fallbackOverlays {
		if !containsAny(lowered, overlay.keywords) {
			continue
		}
		if _, set := analysis.TargetFeatures[overlay.feature]; !set {
			analysis.TargetFeatures[overlay.feature] = overlay.target
		}
	}

	if len(analysis.PreferredRegions) == 0 {
		for region, cues := range regionCues {
			if containsAny(lowered, cues) {
				analysis.PreferredRegions = append(analysis.PreferredRegions, region)
			}
		}
	}

	if len(analysis.ExcludedThemes) == 0 {
		for _, theme := range defaultExcludedThemes {
			if !containsAny(lowered, themeTriggers[theme]) {
				analysis.ExcludedThemes = append(analysis.ExcludedThemes, theme)
			}
		}
		if containsAny(lowered, []string{"romantic", "romance", "date night"}) {
			analysis.ExcludedThemes = append(analysis.ExcludedThemes, "religious")
		}
	}

	if analysis.MoodInterpretation == "" {
		if len(matched) > 0 {
			analysis.MoodInterpretation = "rule-based match: " + strings.Join(matched, ", ")
		} else {
			analysis.MoodInterpretation = "no profile matched; neutral defaults"
		}
	}
	if analysis.PrimaryEmotion == "" {
		analysis.PrimaryEmotion = inferEmotion(analysis)
	}
	if analysis.EnergyLevel == "" {
		analysis.EnergyLevel = inferEnergyLevel(analysis)
	}
	if len(analysis.SearchKeywords) == 0 {
		analysis.SearchKeywords = promptKeywords(lowered)
	}
}

func inferEmotion(analysis *core.MoodAnalysis) string {
	target, ok := analysis.TargetFeatures[core.FeatureValence]
	if !ok {
		return "neutral"
	}
	switch mid := target.Midpoint(); {
	case mid >= 0.6:
		return "positive"
	case mid <= 0.4:
		return "negative"
	default:
		return "neutral"
	}
}

func inferEnergyLevel(analysis *core.MoodAnalysis) string {
	target, ok := analysis.TargetFeatures[core.FeatureEnergy]
	if !ok {
		return "medium"
	}
	switch mid := target.Midpoint(); {
	case mid >= 0.65:
		return "high"
	case mid <= 0.35:
		return "low"
	default:
		return "medium"
	}
}

// promptKeywords keeps the prompt's meaningful words as search keywords.
func promptKeywords(lowered string) []string {
	stopwords := map[string]bool{
		"i": true, "a": true, "an": true, "the": true, "some": true, "want": true,
		"need": true, "play": true, "music": true, "songs": true, "playlist": true,
		"for": true, "me": true, "my": true, "to": true, "and": true, "of": true,
		"with": true, "feel": true, "feeling": true, "like": true,
	}
	var keywords []string
	for _, word := range strings.Fields(lowered) {
		word = strings.Trim(word, ".,!?\"'")
		if len(word) < 3 || stopwords[word] {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
