package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a recommendation workflow.
type Status string

const (
	StatusPending                   Status = "pending"
	StatusAnalyzingMood             Status = "analyzing_mood"
	StatusGatheringSeeds            Status = "gathering_seeds"
	StatusGeneratingRecommendations Status = "generating_recommendations"
	StatusFinalizing                Status = "finalizing"
	StatusCompleted                 Status = "completed"
	StatusFailed                    Status = "failed"
	StatusError                     Status = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusError
}

// Source identifies which generator produced a recommendation.
type Source string

const (
	SourceAnchorTrack     Source = "anchor_track"
	SourceArtistDiscovery Source = "artist_discovery"
	SourceRecoBeat        Source = "reccobeat"
	SourceUserMentioned   Source = "user_mentioned"
)

// AnchorType classifies how a track became an anchor.
type AnchorType string

const (
	AnchorNone              AnchorType = ""
	AnchorUser              AnchorType = "user"
	AnchorGenre             AnchorType = "genre"
	AnchorArtistMentioned   AnchorType = "artist_mentioned"
	AnchorArtistRecommended AnchorType = "artist_recommended"
)

// FeatureName is one of the twelve audio features understood by the engine.
type FeatureName string

const (
	FeatureAcousticness     FeatureName = "acousticness"
	FeatureDanceability     FeatureName = "danceability"
	FeatureEnergy           FeatureName = "energy"
	FeatureInstrumentalness FeatureName = "instrumentalness"
	FeatureKey              FeatureName = "key"
	FeatureLiveness         FeatureName = "liveness"
	FeatureLoudness         FeatureName = "loudness"
	FeatureMode             FeatureName = "mode"
	FeatureSpeechiness      FeatureName = "speechiness"
	FeatureTempo            FeatureName = "tempo"
	FeatureValence          FeatureName = "valence"
	FeaturePopularity       FeatureName = "popularity"
)

// AllFeatures lists every feature name in a stable order.
var AllFeatures = []FeatureName{
	FeatureAcousticness, FeatureDanceability, FeatureEnergy,
	FeatureInstrumentalness, FeatureKey, FeatureLiveness,
	FeatureLoudness, FeatureMode, FeatureSpeechiness,
	FeatureTempo, FeatureValence, FeaturePopularity,
}

// FeatureTarget is either a single numeric target or an inclusive [min,max] range.
// The JSON form is either a bare number or a two-element array.
type FeatureTarget struct {
	Low     float64
	High    float64
	IsRange bool
}

// SingleTarget builds a point target.
func SingleTarget(v float64) FeatureTarget {
	return FeatureTarget{Low: v, High: v}
}

// RangeTarget builds an inclusive range target.
func RangeTarget(lo, hi float64) FeatureTarget {
	return FeatureTarget{Low: lo, High: hi, IsRange: true}
}

// Midpoint collapses the target to a single value.
func (t FeatureTarget) Midpoint() float64 {
	if t.IsRange {
		return (t.Low + t.High) / 2
	}
	return t.Low
}

// Contains reports whether v lies inside the target range (point targets match exactly).
func (t FeatureTarget) Contains(v float64) bool {
	return v >= t.Low && v <= t.High
}

func (t FeatureTarget) MarshalJSON() ([]byte, error) {
	if t.IsRange {
		return json.Marshal([2]float64{t.Low, t.High})
	}
	return json.Marshal(t.Low)
}

func (t *FeatureTarget) UnmarshalJSON(data []byte) error {
	var single float64
	if err := json.Unmarshal(data, &single); err == nil {
		*t = SingleTarget(single)
		return nil
	}
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("feature target must be a number or [min,max]: %w", err)
	}
	if pair[0] > pair[1] {
		return fmt.Errorf("feature target range inverted: [%v,%v]", pair[0], pair[1])
	}
	*t = RangeTarget(pair[0], pair[1])
	return nil
}

// TemporalContext captures an era constraint extracted from the prompt.
type TemporalContext struct {
	IsTemporal bool   `json:"is_temporal"`
	YearRange  *[2]int `json:"year_range,omitempty"`
	Decade     string `json:"decade,omitempty"`
	Era        string `json:"era,omitempty"`
}

// Explicit reports whether the user named a concrete decade or era, which makes
// the temporal filter strict (zero tolerance).
func (tc *TemporalContext) Explicit() bool {
	return tc != nil && (tc.Decade != "" || tc.Era != "")
}

// ColorScheme is the three-color palette the analysis suggests for the playlist.
type ColorScheme struct {
	Primary   string `json:"primary" validate:"required,hexcolor"`
	Secondary string `json:"secondary" validate:"required,hexcolor"`
	Tertiary  string `json:"tertiary" validate:"required,hexcolor"`
}

// MoodAnalysis is the structured result of analyzing a mood prompt.
type MoodAnalysis struct {
	MoodInterpretation    string                        `json:"mood_interpretation"`
	PrimaryEmotion        string                        `json:"primary_emotion" validate:"omitempty,oneof=positive negative neutral"`
	EnergyLevel           string                        `json:"energy_level" validate:"omitempty,oneof=low medium high"`
	TargetFeatures        map[FeatureName]FeatureTarget `json:"target_features"`
	FeatureWeights        map[FeatureName]float64       `json:"feature_weights,omitempty" validate:"omitempty,dive,gte=0,lte=1"`
	SearchKeywords        []string                      `json:"search_keywords,omitempty"`
	ArtistRecommendations []string                      `json:"artist_recommendations,omitempty"`
	GenreKeywords         []string                      `json:"genre_keywords,omitempty"`
	PreferredRegions      []string                      `json:"preferred_regions,omitempty"`
	ExcludedRegions       []string                      `json:"excluded_regions,omitempty"`
	ExcludedThemes        []string                      `json:"excluded_themes,omitempty"`
	TemporalContext       *TemporalContext              `json:"temporal_context,omitempty"`
	ColorScheme           *ColorScheme                  `json:"color_scheme,omitempty"`
	Reasoning             string                        `json:"reasoning,omitempty"`
}

// Track is a catalog track as the engine sees it.
type Track struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []string `json:"artists"`
	ArtistIDs   []string `json:"artist_ids,omitempty"`
	URI         string   `json:"uri,omitempty"`
	Album       string   `json:"album,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Popularity  int      `json:"popularity"`
	DurationMS  int      `json:"duration_ms,omitempty"`
}

// FirstArtist returns the primary artist name, or "" when unknown.
func (t *Track) FirstArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// ReleaseYear parses the year from the album release date; ok is false when the
// date is missing or unparseable.
func (t *Track) ReleaseYear() (int, bool) {
	if len(t.ReleaseDate) < 4 {
		return 0, false
	}
	var year int
	if _, err := fmt.Sscanf(t.ReleaseDate[:4], "%d", &year); err != nil || year < 1000 {
		return 0, false
	}
	return year, true
}

// Artist is a catalog artist.
type Artist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres,omitempty"`
	Popularity int      `json:"popularity"`
}

// AudioFeatures maps feature names to measured values; the map may be partial.
type AudioFeatures map[FeatureName]float64

// TrackRecommendation is one entry of the final playlist.
//
// ConfidenceScore is the single canonical confidence field; the reference kept
// a second "confidence" alias which is deliberately not carried here.
type TrackRecommendation struct {
	TrackID         string        `json:"track_id"`
	TrackName       string        `json:"track_name"`
	Artists         []string      `json:"artists"`
	SpotifyURI      string        `json:"spotify_uri,omitempty"`
	ConfidenceScore float64       `json:"confidence_score"`
	AudioFeatures   AudioFeatures `json:"audio_features,omitempty"`
	Reasoning       string        `json:"reasoning,omitempty"`
	Source          Source        `json:"source"`
	UserMentioned   bool          `json:"user_mentioned"`
	Protected       bool          `json:"protected"`
	AnchorType      AnchorType    `json:"anchor_type,omitempty"`
	Popularity      int           `json:"popularity,omitempty"`
	ReleaseDate     string        `json:"release_date,omitempty"`
}

// ReleaseYear mirrors Track.ReleaseYear for recommendation records.
func (r *TrackRecommendation) ReleaseYear() (int, bool) {
	t := Track{ReleaseDate: r.ReleaseDate}
	return t.ReleaseYear()
}

// AnchorCandidate is a track under consideration as a playlist anchor.
type AnchorCandidate struct {
	Track      Track         `json:"track"`
	Score      float64       `json:"score"`
	Confidence float64       `json:"confidence"`
	Source     Source        `json:"source"`
	AnchorType AnchorType    `json:"anchor_type"`
	Protected  bool          `json:"protected"`
	Features   AudioFeatures `json:"features,omitempty"`
}

// UserAnchor builds the fully-protected candidate for an explicitly mentioned track.
func UserAnchor(track Track) AnchorCandidate {
	return AnchorCandidate{
		Track:      track,
		Score:      1.0,
		Confidence: 1.0,
		Source:     SourceAnchorTrack,
		AnchorType: AnchorUser,
		Protected:  true,
	}
}

// PlaylistTarget is the desired size and composition of the final playlist.
// DiscoveryShare sizes generation-time request volumes; the final ratio is
// enforced separately.
type PlaylistTarget struct {
	TargetCount    int     `json:"target_count"`
	MinCount       int     `json:"min_count"`
	MaxCount       int     `json:"max_count"`
	MaxAnchors     int     `json:"max_anchors,omitempty"`
	DiscoveryShare float64 `json:"discovery_share,omitempty"`
}

// TrackMention is a track the user named in the prompt.
type TrackMention struct {
	Name   string `json:"name"`
	Artist string `json:"artist,omitempty"`
}

// IntentAnalysis is the secondary LLM pass over the prompt.
type IntentAnalysis struct {
	MentionedTracks  []TrackMention `json:"mentioned_tracks,omitempty"`
	MentionedArtists []string       `json:"mentioned_artists,omitempty"`
	IsRemix          bool           `json:"is_remix,omitempty"`
}

// Metadata is the typed replacement for the reference's loose metadata bag.
// All fields are optional; nil/empty means the stage that fills them has not run.
type Metadata struct {
	SpotifyAccessToken     string                        `json:"-"`
	TargetFeatures         map[FeatureName]FeatureTarget `json:"target_features,omitempty"`
	FeatureWeights         map[FeatureName]float64       `json:"feature_weights,omitempty"`
	AnchorTracks           []AnchorCandidate             `json:"anchor_tracks,omitempty"`
	AnchorTrackIDs         []string                      `json:"anchor_track_ids,omitempty"`
	DiscoveredArtists      []Artist                      `json:"discovered_artists,omitempty"`
	MoodMatchedArtists     []Artist                      `json:"mood_matched_artists,omitempty"`
	UserMentionedTrackIDs  []string                      `json:"user_mentioned_track_ids,omitempty"`
	UserMentionedTracks    []Track                       `json:"user_mentioned_tracks_full,omitempty"`
	UserMentionedArtists   []string                      `json:"user_mentioned_artists,omitempty"`
	IntentAnalysis         *IntentAnalysis               `json:"intent_analysis,omitempty"`
	PlaylistTarget         *PlaylistTarget               `json:"playlist_target,omitempty"`
	RemixSeedTracks        []Track                       `json:"remix_seed_tracks,omitempty"`
	StageErrors            map[string]string             `json:"stage_errors,omitempty"`
}

// RecordStageError stores a non-fatal stage failure for later inspection.
func (m *Metadata) RecordStageError(stage string, err error) {
	if err == nil {
		return
	}
	if m.StageErrors == nil {
		m.StageErrors = make(map[string]string)
	}
	m.StageErrors[stage] = err.Error()
}

// WorkflowState is the per-session state owned by the orchestrator. Stages
// receive it by reference but only the orchestrator's task mutates it.
type WorkflowState struct {
	SessionID       string                `json:"session_id"`
	UserID          string                `json:"user_id"`
	MoodPrompt      string                `json:"mood_prompt"`
	Status          Status                `json:"status"`
	CurrentStep     string                `json:"current_step"`
	MoodAnalysis    *MoodAnalysis         `json:"mood_analysis,omitempty"`
	SeedTracks      []string              `json:"seed_tracks,omitempty"`
	NegativeSeeds   []string              `json:"negative_seeds,omitempty"`
	Recommendations []TrackRecommendation `json:"recommendations,omitempty"`
	Metadata        Metadata              `json:"metadata"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// NewWorkflowState creates a pending state for one orchestrator session.
func NewWorkflowState(sessionID, userID, prompt string) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		SessionID:  sessionID,
		UserID:     userID,
		MoodPrompt: prompt,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Transition sets the status and progress label.
func (w *WorkflowState) Transition(status Status, step string) {
	w.Status = status
	w.CurrentStep = step
	w.UpdatedAt = time.Now()
}
