package playlist

import (
	"testing"

	"moodlist/internal/core"
)

func rec(id string, source core.Source, confidence float64) core.TrackRecommendation {
	return core.TrackRecommendation{
		TrackID:         id,
		TrackName:       "Track " + id,
		Artists:         []string{"Artist " + id},
		ConfidenceScore: confidence,
		Source:          source,
	}
}

func userAnchor(id string) core.TrackRecommendation {
	r := rec(id, core.SourceAnchorTrack, 1.0)
	r.UserMentioned = true
	r.Protected = true
	r.AnchorType = core.AnchorUser
	return r
}

func TestEnforceRatio_Split(t *testing.T) {
	var recs []core.TrackRecommendation
	recs = append(recs, userAnchor("u1"))
	for i := 0; i < 30; i++ {
		recs = append(recs, rec("a"+string(rune('0'+i%10))+string(rune('a'+i/10)), core.SourceArtistDiscovery, 0.8))
	}
	for i := 0; i < 10; i++ {
		recs = append(recs, rec("s"+string(rune('0'+i)), core.SourceRecoBeat, 0.9))
	}

	out := EnforceRatio(recs, core.PlaylistTarget{TargetCount: 21})

	var user, seed, artist int
	for _, r := range out {
		switch {
		case r.UserMentioned:
			user++
		case r.Source == core.SourceRecoBeat:
			seed++
		case r.Source == core.SourceArtistDiscovery:
			artist++
		}
	}
	if user != 1 {
		t.Errorf("user anchors are unlimited and uncounted, got %d", user)
	}
	// remaining = 21-1 = 20; 2% of 20 = 0 -> minimum 1 seed slot.
	if seed != 1 {
		t.Errorf("seed group gets max(1, 2%%), got %d", seed)
	}
	if artist != 19 {
		t.Errorf("artist group fills the rest, got %d", artist)
	}
}

func TestEnforceRatio_NonUserAnchorCap(t *testing.T) {
	var recs []core.TrackRecommendation
	for i := 0; i < 8; i++ {
		recs = append(recs, rec("anchor"+string(rune('0'+i)), core.SourceAnchorTrack, 0.5+float64(i)*0.05))
	}
	out := EnforceRatio(recs, core.PlaylistTarget{TargetCount: 20})

	anchors := 0
	for _, r := range out {
		if r.Source == core.SourceAnchorTrack && !r.UserMentioned {
			anchors++
		}
	}
	if anchors != 5 {
		t.Errorf("non-user anchors capped at 5, got %d", anchors)
	}
	// The cap keeps the highest-confidence anchors.
	if out[0].TrackID != "anchor7" {
		t.Errorf("cap must keep the best anchors, got %s first", out[0].TrackID)
	}
}

func TestEnforceRatio_DiscoveryShortfallDoesNotBackfill(t *testing.T) {
	var recs []core.TrackRecommendation
	for i := 0; i < 5; i++ {
		recs = append(recs, rec("a"+string(rune('0'+i)), core.SourceArtistDiscovery, 0.8))
	}
	for i := 0; i < 20; i++ {
		recs = append(recs, rec("s"+string(rune('a'+i)), core.SourceRecoBeat, 0.9))
	}

	out := EnforceRatio(recs, core.PlaylistTarget{TargetCount: 20})

	var seed, artist int
	for _, r := range out {
		switch r.Source {
		case core.SourceRecoBeat:
			seed++
		case core.SourceArtistDiscovery:
			artist++
		}
	}
	// remaining = 20; 2% of 20 = 0 -> minimum 1 seed slot. The 15 slots
	// discovery cannot fill stay empty rather than going to seed tracks.
	if seed != 1 {
		t.Errorf("seed quota is max(1, 2%%) even on discovery shortfall, got %d", seed)
	}
	if artist != 5 {
		t.Errorf("artist group keeps what it has, got %d", artist)
	}
	if len(out) != 6 {
		t.Errorf("shortfall shrinks the playlist, got %d tracks", len(out))
	}
}

func TestEnforceRatio_ConfigurableAnchorCap(t *testing.T) {
	var recs []core.TrackRecommendation
	for i := 0; i < 8; i++ {
		recs = append(recs, rec("anchor"+string(rune('0'+i)), core.SourceAnchorTrack, 0.5+float64(i)*0.05))
	}
	out := EnforceRatio(recs, core.PlaylistTarget{TargetCount: 20, MaxAnchors: 2})

	anchors := 0
	for _, r := range out {
		if r.Source == core.SourceAnchorTrack && !r.UserMentioned {
			anchors++
		}
	}
	if anchors != 2 {
		t.Errorf("anchor cap must follow the target, got %d", anchors)
	}
}

func TestEnforceRatio_GroupOrder(t *testing.T) {
	recs := []core.TrackRecommendation{
		rec("s1", core.SourceRecoBeat, 0.95),
		rec("a1", core.SourceArtistDiscovery, 0.4),
		rec("a2", core.SourceArtistDiscovery, 0.9),
		userAnchor("u1"),
		rec("n1", core.SourceAnchorTrack, 0.3),
	}

	out := EnforceRatio(recs, core.PlaylistTarget{TargetCount: 5})

	wantOrder := []string{"u1", "n1", "a2", "a1", "s1"}
	if len(out) != len(wantOrder) {
		t.Fatalf("expected %d tracks, got %d", len(wantOrder), len(out))
	}
	for i, want := range wantOrder {
		if out[i].TrackID != want {
			t.Errorf("position %d: got %s, want %s", i, out[i].TrackID, want)
		}
	}
}

func TestDeduplicate_Keys(t *testing.T) {
	recs := []core.TrackRecommendation{
		{TrackID: "t1", TrackName: "One More Time", SpotifyURI: "spotify:track:t1"},
		{TrackID: "t1", TrackName: "Different Name"},                 // same id
		{TrackID: "t2", TrackName: "One More Time (Radio Edit)"},     // same normalized name
		{TrackID: "t3", TrackName: "One More Time - feat. Somebody"}, // same normalized name
		{TrackID: "t4", TrackName: "Other Song", SpotifyURI: "spotify:track:t1"}, // same uri
		{TrackID: "t5", TrackName: "Genuinely New"},
	}

	out := Deduplicate(recs)
	if len(out) != 2 {
		t.Fatalf("expected 2 survivors, got %d: %+v", len(out), out)
	}
	if out[0].TrackID != "t1" || out[1].TrackID != "t5" {
		t.Errorf("first occurrence must win: %+v", out)
	}
}

func TestDeduplicate_EmptyKeysDoNotCollide(t *testing.T) {
	recs := []core.TrackRecommendation{
		{TrackID: "t1", TrackName: "A"},
		{TrackID: "t2", TrackName: "B"}, // empty URIs must not match each other
	}
	if out := Deduplicate(recs); len(out) != 2 {
		t.Errorf("empty URIs must not be treated as equal: %+v", out)
	}
}

func TestApplyDiversity_PenaltyAndFloor(t *testing.T) {
	recs := []core.TrackRecommendation{
		{TrackID: "t1", Artists: []string{"Daft Punk"}, ConfidenceScore: 0.9},
		{TrackID: "t2", Artists: []string{"Daft Punk"}, ConfidenceScore: 0.8},
		{TrackID: "t3", Artists: []string{"daft punk"}, ConfidenceScore: 0.15},
		{TrackID: "t4", Artists: []string{"Justice"}, ConfidenceScore: 0.7},
	}

	out := ApplyDiversity(recs)

	scores := make(map[string]float64)
	for _, r := range out {
		scores[r.TrackID] = r.ConfidenceScore
	}
	// Daft Punk occurs 3 times (case-insensitive): each track loses 0.1*(3-1).
	if scores["t1"] != 0.9-0.2 {
		t.Errorf("t1 penalty wrong: %v", scores["t1"])
	}
	if scores["t3"] != 0.1 {
		t.Errorf("floor must hold: %v", scores["t3"])
	}
	if scores["t4"] != 0.7 {
		t.Errorf("unique artist must be unpenalized: %v", scores["t4"])
	}
}

func TestApplyDiversity_ProtectedExemptAndFirst(t *testing.T) {
	recs := []core.TrackRecommendation{
		{TrackID: "t1", Artists: []string{"Daft Punk"}, ConfidenceScore: 0.9},
		{TrackID: "p1", Artists: []string{"Daft Punk"}, ConfidenceScore: 0.5, Protected: true},
		{TrackID: "t2", Artists: []string{"Daft Punk"}, ConfidenceScore: 0.95},
	}

	out := ApplyDiversity(recs)

	if out[0].TrackID != "p1" {
		t.Errorf("protected tracks come first, got %s", out[0].TrackID)
	}
	if out[0].ConfidenceScore != 0.5 {
		t.Errorf("protected confidence must be untouched: %v", out[0].ConfidenceScore)
	}
	// Non-protected sorted descending after penalties.
	if out[1].TrackID != "t2" || out[2].TrackID != "t1" {
		t.Errorf("non-protected order wrong: %s, %s", out[1].TrackID, out[2].TrackID)
	}
}
