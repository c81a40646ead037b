package anchor

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"moodlist/internal/core"
	"moodlist/internal/llm"
	"moodlist/pkg/text"
)

const intentSystemPrompt = `You extract explicit music references from a playlist request.

Return ONLY a JSON object of this exact shape:
{
  "mentioned_tracks": [{"name": "track title", "artist": "artist name or empty"}],
  "mentioned_artists": ["artist name"],
  "is_remix": false
}

Rules:
- Only include tracks and artists the user literally names. Never invent examples.
- "is_remix" is true only when the user asks to remix or rework an existing playlist.
- Empty lists are fine. Do not add any text outside the JSON object.`

// ExtractIntent finds the tracks and artists the prompt explicitly names.
// The LLM does the extraction; on any failure the regex parser takes over.
func (s *Selector) ExtractIntent(ctx context.Context, prompt string) *core.IntentAnalysis {
	intent, err := s.extractIntentLLM(ctx, prompt)
	if err == nil {
		return intent
	}
	if ctx.Err() == nil {
		s.logger.Debug("intent extraction fell back to pattern matching",
			zap.Error(err))
	}
	return s.extractIntentPatterns(prompt)
}

func (s *Selector) extractIntentLLM(ctx context.Context, prompt string) (*core.IntentAnalysis, error) {
	completion, err := s.analyzer.Complete(ctx, intentSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := llm.ExtractJSON(completion)
	if err != nil {
		return nil, err
	}
	var intent core.IntentAnalysis
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (s *Selector) extractIntentPatterns(prompt string) *core.IntentAnalysis {
	parser := text.NewParser()

	intent := &core.IntentAnalysis{}
	for _, m := range parser.ExtractTrackMentions(prompt) {
		intent.MentionedTracks = append(intent.MentionedTracks, core.TrackMention{
			Name:   m.Title,
			Artist: m.Artist,
		})
	}
	intent.MentionedArtists = parser.ExtractArtistMentions(prompt)
	return intent
}
