// Package llm provides the pluggable analyzer capability used for mood, intent,
// and anchor analysis. Every provider exposes the same system/user prompt
// contract; consumers only depend on the completion text.
package llm

import (
	"fmt"

	"go.uber.org/zap"

	"moodlist/internal/core"
)

// NewAnalyzer builds the configured provider. Provider "none" (or empty) yields
// the NoOp analyzer, which makes every consumer take its rule-based fallback.
func NewAnalyzer(config core.LLMConfig, logger *zap.Logger) (core.Analyzer, error) {
	switch config.Provider {
	case "openai":
		return NewOpenAIClient(config, logger)
	case "anthropic":
		return NewAnthropicClient(config, logger)
	case "ollama":
		return NewOllamaClient(config, logger)
	case "none", "":
		return NoOpClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}
