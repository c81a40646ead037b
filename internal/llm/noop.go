package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by the NoOp analyzer; consumers catch it and
// fall back to their rule-based paths.
var ErrNotConfigured = errors.New("LLM provider not configured")

type NoOpClient struct{}

func (NoOpClient) Complete(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
