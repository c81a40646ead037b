package core

import (
	"errors"
	"fmt"
	"time"
)

// APIError is a non-retryable upstream response (4xx other than 429, or a 5xx
// that exhausted its retries).
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d: %s: %s", e.Status, e.Message, e.Body)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// RateLimitedError is a 429 whose Retry-After exceeds the inline-retry budget.
// The caller must not sleep; the error carries the server's requested delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ValidationError is a parameter problem caught before any upstream call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError marks an ID absent from an upstream; callers treat this as a
// skip, not a failure.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.ID) }

// AuthError is an authentication failure against the Catalog.
type AuthError struct {
	Message        string
	RequiresReauth bool
}

func (e *AuthError) Error() string { return "auth failed: " + e.Message }

// ErrNoRecommendations is the single fatal condition: nothing at all could be
// produced for the request.
var ErrNoRecommendations = errors.New("no recommendations could be produced")

// ErrWorkflowTimeout marks a workflow that exceeded its poll window.
var ErrWorkflowTimeout = errors.New("workflow timed out")

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsRateLimited extracts the retry-after hint when err is a RateLimitedError.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
