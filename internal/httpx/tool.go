// Package httpx is the rate-limited HTTP layer every upstream tool is built
// from. One Tool per endpoint family, parameterized by ToolConfig, replaces
// the inheritance chain the reference used.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"moodlist/internal/core"
)

const (
	// maxInlineRetryAfter is the largest server-requested delay honored
	// inline; anything above fails fast with a RateLimitedError.
	maxInlineRetryAfter = 300 * time.Second

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

// Shared is the per-upstream backing every tool of that upstream uses: one
// pooled HTTP client and, for the fragile features service, the process-wide
// concurrency semaphore.
type Shared struct {
	HTTPClient *http.Client
	GlobalSem  *semaphore.Weighted
	Logger     *zap.Logger
}

// NewShared builds the pooled backend. globalConcurrency > 0 installs the
// process-wide semaphore that flagged tools must acquire.
func NewShared(globalConcurrency int64, logger *zap.Logger) *Shared {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	s := &Shared{
		HTTPClient: &http.Client{Transport: transport},
		Logger:     logger,
	}
	if globalConcurrency > 0 {
		s.GlobalSem = semaphore.NewWeighted(globalConcurrency)
	}
	return s
}

// ToolConfig parameterizes one endpoint family.
type ToolConfig struct {
	Name              string
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerMinute int
	MinInterval       time.Duration
	// RequiredFields are top-level JSON fields the response must carry; a
	// missing field is an error result, not a panic.
	RequiredFields []string
	// UseGlobalSemaphore gates every request behind the shared semaphore.
	UseGlobalSemaphore bool
}

// Tool issues requests for one endpoint family with rate limiting, retries,
// and response validation.
type Tool struct {
	cfg    ToolConfig
	shared *Shared
	window *slidingWindow
	pace   *rate.Limiter
	logger *zap.Logger
}

func NewTool(cfg ToolConfig, shared *Shared) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}

	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.MinInterval > 0 {
		pace = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	return &Tool{
		cfg:    cfg,
		shared: shared,
		window: newSlidingWindow(cfg.RequestsPerMinute),
		pace:   pace,
		logger: shared.Logger.Named(cfg.Name),
	}
}

// JoinList serializes a list-valued query parameter as a comma-joined string.
func JoinList(values []string) string {
	return strings.Join(values, ",")
}

// Request describes one call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    any
	// RawBody wins over Body when set (e.g. base64 cover uploads).
	RawBody     []byte
	ContentType string
	// ExpectStatus overrides the default 2xx acceptance (e.g. 202 for
	// cover upload).
	ExpectStatus int
}

// Do executes the request with the tool's rate limits and retry policy, then
// decodes the JSON response into dest (skipped when dest is nil).
func (t *Tool) Do(ctx context.Context, req Request, dest any) error {
	if t.cfg.UseGlobalSemaphore && t.shared.GlobalSem != nil {
		if err := t.shared.GlobalSem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer t.shared.GlobalSem.Release(1)
	}

	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxRetries; attempt++ {
		if err := t.window.wait(ctx); err != nil {
			return err
		}
		if err := t.pace.Wait(ctx); err != nil {
			return err
		}

		body, status, err := t.doOnce(ctx, req)
		if err != nil {
			// Connect/read timeouts and transport errors retry with
			// exponential backoff.
			lastErr = err
			if !isTimeoutOrTransient(err) {
				return err
			}
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return err
			}
			continue
		}

		switch {
		case status == http.StatusTooManyRequests:
			retryAfter, hasHeader := lastRetryAfter(body)
			if hasHeader && retryAfter > maxInlineRetryAfter {
				return &core.RateLimitedError{RetryAfter: retryAfter}
			}
			delay := retryAfter
			if !hasHeader {
				delay = 2 * time.Second * (1 << (attempt + 1))
			}
			lastErr = fmt.Errorf("%s rate limited (429)", t.cfg.Name)
			t.logger.Warn("429 from upstream, backing off",
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt))
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			continue

		case status >= 500:
			lastErr = &core.APIError{Status: status, Message: t.cfg.Name + " server error", Body: truncate(body.text, 200)}
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return err
			}
			continue

		case status == http.StatusNotFound:
			return &core.NotFoundError{ID: req.Path}

		case status == http.StatusUnauthorized:
			return &core.AuthError{Message: truncate(body.text, 200), RequiresReauth: true}

		case status == http.StatusForbidden:
			return &core.AuthError{Message: truncate(body.text, 200)}

		case req.ExpectStatus != 0 && status == req.ExpectStatus:
			return nil

		case status < 200 || status >= 300:
			return &core.APIError{Status: status, Message: t.cfg.Name + " request failed", Body: truncate(body.text, 200)}
		}

		return t.decode(body.raw, dest)
	}

	return fmt.Errorf("%s: max retries exceeded: %w", t.cfg.Name, lastErr)
}

type responseBody struct {
	raw        []byte
	text       string
	retryAfter string
}

func (t *Tool) doOnce(ctx context.Context, req Request) (responseBody, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	u := t.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	contentType := req.ContentType
	switch {
	case req.RawBody != nil:
		bodyReader = bytes.NewReader(req.RawBody)
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return responseBody{}, 0, fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		if contentType == "" {
			contentType = "application/json"
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, method, u, bodyReader)
	if err != nil {
		return responseBody{}, 0, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := t.shared.HTTPClient.Do(httpReq)
	if err != nil {
		return responseBody{}, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return responseBody{}, 0, err
	}

	return responseBody{
		raw:        raw,
		text:       string(raw),
		retryAfter: resp.Header.Get("Retry-After"),
	}, resp.StatusCode, nil
}

// decode validates required top-level fields, then unmarshals into dest.
func (t *Tool) decode(raw []byte, dest any) error {
	if len(t.cfg.RequiredFields) > 0 {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(raw, &top); err != nil {
			return fmt.Errorf("%s: response is not a JSON object: %w", t.cfg.Name, err)
		}
		for _, field := range t.cfg.RequiredFields {
			if _, ok := top[field]; !ok {
				return fmt.Errorf("%s: response missing required field %q", t.cfg.Name, field)
			}
		}
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%s: decode response: %w", t.cfg.Name, err)
	}
	return nil
}

// lastRetryAfter parses the Retry-After captured with the body.
func lastRetryAfter(body responseBody) (time.Duration, bool) {
	if body.retryAfter == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(body.retryAfter); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(body.retryAfter); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

// backoff is 0.5 * 2^attempt seconds.
func backoff(attempt int) time.Duration {
	return 500 * time.Millisecond * (1 << attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTimeoutOrTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
