package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps every wait, including rate-limit resets.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c *RetryConfig) applyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// APIError is a failed GitHub call.
type APIError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s failed (status %d, %d attempts): %v", e.Op, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("github %s failed (%d attempts): %v", e.Op, e.Attempts, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do runs operation with exponential backoff. Rate-limited responses wait
// until the reported reset, capped at MaxBackoff.
func (c *Client) do(ctx context.Context, op string, operation func() (*gh.Response, error)) error {
	cfg := c.retry
	cfg.applyDefaults()

	backoff := cfg.InitialBackoff
	start := time.Now()
	var lastErr error
	var lastResp *gh.Response

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				c.logger.Info(ctx, "github operation recovered after retries",
					zap.String("op", op),
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)))
			}
			return nil
		}
		lastErr, lastResp = err, resp

		if !isRetryable(err, resp) {
			return &APIError{Op: op, StatusCode: statusCode(resp), Attempts: attempt + 1, Err: err}
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimited(resp) {
			backoff = rateLimitBackoff(resp, cfg.MaxBackoff)
			c.logger.Info(ctx, "github rate limit hit, waiting for reset",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
		} else {
			c.logger.Info(ctx, "retrying github operation after transient error",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Int("status_code", statusCode(resp)),
				zap.Duration("backoff", backoff),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return &APIError{Op: op, StatusCode: statusCode(resp), Retryable: true, Attempts: attempt + 1,
				Err: fmt.Errorf("operation canceled: %w", ctx.Err())}
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	c.logger.Warn(ctx, "github operation failed after all retries",
		zap.String("op", op),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Int("status_code", statusCode(lastResp)),
		zap.Error(lastErr))
	return &APIError{Op: op, StatusCode: statusCode(lastResp), Retryable: true, Attempts: cfg.MaxRetries + 1, Err: lastErr}
}

// isRetryable reports whether a failed call may succeed if repeated.
// Errors without a response (network failures) are retried.
func isRetryable(err error, resp *gh.Response) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if resp == nil || resp.Response == nil {
		return true
	}
	switch code := resp.StatusCode; code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		// Secondary rate limits come back as 403 with rate headers.
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	default:
		return code >= 500 && code < 600
	}
}

func isRateLimited(resp *gh.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
}

func rateLimitBackoff(resp *gh.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.Time.IsZero() {
		return maxBackoff
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func statusCode(resp *gh.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
