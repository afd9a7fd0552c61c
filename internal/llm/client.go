// Package llm is the model client shared by every codexd agent.
//
// Client wraps a langchaingo llms.Model with a rate limiter, bounded retries
// with exponential backoff, a per-call timeout and outbound secret scrubbing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/secrets"
)

const defaultBaseBackoff = time.Second

var (
	// ErrMissingAPIKey is returned when no key is configured for the hosted API.
	ErrMissingAPIKey = errors.New("llm api key required")

	// ErrEmptyResponse is returned when the model produces no choices.
	ErrEmptyResponse = errors.New("empty response from model")
)

// Client generates completions for agents. It is safe for concurrent use.
type Client struct {
	model       llms.Model
	name        string
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	timeout     time.Duration
	temperature float64
	maxTokens   int
	apiKey      config.Secret

	redactor *secrets.Detector
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithRedactor scrubs prompts with d before they are sent.
func WithRedactor(d *secrets.Detector) Option {
	return func(c *Client) { c.redactor = d }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracer sets the tracer used for llm.generate spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithBackoff sets the base retry backoff. Attempt n waits base*2^(n-1).
func WithBackoff(base time.Duration) Option {
	return func(c *Client) { c.baseBackoff = base }
}

// New builds a Client for an OpenAI-compatible endpoint described by cfg.
// A key is only required when BaseURL is unset.
func New(cfg config.LLMConfig, opts ...Option) (*Client, error) {
	token := cfg.APIKey.Value()
	if token == "" {
		if cfg.BaseURL == "" {
			return nil, ErrMissingAPIKey
		}
		// Self-hosted servers ignore the key but the client requires one.
		token = "unused"
	}
	llmOpts := []openai.Option{openai.WithToken(token), openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewWithModel(model, cfg, opts...), nil
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, cfg config.LLMConfig, opts ...Option) *Client {
	c := &Client{
		model:       model,
		name:        cfg.Model,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
		timeout:     cfg.Timeout.Duration(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		apiKey:      cfg.APIKey,
		logger:      logging.NewNop(),
		tracer:      otel.Tracer("codexd.llm"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateWithContext sends a system and a user prompt and returns the text
// of the first choice.
func (c *Client) GenerateWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.model", c.name),
	))
	defer span.End()

	systemPrompt = c.scrub(ctx, "system", systemPrompt)
	userPrompt = c.scrub(ctx, "user", userPrompt)

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}}},
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", c.fail(span, ctx.Err())
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", c.fail(span, fmt.Errorf("rate limiter: %w", err))
			}
		}

		text, err := c.generate(ctx, messages)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			return text, nil
		}
		lastErr = err
		if !isRetryable(ctx, err) {
			return "", c.fail(span, err)
		}
		c.logger.Warn(ctx, "model call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.String("error", c.apiKey.Scrub(err.Error())))
	}
	return "", c.fail(span, fmt.Errorf("max retries exceeded: %w", lastErr))
}

func (c *Client) generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var callOpts []llms.CallOption
	if c.temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(c.temperature))
	}
	if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}
	resp, err := c.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

func (c *Client) scrub(ctx context.Context, role, text string) string {
	if !c.redactor.Enabled() {
		return text
	}
	res := c.redactor.Redact(text)
	if res.Redacted() {
		c.logger.Warn(ctx, "redacted secrets from prompt",
			zap.String("role", role),
			zap.Any("rules", res.RuleCounts()))
	}
	return res.Content
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// isRetryable reports whether err looks transient: rate limiting, server
// errors, timeouts of a single attempt or dropped connections. Cancellation
// of the caller's context is never retried.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504", "server error", "overloaded",
		"timeout", "connection reset", "connection refused", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
