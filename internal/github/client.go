// Package github publishes orchestration results to GitHub.
//
// It creates branches, commits agent-generated changes, opens pull requests,
// reads pull request files for review and validates incoming webhooks. Every
// API call goes through a retry helper that backs off on rate limits and
// transient server errors.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/secrets"
)

// ErrTokenRequired is returned by New when no token is configured.
var ErrTokenRequired = errors.New("GitHub token not set")

// Client wraps the go-github client.
type Client struct {
	gh       *gh.Client
	retry    RetryConfig
	detector *secrets.Detector
	logger   *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithDetector refuses commits whose content contains secrets.
func WithDetector(d *secrets.Detector) Option {
	return func(c *Client) { c.detector = d }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(r RetryConfig) Option {
	return func(c *Client) { c.retry = r }
}

// New creates an authenticated client from cfg.
func New(ctx context.Context, cfg config.GitHubConfig, opts ...Option) (*Client, error) {
	if !cfg.Token.IsSet() {
		return nil, ErrTokenRequired
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	client := gh.NewClient(oauth2.NewClient(ctx, ts))
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		client.BaseURL = base
		client.UploadURL = base
	}
	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxRetries = cfg.MaxRetries
	}
	return NewFromClient(client, append([]Option{WithRetry(*retry)}, opts...)...), nil
}

// NewFromClient wraps an existing go-github client.
func NewFromClient(client *gh.Client, opts ...Option) *Client {
	c := &Client{
		gh:     client,
		retry:  *DefaultRetryConfig(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repo identifies a repository.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"repo"`
}

func (r Repo) validate() error {
	if !validName.MatchString(r.Owner) {
		return fmt.Errorf("invalid repository owner %q", r.Owner)
	}
	if !validName.MatchString(r.Name) {
		return fmt.Errorf("invalid repository name %q", r.Name)
	}
	return nil
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}
