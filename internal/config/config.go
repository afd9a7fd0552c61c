// Package config provides configuration loading for codexd.
//
// Configuration is read from an optional YAML file and then overridden by
// CODEXD_* environment variables. Sections owned by other packages (logging,
// telemetry) are decoded on demand with Config.Unmarshal so those packages
// can keep their own types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/codexd/internal/secrets"
)

// Config holds the codexd configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	LLM      LLMConfig      `koanf:"llm"`
	History  HistoryConfig  `koanf:"history"`
	Events   EventsConfig   `koanf:"events"`
	Policy   PolicyConfig   `koanf:"policy"`
	Secrets  secrets.Config `koanf:"secrets"`
	GitHub   GitHubConfig   `koanf:"github"`
	Temporal TemporalConfig `koanf:"temporal"`

	k *koanf.Koanf
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	RequestTimeout  Duration `koanf:"request_timeout"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig configures the model client shared by all agents.
type LLMConfig struct {
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second, 0 disables
	Burst       int      `koanf:"burst"`
	MaxRetries  int      `koanf:"max_retries"`
	Timeout     Duration `koanf:"timeout"`
}

// HistoryConfig selects where finished runs are kept.
type HistoryConfig struct {
	Driver string `koanf:"driver"` // memory or sqlite
	DSN    string `koanf:"dsn"`
	Size   int    `koanf:"size"`
}

// EventsConfig configures the NATS run event bus.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	// Embedded starts an in-process NATS server instead of dialing URL.
	Embedded bool `koanf:"embedded"`
}

// PolicyConfig configures admission policy evaluation.
type PolicyConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// GitHubConfig configures the source-control client.
type GitHubConfig struct {
	Token         Secret   `koanf:"token"`
	WebhookSecret Secret   `koanf:"webhook_secret"`
	BaseURL       string   `koanf:"base_url"`
	MaxRetries    int      `koanf:"max_retries"`
	// ReviewIgnore adds gitignore-style patterns to the files reviews skip.
	ReviewIgnore  []string `koanf:"review_ignore"`
}

// TemporalConfig configures the workflow worker.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			RequestTimeout:  Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   4096,
			RateLimit:   2,
			Burst:       4,
			MaxRetries:  3,
			Timeout:     Duration(60 * time.Second),
		},
		History: HistoryConfig{
			Driver: "memory",
			Size:   500,
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "codexd.runs",
		},
		Secrets: secrets.Config{Enabled: true},
		GitHub: GitHubConfig{
			MaxRetries: 3,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "codexd",
		},
	}
}

// Unmarshal decodes the section at path into out. Fields absent from the
// loaded configuration keep the values already in out.
func (c *Config) Unmarshal(path string, out any) error {
	if c.k == nil {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("unmarshal %s config: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.RequestTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if c.LLM.Provider != "openai" {
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.BaseURL != "" {
		if err := validateHTTPURL(c.LLM.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("llm.base_url: %w", err))
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature))
	}
	if c.LLM.RateLimit < 0 || c.LLM.MaxRetries < 0 || c.LLM.MaxTokens < 0 {
		errs = append(errs, errors.New("llm.rate_limit, llm.max_retries and llm.max_tokens must not be negative"))
	}

	switch c.History.Driver {
	case "memory":
		if c.History.Size <= 0 {
			errs = append(errs, errors.New("history.size must be positive for the memory driver"))
		}
	case "sqlite":
		if c.History.DSN == "" {
			errs = append(errs, errors.New("history.dsn is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history driver %q (memory or sqlite)", c.History.Driver))
	}

	if c.Events.Enabled && !c.Events.Embedded && c.Events.URL == "" {
		errs = append(errs, errors.New("events.nats_url is required when events are enabled"))
	}
	if c.Events.Enabled && c.Events.SubjectPrefix == "" {
		errs = append(errs, errors.New("events.subject_prefix is required when events are enabled"))
	}

	if c.GitHub.BaseURL != "" {
		if err := validateHTTPURL(c.GitHub.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("github.base_url: %w", err))
		}
	}

	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		errs = append(errs, errors.New("temporal.host_port and temporal.task_queue are required when temporal is enabled"))
	}

	return errors.Join(errs...)
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
