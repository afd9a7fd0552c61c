// Package mcp exposes the orchestrator as an MCP server.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) over the
// stdio transport and registers the orchestrate, list_agents, get_request and
// list_requests tools. Text returned to clients is passed through the secret
// redactor when one is configured.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/secrets"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/store"
)

// Orchestrator is the part of *service.Orchestrator the tools call.
type Orchestrator interface {
	Process(ctx context.Context, req service.OrchestrationRequest, opts ...service.ProcessOption) *service.OrchestrationResponse
	Get(ctx context.Context, id string) (*store.Record, error)
	Recent(ctx context.Context, limit int) ([]*store.Record, error)
}

// Server is an MCP server backed by an Orchestrator.
type Server struct {
	mcp      *mcp.Server
	orch     Orchestrator
	redactor *secrets.Detector
	metrics  *Metrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "codexd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger

	// Redactor scrubs tool output. Nil disables scrubbing.
	Redactor *secrets.Detector
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "codexd",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server.
func NewServer(cfg *Config, orch Orchestrator) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Name == "" {
		cfg.Name = "codexd"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		orch:     orch,
		redactor: cfg.Redactor,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

func (s *Server) scrub(text string) string {
	if s.redactor == nil {
		return text
	}
	return s.redactor.Redact(text).Content
}
