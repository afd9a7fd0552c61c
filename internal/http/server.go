// Package http provides the HTTP API for codexd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/store"
	"github.com/fyrsmithlabs/codexd/internal/workflows"
)

// Orchestrator is the part of *service.Orchestrator the server uses.
type Orchestrator interface {
	Process(ctx context.Context, req service.OrchestrationRequest, opts ...service.ProcessOption) *service.OrchestrationResponse
	Subscribe(ctx context.Context, id string) (<-chan events.Event, func(), error)
	Get(ctx context.Context, id string) (*store.Record, error)
}

// ReviewStarter starts pull request reviews. *workflows.Starter
// implements it.
type ReviewStarter interface {
	StartReview(ctx context.Context, in workflows.ReviewInput) (string, error)
}

// Check is a readiness probe. A nil error means ready.
type Check func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Orchestrator Orchestrator // required
	Config       config.ServerConfig
	Logger       *logging.Logger
	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Events streams runs started by other processes. Defaults to the
	// orchestrator's own bus.
	Events        events.Bus
	Reviews       ReviewStarter
	WebhookSecret config.Secret
	Checks        map[string]Check
	Version       string
	// KeepAlive is the SSE comment interval. Defaults to 15s.
	KeepAlive time.Duration
}

// Server provides HTTP endpoints for codexd.
type Server struct {
	echo    *echo.Echo
	opts    Options
	logger  *logging.Logger
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(opts Options) (*Server, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.Config.Host == "" {
		opts.Config.Host = "0.0.0.0"
	}
	if opts.Config.Port == 0 {
		opts.Config.Port = 3000
	}
	if opts.Config.RequestTimeout <= 0 {
		opts.Config.RequestTimeout = config.Duration(30 * time.Second)
	}
	if opts.Config.ShutdownTimeout <= 0 {
		opts.Config.ShutdownTimeout = config.Duration(10 * time.Second)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		opts:    opts,
		logger:  opts.Logger,
		metrics: NewHTTPMetrics(opts.Logger),
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("http_request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints. Streaming routes are left out
// of the request timeout.
func (s *Server) registerRoutes() {
	timeout := middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: s.opts.Config.RequestTimeout.Duration(),
	})
	metrics := echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/readyz", s.handleReady, timeout)
	s.echo.GET("/metrics", metrics)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/orchestrate", s.handleOrchestrate, timeout)
	v1.POST("/orchestrate/stream", s.handleOrchestrateStream)
	v1.GET("/requests/:id", s.handleGetRequest, timeout)
	v1.GET("/requests/:id/events", s.handleRequestEvents)
	v1.GET("/agents", s.handleAgents)
	v1.GET("/metrics", metrics)
	v1.POST("/github/webhook", s.handleWebhook, timeout,
		middleware.BodyLimit(fmt.Sprintf("%dB", maxWebhookBytes)))
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ReadyResponse is the response body for GET /readyz.
type ReadyResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Timestamp: time.Now().Unix(),
	})
}

// handleReady runs every check; any failure reports 503.
func (s *Server) handleReady(c echo.Context) error {
	ctx := c.Request().Context()
	resp := ReadyResponse{Status: "ready", Services: make(map[string]string, len(s.opts.Checks))}
	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	for _, name := range names {
		if err := s.opts.Checks[name](ctx); err != nil {
			s.logger.Warn(ctx, "readiness check failed", zap.String("check", name), zap.Error(err))
			resp.Services[name] = err.Error()
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Services[name] = "ok"
	}
	return c.JSON(status, resp)
}

// handleOrchestrate runs a request to completion. Run-level failures are
// reported in the response status, not the HTTP status.
func (s *Server) handleOrchestrate(c echo.Context) error {
	var req service.OrchestrationRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid orchestration request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp := s.opts.Orchestrator.Process(c.Request().Context(), req)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetRequest(c echo.Context) error {
	rec, err := s.opts.Orchestrator.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "history lookup failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "history unavailable")
	}
	return c.JSONBlob(http.StatusOK, rec.Response)
}

func (s *Server) handleAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, service.Agents())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.opts.Config.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Run serves until ctx is done, then shuts down within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Config.ShutdownTimeout.Duration())
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}
