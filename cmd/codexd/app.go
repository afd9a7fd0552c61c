package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/config"
	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/llm"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/metrics"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/policy"
	"github.com/fyrsmithlabs/codexd/internal/secrets"
	"github.com/fyrsmithlabs/codexd/internal/service"
	"github.com/fyrsmithlabs/codexd/internal/store"
	"github.com/fyrsmithlabs/codexd/internal/telemetry"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	detector  *secrets.Detector
	history   store.Store
	external  events.Bus
	bus       events.Bus
	policy    *policy.Engine
	registry  *prometheus.Registry
	orch      *service.Orchestrator
}

// newApp loads configuration and wires the orchestrator. Call close when
// done.
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	telCfg, err := telemetry.Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}
	if a.telemetry, err = telemetry.New(ctx, telCfg); err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading logging config: %w", err)
	}
	if a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider()); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	if a.detector, err = secrets.NewDetector(cfg.Secrets); err != nil {
		return nil, fmt.Errorf("initializing secret detector: %w", err)
	}
	if a.history, err = store.Open(cfg.History); err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	if a.external, err = events.Open(cfg.Events, a.logger.Named("events")); err != nil {
		return nil, fmt.Errorf("opening event bus: %w", err)
	}
	// The local bus comes first so in-process subscribers never depend on
	// the broker.
	a.bus = events.Fanout{events.NewLocal(), a.external}

	if a.policy, err = policy.Load(ctx, cfg.Policy.Path); err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		go a.watchPolicy(ctx)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	model, err := llm.New(cfg.LLM,
		llm.WithRedactor(a.detector),
		llm.WithLogger(a.logger.Named("llm")),
		llm.WithTracer(a.telemetry.Tracer("github.com/fyrsmithlabs/codexd/internal/llm")),
	)
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, fmt.Errorf("%w: set llm.api_key or CODEXD_LLM_API_KEY", err)
		}
		return nil, fmt.Errorf("initializing model client: %w", err)
	}
	agentRegistry, err := pipeline.NewDefaultRegistry(model)
	if err != nil {
		return nil, fmt.Errorf("building agent registry: %w", err)
	}
	p, err := pipeline.New(agentRegistry,
		pipeline.WithTracer(a.telemetry.Tracer("github.com/fyrsmithlabs/codexd/internal/pipeline")))
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	a.orch, err = service.New(service.Options{
		Pipeline: p,
		Store:    a.history,
		Bus:      a.bus,
		Policy:   a.policy,
		Metrics:  metrics.NewPrometheus(a.registry),
		Logger:   a.logger.Named("service"),
		Tracer:   a.telemetry.Tracer("github.com/fyrsmithlabs/codexd/internal/service"),
		Timeout:  cfg.Server.RequestTimeout.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	a.logger.Debug(ctx, "codexd initialized",
		zap.String("version", version),
		zap.String("history_driver", cfg.History.Driver),
		zap.Bool("events_enabled", cfg.Events.Enabled),
		zap.Bool("telemetry_degraded", a.telemetry.Health().Degraded),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))
	return a, nil
}

func (a *app) watchPolicy(ctx context.Context) {
	err := a.policy.Watch(ctx, a.logger.Named("policy"), func(err error) {
		if err != nil {
			a.logger.Warn(ctx, "policy reload failed, keeping previous policy", zap.Error(err))
			return
		}
		a.logger.Info(ctx, "policy reloaded", zap.String("path", a.cfg.Policy.Path))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error(ctx, "policy watcher stopped", zap.Error(err))
	}
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if a.bus != nil {
		_ = a.bus.Close()
	} else if a.external != nil {
		_ = a.external.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
}
