// Package service is the boundary between callers (HTTP, MCP, CLI, workflows)
// and the agent pipeline.
//
// The Orchestrator assigns request IDs, enforces the admission policy and the
// request timeout, runs the pipeline and shapes its result into an
// OrchestrationResponse. Finished responses are saved to the history store
// and every run publishes its progress on the event bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/logging"
	"github.com/fyrsmithlabs/codexd/internal/pipeline"
	"github.com/fyrsmithlabs/codexd/internal/policy"
	"github.com/fyrsmithlabs/codexd/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/codexd/internal/service"

// Metrics receives process-wide orchestration counters.
type Metrics interface {
	SessionStarted()
	SessionFinished()
	RequestCompleted(success bool)
	StepObserved(agent string, success bool, elapsed time.Duration)
}

// Admitter decides whether a request may run.
type Admitter interface {
	Admit(ctx context.Context, in policy.Input) error
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted()                          {}
func (nopMetrics) SessionFinished()                         {}
func (nopMetrics) RequestCompleted(bool)                    {}
func (nopMetrics) StepObserved(string, bool, time.Duration) {}

// Options configures an Orchestrator. Only Pipeline is required.
type Options struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
	Bus      events.Bus
	Policy   Admitter
	Metrics  Metrics
	Logger   *logging.Logger
	Tracer   trace.Tracer
	// Timeout bounds each run. Zero disables it.
	Timeout time.Duration
}

// Orchestrator processes orchestration requests. It is safe for concurrent
// use.
type Orchestrator struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	bus      events.Bus
	policy   Admitter
	metrics  Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
	timeout  time.Duration
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	o := &Orchestrator{
		pipeline: opts.Pipeline,
		store:    opts.Store,
		bus:      opts.Bus,
		policy:   opts.Policy,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		timeout:  opts.Timeout,
	}
	if o.bus == nil {
		o.bus = events.Nop{}
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	return o, nil
}

type processConfig struct {
	requestID string
	progress  []pipeline.ProgressCallback
}

// ProcessOption configures a single Process call.
type ProcessOption func(*processConfig)

// WithRequestID uses id instead of a generated one. Callers that subscribe
// to a run's events before it starts pick the ID themselves.
func WithRequestID(id string) ProcessOption {
	return func(c *processConfig) {
		if id != "" {
			c.requestID = id
		}
	}
}

// WithProgress adds a callback that receives this run's step events.
func WithProgress(cb pipeline.ProgressCallback) ProcessOption {
	return func(c *processConfig) {
		if cb != nil {
			c.progress = append(c.progress, cb)
		}
	}
}

// NewRequestID returns a fresh request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// Process runs req and always returns a response. Step failures are
// recorded in the executions. A policy denial or an expired context yield
// a Failed status with no executions. Agent names that are all unknown
// complete a run with no steps.
func (o *Orchestrator) Process(ctx context.Context, req OrchestrationRequest, opts ...ProcessOption) *OrchestrationResponse {
	cfg := processConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.requestID == "" {
		cfg.requestID = NewRequestID()
	}
	id := cfg.requestID
	start := time.Now().UTC()

	o.metrics.SessionStarted()
	defer o.metrics.SessionFinished()

	ctx = logging.WithRequestID(ctx, id)
	ctx, span := o.tracer.Start(ctx, "orchestrator.process", trace.WithAttributes(
		attribute.String("request.id", id),
	))
	defer span.End()

	seq := pipeline.ResolveSequence(req.AgentSequence)
	resolved := seq
	if resolved == nil {
		resolved = pipeline.DefaultSequence()
	}
	resp := &OrchestrationResponse{
		RequestID:  id,
		Executions: []pipeline.AgentExecution{},
		Metadata: ResponseMetadata{
			StartTime:     start,
			AgentSequence: resolved,
			Warnings:      []string{},
		},
	}

	o.publish(ctx, events.Event{
		RequestID: id,
		Kind:      events.KindStarted,
		Total:     len(resolved),
		Message:   fmt.Sprintf("Starting orchestration with %d agents", len(resolved)),
	})
	o.logger.Info(ctx, "orchestration started",
		zap.Int("agents", len(resolved)),
		zap.Int("prompt_length", len(req.Prompt)))

	if o.policy != nil {
		if err := o.policy.Admit(ctx, admissionInput(req, resolved)); err != nil {
			return o.finish(ctx, span, req.Prompt, resp, err)
		}
	}
	// The pipeline defaults an empty sequence, so names that all failed to
	// resolve never reach it.
	if seq != nil && len(seq) == 0 {
		return o.finish(ctx, span, req.Prompt, resp, nil)
	}

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	observers := append([]pipeline.ProgressCallback{o.observe(ctx, id)}, cfg.progress...)
	result, err := o.pipeline.Run(runCtx, &pipeline.Request{
		Prompt:   req.Prompt,
		Context:  req.Context,
		Sequence: seq,
		Options:  req.Options,
	}, observers...)
	if err != nil {
		return o.finish(ctx, span, req.Prompt, resp, o.runError(err))
	}

	resp.Executions = result.Executions
	resp.Result = result.FinalResult
	resp.Metadata.SuccessRate = result.Metadata.SuccessRate
	resp.Metadata.Warnings = result.Metadata.Warnings
	resp.Metadata.AgentsExecuted = result.Metadata.AgentsExecuted
	return o.finish(ctx, span, req.Prompt, resp, nil)
}

func (o *Orchestrator) runError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		if o.timeout > 0 {
			return fmt.Errorf("request timed out after %s", o.timeout)
		}
		return errors.New("request timed out")
	case errors.Is(err, context.Canceled):
		return errors.New("request cancelled")
	}
	return err
}

// finish stamps the end of the run, records it and emits the terminal event.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, prompt string, resp *OrchestrationResponse, runErr error) *OrchestrationResponse {
	end := time.Now().UTC()
	resp.Metadata.EndTime = end
	resp.Metadata.DurationMs = end.Sub(resp.Metadata.StartTime).Milliseconds()

	kind := events.KindCompleted
	if runErr != nil {
		resp.Status = Failed(runErr.Error())
		resp.Metadata.Success = false
		resp.Metadata.Error = runErr.Error()
		kind = events.KindFailed
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		o.logger.Warn(ctx, "orchestration failed", zap.String("error", runErr.Error()))
	} else {
		resp.Status = Completed
		resp.Metadata.Success = true
		span.SetAttributes(
			attribute.Int("orchestrator.agents_executed", resp.Metadata.AgentsExecuted),
			attribute.Float64("orchestrator.success_rate", resp.Metadata.SuccessRate),
		)
		o.logger.Info(ctx, "orchestration completed",
			zap.Int("agents_executed", resp.Metadata.AgentsExecuted),
			zap.Float64("success_rate", resp.Metadata.SuccessRate),
			zap.Int("warnings", len(resp.Metadata.Warnings)),
			zap.Int64("duration_ms", resp.Metadata.DurationMs))
	}
	o.metrics.RequestCompleted(runErr == nil)

	// The run's own deadline may be what ended it; recording must still happen.
	detached := context.WithoutCancel(ctx)
	payload, err := json.Marshal(resp)
	if err != nil {
		o.logger.Error(ctx, "failed to encode response", zap.Error(err))
	}
	if o.store != nil && payload != nil {
		rec := &store.Record{
			ID:        resp.RequestID,
			Status:    resp.Status.Label(),
			Success:   resp.Metadata.Success,
			Prompt:    prompt,
			CreatedAt: resp.Metadata.StartTime,
			Response:  payload,
		}
		if err := o.store.Save(detached, rec); err != nil {
			o.logger.Warn(ctx, "failed to save run history", zap.Error(err))
		}
	}

	ev := events.Event{
		RequestID:  resp.RequestID,
		Kind:       kind,
		Step:       resp.Metadata.AgentsExecuted,
		Total:      len(resp.Metadata.AgentSequence),
		Percentage: 100,
		ElapsedMs:  resp.Metadata.DurationMs,
		Error:      resp.Metadata.Error,
		Payload:    payload,
	}
	if runErr == nil {
		ev.Message = "Orchestration completed"
	} else {
		ev.Message = "Orchestration failed"
	}
	o.publish(detached, ev)
	return resp
}

// observe turns pipeline progress into events and step metrics.
func (o *Orchestrator) observe(ctx context.Context, id string) pipeline.ProgressCallback {
	return func(p pipeline.Progress) {
		ev := events.Event{
			RequestID:  id,
			Agent:      string(p.Agent),
			Step:       p.Index,
			Total:      p.Total,
			Percentage: p.Percentage,
			Message:    p.Message,
			ElapsedMs:  p.ElapsedMs,
			Error:      p.Error,
		}
		switch p.Kind {
		case pipeline.StepStarted:
			ev.Kind = events.KindStepStarted
		case pipeline.StepCompleted:
			ev.Kind = events.KindStepCompleted
			o.metrics.StepObserved(string(p.Agent), true, time.Duration(p.ElapsedMs)*time.Millisecond)
		case pipeline.StepFailed:
			ev.Kind = events.KindStepFailed
			o.metrics.StepObserved(string(p.Agent), false, time.Duration(p.ElapsedMs)*time.Millisecond)
			o.logger.Warn(logging.WithAgent(ctx, string(p.Agent)), "agent step failed",
				zap.Int("step", p.Index), zap.String("error", p.Error))
		}
		o.publish(ctx, ev)
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.logger.Warn(ctx, "failed to publish run event",
			zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func admissionInput(req OrchestrationRequest, seq []pipeline.AgentType) policy.Input {
	in := policy.Input{
		Agents:       make([]string, len(seq)),
		PromptLength: len([]rune(req.Prompt)),
		Options:      req.Options,
		ContextKeys:  make([]string, 0, len(req.Context)),
	}
	for i, t := range seq {
		in.Agents[i] = string(t)
	}
	for k := range req.Context {
		in.ContextKeys = append(in.ContextKeys, k)
	}
	sort.Strings(in.ContextKeys)
	return in
}

// Subscribe streams the events of run id from the orchestrator's bus.
func (o *Orchestrator) Subscribe(ctx context.Context, id string) (<-chan events.Event, func(), error) {
	return o.bus.Subscribe(ctx, id)
}

// Get returns the history record for id. Its Response holds the
// OrchestrationResponse as JSON.
func (o *Orchestrator) Get(ctx context.Context, id string) (*store.Record, error) {
	if o.store == nil {
		return nil, store.ErrNotFound
	}
	return o.store.Get(ctx, id)
}

// Recent returns up to limit finished runs, newest first.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]*store.Record, error) {
	if o.store == nil {
		return nil, nil
	}
	return o.store.List(ctx, limit)
}

// Ping checks the history store.
func (o *Orchestrator) Ping(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	return o.store.Ping(ctx)
}
