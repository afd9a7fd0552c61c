package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/codexd/internal/pipeline"

// ProgressKind classifies a progress event.
type ProgressKind string

const (
	StepStarted   ProgressKind = "step_started"
	StepCompleted ProgressKind = "step_completed"
	StepFailed    ProgressKind = "step_failed"
)

// Progress reports one step transition during a run.
type Progress struct {
	Kind       ProgressKind `json:"kind"`
	Agent      AgentType    `json:"agent"`
	Index      int          `json:"index"`
	Total      int          `json:"total"`
	Percentage int          `json:"percentage"`
	Message    string       `json:"message"`
	ElapsedMs  int64        `json:"elapsed_ms,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// ProgressCallback receives progress updates during a run.
type ProgressCallback func(progress Progress)

// Pipeline drives requests through the agents of a Registry.
type Pipeline struct {
	registry *Registry
	tracer   trace.Tracer
	progress ProgressCallback
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTracer overrides the tracer used for run and step spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New creates a pipeline over registry.
func New(registry *Registry, opts ...Option) (*Pipeline, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	p := &Pipeline{
		registry: registry,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// OnProgress sets a callback that receives the events of every run. It must
// be set before the pipeline is shared between goroutines.
func (p *Pipeline) OnProgress(callback ProgressCallback) {
	p.progress = callback
}

// Registry returns the registry the pipeline resolves agents from.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Run executes req step by step. Step failures are recorded in the result
// and never end the run. Run returns an error only when req is nil or ctx
// is done before the last step finishes; no partial result is returned in
// that case. An empty prompt is not an error. observers receive this run's
// progress events in addition to the OnProgress callback.
func (p *Pipeline) Run(ctx context.Context, req *Request, observers ...ProgressCallback) (*Result, error) {
	if req == nil {
		return nil, errors.New("request is required")
	}
	seq := req.sequence()
	total := len(seq)

	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.Int("pipeline.steps", total))

	report := func(ev Progress) {
		if p.progress != nil {
			p.progress(ev)
		}
		for _, obs := range observers {
			if obs != nil {
				obs(ev)
			}
		}
	}
	abort := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	steps := make([]AgentExecution, 0, total)
	var warnings []string
	var prior *AgentOutput

	for i, t := range seq {
		select {
		case <-ctx.Done():
			return abort(ctx.Err())
		default:
		}

		report(Progress{
			Kind:       StepStarted,
			Agent:      t,
			Index:      i,
			Total:      total,
			Percentage: (i * 100) / total,
			Message:    fmt.Sprintf("Starting agent: %s", t),
		})

		input := MapInput(t, req, prior)
		res := p.step(ctx, t, input)
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		exec := AgentExecution{
			AgentType:       t,
			Output:          res.Output,
			ExecutionTimeMs: res.Elapsed.Milliseconds(),
		}
		ev := Progress{
			Agent:      t,
			Index:      i,
			Total:      total,
			Percentage: ((i + 1) * 100) / total,
			ElapsedMs:  exec.ExecutionTimeMs,
		}
		if res.Err != nil {
			exec.ErrorMessage = res.Err.Error()
			warnings = append(warnings, fmt.Sprintf("Agent %s failed: %s", t, exec.ErrorMessage))
			ev.Kind = StepFailed
			ev.Message = fmt.Sprintf("Agent %s failed", t)
			ev.Error = exec.ErrorMessage
		} else {
			exec.Success = true
			exec.Input = &input
			out := res.Output
			prior = &out
			ev.Kind = StepCompleted
			ev.Message = fmt.Sprintf("Completed agent: %s", t)
		}
		steps = append(steps, exec)
		report(ev)
	}

	meta := Aggregate(steps, warnings, time.Since(start))
	span.SetAttributes(
		attribute.Int("pipeline.agents_executed", meta.AgentsExecuted),
		attribute.Float64("pipeline.success_rate", meta.SuccessRate),
	)
	return &Result{
		Executions:  steps,
		FinalResult: finalResult(steps),
		Metadata:    meta,
	}, nil
}

// step executes one agent inside its own span.
func (p *Pipeline) step(ctx context.Context, t AgentType, input AgentInput) StepResult {
	ctx, span := p.tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
		attribute.String("agent.type", string(t)),
	))
	defer span.End()

	res := Execute(ctx, p.registry.Resolve(t), input)
	span.SetAttributes(attribute.Int64("agent.execution_time_ms", res.Elapsed.Milliseconds()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}
