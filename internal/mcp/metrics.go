package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/codexd/internal/mcp"

// Tool errors, classified for the errors counter.
var (
	errInvalidInput = errors.New("invalid input")
	errNotFound     = errors.New("not found")
	errHistory      = errors.New("history lookup failed")
)

// Metrics holds the tool instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
	runs           metric.Int64Counter
	runAgents      metric.Int64Histogram
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error
	warn := func(what string) {
		if err != nil {
			m.logger.Warn(context.Background(), "failed to create "+what, zap.Error(err))
		}
	}

	m.invocations, err = m.meter.Int64Counter("codexd.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool name"),
		metric.WithUnit("{invocation}"))
	warn("invocations counter")

	// Orchestrate calls run a whole pipeline, so the buckets reach minutes.
	m.duration, err = m.meter.Float64Histogram("codexd.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300))
	warn("duration histogram")

	m.errors, err = m.meter.Int64Counter("codexd.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error, by tool and reason"),
		metric.WithUnit("{error}"))
	warn("errors counter")

	m.activeRequests, err = m.meter.Int64UpDownCounter("codexd.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in flight"),
		metric.WithUnit("{request}"))
	warn("active requests gauge")

	m.runs, err = m.meter.Int64Counter("codexd.mcp.runs_total",
		metric.WithDescription("Orchestration runs started over MCP, by final status"),
		metric.WithUnit("{run}"))
	warn("runs counter")

	m.runAgents, err = m.meter.Int64Histogram("codexd.mcp.run_agents",
		metric.WithDescription("Agents executed per MCP orchestration run"),
		metric.WithUnit("{agent}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 4, 5, 10))
	warn("run agents histogram")
}

// RecordInvocation records one tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("reason", categorizeError(err)),
		))
	}
}

// RecordRun records the outcome of an orchestrate call. status is
// "Completed" or "Failed".
func (m *Metrics) RecordRun(ctx context.Context, status string, agentsExecuted int) {
	if m.runs != nil {
		m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
	if m.runAgents != nil {
		m.runAgents.Record(ctx, int64(agentsExecuted))
	}
}

// IncrementActive increments the active requests counter.
func (m *Metrics) IncrementActive(ctx context.Context, tool string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// DecrementActive decrements the active requests counter.
func (m *Metrics) DecrementActive(ctx context.Context, tool string) {
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", tool)))
	}
}

// categorizeError maps a tool error onto a low-cardinality reason.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errInvalidInput):
		return "validation_error"
	case errors.Is(err, errNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, errHistory):
		return "storage_error"
	default:
		return "internal_error"
	}
}
