package http

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codexd/internal/events"
	"github.com/fyrsmithlabs/codexd/internal/logging"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/codexd/internal/http"

// HTTPMetrics records API traffic and SSE stream activity.
type HTTPMetrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	activeRequests metric.Int64UpDownCounter
	openStreams    metric.Int64UpDownCounter
	streamEvents   metric.Int64Counter
}

// NewHTTPMetrics creates a new HTTPMetrics instance.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error
	check := func(what string) {
		if err != nil {
			m.logger.Warn(context.Background(), "failed to create "+what, zap.Error(err))
		}
	}

	m.requestsTotal, err = m.meter.Int64Counter("codexd.http.requests_total",
		metric.WithDescription("API requests by method, route and status class"),
		metric.WithUnit("{request}"))
	check("requests counter")

	// /orchestrate blocks for the whole run; the upper buckets cover it.
	m.requestDur, err = m.meter.Float64Histogram("codexd.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route and status class"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.25, 1, 5, 15, 30, 60, 120, 300))
	check("duration histogram")

	m.activeRequests, err = m.meter.Int64UpDownCounter("codexd.http.active_requests",
		metric.WithDescription("API requests in flight"),
		metric.WithUnit("{request}"))
	check("active requests gauge")

	m.openStreams, err = m.meter.Int64UpDownCounter("codexd.http.open_streams",
		metric.WithDescription("SSE progress streams currently attached to a run"),
		metric.WithUnit("{stream}"))
	check("open streams gauge")

	m.streamEvents, err = m.meter.Int64Counter("codexd.http.stream_events_total",
		metric.WithDescription("Progress events written to SSE streams, by kind"),
		metric.WithUnit("{event}"))
	check("stream events counter")
}

// MetricsMiddleware returns an Echo middleware that records request metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
			}

			err := next(c)
			if err != nil {
				// Let the error handler set the status before it is read.
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", normalizePath(c.Path())),
				attribute.String("status_class", statusClass(c.Response().Status)),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, -1)
			}
			return nil
		}
	}
}

// StreamOpened marks an SSE stream as attached. The returned func detaches it.
func (m *HTTPMetrics) StreamOpened(ctx context.Context) func() {
	if m.openStreams == nil {
		return func() {}
	}
	m.openStreams.Add(ctx, 1)
	return func() { m.openStreams.Add(ctx, -1) }
}

// RecordStreamEvent counts one event written to an SSE stream.
func (m *HTTPMetrics) RecordStreamEvent(ctx context.Context, kind events.Kind) {
	if m.streamEvents != nil {
		m.streamEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	}
}

// normalizePath returns the route pattern used as the route label.
// Echo reports patterns such as /api/v1/requests/:id, so request IDs never
// become label values.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
