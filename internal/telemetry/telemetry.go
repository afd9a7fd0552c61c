package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers for a process.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	mu       sync.Mutex
	problems []string
	degraded atomic.Bool
	closed   atomic.Bool
}

// HealthStatus reports whether telemetry is exporting normally.
type HealthStatus struct {
	Enabled  bool     `json:"enabled"`
	Degraded bool     `json:"degraded"`
	Problems []string `json:"problems,omitempty"`
}

// New validates cfg and starts the providers. A disabled config yields an
// instance backed by the global no-op providers. Exporter failures degrade
// the instance rather than returning an error.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.resolve(ctx, cfg); err != nil {
		t.setDegraded(err)
		return t, nil
	}

	res := newResource(cfg)
	t.tracerProvider = newTracerProvider(o.spanExporter, cfg, res)
	otel.SetTracerProvider(t.tracerProvider)
	if o.metricExporter != nil {
		t.meterProvider = newMeterProvider(o.metricExporter, cfg, res)
		otel.SetMeterProvider(t.meterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return t, nil
}

// Tracer returns a tracer for the instrumentation scope name.
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the instrumentation scope name.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the OTEL log provider used by the zap bridge.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	return global.GetLoggerProvider()
}

// Health returns the current status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return HealthStatus{
		Enabled:  t.config.Enabled && !t.closed.Load(),
		Degraded: t.degraded.Load(),
		Problems: append([]string(nil), t.problems...),
	}
}

// provider is the lifecycle both SDK providers share.
type provider interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

// providers lists the started providers by signal name.
func (t *Telemetry) providers() map[string]provider {
	out := map[string]provider{}
	if t.tracerProvider != nil {
		out["trace"] = t.tracerProvider
	}
	if t.meterProvider != nil {
		out["meter"] = t.meterProvider
	}
	return out
}

// ForceFlush exports all pending spans and metrics.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	var errs []error
	for signal, p := range t.providers() {
		if err := p.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s flush: %w", signal, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops the providers. Without a deadline on ctx the
// configured shutdown timeout applies. Calling it twice is safe.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Duration())
		defer cancel()
	}
	var errs []error
	for signal, p := range t.providers() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s provider shutdown: %w", signal, err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) setDegraded(err error) {
	t.degraded.Store(true)
	t.mu.Lock()
	t.problems = append(t.problems, err.Error())
	t.mu.Unlock()
}
