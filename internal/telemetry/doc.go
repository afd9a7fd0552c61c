// Package telemetry wires OpenTelemetry tracing and metrics for codexd.
//
// Spans and metrics are exported over OTLP (gRPC by default, http/protobuf
// when configured). When telemetry is disabled the package hands out the
// global no-op providers, so callers never need to check.
//
//	tel, err := telemetry.New(ctx, telemetry.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	p, _ := pipeline.New(reg, pipeline.WithTracer(tel.Tracer("codexd.pipeline")))
//
// Configuration is read from the "telemetry" section:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "otel.example.com:4318"
//	  protocol: "http/protobuf"
//	  insecure: false
//	  sampling:
//	    rate: 0.25
//
// Exporter setup failures mark the instance degraded instead of failing
// startup. Tests use NewTestTelemetry, which records spans in memory.
package telemetry
