// Package logging provides structured logging for codexd on top of zap.
//
// Loggers write JSON (or console) entries to stderr and can tee into an
// OpenTelemetry log provider through the otelzap bridge. Entries logged with
// a context carry the active trace and span IDs, the orchestration request
// ID and the agent type:
//
//	ctx = logging.WithRequestID(ctx, req.ID)
//	logger.Info(ctx, "step completed", zap.Int64("elapsed_ms", ms))
//
// Sensitive keys (token, api_key, ...) and values matching the configured
// patterns are replaced with [REDACTED] by the encoder. Use Secret for
// config.Secret values.
//
// Entries below error level are sampled when sampling is enabled. Errors are
// never sampled.
//
// Configuration is read from the "logging" section:
//
//	logging:
//	  level: debug
//	  format: console
//	  output:
//	    otel: true
package logging
