package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	loggerCtxKey  struct{}
	requestCtxKey struct{}
	agentCtxKey   struct{}
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// ContextFields returns the correlation fields carried by ctx: trace and
// span IDs, the orchestration request ID and the agent being executed.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if agent := AgentFromContext(ctx); agent != "" {
		fields = append(fields, zap.String("agent.type", agent))
	}
	return fields
}

// WithRequestID attaches an orchestration request ID. IDs that are empty,
// too long or contain characters outside [A-Za-z0-9_.:-] are dropped so they
// cannot inject content into log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithAgent attaches the agent type currently executing.
func WithAgent(ctx context.Context, agent string) context.Context {
	if !validID(agent) {
		return ctx
	}
	return context.WithValue(ctx, agentCtxKey{}, agent)
}

// AgentFromContext returns the agent type, or "".
func AgentFromContext(ctx context.Context) string {
	a, _ := ctx.Value(agentCtxKey{}).(string)
	return a
}

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
