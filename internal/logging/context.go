package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type ticketCtxKey struct{}
type operationCtxKey struct{}
type loggerCtxKey struct{}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if key := TicketKeyFromContext(ctx); key != "" {
		fields = append(fields, zap.String("ticket.key", key))
	}
	if op := OperationFromContext(ctx); op != "" {
		fields = append(fields, zap.String("operation", op))
	}
	return fields
}

// WithRequestID adds a request ID to context. Invalid IDs are ignored so a
// malformed inbound header never breaks a request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !idPattern.MatchString(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithTicketKey adds the ticket under orchestration to context.
func WithTicketKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ticketCtxKey{}, key)
}

// TicketKeyFromContext extracts the ticket key from context.
func TicketKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(ticketCtxKey{}).(string)
	return key
}

// WithOperation adds the orchestration operation name to context.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationCtxKey{}, op)
}

// OperationFromContext extracts the operation name from context.
func OperationFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operationCtxKey{}).(string)
	return op
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
