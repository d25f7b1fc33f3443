// Package logging provides structured logging for qaflow.
//
// Logger wraps Zap with:
//   - A custom Trace level (-2, below Debug)
//   - Stdout and optional OpenTelemetry output
//   - Context field injection (trace_id, request.id, ticket.key, operation)
//   - Secret redaction on the stdout encoder
//   - Level-aware sampling (errors are never sampled)
//
// Log with context:
//
//	ctx = logging.WithTicketKey(ctx, "PROJ-123")
//	ctx = logging.WithOperation(ctx, "claim")
//	logger.Info(ctx, "step applied", zap.String("step", "assign"))
//
// Orchestration packages that do not own a logger use FromContext, which
// falls back to a no-op logger.
package logging
