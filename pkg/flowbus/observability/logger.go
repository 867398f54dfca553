// Package observability provides logging, metrics and tracing for the
// flowbus dispatch engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds call context to a logger.
// Returns a new logger with call_id, event_type, and method fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, call.ID.String(), "order.created", "OnCreated")
//	enriched.Info("delivering") // includes call_id, event_type, method
func EnrichLogger(logger *slog.Logger, callID, eventType, method string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("call_id", callID),
		slog.String("event_type", eventType),
		slog.String("method", method),
	)
}

// LogSubmitRejected logs a call the worker pool refused to accept.
func LogSubmitRejected(logger *slog.Logger, eventType, method, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("call rejected",
		slog.String("event_type", eventType),
		slog.String("method", method),
		slog.String("reason", reason),
	)
}

// LogExpired logs a call that outlived its TTL before a worker reached it.
func LogExpired(logger *slog.Logger, eventType, method string, age, ttl time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("call expired",
		slog.String("event_type", eventType),
		slog.String("method", method),
		slog.Duration("age", age),
		slog.Duration("ttl", ttl),
	)
}

// LogNoHandler logs a compute call that found every handler busy or none registered.
func LogNoHandler(logger *slog.Logger, eventType, method string) {
	if logger == nil {
		return
	}
	logger.Debug("no handler available",
		slog.String("event_type", eventType),
		slog.String("method", method),
	)
}

// LogHandlerFailure logs an error returned by a handler to a waiting caller.
func LogHandlerFailure(logger *slog.Logger, eventType, method string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("handler failed",
		slog.String("event_type", eventType),
		slog.String("method", method),
		slog.String("error", err.Error()),
	)
}

// LogUnobservedFailure logs a failure no caller is waiting for.
func LogUnobservedFailure(logger *slog.Logger, eventType, method string, err error) {
	if logger == nil {
		return
	}
	logger.Error("unobserved dispatch failure",
		slog.String("event_type", eventType),
		slog.String("method", method),
		slog.String("error", err.Error()),
	)
}

// LogRetryRound logs the start of a broadcast retry round.
func LogRetryRound(logger *slog.Logger, eventType string, round, pending int) {
	if logger == nil {
		return
	}
	logger.Debug("broadcast retry round",
		slog.String("event_type", eventType),
		slog.Int("round", round),
		slog.Int("pending", pending),
	)
}

// LogBroadcastComplete logs the outcome of a broadcast.
// skipped counts handlers still busy after the last retry round.
func LogBroadcastComplete(logger *slog.Logger, eventType string, delivered, failed, skipped int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("broadcast completed",
		slog.String("event_type", eventType),
		slog.Int("delivered", delivered),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
