package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Delivery modes used as the "mode" attribute.
const (
	ModeCompute   = "compute"
	ModeBroadcast = "broadcast"
)

// MetricsRecorder records flowbus metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordInvocation records one delivery of a call with its duration and error status.
	RecordInvocation(ctx context.Context, eventType, mode string, duration time.Duration, err error)

	// RecordHandlerFailure records an error returned (or panic raised) by a handler.
	RecordHandlerFailure(ctx context.Context, eventType string)

	// RecordDispatchError records a classified dispatch failure.
	RecordDispatchError(ctx context.Context, eventType, kind string)

	// RecordRetryRound records a broadcast retry round and how many handlers it revisits.
	RecordRetryRound(ctx context.Context, eventType string, pending int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	invocations     metric.Int64Counter
	latency         metric.Float64Histogram
	handlerFailures metric.Int64Counter
	dispatchErrors  metric.Int64Counter
	retryRounds     metric.Int64Counter
	retryPending    metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowbus")

	invocations, err := meter.Int64Counter("flowbus.invocations",
		metric.WithDescription("Number of call deliveries"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("flowbus.invocation.latency_ms",
		metric.WithDescription("Call delivery latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	handlerFailures, err := meter.Int64Counter("flowbus.handler.failures",
		metric.WithDescription("Number of handler errors and panics"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("flowbus.dispatch.errors",
		metric.WithDescription("Number of dispatch errors by kind"),
	)
	if err != nil {
		return nil, err
	}

	retryRounds, err := meter.Int64Counter("flowbus.broadcast.retry_rounds",
		metric.WithDescription("Number of broadcast retry rounds"),
	)
	if err != nil {
		return nil, err
	}

	retryPending, err := meter.Int64Histogram("flowbus.broadcast.retry_pending",
		metric.WithDescription("Handlers revisited per retry round"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		invocations:     invocations,
		latency:         latency,
		handlerFailures: handlerFailures,
		dispatchErrors:  dispatchErrors,
		retryRounds:     retryRounds,
		retryPending:    retryPending,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordInvocation records a call delivery.
func (m *otelMetrics) RecordInvocation(ctx context.Context, eventType, mode string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("mode", mode),
		attribute.Bool("success", err == nil),
	)
	m.invocations.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordHandlerFailure records a handler failure.
func (m *otelMetrics) RecordHandlerFailure(ctx context.Context, eventType string) {
	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordDispatchError records a dispatch error.
func (m *otelMetrics) RecordDispatchError(ctx context.Context, eventType, kind string) {
	m.dispatchErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("kind", kind),
	))
}

// RecordRetryRound records a broadcast retry round.
func (m *otelMetrics) RecordRetryRound(ctx context.Context, eventType string, pending int) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))
	m.retryRounds.Add(ctx, 1, attrs)
	m.retryPending.Record(ctx, int64(pending), attrs)
}
