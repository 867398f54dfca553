package flowbus

import (
	"log/slog"
	"runtime"

	"github.com/randalmurphal/flowbus/pkg/flowbus/deadletter"
	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
	"github.com/randalmurphal/flowbus/pkg/flowbus/retry"
)

// engineConfig holds configuration for an Engine.
type engineConfig struct {
	lookup      PolicyLookup
	workers     int
	queueSize   int
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
	deadLetters deadletter.Store
	backoff     retry.Backoff
	onError     func(call *CallDescriptor, err error)
}

// defaultEngineConfig returns the default engine configuration.
func defaultEngineConfig() engineConfig {
	return engineConfig{
		lookup:    func(string) Policy { return DefaultPolicy() },
		workers:   runtime.NumCPU(),
		queueSize: 1024,
		logger:    slog.New(slog.DiscardHandler),
		metrics:   observability.NoopMetrics{},
		spans:     observability.NoopSpanManager{},
		backoff:   retry.DefaultBackoff,
	}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithPolicyLookup sets where policies come from.
// Default: DefaultPolicy for every event type.
//
// The answer is cached per event type. The lookup may call back into the
// engine, for example to derive one type's policy from another's.
func WithPolicyLookup(lookup PolicyLookup) Option {
	return func(c *engineConfig) {
		if lookup != nil {
			c.lookup = lookup
		}
	}
}

// WithWorkers sets the number of worker goroutines.
// Default: runtime.NumCPU()
func WithWorkers(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithQueueSize sets how many submitted calls may wait for a worker.
// Default: 1024
//
// Submissions beyond this fail with a Rejected error rather than block.
func WithQueueSize(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables metrics recording.
//
// Example:
//
//	engine := flowbus.New(flowbus.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables a span per delivery.
func WithTracing(sm observability.SpanManager) Option {
	return func(c *engineConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}

// WithDeadLetter stores failures of fire-and-forget dispatches.
func WithDeadLetter(store deadletter.Store) Option {
	return func(c *engineConfig) {
		c.deadLetters = store
	}
}

// WithRoundBackoff sets the pause between broadcast retry rounds.
// Default: retry.DefaultBackoff
func WithRoundBackoff(b retry.Backoff) Option {
	return func(c *engineConfig) {
		c.backoff = b
	}
}

// WithOnError sets a hook for failures no caller is waiting for.
// It runs on a worker goroutine and should return quickly.
func WithOnError(fn func(call *CallDescriptor, err error)) Option {
	return func(c *engineConfig) {
		c.onError = fn
	}
}
