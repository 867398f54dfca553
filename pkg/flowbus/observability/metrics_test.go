package observability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	// Save the original provider
	originalProvider := otel.GetMeterProvider()

	// Set test provider
	otel.SetMeterProvider(provider)

	// Return cleanup function
	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the datapoint carrying attribute key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")
	for _, dp := range sum.DataPoints {
		for _, attr := range dp.Attributes.ToSlice() {
			if string(attr.Key) == key && attr.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordInvocation(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records invocation count", func(t *testing.T) {
		m.RecordInvocation(ctx, "order.created", ModeCompute, 5*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "flowbus.invocations")
		require.NotNil(t, metric)

		v, found := sumFor(t, metric, "event_type", "order.created")
		assert.True(t, found)
		assert.GreaterOrEqual(t, v, int64(1))
	})

	t.Run("records latency", func(t *testing.T) {
		m.RecordInvocation(ctx, "order.shipped", ModeBroadcast, 100*time.Millisecond, errors.New("x"))

		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "flowbus.invocation.latency_ms")
		require.NotNil(t, metric)

		hist, ok := metric.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
	})

	t.Run("tags mode", func(t *testing.T) {
		rm := collectMetrics(t, reader)
		metric := findMetric(rm, "flowbus.invocations")
		require.NotNil(t, metric)

		_, found := sumFor(t, metric, "mode", ModeBroadcast)
		assert.True(t, found)
	})
}

func TestRecordFailures(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	m.RecordHandlerFailure(ctx, "payment.failed")
	m.RecordHandlerFailure(ctx, "payment.failed")
	m.RecordDispatchError(ctx, "payment.failed", "no_handler")
	m.RecordDispatchError(ctx, "payment.failed", "expired")

	rm := collectMetrics(t, reader)

	t.Run("handler failures", func(t *testing.T) {
		metric := findMetric(rm, "flowbus.handler.failures")
		require.NotNil(t, metric)
		v, found := sumFor(t, metric, "event_type", "payment.failed")
		assert.True(t, found)
		assert.Equal(t, int64(2), v)
	})

	t.Run("dispatch errors by kind", func(t *testing.T) {
		metric := findMetric(rm, "flowbus.dispatch.errors")
		require.NotNil(t, metric)

		for _, kind := range []string{"no_handler", "expired"} {
			v, found := sumFor(t, metric, "kind", kind)
			assert.True(t, found, kind)
			assert.Equal(t, int64(1), v, kind)
		}
	})
}

func TestRecordRetryRound(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRetryRound(ctx, "cache.evict", 3)
	m.RecordRetryRound(ctx, "cache.evict", 1)

	rm := collectMetrics(t, reader)

	rounds := findMetric(rm, "flowbus.broadcast.retry_rounds")
	require.NotNil(t, rounds)
	v, found := sumFor(t, rounds, "event_type", "cache.evict")
	assert.True(t, found)
	assert.Equal(t, int64(2), v)

	pending := findMetric(rm, "flowbus.broadcast.retry_pending")
	require.NotNil(t, pending)
	hist, ok := pending.Data.(metricdata.Histogram[int64])
	require.True(t, ok, "Expected Histogram type")
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(4), hist.DataPoints[0].Sum)
}

func TestRecorderConcurrentUse(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordInvocation(ctx, "order.created", ModeCompute, time.Millisecond, nil)
			m.RecordHandlerFailure(ctx, "order.created")
			m.RecordRetryRound(ctx, "order.created", 1)
		}()
	}
	wg.Wait()
}
