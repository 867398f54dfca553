package flowbus

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewCallDescriptor verifies defaults filled at construction.
func TestNewCallDescriptor(t *testing.T) {
	before := time.Now()
	policy := DefaultPolicy().WithTTL(time.Second)
	call := NewCallDescriptor("order.created", "OnCreated", handle, policy, WithArgs("o-1", 2))

	assert.NotEqual(t, uuid.Nil, call.ID)
	assert.Equal(t, "order.created", call.EventType)
	assert.Equal(t, "OnCreated", call.Method)
	assert.Equal(t, []any{"o-1", 2}, call.Args)
	assert.False(t, call.CreatedAt.Before(before))
	assert.Equal(t, time.Second, call.Policy.TTL())
	assert.True(t, call.IsVoid())
	assert.Nil(t, call.Aggregator)
	assert.Contains(t, call.String(), "order.created.OnCreated#")
}

// TestNewCallDescriptor_Options verifies explicit identity and timing.
func TestNewCallDescriptor_Options(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	call := NewCallDescriptor("order.created", "OnCreated", handle, Policy{},
		WithCallID(id), WithCreatedAt(at), WithTimeoutSignature(), WithResultType(reflect.TypeFor[string]()))

	assert.Equal(t, id, call.ID)
	assert.Equal(t, at, call.CreatedAt)
	assert.True(t, call.DeclaresTimeout)
	assert.Equal(t, reflect.TypeFor[string](), call.ResultType)
}

// TestNewCallDescriptor_NilInvoker verifies a missing invoker fails on use.
func TestNewCallDescriptor_NilInvoker(t *testing.T) {
	call := NewCallDescriptor("order.created", "OnCreated", nil, Policy{})
	_, err := call.Invoker(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errNoInvoker)
}

// TestCallDescriptor_Stale tests TTL expiry relative to creation time.
func TestCallDescriptor_Stale(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ttl  time.Duration
		now  time.Time
		want bool
	}{
		{"no ttl never expires", 0, t0.Add(24 * time.Hour), false},
		{"negative ttl never expires", -time.Second, t0.Add(time.Hour), false},
		{"within ttl", 5 * time.Millisecond, t0.Add(5 * time.Millisecond), false},
		{"past ttl", 5 * time.Millisecond, t0.Add(50 * time.Millisecond), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := NewCallDescriptor("e", "m", handle, DefaultPolicy().WithTTL(tt.ttl), WithCreatedAt(t0))
			assert.Equal(t, tt.want, call.Stale(tt.now))
		})
	}
}

// TestCallDescriptor_ResultShape tests void and future detection.
func TestCallDescriptor_ResultShape(t *testing.T) {
	tests := []struct {
		name       string
		opt        CallOption
		wantVoid   bool
		wantFuture bool
	}{
		{"void", WithResultType(nil), true, false},
		{"int", WithResult[int](), false, false},
		{"future interface", WithResult[Future](), false, true},
		{"promise", WithResult[*Promise](), false, true},
		{"unboxing future", WithResult[*UnboxingFuture](), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := NewCallDescriptor("e", "m", handle, Policy{}, tt.opt)
			assert.Equal(t, tt.wantVoid, call.IsVoid())
			assert.Equal(t, tt.wantFuture, call.ReturnsFuture())
		})
	}
}

// TestCallDescriptor_AggregatorResolution tests the resolution order:
// explicit, then named, then the default table, then none.
func TestCallDescriptor_AggregatorResolution(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterAggregator("max", Fold(func(a, b int) int { return max(a, b) }))

	aggregated := DefaultPolicy().WithFlags(MultiDispatchAggregated)
	product := Fold(func(a, b int) int { return a * b })

	tests := []struct {
		name          string
		policy        Policy
		opts          []CallOption
		wantFold      any // result of folding 3 and 4, nil if no aggregator
		wantAggregate bool
	}{
		{"explicit wins", aggregated.WithAggregator("max"), []CallOption{WithResult[int](), WithAggregator(product)}, 12, true},
		{"explicit without flag", DefaultPolicy(), []CallOption{WithResult[int](), WithAggregator(product)}, 12, true},
		{"named", aggregated.WithAggregator("max"), []CallOption{WithResult[int]()}, 4, true},
		{"unknown name falls back to default", aggregated.WithAggregator("median"), []CallOption{WithResult[int]()}, 7, true},
		{"default int sum", aggregated, []CallOption{WithResult[int]()}, 7, true},
		{"default without flag does not fold", DefaultPolicy(), []CallOption{WithResult[int]()}, 7, false},
		{"no default for string", aggregated, []CallOption{WithResult[string]()}, nil, false},
		{"void", aggregated, nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := newCall("e", "m", handle, tt.policy, e.aggregators.Get, tt.opts)
			assert.Equal(t, tt.wantAggregate, call.Aggregates())
			if tt.wantFold == nil {
				assert.Nil(t, call.Aggregator)
				return
			}
			require.NotNil(t, call.Aggregator)
			assert.Equal(t, tt.wantFold, call.Aggregator(3, 4))
		})
	}
}

// TestDefaultAggregators verifies AND for bool and SUM for int.
func TestDefaultAggregators(t *testing.T) {
	and := defaultAggregator(reflect.TypeFor[bool]())
	require.NotNil(t, and)
	assert.Equal(t, false, and(true, false))
	assert.Equal(t, true, and(true, true))

	sum := defaultAggregator(reflect.TypeFor[int]())
	require.NotNil(t, sum)
	assert.Equal(t, 7, sum(3, 4))

	assert.Nil(t, defaultAggregator(reflect.TypeFor[int64]()))
	assert.Nil(t, defaultAggregator(nil))
}

// TestFold_MismatchedTypes verifies Fold skips values of the wrong type.
func TestFold_MismatchedTypes(t *testing.T) {
	assert.Equal(t, 4, Sum("x", 4))
	assert.Equal(t, 3, Sum(3, "x"))
	assert.Equal(t, true, Or(false, true))
	assert.Equal(t, "b", Last("a", "b"))
}

// TestAccumulator verifies the first result seeds the aggregate.
func TestAccumulator(t *testing.T) {
	acc := &accumulator{fn: Sum}
	acc.add(3)
	assert.Equal(t, 3, acc.value)
	acc.add(4)
	assert.Equal(t, 7, acc.value)

	none := &accumulator{}
	none.add(3)
	assert.Nil(t, none.value)
}
