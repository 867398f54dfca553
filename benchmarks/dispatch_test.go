package benchmarks

import (
	"context"
	"strconv"
	"testing"

	"github.com/randalmurphal/flowbus/pkg/flowbus"
	"github.com/randalmurphal/flowbus/pkg/flowbus/retry"
)

// counter is a trivial handler.
type counter struct{ n int }

func (c *counter) Count(_ context.Context, delta int) (int, error) {
	return c.n + delta, nil
}

var count = flowbus.Method(func(c *counter, ctx context.Context, args []any) (int, error) {
	delta, err := flowbus.Arg[int](args, 0)
	if err != nil {
		return 0, err
	}
	return c.Count(ctx, delta)
})

func newEngine(b *testing.B, policy flowbus.Policy, handlers int) *flowbus.Engine {
	b.Helper()
	e := flowbus.New(
		flowbus.WithPolicyLookup(func(string) flowbus.Policy { return policy }),
		flowbus.WithRoundBackoff(retry.NoBackoff),
	)
	b.Cleanup(func() { _ = e.Close() })
	for i := 0; i < handlers; i++ {
		e.Register("count", &counter{n: i})
	}
	return e
}

// BenchmarkCompute_1 computes on a single handler.
func BenchmarkCompute_1(b *testing.B) {
	benchmarkCompute(b, 1)
}

// BenchmarkCompute_16 computes round-robin over 16 handlers.
func BenchmarkCompute_16(b *testing.B) {
	benchmarkCompute(b, 16)
}

func benchmarkCompute(b *testing.B, handlers int) {
	e := newEngine(b, flowbus.DefaultPolicy(), handlers)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Compute(ctx, e.NewCall("count", "Count", count, flowbus.WithArgs(1), flowbus.WithResult[int]()))
	}
}

// BenchmarkCompute_Parallel computes from many goroutines at once.
func BenchmarkCompute_Parallel(b *testing.B) {
	e := newEngine(b, flowbus.DefaultPolicy(), 8)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = e.Compute(ctx, e.NewCall("count", "Count", count, flowbus.WithArgs(1), flowbus.WithResult[int]()))
		}
	})
}

// BenchmarkBroadcast_Aggregated folds results from N handlers.
func BenchmarkBroadcast_Aggregated(b *testing.B) {
	policy := flowbus.DefaultPolicy().WithFlags(flowbus.MultiDispatch, flowbus.MultiDispatchAggregated)
	for _, n := range []int{1, 8, 64} {
		b.Run(strconv.Itoa(n), func(b *testing.B) {
			e := newEngine(b, policy, n)
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = flowbus.BroadcastAs[int](ctx, e,
					e.NewCall("count", "Count", count, flowbus.WithArgs(1), flowbus.WithResult[int]()))
			}
		})
	}
}

// BenchmarkDispatch_FireAndForget measures submission cost only.
func BenchmarkDispatch_FireAndForget(b *testing.B) {
	policy := flowbus.DefaultPolicy().WithFlags(flowbus.MultiDispatch)
	e := newEngine(b, policy, 4)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.Dispatch(ctx, e.NewCall("count", "Count", count, flowbus.WithArgs(1)))
	}
}

// BenchmarkNewCall measures descriptor construction with a memoized policy.
func BenchmarkNewCall(b *testing.B) {
	e := newEngine(b, flowbus.DefaultPolicy(), 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.NewCall("count", "Count", count, flowbus.WithArgs(i), flowbus.WithResult[int]())
	}
}
