package flowbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/flowbus/pkg/flowbus/retry"
)

// Test handlers and helpers used across tests

// testHandler counts calls and answers with fn, or with its name.
type testHandler struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, args []any) (any, error)
}

func newHandler(name string) *testHandler {
	return &testHandler{name: name}
}

func returning(name string, v any) *testHandler {
	return &testHandler{name: name, fn: func(context.Context, []any) (any, error) { return v, nil }}
}

func failing(name string, err error) *testHandler {
	return &testHandler{name: name, fn: func(context.Context, []any) (any, error) { return nil, err }}
}

// blocking returns a handler that signals started and then waits for
// release or cancellation.
func blocking(name string) (h *testHandler, started <-chan struct{}, release func()) {
	startedCh := make(chan struct{}, 16)
	releaseCh := make(chan struct{})
	h = &testHandler{name: name, fn: func(ctx context.Context, _ []any) (any, error) {
		startedCh <- struct{}{}
		select {
		case <-releaseCh:
			return name, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	var once atomic.Bool
	return h, startedCh, func() {
		if once.CompareAndSwap(false, true) {
			close(releaseCh)
		}
	}
}

func (h *testHandler) Handle(ctx context.Context, args []any) (any, error) {
	h.calls.Add(1)
	if h.fn != nil {
		return h.fn(ctx, args)
	}
	return h.name, nil
}

// handle invokes testHandler.Handle.
var handle = Method(func(h *testHandler, ctx context.Context, args []any) (any, error) {
	return h.Handle(ctx, args)
})

// policyFor returns a lookup answering p for every event type.
func policyFor(p Policy) PolicyLookup {
	return func(string) Policy { return p }
}

// newTestEngine creates an engine without retry backoff that is closed
// when the test ends.
func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithWorkers(4), WithRoundBackoff(retry.NoBackoff)}
	e := New(append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

// waitFor fails the test if ch is not signalled within a second.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
