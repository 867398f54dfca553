package flowbus

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// Broadcast delivers call to every registered handler on the worker pool.
// The future resolves to the folded result when the call aggregates, and
// to nil otherwise. An event type with no handlers succeeds with nil.
func (e *Engine) Broadcast(ctx context.Context, call *CallDescriptor) Future {
	f, _ := e.submit(ctx, call, observability.ModeBroadcast, false, e.broadcast)
	return f
}

// BroadcastAs broadcasts call, waits, and converts the folded result to T.
func BroadcastAs[T any](ctx context.Context, e *Engine, call *CallDescriptor) (T, error) {
	v, err := e.Broadcast(ctx, call).Await(ctx)
	return as[T](resolve(call, v, err))
}

// Dispatch broadcasts call. Under MultiDispatchSync it waits for delivery
// and returns what the handlers returned; otherwise it returns once the call
// is queued, and later failures go to the error hook, the log and the
// dead-letter store.
func (e *Engine) Dispatch(ctx context.Context, call *CallDescriptor) error {
	if call.Policy.Has(MultiDispatchSync) {
		v, err := e.Broadcast(ctx, call).Await(ctx)
		_, err = resolve(call, v, err)
		return err
	}

	_, err := e.submit(ctx, call, observability.ModeBroadcast, true, e.broadcast)
	if err != nil {
		_, err = resolve(call, nil, err)
	}
	return err
}

// broadcast is the worker side of multi-target delivery. Handlers that are
// busy on the first pass are retried for up to MaxRetries rounds. A failing
// handler does not stop delivery to the others.
func (e *Engine) broadcast(ctx context.Context, call *CallDescriptor) (any, error) {
	if err := e.checkStale(ctx, call); err != nil {
		return nil, err
	}

	slots := e.pool(call.EventType).snapshot()
	if len(slots) == 0 {
		return nil, nil
	}

	done := observability.TimedOperation()
	limit := call.Policy.MaxConcurrency()
	acc := &accumulator{}
	if call.Aggregates() {
		acc.fn = call.Aggregator
	}

	var (
		failures  []error
		delivered int
	)
	deliver := func(s *handlerSlot) bool {
		if !s.tryAcquire(limit) {
			return false
		}
		defer s.release()

		result, err := e.invoke(ctx, call, s.handler)
		if err != nil {
			observability.LogHandlerFailure(e.logger, call.EventType, call.Method, err)
			failures = append(failures, err)
			return true
		}
		delivered++
		acc.add(result)
		return true
	}

	var pending []*handlerSlot
	for _, s := range slots {
		if !deliver(s) {
			pending = append(pending, s)
		}
	}

	rounds := 1
	maxRetries := call.Policy.MaxRetries()
	for round := 1; len(pending) > 0 && round <= maxRetries; round++ {
		if err := e.roundWait(ctx, call, round); err != nil {
			break
		}
		e.stats.retryRounds.Add(1)
		e.metrics.RecordRetryRound(ctx, call.EventType, len(pending))
		e.spans.AddSpanEvent(ctx, "retry_round",
			attribute.Int("round", round),
			attribute.Int("pending", len(pending)),
		)
		observability.LogRetryRound(e.logger, call.EventType, round, len(pending))
		rounds++

		still := pending[:0]
		for _, s := range pending {
			if !deliver(s) {
				still = append(still, s)
			}
		}
		pending = still
	}

	observability.LogBroadcastComplete(e.logger, call.EventType, delivered, len(failures), len(pending), done())

	if len(failures) > 0 {
		cause := failures[0]
		if len(failures) > 1 {
			cause = errors.Join(failures...)
		}
		return nil, &DispatchError{Kind: KindHandlerFailure, Call: call, Err: cause, Rounds: rounds}
	}
	return acc.value, nil
}
