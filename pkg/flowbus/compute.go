package flowbus

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/randalmurphal/flowbus/pkg/flowbus/observability"
)

// ComputeAsync delivers call to one available handler on the worker pool.
// Handlers are tried round-robin; if every handler is at its concurrency
// limit the future fails with NoHandler at once, without waiting.
func (e *Engine) ComputeAsync(ctx context.Context, call *CallDescriptor) Future {
	f, _ := e.submit(ctx, call, observability.ModeCompute, false, e.compute)
	return f
}

// Compute delivers call to one handler and waits for its result.
// A handler error is returned exactly as the handler returned it.
func (e *Engine) Compute(ctx context.Context, call *CallDescriptor) (any, error) {
	v, err := e.ComputeAsync(ctx, call).Await(ctx)
	return resolve(call, v, err)
}

// ComputeAs is Compute with the result converted to T.
//
// Example:
//
//	ok, err := flowbus.ComputeAs[bool](ctx, engine, call)
func ComputeAs[T any](ctx context.Context, e *Engine, call *CallDescriptor) (T, error) {
	return as[T](e.Compute(ctx, call))
}

// ComputeEventually delivers a call whose result is itself a Future and
// returns at once. Awaiting the returned future waits for both. The error
// is non-nil only when the call was rejected at submission.
func (e *Engine) ComputeEventually(ctx context.Context, call *CallDescriptor) (*UnboxingFuture, error) {
	f, err := e.submit(ctx, call, observability.ModeCompute, false, e.compute)
	if err != nil {
		_, err = resolve(call, nil, err)
	}
	return NewUnboxingFuture(f, call), err
}

// compute is the worker side of single-target delivery.
func (e *Engine) compute(ctx context.Context, call *CallDescriptor) (any, error) {
	if err := e.checkStale(ctx, call); err != nil {
		return nil, err
	}

	slot := e.pool(call.EventType).acquire(call.Policy.MaxConcurrency())
	if slot == nil {
		e.stats.noHandler.Add(1)
		e.metrics.RecordDispatchError(ctx, call.EventType, KindNoHandler.String())
		observability.LogNoHandler(e.logger, call.EventType, call.Method)
		return nil, &DispatchError{Kind: KindNoHandler, Call: call}
	}
	defer slot.release()

	result, err := e.invoke(ctx, call, slot.handler)
	if err != nil {
		observability.LogHandlerFailure(e.logger, call.EventType, call.Method, err)
		return nil, &DispatchError{Kind: KindHandlerFailure, Call: call, Err: err}
	}
	return result, nil
}

// invoke runs the call on one handler, turning a panic into a *PanicError.
func (e *Engine) invoke(ctx context.Context, call *CallDescriptor, handler any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: string(debug.Stack())}
			observability.EnrichLogger(e.logger, call.ID.String(), call.EventType, call.Method).
				Error("handler panicked", slog.Any("panic", r))
		}
		if err != nil {
			e.stats.handlerFailures.Add(1)
			e.metrics.RecordHandlerFailure(ctx, call.EventType)
		}
	}()

	return call.Invoker(ctx, handler, call.Args)
}
