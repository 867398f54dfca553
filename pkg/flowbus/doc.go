/*
Package flowbus is an in-process asynchronous dispatch engine.

# Overview

Callers invoke methods on a logical event interface. The engine routes each
invocation to one or more registered handler instances on a shared worker
pool, enforcing per-handler concurrency limits, time-to-live admission,
retry-on-busy for broadcasts, and result aggregation for fan-out calls.

A call is described by a CallDescriptor: the event type, the method name,
the arguments, the declared result type, and an Invoker that knows how to
call the method on one handler. How calls are delivered is controlled by the
Policy the engine looks up for the event type.

# Basic Usage

	type Validator interface {
	    Validate(ctx context.Context, order Order) (bool, error)
	}

	validate := flowbus.Method(func(v Validator, ctx context.Context, args []any) (bool, error) {
	    order, err := flowbus.Arg[Order](args, 0)
	    if err != nil {
	        return false, err
	    }
	    return v.Validate(ctx, order)
	})

	engine := flowbus.New()
	defer engine.Close()

	engine.Register("order.validate", stockValidator)
	engine.Register("order.validate", fraudValidator)

	call := engine.NewCall("order.validate", "Validate", validate,
	    flowbus.WithArgs(order), flowbus.WithResult[bool]())
	ok, err := flowbus.ComputeAs[bool](ctx, engine, call)

# Delivery Modes

Compute hands the call to one handler, chosen round-robin among those below
their concurrency limit. If none is available it fails with NoHandler at
once; it never waits or retries.

Dispatch and Broadcast hand the call to every handler. Handlers that are
busy are revisited for up to MaxRetries rounds with a backoff between
rounds. Under MultiDispatchAggregated the results are folded: booleans with
AND and ints with SUM unless the call or the policy names another
aggregator. Dispatch returns as soon as the call is queued unless the policy
sets MultiDispatchSync.

ComputeEventually is for methods that themselves return a Future. The
returned UnboxingFuture waits for both, and a timed wait spends a single
budget across the two.

Invoke picks the mode from the call's shape, and Dispatcher handles wrap it
for one event type.

# Errors

Failures are *DispatchError values of four kinds: NoHandler, Rejected,
Expired and HandlerFailure. Calls that return a value to the caller unwrap
them: a handler's error is returned exactly as the handler returned it, a
missing handler becomes a zero value under ReturnNoHandlerAsNil, and expiry
becomes a *TimeoutError for calls built with WithTimeoutSignature.

	_, err := engine.Compute(ctx, call)
	switch {
	case errors.Is(err, ErrOutOfStock):  // the handler's own error
	case flowbus.IsNoHandler(err):
	case flowbus.IsExpired(err):
	}

# Observability

The engine logs through log/slog and, when configured, records OpenTelemetry
metrics and spans:

	engine := flowbus.New(
	    flowbus.WithLogger(logger),
	    flowbus.WithMetrics(observability.NewMetricsRecorder()),
	    flowbus.WithTracing(observability.NewSpanManager()),
	    flowbus.WithDeadLetter(store),
	)

# Configuration

EngineOptionsFromConfig builds options from a config.Config loaded with
config.FromFile, including per-event-type policies.
*/
package flowbus
