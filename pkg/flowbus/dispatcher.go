package flowbus

import (
	"context"
)

// Invoke delivers call the way an intercepted method call would be routed:
// void methods are dispatched, methods returning a Future are computed
// eventually, MultiDispatch methods are broadcast and awaited, and all
// others are computed on one handler.
func (e *Engine) Invoke(ctx context.Context, call *CallDescriptor) (any, error) {
	switch {
	case call.IsVoid():
		return nil, e.Dispatch(ctx, call)
	case call.ReturnsFuture():
		f, err := e.ComputeEventually(ctx, call)
		if err != nil {
			return nil, err
		}
		return f, nil
	case call.Policy.Has(MultiDispatch):
		v, err := e.Broadcast(ctx, call).Await(ctx)
		return resolve(call, v, err)
	default:
		return e.Compute(ctx, call)
	}
}

// Dispatcher is a handle that invokes one event type through an engine.
// Registering it as a handler on the engine that issued it is a no-op.
type Dispatcher struct {
	engine    *Engine
	eventType string
}

// Dispatcher returns a handle for eventType.
func (e *Engine) Dispatcher(eventType string) *Dispatcher {
	return &Dispatcher{engine: e, eventType: eventType}
}

// EventType returns the event type this handle dispatches.
func (d *Dispatcher) EventType() string { return d.eventType }

// Call builds a call for method and routes it with Invoke.
//
// Example:
//
//	orders := engine.Dispatcher("order.created")
//	v, err := orders.Call(ctx, "Validate", validate,
//	    flowbus.WithArgs(order), flowbus.WithResult[bool]())
func (d *Dispatcher) Call(ctx context.Context, method string, invoker Invoker, opts ...CallOption) (any, error) {
	return d.engine.Invoke(ctx, d.engine.NewCall(d.eventType, method, invoker, opts...))
}

// Await blocks until a handler is registered for the event type.
func (d *Dispatcher) Await(ctx context.Context) error {
	return d.engine.Await(ctx, d.eventType)
}

func (d *Dispatcher) issuer() *Engine { return d.engine }

// issued reports whether handler is a handle issued by this engine.
func (e *Engine) issued(handler any) bool {
	h, ok := handler.(interface{ issuer() *Engine })
	return ok && h.issuer() == e
}
