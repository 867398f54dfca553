package flowbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Invoker calls the described method on one handler instance.
type Invoker func(ctx context.Context, handler any, args []any) (any, error)

// CallDescriptor is one invocation of a method on an event interface.
// It is built once and must not be modified afterward.
type CallDescriptor struct {
	ID        uuid.UUID
	EventType string
	Method    string
	Args      []any

	// ResultType is the declared result type; nil means the method
	// returns nothing.
	ResultType reflect.Type

	CreatedAt time.Time

	// Policy is the policy in effect when the call was built.
	Policy Policy

	// Aggregator folds broadcast results; nil disables folding.
	Aggregator AggregatorFunc

	Invoker Invoker

	// DeclaresTimeout is set when the caller can receive a timeout-shaped
	// failure, so expiry surfaces as a *TimeoutError.
	DeclaresTimeout bool

	explicitAggregator bool
}

var futureType = reflect.TypeFor[Future]()

// Stale reports whether the call outlived its TTL at now.
func (c *CallDescriptor) Stale(now time.Time) bool {
	ttl := c.Policy.TTL()
	return ttl > 0 && now.Sub(c.CreatedAt) > ttl
}

// IsVoid reports whether the method returns nothing.
func (c *CallDescriptor) IsVoid() bool {
	return c.ResultType == nil
}

// ReturnsFuture reports whether the method's result is itself a Future.
func (c *CallDescriptor) ReturnsFuture() bool {
	return c.ResultType != nil && c.ResultType.Implements(futureType)
}

// Aggregates reports whether broadcast results are folded. An explicit
// aggregator always folds; a resolved one folds only under
// MultiDispatchAggregated.
func (c *CallDescriptor) Aggregates() bool {
	if c.Aggregator == nil {
		return false
	}
	return c.explicitAggregator || c.Policy.Has(MultiDispatchAggregated)
}

// String identifies the call in errors and logs.
func (c *CallDescriptor) String() string {
	id := c.ID.String()
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s.%s#%s", c.EventType, c.Method, id)
}

// zero returns the zero value of the result type, or nil.
func (c *CallDescriptor) zero() any {
	if c.ResultType == nil {
		return nil
	}
	return reflect.Zero(c.ResultType).Interface()
}

type callOptions struct {
	id              uuid.UUID
	args            []any
	resultType      reflect.Type
	createdAt       time.Time
	aggregator      AggregatorFunc
	declaresTimeout bool
}

// CallOption configures a CallDescriptor.
type CallOption func(*callOptions)

// WithArgs sets the call arguments.
func WithArgs(args ...any) CallOption {
	return func(o *callOptions) {
		o.args = args
	}
}

// WithResult declares the method's result type as T.
//
// Example:
//
//	call := engine.NewCall("order.created", "Validate", invoker,
//	    flowbus.WithArgs(order), flowbus.WithResult[bool]())
func WithResult[T any]() CallOption {
	return func(o *callOptions) {
		o.resultType = reflect.TypeFor[T]()
	}
}

// WithResultType declares the method's result type. nil means void.
func WithResultType(t reflect.Type) CallOption {
	return func(o *callOptions) {
		o.resultType = t
	}
}

// WithAggregator supplies the operator that folds broadcast results.
// It takes priority over any policy or default aggregator.
func WithAggregator(fn AggregatorFunc) CallOption {
	return func(o *callOptions) {
		o.aggregator = fn
	}
}

// WithCreatedAt overrides the creation time, for calls recorded earlier.
func WithCreatedAt(t time.Time) CallOption {
	return func(o *callOptions) {
		o.createdAt = t
	}
}

// WithTimeoutSignature marks the caller as able to receive a timeout.
func WithTimeoutSignature() CallOption {
	return func(o *callOptions) {
		o.declaresTimeout = true
	}
}

// WithCallID sets the call ID instead of generating one.
func WithCallID(id uuid.UUID) CallOption {
	return func(o *callOptions) {
		o.id = id
	}
}

// NewCallDescriptor builds a call under the given policy. Only the default
// aggregators are consulted; use Engine.NewCall for named ones.
func NewCallDescriptor(eventType, method string, invoker Invoker, policy Policy, opts ...CallOption) *CallDescriptor {
	return newCall(eventType, method, invoker, policy, nil, opts)
}

func newCall(eventType, method string, invoker Invoker, policy Policy, named func(string) (AggregatorFunc, bool), opts []CallOption) *CallDescriptor {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	call := &CallDescriptor{
		ID:              o.id,
		EventType:       eventType,
		Method:          method,
		Args:            o.args,
		ResultType:      o.resultType,
		CreatedAt:       o.createdAt,
		Policy:          policy,
		Invoker:         invoker,
		DeclaresTimeout: o.declaresTimeout,
	}
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	if call.Invoker == nil {
		call.Invoker = missingInvoker
	}

	switch {
	case o.aggregator != nil:
		call.Aggregator = o.aggregator
		call.explicitAggregator = true
	case policy.Aggregator() != "" && named != nil:
		if fn, ok := named(policy.Aggregator()); ok {
			call.Aggregator = fn
			break
		}
		call.Aggregator = defaultAggregator(o.resultType)
	default:
		call.Aggregator = defaultAggregator(o.resultType)
	}

	return call
}

var errNoInvoker = errors.New("flowbus: call has no invoker")

func missingInvoker(context.Context, any, []any) (any, error) {
	return nil, errNoInvoker
}
