package flowbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"
)

// Kind classifies why a call was not delivered.
type Kind int

const (
	// KindNoHandler means no registered handler could take the call.
	KindNoHandler Kind = iota + 1

	// KindRejected means the worker pool refused the call.
	KindRejected

	// KindExpired means the call outlived its TTL before processing began.
	KindExpired

	// KindHandlerFailure means a handler returned an error or panicked.
	KindHandlerFailure
)

// String returns the snake_case kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindNoHandler:
		return "no_handler"
	case KindRejected:
		return "rejected"
	case KindExpired:
		return "expired"
	case KindHandlerFailure:
		return "handler_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel errors for classification with errors.Is.
var (
	// ErrNoHandler matches DispatchErrors of KindNoHandler.
	ErrNoHandler = errors.New("no handler available")

	// ErrRejected matches DispatchErrors of KindRejected.
	ErrRejected = errors.New("call rejected")

	// ErrExpired matches DispatchErrors of KindExpired.
	ErrExpired = errors.New("call expired")

	// ErrTimeout matches TimeoutErrors.
	ErrTimeout = errors.New("timed out")

	// ErrClosed is the cause of a rejection by a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrQueueFull is the cause of a rejection by a saturated worker queue.
	ErrQueueFull = errors.New("queue full")

	// ErrCancelled is returned by futures that were cancelled before completing.
	ErrCancelled = fmt.Errorf("future cancelled: %w", context.Canceled)

	// ErrHandlerType indicates an invoker received a handler of the wrong type.
	ErrHandlerType = errors.New("unexpected handler type")
)

// DispatchError reports a call that was not delivered, or whose handler failed.
// Call is nil only when the failure is not tied to one call.
type DispatchError struct {
	Kind Kind
	Call *CallDescriptor
	// Err is the handler's error for KindHandlerFailure and the
	// rejection cause for KindRejected.
	Err error
	// Rounds is how many delivery passes a broadcast made, zero for
	// single-target calls.
	Rounds int
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	target := "call"
	if e.Call != nil {
		target = e.Call.String()
	}
	switch e.Kind {
	case KindNoHandler:
		return fmt.Sprintf("flowbus: %s: no handler available", target)
	case KindExpired:
		return fmt.Sprintf("flowbus: %s: expired", target)
	case KindRejected:
		return fmt.Sprintf("flowbus: %s: rejected: %v", target, e.Err)
	default:
		return fmt.Sprintf("flowbus: %s: handler failed: %v", target, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *DispatchError) Is(target error) bool {
	switch target {
	case ErrNoHandler:
		return e.Kind == KindNoHandler
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrExpired:
		return e.Kind == KindExpired
	}
	return false
}

// IsNoHandler reports whether err is a NoHandler dispatch error.
func IsNoHandler(err error) bool { return errors.Is(err, ErrNoHandler) }

// IsRejected reports whether err is a Rejected dispatch error.
func IsRejected(err error) bool { return errors.Is(err, ErrRejected) }

// IsExpired reports whether err is an Expired dispatch error.
func IsExpired(err error) bool { return errors.Is(err, ErrExpired) }

// IsHandlerFailure reports whether err is a HandlerFailure dispatch error.
// Errors already unwrapped for the caller are the handler's own and do not match.
func IsHandlerFailure(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Kind == KindHandlerFailure
}

// PanicError captures a panic raised by a handler.
// It includes the stack trace for debugging.
type PanicError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

// TimeoutError is the timeout-shaped failure returned by timed waits and,
// for calls that declare it, by expiry.
type TimeoutError struct {
	Call *CallDescriptor
	// After is the wait budget, zero for expiry.
	After time.Duration
	// Err is the expiry DispatchError, if any.
	Err error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	target := "call"
	if e.Call != nil {
		target = e.Call.String()
	}
	if e.After > 0 {
		return fmt.Sprintf("flowbus: %s: timed out after %s", target, e.After)
	}
	return fmt.Sprintf("flowbus: %s: timed out", target)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// resolve turns the outcome of a delivery into what a caller of the handler
// method would observe: the handler's own error for handler failures, a zero
// value for opted-in missing handlers, a timeout for expiry on calls that
// declare one, and the DispatchError otherwise.
func resolve(call *CallDescriptor, result any, err error) (any, error) {
	if err == nil {
		return result, nil
	}

	var de *DispatchError
	if !errors.As(err, &de) {
		return nil, err
	}

	switch de.Kind {
	case KindHandlerFailure:
		return nil, de.Err
	case KindNoHandler:
		if call != nil && call.Policy.Has(ReturnNoHandlerAsNil) {
			return call.zero(), nil
		}
	case KindExpired:
		if call != nil && call.DeclaresTimeout {
			return nil, &TimeoutError{Call: call, Err: de}
		}
	}
	return nil, de
}

// as converts a resolved result to T.
func as[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("flowbus: result of type %T is not %s", v, reflect.TypeFor[T]())
	}
	return t, nil
}
