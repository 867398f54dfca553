package flowbus

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// Future is the pending result of an asynchronous call.
type Future interface {
	// Await blocks until the result is available or ctx is done.
	Await(ctx context.Context) (any, error)

	// AwaitTimeout blocks for at most d. On timeout it returns a
	// *TimeoutError and leaves the future running.
	AwaitTimeout(d time.Duration) (any, error)

	// Cancel completes the future with ErrCancelled if it is still pending.
	// It reports whether this call cancelled it.
	Cancel() bool

	// IsCancelled reports whether the future was cancelled.
	IsCancelled() bool

	// IsDone reports whether the future has completed in any way.
	IsDone() bool

	// Done is closed when the future completes.
	Done() <-chan struct{}
}

// Promise is a Future completed by its producer.
// Handlers return promises for work they finish later.
type Promise struct {
	once      sync.Once
	done      chan struct{}
	value     any
	err       error
	cancelled bool

	// onCancel runs after a successful Cancel.
	onCancel func()
}

// Compile-time interface check.
var _ Future = (*Promise)(nil)

// NewPromise creates a pending promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Completed returns a promise already completed with v.
func Completed(v any) *Promise {
	p := NewPromise()
	p.Complete(v)
	return p
}

// Failed returns a promise already failed with err.
func Failed(err error) *Promise {
	p := NewPromise()
	p.Fail(err)
	return p
}

// Complete sets the result. It reports false if the promise was already done.
func (p *Promise) Complete(v any) bool {
	return p.settle(v, nil, false)
}

// Fail sets the error. It reports false if the promise was already done.
func (p *Promise) Fail(err error) bool {
	return p.settle(nil, err, false)
}

func (p *Promise) settle(v any, err error, cancelled bool) bool {
	settled := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		p.cancelled = cancelled
		close(p.done)
		settled = true
	})
	return settled
}

// Await implements Future.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AwaitTimeout implements Future.
func (p *Promise) AwaitTimeout(d time.Duration) (any, error) {
	if d <= 0 {
		select {
		case <-p.done:
			return p.value, p.err
		default:
			return nil, &TimeoutError{After: d}
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.value, p.err
	case <-timer.C:
		return nil, &TimeoutError{After: d}
	}
}

// Cancel implements Future.
func (p *Promise) Cancel() bool {
	if !p.settle(nil, ErrCancelled, true) {
		return false
	}
	if p.onCancel != nil {
		p.onCancel()
	}
	return true
}

// IsCancelled implements Future.
func (p *Promise) IsCancelled() bool {
	select {
	case <-p.done:
		return p.cancelled
	default:
		return false
	}
}

// IsDone implements Future.
func (p *Promise) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done implements Future.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// UnboxingFuture flattens a future whose result is itself a Future.
// Cancellation and completion state belong to the outer future; the inner
// future is cancelled only when a timed wait on it runs out.
type UnboxingFuture struct {
	outer Future
	call  *CallDescriptor
}

// Compile-time interface check.
var _ Future = (*UnboxingFuture)(nil)

// NewUnboxingFuture wraps outer. call is used to translate dispatch errors
// and may be nil.
func NewUnboxingFuture(outer Future, call *CallDescriptor) *UnboxingFuture {
	return &UnboxingFuture{outer: outer, call: call}
}

// Await waits for the outer future, then for the future it produced.
func (u *UnboxingFuture) Await(ctx context.Context) (any, error) {
	v, err := u.outer.Await(ctx)
	if err != nil {
		return resolve(u.call, nil, err)
	}

	inner, ok := asFuture(v)
	if !ok {
		return v, nil
	}
	if inner == nil {
		return nil, nil
	}
	return inner.Await(ctx)
}

// AwaitTimeout waits at most d in total. Time spent on the outer future is
// subtracted from the inner wait; when nothing is left, or the inner wait
// times out, the inner future is cancelled. Errors the futures complete
// with are returned as is, even when they are timeouts of their own.
func (u *UnboxingFuture) AwaitTimeout(d time.Duration) (any, error) {
	start := time.Now()

	if !waitDone(u.outer, d) {
		return nil, &TimeoutError{Call: u.call, After: d}
	}
	v, err := u.outer.AwaitTimeout(0)
	if err != nil {
		return resolve(u.call, nil, err)
	}

	inner, ok := asFuture(v)
	if !ok {
		return v, nil
	}
	if inner == nil {
		return nil, nil
	}

	if !waitDone(inner, d-time.Since(start)) && inner.Cancel() {
		return nil, &TimeoutError{Call: u.call, After: d}
	}
	// Done, possibly just as the budget ran out.
	return inner.AwaitTimeout(0)
}

// waitDone reports whether f completes within d.
func waitDone(f Future, d time.Duration) bool {
	select {
	case <-f.Done():
		return true
	default:
	}
	if d <= 0 {
		return false
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-f.Done():
		return true
	case <-timer.C:
		return false
	}
}

// asFuture reports whether v is a Future. A nil Future, including a typed
// nil pointer, is returned as nil with ok set.
func asFuture(v any) (Future, bool) {
	f, ok := v.(Future)
	if !ok {
		return nil, false
	}
	rv := reflect.ValueOf(f)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil, true
		}
	}
	return f, true
}

// Cancel cancels the outer future.
func (u *UnboxingFuture) Cancel() bool { return u.outer.Cancel() }

// IsCancelled reports whether the outer future was cancelled.
func (u *UnboxingFuture) IsCancelled() bool { return u.outer.IsCancelled() }

// IsDone reports whether the outer future is done.
func (u *UnboxingFuture) IsDone() bool { return u.outer.IsDone() }

// Done is closed when the outer future completes.
func (u *UnboxingFuture) Done() <-chan struct{} { return u.outer.Done() }
