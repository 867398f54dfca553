package flowbus

import (
	"context"
	"fmt"
	"reflect"
)

// Method adapts a typed method with a result into an Invoker.
//
// Example:
//
//	validate := flowbus.Method(func(h OrderHandler, ctx context.Context, args []any) (bool, error) {
//	    order, err := flowbus.Arg[Order](args, 0)
//	    if err != nil {
//	        return false, err
//	    }
//	    return h.Validate(ctx, order)
//	})
func Method[H, R any](fn func(h H, ctx context.Context, args []any) (R, error)) Invoker {
	return func(ctx context.Context, handler any, args []any) (any, error) {
		h, ok := handler.(H)
		if !ok {
			return nil, handlerTypeError[H](handler)
		}
		return fn(h, ctx, args)
	}
}

// Action adapts a typed method without a result into an Invoker.
func Action[H any](fn func(h H, ctx context.Context, args []any) error) Invoker {
	return func(ctx context.Context, handler any, args []any) (any, error) {
		h, ok := handler.(H)
		if !ok {
			return nil, handlerTypeError[H](handler)
		}
		return nil, fn(h, ctx, args)
	}
}

// Arg returns args[i] as T.
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("flowbus: argument %d out of range (%d args)", i, len(args))
	}
	if args[i] == nil {
		return zero, nil
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("flowbus: argument %d is %T, not %s", i, args[i], reflect.TypeFor[T]())
	}
	return v, nil
}

func handlerTypeError[H any](handler any) error {
	return fmt.Errorf("%w: %T does not implement %s", ErrHandlerType, handler, reflect.TypeFor[H]())
}
