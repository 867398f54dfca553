package flowbus

import (
	"reflect"
)

// AggregatorFunc folds the next broadcast result into the running aggregate.
// The first successful result seeds the aggregate.
type AggregatorFunc func(acc, next any) any

// Fold adapts a typed combining function. Values that are not T are ignored.
func Fold[T any](fn func(acc, next T) T) AggregatorFunc {
	return func(acc, next any) any {
		a, ok := acc.(T)
		if !ok {
			return next
		}
		n, ok := next.(T)
		if !ok {
			return acc
		}
		return fn(a, n)
	}
}

// And is logical AND over bool results.
var And = Fold(func(a, b bool) bool { return a && b })

// Or is logical OR over bool results.
var Or = Fold(func(a, b bool) bool { return a || b })

// Sum adds int results.
var Sum = Fold(func(a, b int) int { return a + b })

// Last keeps the most recent result.
func Last(_, next any) any { return next }

// defaultAggregators is consulted when neither the call nor the policy
// names an aggregator.
var defaultAggregators = map[reflect.Type]AggregatorFunc{
	reflect.TypeFor[bool](): And,
	reflect.TypeFor[int]():  Sum,
}

func defaultAggregator(resultType reflect.Type) AggregatorFunc {
	if resultType == nil {
		return nil
	}
	return defaultAggregators[resultType]
}

// builtinAggregators are registered on every engine.
var builtinAggregators = map[string]AggregatorFunc{
	"and":  And,
	"or":   Or,
	"sum":  Sum,
	"last": Last,
}

// accumulator folds results in delivery order.
type accumulator struct {
	fn     AggregatorFunc
	value  any
	seeded bool
}

func (a *accumulator) add(result any) {
	if a.fn == nil {
		return
	}
	if !a.seeded {
		a.value = result
		a.seeded = true
		return
	}
	a.value = a.fn(a.value, result)
}
