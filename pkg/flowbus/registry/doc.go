// Package registry provides a generic thread-safe table of values indexed by key.
//
// The dispatch engine keeps three kinds of per-engine state in registries:
//
//   - the memoized PolicyLookup results, one Policy per event type
//   - named aggregators referenced by a Policy
//   - handler pools, created lazily per event type
//
// # Lazy Initialization
//
// GetOrCreate computes a value at most once per key, even under concurrent
// access, and reports whether this call created it:
//
//	policies := registry.New[string, Policy]()
//	pool, created := pools.GetOrCreate("order.created", newHandlerPool)
//
// When the value comes from user code that may block or call back into the
// owner, compute it outside the lock and keep whichever value landed first:
//
//	p, _ := policies.LoadOrStore("order.created", lookup("order.created"))
//
// # Thread Safety
//
// All methods are safe for concurrent use. Range iterates over a snapshot,
// so Register and Delete may be called from inside the callback.
package registry
