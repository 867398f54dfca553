package flowbus

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Flag is a set of delivery options carried by a Policy.
type Flag uint8

const (
	// MultiDispatch delivers a call to every registered handler instead of one.
	MultiDispatch Flag = 1 << iota

	// MultiDispatchSync makes Dispatch wait until the broadcast completes.
	MultiDispatchSync

	// MultiDispatchAggregated folds broadcast results with the call's aggregator.
	MultiDispatchAggregated

	// ReturnNoHandlerAsNil turns NoHandler into a zero value and a nil error.
	ReturnNoHandlerAsNil
)

var flagNames = map[Flag]string{
	MultiDispatch:           "multi_dispatch",
	MultiDispatchSync:       "multi_dispatch_sync",
	MultiDispatchAggregated: "multi_dispatch_aggregated",
	ReturnNoHandlerAsNil:    "return_no_handler_as_nil",
}

// String returns the flag names joined with "|".
func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for flag, name := range flagNames {
		if f&flag != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// ParseFlag returns the flag with the given name.
func ParseFlag(name string) (Flag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for flag, n := range flagNames {
		if n == name {
			return flag, nil
		}
	}
	return 0, fmt.Errorf("unknown policy flag %q", name)
}

// Policy describes how calls for one event type are delivered.
// Policies are immutable; the With methods return modified copies.
// The zero value allows one concurrent call per handler and no retries.
type Policy struct {
	maxConcurrency int
	maxRetries     int
	ttl            time.Duration
	aggregator     string
	flags          Flag
}

// DefaultPolicy allows one concurrent call per CPU on each handler and
// effectively unbounded broadcast retries.
func DefaultPolicy() Policy {
	return Policy{
		maxConcurrency: runtime.NumCPU(),
		maxRetries:     math.MaxInt,
	}
}

// MaxConcurrency is the number of calls a single handler may run at once.
func (p Policy) MaxConcurrency() int {
	if p.maxConcurrency < 1 {
		return 1
	}
	return p.maxConcurrency
}

// MaxRetries is the number of extra rounds a broadcast makes for busy handlers.
func (p Policy) MaxRetries() int {
	if p.maxRetries < 0 {
		return 0
	}
	return p.maxRetries
}

// TTL is how long a call stays deliverable. Zero or negative never expires.
func (p Policy) TTL() time.Duration { return p.ttl }

// Aggregator is the name of the aggregator registered on the engine.
func (p Policy) Aggregator() string { return p.aggregator }

// Flags returns the policy's flag set.
func (p Policy) Flags() Flag { return p.flags }

// Has reports whether every bit of flag is set.
func (p Policy) Has(flag Flag) bool { return p.flags&flag == flag }

// WithMaxConcurrency returns a copy with the concurrency limit set.
// Values below 1 clamp to 1.
func (p Policy) WithMaxConcurrency(n int) Policy {
	p.maxConcurrency = max(n, 1)
	return p
}

// WithMaxRetries returns a copy with the retry bound set.
// Negative values clamp to 0.
func (p Policy) WithMaxRetries(n int) Policy {
	p.maxRetries = max(n, 0)
	return p
}

// WithTTL returns a copy with the time-to-live set.
func (p Policy) WithTTL(ttl time.Duration) Policy {
	p.ttl = ttl
	return p
}

// WithAggregator returns a copy naming an engine-registered aggregator.
func (p Policy) WithAggregator(name string) Policy {
	p.aggregator = name
	return p
}

// WithFlags returns a copy with flags added.
func (p Policy) WithFlags(flags ...Flag) Policy {
	for _, f := range flags {
		p.flags |= f
	}
	return p
}

// WithoutFlags returns a copy with flags cleared.
func (p Policy) WithoutFlags(flags ...Flag) Policy {
	for _, f := range flags {
		p.flags &^= f
	}
	return p
}

// String implements fmt.Stringer.
func (p Policy) String() string {
	return fmt.Sprintf("Policy{concurrency=%d retries=%d ttl=%s aggregator=%q flags=%s}",
		p.MaxConcurrency(), p.MaxRetries(), p.ttl, p.aggregator, p.flags)
}

// PolicyLookup returns the policy for an event type.
// It must be pure: the engine caches the first answer per type.
type PolicyLookup func(eventType string) Policy

// StaticPolicies returns a lookup backed by a fixed map, answering
// fallback for types not in it.
func StaticPolicies(fallback Policy, policies map[string]Policy) PolicyLookup {
	copied := make(map[string]Policy, len(policies))
	for k, v := range policies {
		copied[k] = v
	}
	return func(eventType string) Policy {
		if p, ok := copied[eventType]; ok {
			return p
		}
		return fallback
	}
}
