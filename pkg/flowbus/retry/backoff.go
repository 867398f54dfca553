// Package retry computes the pause between broadcast retry rounds.
//
// A broadcast that finds some handlers busy re-visits only those handlers
// in later rounds. Backoff spaces the rounds out with a jittered
// exponential delay so a saturated handler type is not spun on.
package retry

import (
	"context"
	"math/rand/v2"
	"runtime"
	"time"
)

// Backoff configures the delay between retry rounds.
type Backoff struct {
	// Initial is the delay before the first retry round.
	Initial time.Duration

	// Max caps the delay.
	Max time.Duration

	// Factor is the multiplier applied after each round.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultBackoff keeps rounds short: handlers usually free up within
// microseconds to milliseconds.
var DefaultBackoff = Backoff{
	Initial: 100 * time.Microsecond,
	Max:     10 * time.Millisecond,
	Factor:  2.0,
	Jitter:  0.1,
}

// NoBackoff retries immediately, yielding the processor between rounds.
var NoBackoff = Backoff{}

// Delay returns the pause before the given retry round (1-based).
func (b Backoff) Delay(round int) time.Duration {
	if b.Initial <= 0 || round < 1 {
		return 0
	}

	delay := float64(b.Initial)
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < round; i++ {
		delay *= factor
		if b.Max > 0 && delay >= float64(b.Max) {
			delay = float64(b.Max)
			break
		}
	}

	d := calculateBackoff(time.Duration(delay), b.Jitter)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Wait blocks for the delay of the given round or until ctx is done.
// A zero delay yields the processor instead of sleeping.
func (b Backoff) Wait(ctx context.Context, round int) error {
	d := b.Delay(round)
	if d <= 0 {
		runtime.Gosched()
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithInitial sets the delay before the first retry round.
func WithInitial(d time.Duration) Option {
	return func(b *Backoff) {
		b.Initial = d
	}
}

// WithMax sets the maximum delay.
func WithMax(d time.Duration) Option {
	return func(b *Backoff) {
		b.Max = d
	}
}

// WithFactor sets the backoff multiplier.
func WithFactor(f float64) Option {
	return func(b *Backoff) {
		b.Factor = f
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) Option {
	return func(b *Backoff) {
		b.Jitter = j
	}
}

// New creates a backoff from DefaultBackoff with the given options applied.
func New(opts ...Option) Backoff {
	b := DefaultBackoff
	for _, opt := range opts {
		opt(&b)
	}
	return b
}
