package flowbus

import (
	"fmt"

	"github.com/randalmurphal/flowbus/pkg/flowbus/config"
	"github.com/randalmurphal/flowbus/pkg/flowbus/retry"
)

// EngineOptionsFromConfig reads engine settings:
//
//	workers: 8
//	queue_size: 4096
//	retry_backoff:
//	  initial: 100us
//	  max: 10ms
//	  factor: 2
//	  jitter: 0.1
//	default:            # policy for unlisted event types
//	  max_concurrency: 4
//	policies:
//	  order.created:
//	    max_retries: 3
//	    ttl: 500ms
//	    aggregator: and
//	    flags: [multi_dispatch, multi_dispatch_aggregated]
//
// Missing keys keep the engine defaults.
func EngineOptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option

	if cfg.Has("workers") {
		opts = append(opts, WithWorkers(cfg.Int("workers", 0)))
	}
	if cfg.Has("queue_size") {
		opts = append(opts, WithQueueSize(cfg.Int("queue_size", 0)))
	}

	if cfg.Has("retry_backoff") {
		s := cfg.Section("retry_backoff")
		d := retry.DefaultBackoff
		opts = append(opts, WithRoundBackoff(retry.New(
			retry.WithInitial(s.Duration("initial", d.Initial)),
			retry.WithMax(s.Duration("max", d.Max)),
			retry.WithFactor(s.Float("factor", d.Factor)),
			retry.WithJitter(s.Float("jitter", d.Jitter)),
		)))
	}

	if cfg.Has("default") || cfg.Has("policies") {
		lookup, err := PoliciesFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPolicyLookup(lookup))
	}

	return opts, nil
}

// PoliciesFromConfig builds a lookup from the "default" and "policies"
// sections. Per-type sections start from the default policy.
func PoliciesFromConfig(cfg config.Config) (PolicyLookup, error) {
	fallback, err := PolicyFromConfig(DefaultPolicy(), cfg.Section("default"))
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	section := cfg.Section("policies")
	policies := make(map[string]Policy, len(section.Keys()))
	for _, eventType := range section.Keys() {
		p, err := PolicyFromConfig(fallback, section.Section(eventType))
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", eventType, err)
		}
		policies[eventType] = p
	}

	return StaticPolicies(fallback, policies), nil
}

// PolicyFromConfig applies the keys present in cfg to base.
func PolicyFromConfig(base Policy, cfg config.Config) (Policy, error) {
	p := base
	if cfg.Has("max_concurrency") {
		p = p.WithMaxConcurrency(cfg.Int("max_concurrency", p.MaxConcurrency()))
	}
	if cfg.Has("max_retries") {
		p = p.WithMaxRetries(cfg.Int("max_retries", p.MaxRetries()))
	}
	if cfg.Has("ttl") {
		p = p.WithTTL(cfg.Duration("ttl", p.TTL()))
	}
	if cfg.Has("aggregator") {
		p = p.WithAggregator(cfg.String("aggregator", p.Aggregator()))
	}
	if cfg.Has("flags") {
		var flags Flag
		for _, name := range cfg.StringSlice("flags", nil) {
			f, err := ParseFlag(name)
			if err != nil {
				return Policy{}, err
			}
			flags |= f
		}
		p = p.WithoutFlags(p.Flags()).WithFlags(flags)
	}
	return p, nil
}
