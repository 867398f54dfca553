/*
Package config provides typed access to engine configuration held in
map[string]any, plus YAML and JSON file loading.

# Overview

Accessors never fail: a missing key or a value of the wrong type yields the
supplied default. This keeps configuration-driven engine setup free of
type assertions:

	cfg, err := config.FromFile("flowbus.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	workers := cfg.Int("workers", runtime.NumCPU())
	backoff := cfg.Section("retry_backoff").Duration("initial", 100*time.Microsecond)

# Sections

Nested maps are addressed with Section, which returns an empty Config when
the key is missing, so chains stay safe:

	ttl := cfg.Section("policies").Section("order.created").Duration("ttl", 0)

# Type Coercion

Duration accepts a time.ParseDuration string ("250ms", "1m30s"), a
time.Duration, or a number interpreted as seconds. Int accepts int, int64
and integral float64 values (JSON numbers decode as float64).

# Environment Expansion

FromFile expands $VAR and ${VAR} references in the file before parsing.
*/
package config
