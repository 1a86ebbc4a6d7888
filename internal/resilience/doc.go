/*
Package resilience protects calls to unreliable upstream services with circuit
breaking and bounded retries.

# Overview

Every market-data feed the pipeline talks to fails in its own way: rate limits,
maintenance windows, slow responses, hard outages. This package wraps those
calls in a per-resource circuit breaker and a retry handler with exponential
backoff, so one flaky feed cannot cascade into the rest of a pipeline run.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open) per resource name
- Health metrics per breaker (success rate, availability tier, latency samples)
- Exponential backoff with jitter, circuit-aware (an open circuit is never retried)
- Manager composing breaker + retrier behind a single Execute entry point
- Per-resource policies loadable from YAML or TOML files
- Status snapshots for dashboards and operational reset

# Usage

	mgr := resilience.NewManager(
		resilience.WithDefaults(resilience.DefaultBreakerConfig()),
	)

	result, err := mgr.Execute("yahoo-quotes", func() (any, error) {
		return client.FetchQuotes()
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// feed is down, skip it this cycle
	}

# Pattern

The breaker transitions on recorded outcomes:

	Closed --[failures >= threshold]-> Open --[recovery timeout]-> Half-Open
	Half-Open --[successes >= threshold]-> Closed
	Half-Open --[any failure]-> Open
*/
package resilience
