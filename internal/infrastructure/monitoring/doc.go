/*
Package monitoring provides Prometheus metrics for the resilience layer.

# Overview

This package collects metrics from both halves of the resilience layer: the
circuit breakers protecting upstream feeds, and the atomic write/recovery
path protecting local datasets, plus HTTP metrics for the ops surface.

# Features

- Breaker state gauge and trip counter per resource
- Upstream call duration and outcome counters
- Atomic write outcomes, bytes landed, lock wait times
- Corruption recovery and integrity sweep gauges
- HTTP request metrics with Gin middleware

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

	metrics.RecordCall("yahoo-quotes", "success", elapsed)
	metrics.RecordWrite(res.Success, res.BytesWritten)
*/
package monitoring
