// Package config provides 12-factor configuration management for the
// marketpipe backend.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - Storage: Data directory, integrity records, sweep schedule
//   - Resilience: Breaker/retry defaults and the per-resource policy file
//   - RateLimit: Per-IP rate limiting for the ops surface
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - LOG_LEVEL, LOG_DEV
//   - DATA_DIR, RECORDS_FILE, SWEEP_INTERVAL, SWEEP_PATTERNS, LOCK_TIMEOUT
//   - RESILIENCE_POLICY_FILE, BREAKER_*, RETRY_*
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
