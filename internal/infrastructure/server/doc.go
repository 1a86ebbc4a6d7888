// Package server assembles the HTTP ops surface: Gin router, middleware
// chain (recovery, metrics, CORS, rate limiting), route registration, and
// graceful shutdown.
package server
