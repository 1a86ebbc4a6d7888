// Package middleware provides Gin middleware for the ops surface: CORS and
// per-IP rate limiting.
package middleware
