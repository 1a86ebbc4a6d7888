// Package ws streams circuit breaker state changes to WebSocket subscribers
// so operators see trips and recoveries as they happen, without polling the
// status endpoint.
package ws
