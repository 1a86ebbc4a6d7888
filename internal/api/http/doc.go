// Package http implements the ops surface handlers: breaker status and
// resets, storage integrity status, on-demand corruption checks, and manual
// sweeps. It carries no pipeline logic; everything it does is a thin view
// over the resilience and persist packages.
package http
