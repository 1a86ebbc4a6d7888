package resilience

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when a breaker rejects a call without executing
// it. It is a distinct error kind so callers can tell "service down" apart
// from an operation that ran and failed. The retrier never retries it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ExhaustedError is returned when every retry attempt has failed. It wraps
// the last underlying failure for diagnostics.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
