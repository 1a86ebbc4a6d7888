package persist

import (
	"fmt"
	"time"
)

// LockTimeoutError is returned when the exclusive lock was not acquired
// within the timeout. The write is never attempted.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock acquisition failed for %s after %s", e.Path, e.Timeout)
}

// IntegrityError is returned when verification failed on a written or
// recovered file.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %s", e.Path, e.Reason)
}

// CorruptionError is returned when a file is corrupted and no valid backup
// exists. The file is permanently unavailable until manually remediated;
// this layer never fabricates data.
type CorruptionError struct {
	Path   string
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("unrecoverable corruption on %s: %s", e.Path, e.Reason)
}
