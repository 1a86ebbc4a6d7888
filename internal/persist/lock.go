package persist

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	lockSuffix   = ".lock"
	pollInterval = 10 * time.Millisecond
)

// Lock is an exclusive, cross-process lock scoped to one target file path.
// The lock lives on a sibling marker file, never on the target itself, so
// its existence can never corrupt the protected file. Exclusivity comes from
// an OS advisory lock on the marker's handle, not from the marker's mere
// existence (existence checks are not atomic across processes).
type Lock struct {
	path   string
	marker string
	file   *os.File
	holder string
}

// AcquireLock polls for an exclusive lock on path's marker until timeout.
// On timeout it returns a *LockTimeoutError; the caller must not proceed.
func AcquireLock(path string, timeout time.Duration) (*Lock, error) {
	marker := path + lockSuffix
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(marker, os.O_CREATE|os.O_RDWR, 0o644)
		if err == nil {
			// The flock alone is not enough: between our open and the flock,
			// the previous holder may have released and unlinked the marker,
			// leaving us with an exclusive lock on a dead inode while a fresh
			// contender recreates and locks the live one. Only a lock on the
			// inode still reachable at the marker path counts.
			if lockErr := flockExclusive(f); lockErr == nil && markerStillCurrent(f, marker) {
				holder := uuid.NewString()
				// Holder metadata is diagnostic only: operators clearing a
				// stale marker after a crash can see who held it last.
				f.Truncate(0)
				fmt.Fprintf(f, "%s pid=%d at=%s\n", holder, os.Getpid(), time.Now().UTC().Format(time.RFC3339))
				f.Sync()
				return &Lock{path: path, marker: marker, file: f, holder: holder}, nil
			}
			f.Close()
		}

		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Path: path, Timeout: timeout}
		}
		time.Sleep(pollInterval)
	}
}

// markerStillCurrent reports whether f still is the live marker at path.
// A handle that lost the unlink race points at a removed or replaced inode;
// holding its flock grants nothing, so acquisition must discard it and
// re-poll.
func markerStillCurrent(f *os.File, marker string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(marker)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

// Holder returns the unique id written into the marker by this acquisition.
func (l *Lock) Holder() string {
	return l.holder
}

// Release unlocks and removes the marker. A marker already removed by
// another process's cleanup is tolerated.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	flockUnlock(l.file)
	l.file.Close()
	l.file = nil

	if err := os.Remove(l.marker); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the exclusive lock for path. The lock is
// released on every exit path, including fn returning an error or panicking.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	lock, err := AcquireLock(path, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
