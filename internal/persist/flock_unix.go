//go:build unix

package persist

import (
	"errors"
	"os"
	"syscall"
)

var errWouldBlock = errors.New("lock held by another process")

// flockExclusive takes a non-blocking exclusive advisory lock via flock(2).
// The lock is released on close or process exit, so a crashed holder can
// never wedge the file forever.
func flockExclusive(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return errWouldBlock
		}
		return err
	}
	return nil
}

func flockUnlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
