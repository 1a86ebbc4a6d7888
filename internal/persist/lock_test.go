package persist

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")

	lock, err := AcquireLock(path, time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, lock.Holder())
	assert.FileExists(t, path+lockSuffix)

	require.NoError(t, lock.Release())
	assert.NoFileExists(t, path+lockSuffix)
}

func TestLockMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")

	first, err := AcquireLock(path, time.Second)
	require.NoError(t, err)

	// The second caller must time out while the first holds the lock.
	_, err = AcquireLock(path, 50*time.Millisecond)
	require.Error(t, err)
	var timeout *LockTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, path, timeout.Path)

	require.NoError(t, first.Release())

	// And succeed once it is released.
	second, err := AcquireLock(path, time.Second)
	require.NoError(t, err)
	second.Release()
}

func TestLockNeverHeldByTwoCallers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")

	var mu sync.Mutex
	holders := 0
	maxHolders := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(path, 5*time.Second, func() error {
				mu.Lock()
				holders++
				if holders > maxHolders {
					maxHolders = holders
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders, "at most one holder at any instant")
}

func TestStaleMarkerHandleGrantsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")
	marker := path + lockSuffix

	holder, err := AcquireLock(path, time.Second)
	require.NoError(t, err)

	// A contender opens the marker while it is still held, then loses the
	// race: the holder releases and unlinks the inode before the contender's
	// flock lands.
	stale, err := os.OpenFile(marker, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer stale.Close()
	require.NoError(t, holder.Release())

	// The OS grants an exclusive flock on the dead inode, but it is not the
	// marker anymore; acquisition must not treat it as the lock.
	require.NoError(t, flockExclusive(stale))
	assert.False(t, markerStillCurrent(stale, marker), "a lock on an unlinked inode must be discarded")

	// A fresh acquisition succeeds on the recreated marker and is the only
	// holder the validation accepts.
	fresh, err := AcquireLock(path, time.Second)
	require.NoError(t, err)
	assert.True(t, markerStillCurrent(fresh.file, marker))
	require.NoError(t, fresh.Release())
}

func TestMarkerValidationRejectsReplacedInode(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "prices.csv"+lockSuffix)

	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	f, err := os.Open(marker)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, markerStillCurrent(f, marker))

	// Unlink and recreate: same path, different inode.
	require.NoError(t, os.Remove(marker))
	assert.False(t, markerStillCurrent(f, marker))
	require.NoError(t, os.WriteFile(marker, nil, 0o644))
	assert.False(t, markerStillCurrent(f, marker))
}

func TestWithLockReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")

	cause := errors.New("writer failed")
	err := WithLock(path, time.Second, func() error { return cause })
	assert.ErrorIs(t, err, cause)
	assert.NoFileExists(t, path+lockSuffix, "marker removed on the error path")

	// Path is lockable again.
	lock, err := AcquireLock(path, time.Second)
	require.NoError(t, err)
	lock.Release()
}

func TestReleaseToleratesMissingMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.csv")

	lock, err := AcquireLock(path, time.Second)
	require.NoError(t, err)

	// Another process's cleanup already removed the marker.
	require.NoError(t, os.Remove(path + lockSuffix))
	assert.NoError(t, lock.Release())
}

func TestLockDoesNotTouchTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte("date,close\n2026-08-25,1.0\n"), 0o644))
	before, _ := os.ReadFile(path)

	lock, err := AcquireLock(path, time.Second)
	require.NoError(t, err)
	lock.Release()

	after, _ := os.ReadFile(path)
	assert.Equal(t, before, after, "the lock lives on a sibling marker, never the target")
}
