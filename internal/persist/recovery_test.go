package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

func newRecoverySetup(t *testing.T) (string, *Writer, *Recovery, *Records) {
	t.Helper()
	dir := t.TempDir()
	verifier := NewVerifier()
	records, err := LoadRecords(filepath.Join(dir, "integrity.json"))
	require.NoError(t, err)
	writer := NewWriter(verifier, records, logging.NewNop())
	recovery := NewRecovery(verifier, records, logging.NewNop())
	return dir, writer, recovery, records
}

func TestRecoveryHealthyFileIsNoOp(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")
	payload := []byte("date,close\n2026-08-25,231.5\n")

	require.True(t, w.Write(path, payload, DefaultWriteOptions()).Success)
	require.True(t, w.Write(path, payload, DefaultWriteOptions()).Success) // creates a backup
	before, _ := os.ReadFile(path)

	recovered, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.False(t, recovered)

	after, _ := os.ReadFile(path)
	assert.Equal(t, before, after, "healthy file left byte-for-byte unchanged")
}

func TestRecoveryUnmanagedFileIsHealthy(t *testing.T) {
	dir, _, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "outside.csv")
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))

	recovered, err := r.CheckAndRecover(path)
	assert.NoError(t, err)
	assert.False(t, recovered)
}

func TestRecoveryRestoresTruncatedFile(t *testing.T) {
	dir, w, r, records := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	// A large known-good version, then an update so a backup exists.
	good := []byte("date,close\n" + strings.Repeat("2026-08-24,229.1\n", 3000))
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	updated := []byte("date,close\n" + strings.Repeat("2026-08-25,231.5\n", 3000))
	require.True(t, w.Write(path, updated, DefaultWriteOptions()).Success)

	// An external process truncates the target to one byte.
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	recovered, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.True(t, recovered)

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, good, restored, "restored content matches the backup")

	rec, ok := records.Get(path)
	require.True(t, ok)
	v := NewVerifier()
	hash, _ := v.HashBytes(good)
	assert.Equal(t, hash, rec.Hash, "restored version becomes the new baseline")
}

func TestRecoveryDetectsHashDrift(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	good := []byte("date,close\n2026-08-24,229.1\n")
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)

	// Same size, different content: only the hash catches this.
	drifted := []byte("date,close\n2026-08-24,999.9\n")
	require.Equal(t, len(good), len(drifted))
	require.NoError(t, os.WriteFile(path, drifted, 0o644))

	recovered, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.True(t, recovered)

	restored, _ := os.ReadFile(path)
	assert.Equal(t, good, restored)
}

func TestRecoveryRestoresMissingFile(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	good := []byte("date,close\n2026-08-24,229.1\n")
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	require.NoError(t, os.Remove(path))

	recovered, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.FileExists(t, path)
}

func TestRecoveryWithoutBackupIsFatal(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	// First write has no prior version, so no backup exists.
	require.True(t, w.Write(path, []byte("date,close\n2026-08-25,231.5\n"), DefaultWriteOptions()).Success)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	recovered, err := r.CheckAndRecover(path)
	assert.False(t, recovered)
	require.Error(t, err)
	var corruption *CorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Contains(t, corruption.Reason, "no backup")
}

func TestRecoveryWithMissingBackupIsFatal(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	good := []byte("date,close\n2026-08-24,229.1\n")
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)

	require.NoError(t, os.Remove(path+backupSuffix))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := r.CheckAndRecover(path)
	var corruption *CorruptionError
	require.ErrorAs(t, err, &corruption)
	assert.Contains(t, corruption.Reason, "backup missing")
}

func TestRecoveryFromGzipBackup(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	good := []byte("date,close\n" + strings.Repeat("2026-08-24,229.1\n", 100))
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	res := w.Write(path, good, WriteOptions{Verify: true, KeepBackup: true, VersionedBackup: true})
	require.True(t, res.Success)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	recovered, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.True(t, recovered)

	restored, _ := os.ReadFile(path)
	assert.Equal(t, good, restored, "gzip backup decompressed on restore")
}

func TestRecoveryIdempotent(t *testing.T) {
	dir, w, r, _ := newRecoverySetup(t)
	path := filepath.Join(dir, "quotes.csv")

	good := []byte("date,close\n2026-08-24,229.1\n")
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	require.True(t, w.Write(path, good, DefaultWriteOptions()).Success)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	first, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := r.CheckAndRecover(path)
	require.NoError(t, err)
	assert.False(t, second, "second check on the recovered file is a no-op")
}
