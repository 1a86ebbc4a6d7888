package persist

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

const (
	backupSuffix       = ".backup"
	tmpPattern         = ".mp-tmp-*"
	defaultLockTimeout = 10 * time.Second
)

// Write stages, in order. WriteResult.Stage names the one that failed.
const (
	StageLock    = "lock"
	StageBackup  = "backup"
	StageStage   = "stage"
	StageVerify  = "verify"
	StageRename  = "rename"
	StageRecheck = "recheck"
)

// WriteOptions controls one write.
type WriteOptions struct {
	// Verify runs the integrity check against the staged temp file before
	// the rename, and a size recheck after it.
	Verify bool
	// KeepBackup copies the current version aside before any mutation.
	KeepBackup bool
	// VersionedBackup keeps a timestamped gzip backup instead of
	// overwriting the plain one. Used by bulk migrations.
	VersionedBackup bool
	// Expect is the structural expectation checked when Verify is set.
	Expect *Expect
	// Mode is the file mode of the final file, 0644 when zero.
	Mode os.FileMode
	// LockTimeout bounds the wait for the exclusive lock.
	LockTimeout time.Duration
}

// DefaultWriteOptions verifies and keeps a plain backup.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{Verify: true, KeepBackup: true}
}

// WriteResult reports the outcome of one write.
type WriteResult struct {
	Success      bool   `json:"success"`
	BytesWritten int    `json:"bytes_written,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Error        string `json:"error,omitempty"`

	// LockWait is the time spent acquiring the exclusive lock.
	LockWait time.Duration `json:"-"`
	// Err carries the typed cause for errors.As at call sites.
	Err error `json:"-"`
}

func failure(stage string, err error) WriteResult {
	return WriteResult{Stage: stage, Error: err.Error(), Err: err}
}

// Writer lands payloads on disk atomically: lock, backup, staged temp file,
// fsync, verify, rename, recheck. Concurrent writers to one path serialize
// on the lock; readers are never blocked and always see a complete file.
type Writer struct {
	verifier *Verifier
	records  *Records
	log      *logging.Logger
	observe  func(WriteResult)
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithObserver installs a callback invoked after every write, for metrics.
func WithObserver(fn func(WriteResult)) WriterOption {
	return func(w *Writer) { w.observe = fn }
}

// NewWriter creates a writer. records may be nil when drift detection is not
// wanted.
func NewWriter(verifier *Verifier, records *Records, log *logging.Logger, opts ...WriterOption) *Writer {
	w := &Writer{verifier: verifier, records: records, log: log}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write lands payload at path under the options' guarantees. It never
// returns with a partial file at path: any failure after the backup stage
// rolls the prior version back into place.
func (w *Writer) Write(path string, payload []byte, opts WriteOptions) WriteResult {
	res := w.write(path, payload, opts)
	if w.observe != nil {
		w.observe(res)
	}
	if !res.Success {
		w.log.Warn("atomic write failed",
			zap.String("path", path),
			zap.String("stage", res.Stage),
			zap.String("error", res.Error),
		)
	}
	return res
}

func (w *Writer) write(path string, payload []byte, opts WriteOptions) (res WriteResult) {
	mode := opts.Mode
	if mode == 0 {
		mode = 0o644
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	lockStart := time.Now()
	lock, err := AcquireLock(path, lockTimeout)
	lockWait := time.Since(lockStart)
	defer func() { res.LockWait = lockWait }()
	if err != nil {
		return failure(StageLock, err)
	}
	defer lock.Release()

	// Backup the prior version before touching anything.
	backupPath := ""
	if opts.KeepBackup {
		if _, statErr := os.Stat(path); statErr == nil {
			backupPath, err = w.backup(path, opts.VersionedBackup)
			if err != nil {
				return failure(StageBackup, err)
			}
		}
	}

	// Stage the payload in a sibling temp file. Same directory keeps the
	// final rename on one filesystem, which is what makes it atomic.
	tmpPath, err := stage(path, payload, mode)
	if err != nil {
		return failure(StageStage, err)
	}

	if opts.Verify {
		expect := Expect{}
		if opts.Expect != nil {
			expect = *opts.Expect
		}
		if err := w.verifier.Verify(tmpPath, expect); err != nil {
			os.Remove(tmpPath)
			return failure(StageVerify, err)
		}
	}

	// The rename is the single state change concurrent readers can observe.
	if err := renameAndSync(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return failure(StageRename, err)
	}

	// Recheck the landed file; a failure here means something outside the
	// lock interfered, so restore the backup.
	if opts.Verify {
		if err := w.verifier.Verify(path, Expect{MinSize: int64(len(payload))}); err != nil {
			if backupPath != "" && !opts.VersionedBackup {
				if rbErr := restore(backupPath, path); rbErr != nil {
					w.log.Error("rollback after recheck failed",
						zap.String("path", path), zap.Error(rbErr))
				}
			}
			return failure(StageRecheck, err)
		}
	}

	if w.records != nil {
		hash, hashErr := w.verifier.HashBytes(payload)
		if hashErr == nil {
			err := w.records.Put(path, Record{
				Hash:      hash,
				Backup:    backupPath,
				Size:      int64(len(payload)),
				WrittenAt: time.Now().UTC(),
			})
			if err != nil {
				// The write itself landed; a stale drift baseline only
				// degrades corruption detection, so surface it loudly but
				// do not fail the write.
				w.log.Warn("failed to persist integrity record",
					zap.String("path", path),
					zap.Error(err),
				)
			}
		}
	}

	return WriteResult{Success: true, BytesWritten: len(payload)}
}

// backup copies the current content of path aside and returns the backup
// path. Versioned backups are gzip-compressed and timestamped; the plain
// backup is a byte copy overwritten on each write.
func (w *Writer) backup(path string, versioned bool) (string, error) {
	if !versioned {
		dst := path + backupSuffix
		if err := copyFile(path, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	// Compress in memory and land through the staged rename, so a failure
	// mid-compression never leaves a truncated .gz at the backup path.
	dst := fmt.Sprintf("%s%s-%s.gz", path, backupSuffix, time.Now().UTC().Format("20060102T150405Z"))
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup open: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, src); err != nil {
		return "", fmt.Errorf("backup compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("backup flush: %w", err)
	}
	if err := stageAndRename(dst, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("backup land: %w", err)
	}
	return dst, nil
}

// stage writes payload to a sibling temp file, fully fsynced.
func stage(path string, payload []byte, mode os.FileMode) (string, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return "", fmt.Errorf("stage create: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(payload); err != nil {
		return "", fmt.Errorf("stage write: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return "", fmt.Errorf("stage chmod: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("stage fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("stage close: %w", err)
	}

	ok = true
	return tmpPath, nil
}

// stageAndRename is the minimal atomic landing used by internal state files
// (the record store) that need the rename discipline without lock or verify.
func stageAndRename(path string, payload []byte, mode os.FileMode) error {
	tmpPath, err := stage(path, payload, mode)
	if err != nil {
		return err
	}
	if err := renameAndSync(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// renameAndSync renames and fsyncs the parent so the rename itself survives
// a crash.
func renameAndSync(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return fsyncDir(filepath.Dir(newPath))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("fsync dir open: %w", err)
	}
	defer d.Close()
	return d.Sync()
}

// restore lands the content of src onto dst through a staged temp file and
// rename, never a plain overwrite.
func restore(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("restore read: %w", err)
	}
	return stageAndRename(dst, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy open: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("copy create: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return out.Sync()
}
