package persist

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

// Recovery detects corrupted dataset files and restores them from their last
// known-good backup. It never fabricates data: when no valid backup exists,
// the corruption is fatal for that file.
type Recovery struct {
	verifier *Verifier
	records  *Records
	log      *logging.Logger
	onResult func(recovered bool)
}

// NewRecovery creates a recovery manager over the shared record store.
func NewRecovery(verifier *Verifier, records *Records, log *logging.Logger) *Recovery {
	return &Recovery{verifier: verifier, records: records, log: log}
}

// OnResult installs a callback invoked once per recovery attempt, for
// metrics. Healthy files do not trigger it.
func (r *Recovery) OnResult(fn func(recovered bool)) {
	r.onResult = fn
}

// CheckAndRecover classifies the state of path against its integrity record
// and restores from backup when corrupted. It returns true only when a
// recovery actually happened; a healthy file is left byte-for-byte unchanged.
//
// Files without a record are not managed by this layer and report healthy.
func (r *Recovery) CheckAndRecover(path string) (bool, error) {
	recovered, err := r.checkAndRecover(path)
	if r.onResult != nil && (recovered || err != nil) {
		r.onResult(recovered)
	}
	return recovered, err
}

func (r *Recovery) checkAndRecover(path string) (bool, error) {
	rec, ok := r.records.Get(path)
	if !ok {
		return false, nil
	}

	reason := r.classify(path, rec)
	if reason == "" {
		return false, nil
	}

	// Diagnostic context for root-cause analysis. Advisory only.
	var observed int64
	if info, err := os.Stat(path); err == nil {
		observed = info.Size()
	}
	r.log.Warn("corruption detected",
		zap.String("path", path),
		zap.String("reason", reason),
		zap.Int64("expected_size", rec.Size),
		zap.Int64("observed_size", observed),
		zap.Duration("since_last_good_write", time.Since(rec.WrittenAt)),
	)

	if rec.Backup == "" {
		return false, &CorruptionError{Path: path, Reason: reason + "; no backup recorded"}
	}
	if _, err := os.Stat(rec.Backup); err != nil {
		return false, &CorruptionError{Path: path, Reason: reason + "; backup missing"}
	}

	backupData, err := readBackup(rec.Backup)
	if err != nil {
		return false, &CorruptionError{Path: path, Reason: fmt.Sprintf("%s; backup unreadable: %v", reason, err)}
	}
	if len(backupData) == 0 {
		return false, &CorruptionError{Path: path, Reason: reason + "; backup is empty"}
	}

	// Restore through the same staged-rename discipline as a normal write.
	if err := stageAndRename(path, backupData, 0o644); err != nil {
		return false, &CorruptionError{Path: path, Reason: fmt.Sprintf("%s; restore failed: %v", reason, err)}
	}

	// Re-verify: the restored file must match the backup's own content.
	restoredHash, err := r.verifier.Hash(path)
	if err != nil {
		return false, &CorruptionError{Path: path, Reason: fmt.Sprintf("%s; restored file unreadable: %v", reason, err)}
	}
	backupHash, err := r.verifier.HashBytes(backupData)
	if err != nil {
		return false, err
	}
	if restoredHash != backupHash {
		return false, &CorruptionError{Path: path, Reason: reason + "; restored content does not match backup"}
	}

	// The restored version becomes the new baseline.
	putErr := r.records.Put(path, Record{
		Hash:      restoredHash,
		Backup:    rec.Backup,
		Size:      int64(len(backupData)),
		WrittenAt: time.Now().UTC(),
	})
	if putErr != nil {
		r.log.Warn("failed to persist integrity record after recovery",
			zap.String("path", path),
			zap.Error(putErr),
		)
	}

	r.log.Info("recovered from backup",
		zap.String("path", path),
		zap.String("backup", rec.Backup),
		zap.Int("bytes", len(backupData)),
	)
	return true, nil
}

// classify returns a non-empty reason when path is corrupted relative to its
// record: missing, below the size floor, or hash drift.
func (r *Recovery) classify(path string, rec Record) string {
	info, err := os.Stat(path)
	if err != nil {
		return "file missing"
	}
	if info.Size() < r.verifier.minSize {
		return fmt.Sprintf("size %d below floor %d", info.Size(), r.verifier.minSize)
	}
	hash, err := r.verifier.Hash(path)
	if err != nil {
		return fmt.Sprintf("unreadable: %v", err)
	}
	if hash != rec.Hash {
		return "content hash mismatch"
	}
	return ""
}

// readBackup reads a backup file, transparently decompressing the
// timestamped gzip variants.
func readBackup(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	}
	return io.ReadAll(f)
}
