package persist

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

// SweepReport summarizes one proactive integrity pass.
type SweepReport struct {
	Checked     int       `json:"checked"`
	Recovered   int       `json:"recovered"`
	Corrupted   int       `json:"corrupted"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec float64   `json:"duration_seconds"`
}

// Sweep periodically walks the data directory and runs corruption checks on
// every file matching the configured glob patterns. Recovery happens inline;
// unrecoverable files are logged and counted, never deleted.
type Sweep struct {
	root     string
	patterns []string
	interval time.Duration
	recovery *Recovery
	log      *logging.Logger
	onReport func(SweepReport)

	mu   sync.RWMutex
	last SweepReport
}

// NewSweep creates a sweeper over root. Patterns are doublestar globs
// relative to root, e.g. "**/*.csv".
func NewSweep(root string, patterns []string, interval time.Duration, recovery *Recovery, log *logging.Logger) *Sweep {
	return &Sweep{
		root:     root,
		patterns: patterns,
		interval: interval,
		recovery: recovery,
		log:      log,
	}
}

// OnReport installs a callback invoked after every pass, for metrics.
func (s *Sweep) OnReport(fn func(SweepReport)) {
	s.onReport = fn
}

// Run sweeps at the configured interval until ctx is cancelled.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Once()
		}
	}
}

// Once performs a single pass and returns its report.
func (s *Sweep) Once() SweepReport {
	report := SweepReport{StartedAt: time.Now().UTC()}

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !s.matches(path) {
			return nil
		}

		report.Checked++
		recovered, checkErr := s.recovery.CheckAndRecover(path)
		if recovered {
			report.Recovered++
		}
		var corruption *CorruptionError
		if errors.As(checkErr, &corruption) {
			report.Corrupted++
			s.log.Error("sweep found unrecoverable file",
				zap.String("path", path),
				zap.String("reason", corruption.Reason),
			)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("sweep walk failed", zap.String("root", s.root), zap.Error(err))
	}

	report.DurationSec = time.Since(report.StartedAt).Seconds()

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if s.onReport != nil {
		s.onReport(report)
	}
	s.log.Debug("integrity sweep complete",
		zap.Int("checked", report.Checked),
		zap.Int("recovered", report.Recovered),
		zap.Int("corrupted", report.Corrupted),
	)
	return report
}

// Last returns the most recent report, for the storage status endpoint.
func (s *Sweep) Last() SweepReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Sweep) matches(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	// Never touch the layer's own markers, temps, and backups.
	base := filepath.Base(rel)
	if strings.HasSuffix(base, lockSuffix) || strings.Contains(base, backupSuffix) || strings.HasPrefix(base, ".mp-tmp-") {
		return false
	}

	for _, pattern := range s.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
