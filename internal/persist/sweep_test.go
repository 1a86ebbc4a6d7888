package persist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
)

func TestSweepRecoversCorruptedFiles(t *testing.T) {
	dir := t.TempDir()
	verifier := NewVerifier()
	records, err := LoadRecords(filepath.Join(dir, "integrity.json"))
	require.NoError(t, err)
	writer := NewWriter(verifier, records, logging.NewNop())
	recovery := NewRecovery(verifier, records, logging.NewNop())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "quotes"), 0o755))
	good := []byte("date,close\n" + strings.Repeat("2026-08-24,229.1\n", 200))

	healthy := filepath.Join(dir, "quotes", "aapl.csv")
	corrupt := filepath.Join(dir, "quotes", "msft.csv")
	for _, p := range []string{healthy, corrupt} {
		require.True(t, writer.Write(p, good, DefaultWriteOptions()).Success)
		require.True(t, writer.Write(p, good, DefaultWriteOptions()).Success)
	}
	require.NoError(t, os.WriteFile(corrupt, []byte("x"), 0o644))

	var reports []SweepReport
	sweep := NewSweep(dir, []string{"**/*.csv"}, time.Minute, recovery, logging.NewNop())
	sweep.OnReport(func(r SweepReport) { reports = append(reports, r) })

	report := sweep.Once()

	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 0, report.Corrupted)
	require.Len(t, reports, 1)

	restored, _ := os.ReadFile(corrupt)
	assert.Equal(t, good, restored)

	assert.Equal(t, report, sweep.Last())
}

func TestSweepCountsUnrecoverable(t *testing.T) {
	dir := t.TempDir()
	verifier := NewVerifier()
	records, err := LoadRecords(filepath.Join(dir, "integrity.json"))
	require.NoError(t, err)
	writer := NewWriter(verifier, records, logging.NewNop())
	recovery := NewRecovery(verifier, records, logging.NewNop())

	// First write only: no backup, so corruption is fatal.
	path := filepath.Join(dir, "fred.csv")
	require.True(t, writer.Write(path, []byte("date,value\n2026-08-25,5.3\n"), DefaultWriteOptions()).Success)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	sweep := NewSweep(dir, []string{"*.csv"}, time.Minute, recovery, logging.NewNop())
	report := sweep.Once()

	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Recovered)
	assert.Equal(t, 1, report.Corrupted)
}

func TestSweepSkipsOwnArtifacts(t *testing.T) {
	dir := t.TempDir()
	verifier := NewVerifier()
	records, err := LoadRecords(filepath.Join(dir, "records.json"))
	require.NoError(t, err)
	recovery := NewRecovery(verifier, records, logging.NewNop())

	// Markers, temps, and backups must never be swept as datasets.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quotes.csv.lock"), []byte("h"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quotes.csv.backup"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".mp-tmp-123"), []byte("tmp"), 0o644))

	sweep := NewSweep(dir, []string{"**/*"}, time.Minute, recovery, logging.NewNop())
	report := sweep.Once()

	assert.Zero(t, report.Checked)
}

func TestSweepPatternSelection(t *testing.T) {
	dir := t.TempDir()
	verifier := NewVerifier()
	records, err := LoadRecords(filepath.Join(dir, "integrity.json"))
	require.NoError(t, err)
	writer := NewWriter(verifier, records, logging.NewNop())
	recovery := NewRecovery(verifier, records, logging.NewNop())

	csv := filepath.Join(dir, "a.csv")
	txt := filepath.Join(dir, "b.txt")
	require.True(t, writer.Write(csv, []byte("date,close\n2026-08-25,1.0\n"), DefaultWriteOptions()).Success)
	require.True(t, writer.Write(txt, []byte("notes\n"), DefaultWriteOptions()).Success)

	sweep := NewSweep(dir, []string{"**/*.csv"}, time.Minute, recovery, logging.NewNop())
	report := sweep.Once()

	assert.Equal(t, 1, report.Checked, "only csv files match the pattern")
}
