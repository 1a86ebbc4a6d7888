package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/quantfold/marketpipe/internal/persist"
)

// Table is a tabular dataset with a fixed column contract.
type Table struct {
	Columns []string
	Rows    [][]string
}

// headerLine renders the column row exactly as CSV emits it, quoting
// included, so write verification compares against the encoder's output
// rather than a naive join.
func (t *Table) headerLine() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Columns); err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// CSV renders the table with a header line.
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("row %d has %d fields, want %d", i, len(row), len(t.Columns))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Store writes datasets under one root directory through the persist layer.
type Store struct {
	root   string
	writer *persist.Writer
}

// NewStore creates a store rooted at root, creating the directory if needed.
func NewStore(root string, writer *persist.Writer) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{root: root, writer: writer}, nil
}

// Path resolves a dataset name to its path under the store root.
func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

// prepare resolves name and creates its parent directory, so nested dataset
// names like "quotes/aapl.csv" work on first write.
func (s *Store) prepare(name string) (string, error) {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dataset dir: %w", err)
	}
	return path, nil
}

// Land writes a raw payload under the default guarantees (verify + plain
// backup). Used by pipeline stages that hand over pre-serialized artifacts.
func (s *Store) Land(name string, payload []byte) persist.WriteResult {
	path, err := s.prepare(name)
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}
	return s.writer.Write(path, payload, persist.DefaultWriteOptions())
}

// WriteTable lands a table as CSV. Verification checks the exact header and
// spot-checks the field count, so a truncated or column-drifted file never
// replaces a good one.
func (s *Store) WriteTable(name string, table *Table) persist.WriteResult {
	payload, err := table.CSV()
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}
	header, err := table.headerLine()
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}
	path, err := s.prepare(name)
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}

	return s.writer.Write(path, payload, persist.WriteOptions{
		Verify:     true,
		KeepBackup: true,
		Expect: &persist.Expect{
			Header:     header,
			FieldCount: len(table.Columns),
		},
	})
}

// WriteSnapshot lands a document artifact as indented JSON.
func (s *Store) WriteSnapshot(name string, doc any) persist.WriteResult {
	payload, err := sonic.MarshalIndent(doc, "", "  ")
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}
	path, err := s.prepare(name)
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}

	return s.writer.Write(path, payload, persist.WriteOptions{
		Verify:     true,
		KeepBackup: true,
		Expect:     &persist.Expect{MIME: "application/json", MinSize: 2},
	})
}

// Migrate rewrites a dataset keeping a timestamped gzip backup of the prior
// version, for bulk format migrations where the plain backup would be
// clobbered by the next regular write.
func (s *Store) Migrate(name string, payload []byte, expect *persist.Expect) persist.WriteResult {
	path, err := s.prepare(name)
	if err != nil {
		return persist.WriteResult{Error: err.Error(), Err: err}
	}
	return s.writer.Write(path, payload, persist.WriteOptions{
		Verify:          true,
		KeepBackup:      true,
		VersionedBackup: true,
		Expect:          expect,
	})
}
