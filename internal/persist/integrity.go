package persist

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

// Algorithm selects the content hash function.
type Algorithm string

const (
	SHA256  Algorithm = "sha256"
	BLAKE2b Algorithm = "blake2b"
)

// Expect describes the minimal structural expectations for a file.
// Zero-valued fields are not checked.
type Expect struct {
	// MinSize is the size floor in bytes. Files below it are truncation
	// artifacts, not data.
	MinSize int64
	// Header is the exact expected first line of a tabular file.
	Header string
	// FieldCount spot-checks that the first data row splits into this many
	// fields on Delimiter.
	FieldCount int
	// Delimiter for FieldCount, "," when empty.
	Delimiter string
	// MIME is a prefix the detected content type must match,
	// e.g. "text/" or "application/json".
	MIME string
}

// Verifier validates written files against structural expectations and
// computes content hashes. It never mutates the files it inspects.
type Verifier struct {
	algorithm Algorithm
	minSize   int64
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithAlgorithm selects the hash function, sha256 by default.
func WithAlgorithm(a Algorithm) VerifierOption {
	return func(v *Verifier) { v.algorithm = a }
}

// WithMinSize sets the global size floor applied when Expect.MinSize is zero.
func WithMinSize(n int64) VerifierOption {
	return func(v *Verifier) { v.minSize = n }
}

// NewVerifier creates a verifier. The default floor of one byte excludes
// only fully truncated files.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{algorithm: SHA256, minSize: 1}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks path against expect and returns an *IntegrityError on the
// first violation.
func (v *Verifier) Verify(path string, expect Expect) error {
	info, err := os.Stat(path)
	if err != nil {
		return &IntegrityError{Path: path, Reason: fmt.Sprintf("stat: %v", err)}
	}

	floor := expect.MinSize
	if floor == 0 {
		floor = v.minSize
	}
	if info.Size() < floor {
		return &IntegrityError{Path: path, Reason: fmt.Sprintf("size %d below floor %d", info.Size(), floor)}
	}

	if expect.Header != "" || expect.FieldCount > 0 {
		if err := v.verifyTabular(path, expect); err != nil {
			return err
		}
	}

	if expect.MIME != "" {
		detected, err := mimetype.DetectFile(path)
		if err != nil {
			return &IntegrityError{Path: path, Reason: fmt.Sprintf("detect type: %v", err)}
		}
		if !strings.HasPrefix(detected.String(), expect.MIME) {
			return &IntegrityError{Path: path, Reason: fmt.Sprintf("content type %s, expected %s", detected, expect.MIME)}
		}
	}

	return nil
}

func (v *Verifier) verifyTabular(path string, expect Expect) error {
	f, err := os.Open(path)
	if err != nil {
		return &IntegrityError{Path: path, Reason: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return &IntegrityError{Path: path, Reason: "empty file, expected header"}
	}
	header := scanner.Text()

	if expect.Header != "" && header != expect.Header {
		return &IntegrityError{Path: path, Reason: fmt.Sprintf("header %q, expected %q", header, expect.Header)}
	}

	if expect.FieldCount > 0 {
		delim := expect.Delimiter
		if delim == "" {
			delim = ","
		}
		if !scanner.Scan() {
			return &IntegrityError{Path: path, Reason: "no data rows to spot-check"}
		}
		row := scanner.Text()
		if got := len(strings.Split(row, delim)); got != expect.FieldCount {
			return &IntegrityError{Path: path, Reason: fmt.Sprintf("data row has %d fields, expected %d", got, expect.FieldCount)}
		}
	}

	return nil
}

// Hash streams the file through the configured hash function and returns the
// hex digest, for recording and later drift detection.
func (v *Verifier) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash open: %w", err)
	}
	defer f.Close()

	h, err := v.hasher()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes hashes an in-memory payload with the same function as Hash.
func (v *Verifier) HashBytes(data []byte) (string, error) {
	h, err := v.hasher()
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (v *Verifier) hasher() (hash.Hash, error) {
	switch v.algorithm {
	case BLAKE2b:
		return blake2b.New256(nil)
	default:
		return sha256.New(), nil
	}
}
