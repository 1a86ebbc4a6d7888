/*
Package persist makes file writes crash-safe and concurrency-aware.

# Overview

Several pipeline stages write the same dataset files, sometimes from separate
processes. This package serializes those writers with a cross-process advisory
lock, lands every write through a fsynced temp file and one atomic rename,
verifies the result, and restores from backup when corruption is detected.
At every observable instant the target path holds either the complete prior
version or the complete new version, never a truncated one.

# Features

- Cross-process exclusive locking on a sibling .lock marker (OS advisory lock)
- Atomic writes: sibling temp file, fsync, verify, rename, fsync dir
- Backup of the prior version, plain or timestamped gzip for bulk migrations
- Structural verification: size floor, header match, field count, MIME sniff
- Content hashing (sha256 or blake2b) recorded per file for drift detection
- Corruption recovery from the last known-good backup, never fabricated data
- Periodic integrity sweep over glob-selected dataset files

# Usage

	verifier := persist.NewVerifier()
	records, _ := persist.LoadRecords(filepath.Join(dir, "integrity.json"))
	writer := persist.NewWriter(verifier, records, logger)

	res := writer.Write(path, payload, persist.WriteOptions{
		Verify:     true,
		KeepBackup: true,
		Expect:     &persist.Expect{Header: "date,open,high,low,close"},
	})
	if !res.Success {
		// res.Stage names the step that failed; the prior version is intact
	}
*/
package persist
