package persist

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Record is the last-known-good fingerprint of one file: its content hash,
// where its backup lives, and when it was written. Records are an advisory
// cache for corruption detection; the filesystem stays the source of truth.
type Record struct {
	Hash      string    `json:"hash"`
	Backup    string    `json:"backup,omitempty"`
	Size      int64     `json:"size"`
	WrittenAt time.Time `json:"written_at"`
}

// Records is the per-process integrity record store, persisted as a JSON
// sidecar so separate pipeline runs share drift baselines.
type Records struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Record
}

// LoadRecords opens the store at path, starting empty if the file does not
// exist yet.
func LoadRecords(path string) (*Records, error) {
	r := &Records{path: path, entries: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read records: %w", err)
	}
	if err := sonic.Unmarshal(data, &r.entries); err != nil {
		// A corrupt record store is advisory state, not data. Start fresh
		// rather than blocking every write behind it.
		r.entries = make(map[string]Record)
	}
	return r, nil
}

// Get returns the record for target, false if none exists.
func (r *Records) Get(target string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entries[target]
	return rec, ok
}

// Put stores the record for target and persists the store.
func (r *Records) Put(target string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[target] = rec
	return r.flush()
}

// Delete removes the record for target and persists the store.
func (r *Records) Delete(target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, target)
	return r.flush()
}

// Snapshot returns a copy of every entry, for status endpoints.
func (r *Records) Snapshot() map[string]Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Record, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// flush must be called with the write lock held. The store itself lands
// through the same temp-and-rename discipline as the data it describes.
func (r *Records) flush() error {
	data, err := sonic.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	return stageAndRename(r.path, data, 0o644)
}
