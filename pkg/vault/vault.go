// Package vault persists ResponseRecords to disk as one JSON file per
// record, with a retention policy deciding what survives cleanup.
package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kavach-r/pkg/risk"
)

// Config configures a Vault's on-disk storage.
type Config struct {
	StoragePath   string
	RetentionDays int
}

// Vault stores ResponseRecords as individual JSON files under
// Config.StoragePath, guarded by an RWMutex since reads (List) are far
// more frequent than writes (Store).
type Vault struct {
	cfg     Config
	storage *storageBackend
	policy  *RetentionPolicy
	mu      sync.RWMutex
}

// New creates the storage directory if needed and returns a ready Vault.
func New(cfg Config) (*Vault, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, fmt.Errorf("vault: creating storage directory: %w", err)
	}

	return &Vault{
		cfg:     cfg,
		storage: newStorageBackend(cfg.StoragePath),
		policy:  NewRetentionPolicy(cfg.RetentionDays),
	}, nil
}

// Store persists r if the retention policy accepts it. Records the
// policy rejects (benign flags with low risk, if the policy is tightened)
// are silently dropped — this is never a response-path error.
func (v *Vault) Store(r risk.ResponseRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.policy.ShouldRetain(r) {
		return nil
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshaling record: %w", err)
	}

	filename := fmt.Sprintf("%s_%d.json", r.Timestamp.Format("20060102_150405.000000000"), r.PID)
	path := filepath.Join(v.storage.BasePath, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vault: writing record: %w", err)
	}
	return nil
}

// List returns every stored record with Timestamp in (from, to).
func (v *Vault) List(from, to time.Time) ([]risk.ResponseRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	files, err := filepath.Glob(filepath.Join(v.storage.BasePath, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("vault: listing records: %w", err)
	}

	var records []risk.ResponseRecord
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var r risk.ResponseRecord
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if r.Timestamp.After(from) && r.Timestamp.Before(to) {
			records = append(records, r)
		}
	}
	return records, nil
}

// Cleanup removes records older than the configured retention window,
// judged by file modification time rather than the record's own
// timestamp field.
func (v *Vault) Cleanup() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -v.cfg.RetentionDays)

	files, err := filepath.Glob(filepath.Join(v.storage.BasePath, "*.json"))
	if err != nil {
		return fmt.Errorf("vault: listing records: %w", err)
	}

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(f)
		}
	}
	return nil
}

// storageBackend is the low-level file-path root; kept as its own type so
// the Vault itself stays free of raw path construction.
type storageBackend struct {
	BasePath string
}

func newStorageBackend(basePath string) *storageBackend {
	return &storageBackend{BasePath: basePath}
}

// RetentionPolicy decides which ResponseRecords are worth keeping.
type RetentionPolicy struct {
	RetentionDays int
}

// NewRetentionPolicy returns a policy retaining records for the given
// number of days.
func NewRetentionPolicy(days int) *RetentionPolicy {
	return &RetentionPolicy{RetentionDays: days}
}

// ShouldRetain always keeps Killed/KillFailed records (a termination
// attempt is always worth keeping) and keeps Flagged records only above
// a risk floor, to avoid filling the vault with borderline flags that
// never escalated.
func (rp *RetentionPolicy) ShouldRetain(r risk.ResponseRecord) bool {
	switch r.Status {
	case risk.Killed, risk.KillFailed:
		return true
	case risk.Flagged:
		return r.Risk > 0.7
	default:
		return false
	}
}
