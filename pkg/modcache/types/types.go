// Package types provides the result and size types shared by the modcache
// scanner, watcher, eviction and verification paths.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// ScanError pairs a path with the error encountered while processing it.
type ScanError struct {
	// Path is the file or directory the error relates to.
	Path string `json:"path"`

	// Error is the error message.
	Error string `json:"error"`
}

// ScanResult summarizes one full reconciliation pass.
type ScanResult struct {
	// ID identifies the run in the history store.
	ID string `json:"id"`

	// Started is when the scan began.
	Started time.Time `json:"started"`

	// Elapsed is the wall time of the scan.
	Elapsed time.Duration `json:"elapsed"`

	// Candidates is the number of asset files found on disk.
	Candidates int64 `json:"candidates"`

	// Validated is the number of existing index entries checked.
	Validated int64 `json:"validated"`

	// Updated is the number of entries re-hashed because their marker changed.
	Updated int64 `json:"updated"`

	// Removed is the number of entries dropped because their file is gone.
	Removed int64 `json:"removed"`

	// Added is the number of newly discovered files ingested.
	Added int64 `json:"added"`

	// Skipped is set when a root was unavailable and nothing was done.
	Skipped bool `json:"skipped,omitempty"`

	// Cancelled is set when the scan stopped early.
	Cancelled bool `json:"cancelled,omitempty"`

	// Errors collects per-item failures that did not stop the scan.
	Errors []ScanError `json:"errors,omitempty"`
}

// ScanProgress is a snapshot of an in-flight scan.
type ScanProgress struct {
	Phase       string `json:"phase"`
	Candidates  int64  `json:"candidates"`
	Validated   int64  `json:"validated"`
	Ingested    int64  `json:"ingested"`
	CurrentPath string `json:"current_path"`
}

// EvictedFile records one file removed by a quota sweep.
type EvictedFile struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"access_time"`
}

// EvictionResult summarizes one quota eviction sweep.
type EvictionResult struct {
	ID          string        `json:"id"`
	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed"`
	MaxSize     int64         `json:"max_size"`
	SizeBefore  int64         `json:"size_before"`
	SizeAfter   int64         `json:"size_after"`
	Target      int64         `json:"target"`
	Evicted     []EvictedFile `json:"evicted,omitempty"`
	Failures    []ScanError   `json:"failures,omitempty"`
	DryRun      bool          `json:"dry_run,omitempty"`
	Triggered   bool          `json:"triggered"`
	FilesInRoot int           `json:"files_in_root"`
}

// BytesFreed returns how many bytes the sweep released.
func (r *EvictionResult) BytesFreed() int64 {
	return r.SizeBefore - r.SizeAfter
}

// VerifyResult summarizes an integrity check over cache entries.
type VerifyResult struct {
	ID      string        `json:"id"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
	Checked int64         `json:"checked"`
	Broken  int64         `json:"broken"`

	// Missing counts entries dropped because their file no longer exists.
	Missing   int64       `json:"missing"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Errors    []ScanError `json:"errors,omitempty"`
}

// ErrInvalidSize indicates that a size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ParseSize parses a human-readable size such as "20GiB", "500 MB" or "1024".
// Bare K/M/G/T suffixes are treated as binary units, matching how cache
// quotas are usually written in the config file.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: negative size %q", ErrInvalidSize, s)
	}

	upper := strings.ToUpper(s)
	if last := upper[len(upper)-1]; last == 'K' || last == 'M' || last == 'G' || last == 'T' {
		s += "iB"
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// FormatSize renders bytes using binary units, e.g. "1.5 GiB".
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}
