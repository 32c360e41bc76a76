package output

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// ScanSummary is a one-line description of a scan.
func ScanSummary(r *types.ScanResult) string {
	switch {
	case r.Skipped:
		return "scan skipped: root unavailable"
	case r.Cancelled:
		return fmt.Sprintf("scan cancelled after %s", formatDuration(r.Elapsed))
	}
	s := fmt.Sprintf("scanned %d files in %s: %d added, %d updated, %d removed",
		r.Candidates, formatDuration(r.Elapsed), r.Added, r.Updated, r.Removed)
	if n := len(r.Errors); n > 0 {
		s += fmt.Sprintf(", %d errors", n)
	}
	return s
}

// EvictionSummary is a one-line description of a quota sweep.
func EvictionSummary(r *types.EvictionResult) string {
	if !r.Triggered {
		return fmt.Sprintf("cache at %s of %s, nothing to evict",
			types.FormatSize(r.SizeBefore), types.FormatSize(r.MaxSize))
	}
	verb := "evicted"
	if r.DryRun {
		verb = "would evict"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d files, %s freed (%s -> %s of %s)",
		verb, len(r.Evicted), types.FormatSize(r.BytesFreed()),
		types.FormatSize(r.SizeBefore), types.FormatSize(r.SizeAfter), types.FormatSize(r.MaxSize))
	if n := len(r.Failures); n > 0 {
		fmt.Fprintf(&b, ", %d failures", n)
	}
	return b.String()
}

// VerifySummary is a one-line description of an integrity check.
func VerifySummary(r *types.VerifyResult) string {
	s := fmt.Sprintf("verified %d cache files: %d broken, %d missing", r.Checked, r.Broken, r.Missing)
	if r.Cancelled {
		s += " (cancelled)"
	}
	return s
}
