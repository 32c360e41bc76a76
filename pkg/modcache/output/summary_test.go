package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

func TestScanSummary(t *testing.T) {
	assert.Equal(t, "scan skipped: root unavailable", ScanSummary(&types.ScanResult{Skipped: true}))
	assert.Contains(t, ScanSummary(&types.ScanResult{Cancelled: true}), "cancelled")
	assert.Equal(t, "scanned 10 files in 1.5s: 2 added, 1 updated, 3 removed, 1 errors",
		ScanSummary(&types.ScanResult{
			Candidates: 10, Added: 2, Updated: 1, Removed: 3,
			Elapsed: 1500 * time.Millisecond,
			Errors:  []types.ScanError{{Path: "x"}},
		}))
}

func TestEvictionSummary(t *testing.T) {
	assert.Contains(t, EvictionSummary(&types.EvictionResult{MaxSize: types.GiB, SizeBefore: types.MiB}), "nothing to evict")

	r := &types.EvictionResult{
		Triggered: true, DryRun: true, MaxSize: 100, SizeBefore: 120, SizeAfter: 90,
		Evicted: []types.EvictedFile{{Path: "a"}},
	}
	assert.Equal(t, "would evict 1 files, 30 B freed (120 B -> 90 B of 100 B)", EvictionSummary(r))
}

func TestVerifySummary(t *testing.T) {
	assert.Equal(t, "verified 4 cache files: 1 broken, 2 missing (cancelled)",
		VerifySummary(&types.VerifyResult{Checked: 4, Broken: 1, Missing: 2, Cancelled: true}))
}
