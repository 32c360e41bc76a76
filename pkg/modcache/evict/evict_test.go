package evict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modcache/pkg/modcache/diskusage"
	"github.com/jamesainslie/modcache/pkg/modcache/halt"
)

type fakeIndex struct {
	forgotten []string
	persisted int
}

func (f *fakeIndex) Forget(path string) int {
	f.forgotten = append(f.forgotten, path)
	return 1
}

func (f *fakeIndex) PersistIfDirty() error {
	f.persisted++
	return nil
}

// makeCache writes files of the given sizes with access times one minute
// apart, oldest first, and returns their paths in that order.
func makeCache(t *testing.T, sizes ...int) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	base := time.Now().Add(-24 * time.Hour)
	paths := make([]string, len(sizes))
	for i, n := range sizes {
		p := filepath.Join(dir, fmt.Sprintf("%040d.tex", i))
		require.NoError(t, os.WriteFile(p, make([]byte, n), 0o644))
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, at, at))
		paths[i] = p
	}
	return dir, paths
}

func TestTarget(t *testing.T) {
	assert.Equal(t, int64(95), Target(100))
	assert.Equal(t, int64(950), Target(1000))
}

func TestBelowQuotaIsNoop(t *testing.T) {
	dir, paths := makeCache(t, 100, 100, 100)
	idx := &fakeIndex{}

	res, err := New(Options{CacheRoot: dir, MaxSize: 301, Provider: diskusage.Apparent, Index: idx}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Triggered)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, int64(300), res.SizeBefore)
	assert.Equal(t, int64(300), res.SizeAfter)
	assert.Equal(t, 3, res.FilesInRoot)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
	assert.Empty(t, idx.forgotten)
}

func TestEvictsOldestFirstToTarget(t *testing.T) {
	// 400 bytes against a 400 byte quota: target is 380, so deleting the
	// single oldest file (100) is enough.
	dir, paths := makeCache(t, 100, 100, 100, 100)
	idx := &fakeIndex{}

	res, err := New(Options{CacheRoot: dir, MaxSize: 400, Provider: diskusage.Apparent, Index: idx}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Triggered)
	assert.Equal(t, int64(380), res.Target)
	require.Len(t, res.Evicted, 1)
	assert.Equal(t, paths[0], res.Evicted[0].Path)
	assert.Equal(t, int64(300), res.SizeAfter)
	assert.Equal(t, int64(100), res.BytesFreed())

	assert.NoFileExists(t, paths[0])
	for _, p := range paths[1:] {
		assert.FileExists(t, p)
	}
	assert.Equal(t, []string{paths[0]}, idx.forgotten)
	assert.Equal(t, 1, idx.persisted)
}

func TestEvictsMinimalPrefix(t *testing.T) {
	dir, paths := makeCache(t, 50, 300, 10, 500)

	// Total 860, quota 800, target 760: 50 then 300 must go (860-50=810 > 760).
	res, err := New(Options{CacheRoot: dir, MaxSize: 800, Provider: diskusage.Apparent}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Evicted, 2)
	assert.Equal(t, paths[0], res.Evicted[0].Path)
	assert.Equal(t, paths[1], res.Evicted[1].Path)
	assert.Equal(t, int64(510), res.SizeAfter)
	assert.LessOrEqual(t, res.SizeAfter, res.Target)
}

func TestDryRunDeletesNothing(t *testing.T) {
	dir, paths := makeCache(t, 100, 100)
	idx := &fakeIndex{}

	res, err := New(Options{CacheRoot: dir, MaxSize: 150, Provider: diskusage.Apparent, Index: idx, DryRun: true}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	require.Len(t, res.Evicted, 1)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
	assert.Empty(t, idx.forgotten)
}

func TestUnmeasurableFilesAreReported(t *testing.T) {
	dir, paths := makeCache(t, 100, 100)
	broken := diskusage.ProviderFunc(func(path string) (int64, error) {
		if path == paths[0] {
			return 0, errors.New("boom")
		}
		return diskusage.Apparent.SizeOnDisk(path)
	})

	res, err := New(Options{CacheRoot: dir, MaxSize: 1000, Provider: broken}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, paths[0], res.Failures[0].Path)
	assert.Equal(t, int64(100), res.SizeBefore)
}

func TestWaitsForHaltAndHoldsIt(t *testing.T) {
	dir, _ := makeCache(t, 100, 100)
	h := halt.New()
	h.Halt("integrity-check")

	var seen map[string]int
	provider := diskusage.ProviderFunc(func(path string) (int64, error) {
		seen = h.Holders()
		return diskusage.Apparent.SizeOnDisk(path)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = New(Options{CacheRoot: dir, MaxSize: 150, Provider: provider, Halt: h}).Run(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("eviction ran while halted")
	case <-time.After(50 * time.Millisecond):
	}

	h.Resume("integrity-check")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("eviction did not run after resume")
	}
	assert.Equal(t, map[string]int{HaltTag: 1}, seen)
	assert.False(t, h.Halted())
}

func TestDisabledQuota(t *testing.T) {
	dir, paths := makeCache(t, 100)
	res, err := New(Options{CacheRoot: dir, MaxSize: 0, Provider: diskusage.Apparent}).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.FileExists(t, paths[0])
}
