// Package evict enforces the cache tree's size quota by deleting the least
// recently accessed files until usage falls a margin below the limit.
package evict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/modcache/pkg/modcache/diskusage"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// HaltTag is held for the duration of a sweep.
const HaltTag = "quota-eviction"

// TargetMarginPercent is how far below the quota a triggered sweep deletes to.
const TargetMarginPercent = 5

// Index is updated as files are deleted.
type Index interface {
	Forget(path string) int
	PersistIfDirty() error
}

// Halter lets a sweep wait for, and then hold, the reconciliation pause.
type Halter interface {
	WaitAcquire(ctx context.Context, tag string) (release func(), err error)
}

// Options configures an Evictor.
type Options struct {
	// CacheRoot is the flat cache directory. Required.
	CacheRoot string

	// MaxSize is the quota in bytes. Zero or less disables eviction.
	MaxSize int64

	// Provider measures allocated size. Nil uses diskusage.Default().
	Provider diskusage.Provider

	// Index, when set, forgets deleted files.
	Index Index

	// Halt, when set, is waited on before a sweep and held during it.
	Halt Halter

	// DryRun reports what would be deleted without deleting.
	DryRun bool
}

// Evictor runs quota sweeps.
type Evictor struct {
	opts Options
	log  *logging.Logger
}

type cacheFile struct {
	path  string
	size  int64
	atime time.Time
}

// New creates an Evictor.
func New(opts Options) *Evictor {
	if opts.Provider == nil {
		opts.Provider = diskusage.Default()
	}
	return &Evictor{opts: opts, log: logging.Get("evict")}
}

// Target returns the size a triggered sweep reduces the cache to.
func Target(maxSize int64) int64 {
	return maxSize - maxSize*TargetMarginPercent/100
}

// Run performs one sweep. If the cache's size on disk is at or above the
// quota, files are deleted oldest access first until the total is at or
// below Target. Files that cannot be measured or deleted are reported and
// skipped. Cancellation ends the sweep early without an error.
func (e *Evictor) Run(ctx context.Context) (*types.EvictionResult, error) {
	res := &types.EvictionResult{
		ID:      uuid.NewString(),
		Started: time.Now(),
		MaxSize: e.opts.MaxSize,
		DryRun:  e.opts.DryRun,
	}
	defer func() { res.Elapsed = time.Since(res.Started) }()

	if e.opts.MaxSize <= 0 {
		return res, nil
	}
	if e.opts.CacheRoot == "" {
		return res, errors.New("cache root not configured")
	}

	if e.opts.Halt != nil {
		release, err := e.opts.Halt.WaitAcquire(ctx, HaltTag)
		if err != nil {
			return res, nil
		}
		defer release()
	}

	files, err := e.list(res)
	if err != nil {
		return res, err
	}
	res.FilesInRoot = len(files)

	var total int64
	for _, f := range files {
		total += f.size
	}
	res.SizeBefore = total
	res.SizeAfter = total

	if total < e.opts.MaxSize {
		e.log.Debug("cache within quota", "size", total, "max", e.opts.MaxSize)
		return res, nil
	}

	res.Triggered = true
	res.Target = Target(e.opts.MaxSize)
	e.log.Info("cache over quota", "size", types.FormatSize(total), "max", types.FormatSize(e.opts.MaxSize), "target", types.FormatSize(res.Target))

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].atime.Equal(files[j].atime) {
			return files[i].atime.Before(files[j].atime)
		}
		return files[i].path < files[j].path
	})

	for _, f := range files {
		if total <= res.Target || ctx.Err() != nil {
			break
		}
		if !e.opts.DryRun {
			if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.log.Warn("failed to evict file", "path", f.path, "error", err)
				res.Failures = append(res.Failures, types.ScanError{Path: f.path, Error: err.Error()})
				continue
			}
			if e.opts.Index != nil {
				e.opts.Index.Forget(f.path)
			}
		}
		total -= f.size
		res.Evicted = append(res.Evicted, types.EvictedFile{Path: f.path, Size: f.size, AccessTime: f.atime})
	}
	res.SizeAfter = total

	if !e.opts.DryRun && e.opts.Index != nil && len(res.Evicted) > 0 {
		if err := e.opts.Index.PersistIfDirty(); err != nil {
			e.log.Error("failed to persist index after eviction", "error", err)
		}
	}

	e.log.Info("eviction finished",
		"evicted", len(res.Evicted),
		"freed", types.FormatSize(res.BytesFreed()),
		"size", types.FormatSize(total),
		"dry_run", e.opts.DryRun)
	return res, nil
}

// list measures every regular file at the top of the cache root.
func (e *Evictor) list(res *types.EvictionResult) ([]cacheFile, error) {
	entries, err := os.ReadDir(e.opts.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("read cache root: %w", err)
	}

	files := make([]cacheFile, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(e.opts.CacheRoot, entry.Name())

		size, err := e.opts.Provider.SizeOnDisk(path)
		if err != nil {
			res.Failures = append(res.Failures, types.ScanError{Path: path, Error: err.Error()})
			continue
		}
		atime, err := diskusage.AccessTime(path)
		if err != nil {
			res.Failures = append(res.Failures, types.ScanError{Path: path, Error: err.Error()})
			continue
		}
		files = append(files, cacheFile{path: path, size: size, atime: atime})
	}
	return files, nil
}
