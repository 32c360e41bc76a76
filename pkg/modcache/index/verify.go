package index

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// VerifyProgress is called after each cache entity is checked.
type VerifyProgress func(done, total int)

// Verify re-hashes every cache entity. Cache files are named by their hash,
// so a mismatch means the file is corrupt: the entity is dropped and the
// file deleted. Entities whose file is already gone are dropped as well.
// Cancellation stops the pass early and is reported in the result, not as
// an error.
func (x *Index) Verify(ctx context.Context, onProgress VerifyProgress) types.VerifyResult {
	res := types.VerifyResult{Started: time.Now()}

	var cache []Entity
	for _, e := range x.Entities() {
		if e.IsCache() {
			cache = append(cache, e)
		}
	}

	for i, e := range cache {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		path := e.ResolvedPath(x.roots)
		hash, err := HashFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) || path == "":
			x.Remove(e.Hash, e.LogicalPath)
			res.Missing++
		case err != nil:
			res.Errors = append(res.Errors, types.ScanError{Path: path, Error: err.Error()})
		default:
			res.Checked++
			if hash != e.Hash {
				res.Broken++
				x.Remove(e.Hash, e.LogicalPath)
				x.log.Warn("corrupt cache file", "path", path, "expected", e.Hash, "actual", hash)
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					res.Errors = append(res.Errors, types.ScanError{Path: path, Error: err.Error()})
				}
			}
		}

		if onProgress != nil {
			onProgress(i+1, len(cache))
		}
	}

	if err := x.PersistIfDirty(); err != nil {
		x.log.Error("failed to persist index after verify", "error", err)
	}

	res.Elapsed = time.Since(res.Started)
	x.log.Info("verify finished", "checked", res.Checked, "broken", res.Broken, "missing", res.Missing, "cancelled", res.Cancelled)
	return res
}
