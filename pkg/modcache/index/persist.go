package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoadResult reports what Load found in the index file.
type LoadResult struct {
	Loaded     int  `json:"loaded"`
	Malformed  int  `json:"malformed"`
	Duplicates int  `json:"duplicates"`
	Recovered  bool `json:"recovered"`
	Rewritten  bool `json:"rewritten"`
}

// backupPath returns the crash-recovery copy of the index file.
func (x *Index) backupPath() string {
	return x.path + ".bak"
}

// Load replaces the in-memory state with the contents of the index file.
//
// A leftover backup from an interrupted write is promoted first. Unreadable
// files are retried a few times and then treated as empty. Malformed lines
// and repeated logical paths are dropped (the first occurrence wins) and the
// cleaned contents are written back.
func (x *Index) Load(ctx context.Context) (LoadResult, error) {
	var res LoadResult

	x.fileMu.Lock()
	if _, err := os.Stat(x.backupPath()); err == nil {
		if err := os.Rename(x.backupPath(), x.path); err != nil {
			x.log.Warn("failed to promote index backup", "path", x.backupPath(), "error", err)
		} else {
			res.Recovered = true
			x.log.Warn("recovered index from backup", "path", x.path)
		}
	}
	data, err := x.readWithRetry(ctx)
	x.fileMu.Unlock()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if !errors.Is(err, os.ErrNotExist) {
			x.log.Error("index file unreadable, starting empty", "path", x.path, "error", err)
		}
		data = nil
	}

	buckets := make(map[string][]*Entity)
	byPath := make(map[string]*Entity)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			res.Malformed++
			x.log.Warn("dropping malformed index line", "line", i+1, "error", err)
			continue
		}
		if _, dup := byPath[e.LogicalPath]; dup {
			res.Duplicates++
			x.log.Warn("dropping duplicate index line", "line", i+1, "path", e.LogicalPath)
			continue
		}
		stored := e
		buckets[e.Hash] = append(buckets[e.Hash], &stored)
		byPath[e.LogicalPath] = &stored
	}
	res.Loaded = len(byPath)

	x.mu.Lock()
	x.buckets = buckets
	x.byPath = byPath
	x.mu.Unlock()
	x.dirty.Store(false)

	if res.Malformed > 0 || res.Duplicates > 0 {
		if err := x.PersistAll(); err != nil {
			x.log.Error("failed to rewrite cleaned index", "error", err)
		} else {
			res.Rewritten = true
		}
	}

	x.log.Info("index loaded", "entities", res.Loaded, "malformed", res.Malformed, "duplicates", res.Duplicates)
	return res, nil
}

func (x *Index) readWithRetry(ctx context.Context) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= x.readAttempts; attempt++ {
		data, err := os.ReadFile(x.path)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		lastErr = err
		x.log.Warn("index read failed", "attempt", attempt, "error", err)

		if attempt == x.readAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(x.readDelay):
		}
	}
	return nil, lastErr
}

// PersistAll rewrites the index file from memory, sorted case-insensitively
// by logical path.
//
// The current file is copied to a backup before writing. On success the
// backup is deleted; if the primary write fails the data goes to the backup
// instead, to be promoted on the next Load.
func (x *Index) PersistAll() error {
	x.dirty.Store(false)
	entities := x.Entities()

	var b strings.Builder
	for _, e := range entities {
		b.WriteString(formatLine(e))
		b.WriteByte('\n')
	}
	data := []byte(b.String())

	x.fileMu.Lock()
	defer x.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		x.dirty.Store(true)
		return fmt.Errorf("create index directory: %w", err)
	}

	bak := x.backupPath()
	if _, err := os.Stat(x.path); err == nil {
		if err := copyFile(x.path, bak); err != nil {
			x.log.Warn("failed to back up index before write", "error", err)
		}
	}

	if err := os.WriteFile(x.path, data, 0o644); err != nil {
		x.log.Error("index write failed, writing backup", "path", x.path, "error", err)
		if berr := os.WriteFile(bak, data, 0o644); berr != nil {
			x.log.Error("index backup write failed", "path", bak, "error", berr)
			x.dirty.Store(true)
			return fmt.Errorf("persist index: %w", errors.Join(err, berr))
		}
		return nil
	}

	if err := os.Remove(bak); err != nil && !errors.Is(err, os.ErrNotExist) {
		x.log.Warn("failed to remove index backup", "path", bak, "error", err)
	}
	x.log.Debug("index persisted", "entities", len(entities))
	return nil
}

// PersistIfDirty rewrites the file only when memory diverged from it.
func (x *Index) PersistIfDirty() error {
	if !x.dirty.Load() {
		return nil
	}
	return x.PersistAll()
}

// appendEntity adds one line to the end of the index file.
func (x *Index) appendEntity(e Entity) error {
	x.fileMu.Lock()
	defer x.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	f, err := os.OpenFile(x.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if _, err := f.WriteString(formatLine(e) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append index: %w", err)
	}
	return f.Close()
}

func formatLine(e Entity) string {
	return e.Hash + "|" + e.LogicalPath + "|" +
		strconv.FormatInt(e.Modified, 10) + "|" +
		strconv.FormatInt(e.Size, 10) + "|" +
		strconv.FormatInt(e.CompressedSize, 10)
}

func parseLine(line string) (Entity, error) {
	fields := strings.Split(line, "|")
	if len(fields) != 5 {
		return Entity{}, fmt.Errorf("%w: want 5 fields, got %d", ErrMalformedLine, len(fields))
	}

	hash := normalizeHash(strings.TrimSpace(fields[0]))
	if !ValidHash(hash) {
		return Entity{}, fmt.Errorf("%w: bad hash %q", ErrMalformedLine, fields[0])
	}

	lp := fields[1]
	if !strings.HasPrefix(lp, SourcePrefix) && !strings.HasPrefix(lp, CachePrefix) {
		return Entity{}, fmt.Errorf("%w: path %q has no root prefix", ErrMalformedLine, lp)
	}
	lp = normalizeLogical(lp)
	if climbsOut(lp) {
		return Entity{}, fmt.Errorf("%w: path %q leaves its root", ErrMalformedLine, lp)
	}

	var nums [3]int64
	for i, f := range fields[2:] {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return Entity{}, fmt.Errorf("%w: field %d: %v", ErrMalformedLine, i+3, err)
		}
		nums[i] = n
	}

	e := Entity{
		Hash:           hash,
		LogicalPath:    lp,
		Modified:       nums[0],
		Size:           nums[1],
		CompressedSize: nums[2],
	}
	if e.Size < 0 {
		e.Size = Unknown
	}
	if e.CompressedSize < 0 {
		e.CompressedSize = Unknown
	}
	return e, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
