package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
)

// discover enumerates candidate files in both trees.
func (s *Scanner) discover(ctx context.Context, roots index.Roots) error {
	if err := s.discoverSource(ctx, roots.SourceRoot()); err != nil {
		return err
	}
	return s.discoverCache(ctx, roots.CacheRoot())
}

// discoverSource walks the immediate subdirectories of the source root on
// a pool of Workers goroutines. Each worker pauses between the
// subdirectories it takes. Files directly in the source root are not mod
// content and are ignored.
func (s *Scanner) discoverSource(ctx context.Context, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read source root: %w", err)
	}

	dirs := make(chan string)
	g, gctx := errgroup.WithContext(ctx)
	for range s.opts.Workers {
		g.Go(func() error {
			first := true
			for dir := range dirs {
				if !first && s.opts.SubdirPause > 0 {
					if err := sleep(gctx, s.opts.SubdirPause); err != nil {
						return err
					}
				}
				first = false

				if err := gctx.Err(); err != nil {
					return err
				}
				s.walkSubdir(gctx, root, dir)
			}
			return nil
		})
	}

feed:
	for _, entry := range entries {
		if !entry.IsDir() || s.opts.Filter.IsDeniedDir(entry.Name()) {
			continue
		}
		select {
		case dirs <- filepath.Join(root, entry.Name()):
		case <-gctx.Done():
			break feed
		}
	}
	close(dirs)

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// walkSubdir enumerates one source subdirectory. Failures, including
// panics, are recorded and do not stop the scan.
func (s *Scanner) walkSubdir(ctx context.Context, root, dir string) {
	defer func() {
		if r := recover(); r != nil {
			s.addError(dir, fmt.Errorf("panic during enumeration: %v", r))
		}
	}()

	if s.beforeWalk != nil {
		s.beforeWalk(dir)
	}
	s.currentPath.Store(dir)
	s.reportProgress()

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fastwalk.ErrSkipFiles
		}
		if err != nil {
			s.addError(path, err)
			return nil
		}
		if d.IsDir() {
			if path != dir && s.opts.Filter.IsDeniedDir(d.Name()) {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil || !s.opts.Filter.MatchSource(rel) {
			return nil
		}
		s.addCandidate(path, index.RootSource)
		return nil
	})
	if err != nil && !errors.Is(err, fastwalk.ErrSkipFiles) && !errors.Is(err, context.Canceled) {
		s.addError(dir, err)
	}
}

// discoverCache lists the top level of the cache root. Only names one hash
// long (with or without an extension) are managed entries.
func (s *Scanner) discoverCache(ctx context.Context, root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read cache root: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() || !s.opts.Filter.IsCacheEntry(entry.Name()) {
			continue
		}
		s.addCandidate(filepath.Join(root, entry.Name()), index.RootCache)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
