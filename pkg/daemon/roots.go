package daemon

import (
	"os"
	"path/filepath"
	"sync"
)

// Roots holds the tree locations. The source root can change at runtime;
// the cache root is fixed for the life of the process. Roots implements
// index.Roots.
type Roots struct {
	mu     sync.RWMutex
	source string
	cache  string
}

// NewRoots returns Roots for the given trees. Empty means not configured.
func NewRoots(source, cache string) *Roots {
	return &Roots{source: clean(source), cache: clean(cache)}
}

func clean(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// SourceRoot returns the current source root.
func (r *Roots) SourceRoot() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

// CacheRoot returns the cache root.
func (r *Roots) CacheRoot() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache
}

// SetSource replaces the source root and reports whether it changed.
func (r *Roots) SetSource(path string) bool {
	path = clean(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.source == path {
		return false
	}
	r.source = path
	return true
}

// SourceAvailable reports whether the source root is configured and is an
// existing directory.
func (r *Roots) SourceAvailable() bool {
	return isDir(r.SourceRoot())
}

// CacheAvailable reports whether the cache root is configured and is an
// existing directory.
func (r *Roots) CacheAvailable() bool {
	return isDir(r.CacheRoot())
}

func isDir(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
