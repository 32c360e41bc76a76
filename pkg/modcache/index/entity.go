package index

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Root identifies which configured tree a path belongs to.
type Root int

const (
	// RootAny lets Ingest pick the root the path falls under.
	RootAny Root = iota
	// RootSource is the read-only, externally managed tree.
	RootSource
	// RootCache is the tree modcache owns and may evict from.
	RootCache
)

// String returns the root name.
func (r Root) String() string {
	switch r {
	case RootSource:
		return "source"
	case RootCache:
		return "cache"
	default:
		return "any"
	}
}

// Symbolic prefixes stored in logical paths in place of the live roots.
const (
	SourcePrefix = "{source}"
	CachePrefix  = "{cache}"
)

// logicalSep separates components of a logical path on every platform.
const logicalSep = `\`

// Unknown marks a size that has not been determined.
const Unknown int64 = -1

// Roots supplies the currently configured tree locations. An empty string
// means the root is not configured.
type Roots interface {
	SourceRoot() string
	CacheRoot() string
}

// StaticRoots is a Roots with fixed values.
type StaticRoots struct {
	Source string
	Cache  string
}

// SourceRoot returns r.Source.
func (r StaticRoots) SourceRoot() string { return r.Source }

// CacheRoot returns r.Cache.
func (r StaticRoots) CacheRoot() string { return r.Cache }

// Entity pairs a content hash with one logical path and cached metadata.
// Entities handed out by the Index are copies; mutating them has no effect
// on the index.
type Entity struct {
	// Hash is the lowercase hex SHA-1 of the file content.
	Hash string

	// LogicalPath is the path with its root replaced by SourcePrefix or
	// CachePrefix and components separated by a backslash.
	LogicalPath string

	// Modified is the last-write marker (mod time in Unix nanoseconds). It is
	// only ever compared for equality.
	Modified int64

	// Size is the file length, or Unknown.
	Size int64

	// CompressedSize is the transfer-compressed length, or Unknown.
	CompressedSize int64
}

// Root reports which tree the entity lives in.
func (e Entity) Root() Root {
	switch {
	case strings.HasPrefix(e.LogicalPath, CachePrefix):
		return RootCache
	case strings.HasPrefix(e.LogicalPath, SourcePrefix):
		return RootSource
	default:
		return RootAny
	}
}

// IsCache reports whether the entity lives in the cache tree.
func (e Entity) IsCache() bool {
	return e.Root() == RootCache
}

// ResolvedPath returns the entity's absolute path under the current roots,
// or "" when its root is not configured.
func (e Entity) ResolvedPath(roots Roots) string {
	p, err := Resolve(e.LogicalPath, roots)
	if err != nil {
		return ""
	}
	return p
}

// Resolve substitutes the symbolic prefix of logical with the configured
// root and converts separators for the running platform.
func Resolve(logical string, roots Roots) (string, error) {
	var root, rest string
	switch {
	case strings.HasPrefix(logical, SourcePrefix):
		root, rest = roots.SourceRoot(), logical[len(SourcePrefix):]
	case strings.HasPrefix(logical, CachePrefix):
		root, rest = roots.CacheRoot(), logical[len(CachePrefix):]
	default:
		return "", fmt.Errorf("%w: %q has no root prefix", ErrInvalidPath, logical)
	}
	if root == "" {
		return "", fmt.Errorf("%w: root for %q is not configured", ErrOutsideRoots, logical)
	}

	rest = strings.TrimLeft(rest, logicalSep)
	rest = strings.ReplaceAll(rest, logicalSep, "/")
	p := filepath.Join(root, filepath.FromSlash(rest))
	if _, ok := relativeTo(p, filepath.Clean(root)); !ok {
		return "", fmt.Errorf("%w: %q leaves its root", ErrOutsideRoots, logical)
	}
	return p, nil
}

// ToLogical converts an absolute path, or an already logical path, to its
// logical form and reports the root it belongs to. When the roots nest, the
// deeper root wins.
func ToLogical(path string, roots Roots) (string, Root, error) {
	if strings.ContainsAny(path, "|\n\r") {
		return "", RootAny, fmt.Errorf("%w: %q contains a reserved character", ErrInvalidPath, path)
	}

	if strings.HasPrefix(path, SourcePrefix) || strings.HasPrefix(path, CachePrefix) {
		e := Entity{LogicalPath: normalizeLogical(path)}
		if climbsOut(e.LogicalPath) {
			return "", RootAny, fmt.Errorf("%w: %s", ErrOutsideRoots, path)
		}
		return e.LogicalPath, e.Root(), nil
	}

	clean := filepath.Clean(path)
	var (
		best     string
		bestRoot Root
		bestLen  = -1
	)
	for _, r := range []struct {
		root   string
		prefix string
		kind   Root
	}{
		{roots.SourceRoot(), SourcePrefix, RootSource},
		{roots.CacheRoot(), CachePrefix, RootCache},
	} {
		if r.root == "" {
			continue
		}
		rootClean := filepath.Clean(r.root)
		rel, ok := relativeTo(clean, rootClean)
		if !ok || len(rootClean) <= bestLen {
			continue
		}
		best = r.prefix + logicalSep + strings.ReplaceAll(filepath.ToSlash(rel), "/", logicalSep)
		bestRoot = r.kind
		bestLen = len(rootClean)
	}

	if bestLen < 0 {
		return "", RootAny, fmt.Errorf("%w: %s", ErrOutsideRoots, path)
	}
	return best, bestRoot, nil
}

// relativeTo returns path relative to root when path is strictly inside root.
func relativeTo(path, root string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// climbsOut reports whether a logical path has a ".." component.
func climbsOut(logical string) bool {
	for _, part := range strings.Split(strings.ReplaceAll(logical, "/", logicalSep), logicalSep) {
		if part == ".." {
			return true
		}
	}
	return false
}

// normalizeLogical converts forward slashes and collapses a missing
// separator after the prefix, so "{cache}/x" and "{cache}x" equal "{cache}\x".
func normalizeLogical(p string) string {
	p = strings.ReplaceAll(p, "/", logicalSep)
	for _, prefix := range []string{SourcePrefix, CachePrefix} {
		if strings.HasPrefix(p, prefix) {
			rest := strings.TrimLeft(p[len(prefix):], logicalSep)
			return prefix + logicalSep + rest
		}
	}
	return p
}
