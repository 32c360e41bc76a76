// Package filter decides which files modcache tracks: game assets in the
// source tree selected by extension, minus known-irrelevant folders, and
// hash-named files in the cache tree.
package filter

import (
	"path/filepath"
	"strings"
)

// AssetExtensions is the fixed allow-list of game-asset extensions.
var AssetExtensions = []string{
	".mdl", ".tex", ".mtrl", ".tmb", ".pap", ".avfx", ".atex",
	".sklb", ".eid", ".phyb", ".pbd", ".scd", ".skp", ".shpk",
}

// DefaultDenySegments are path segments whose subtrees hold background,
// shared and UI assets that are never synchronized.
var DefaultDenySegments = []string{"bg", "bgcommon", "ui"}

// Filter matches paths against an extension allow-list and a denylist of
// directory segments. The zero value matches nothing; use New.
type Filter struct {
	extensions map[string]struct{}
	deny       map[string]struct{}
	hashLength int
}

// Option configures a Filter.
type Option func(*Filter)

// WithExtensions replaces the extension allow-list. Extensions may be given
// with or without the leading dot.
func WithExtensions(exts ...string) Option {
	return func(f *Filter) {
		f.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			f.extensions[e] = struct{}{}
		}
	}
}

// WithDenySegments replaces the denied directory segments.
func WithDenySegments(segments ...string) Option {
	return func(f *Filter) {
		f.deny = make(map[string]struct{}, len(segments))
		for _, s := range segments {
			f.deny[strings.ToLower(s)] = struct{}{}
		}
	}
}

// WithHashLength sets the name length that identifies cache entries.
func WithHashLength(n int) Option {
	return func(f *Filter) {
		f.hashLength = n
	}
}

// New returns a Filter with the default allow-list and denylist, adjusted by opts.
func New(opts ...Option) *Filter {
	f := &Filter{hashLength: 40}
	WithExtensions(AssetExtensions...)(f)
	WithDenySegments(DefaultDenySegments...)(f)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsAsset reports whether path has an allowed extension.
func (f *Filter) IsAsset(path string) bool {
	_, ok := f.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsDenied reports whether any directory segment of rel (relative to a
// source subdirectory or the source root) is on the denylist.
func (f *Filter) IsDenied(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, seg := range strings.Split(rel, "/") {
		if _, ok := f.deny[strings.ToLower(seg)]; ok {
			return true
		}
	}
	return false
}

// IsDeniedDir reports whether the directory name itself is denied.
func (f *Filter) IsDeniedDir(name string) bool {
	_, ok := f.deny[strings.ToLower(name)]
	return ok
}

// MatchSource reports whether a source-tree file at rel should be tracked.
func (f *Filter) MatchSource(rel string) bool {
	return f.IsAsset(rel) && !f.IsDenied(filepath.Dir(rel))
}

// IsCacheEntry reports whether a cache-tree file name looks like a managed
// entry: the name, or the name without its extension, is exactly one hash long.
func (f *Filter) IsCacheEntry(name string) bool {
	name = filepath.Base(name)
	if len(name) == f.hashLength {
		return true
	}
	return len(strings.TrimSuffix(name, filepath.Ext(name))) == f.hashLength
}

// HashLength returns the configured cache entry name length.
func (f *Filter) HashLength() int {
	return f.hashLength
}
