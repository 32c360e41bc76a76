// Package index maintains the content-addressed file index: a mapping from
// content hash to every known file with that content, across a read-only
// source tree and a hash-named cache tree.
//
// The index is backed by a flat text file (one "hash|logicalPath|modified|
// size|compressedSize" line per entity) so it survives restarts without a
// full rescan. Lookups revalidate entities against the filesystem on demand.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/modcache/pkg/modcache/logging"
)

// Sentinel errors returned by Index operations.
var (
	ErrOutsideRoots  = errors.New("path is not under a configured root")
	ErrNotExist      = errors.New("file does not exist")
	ErrInvalidPath   = errors.New("invalid path")
	ErrMalformedLine = errors.New("malformed index line")
)

// State is the outcome of validating an entity against the filesystem.
type State int

const (
	// Valid means the file exists and its marker is unchanged.
	Valid State = iota
	// RequireUpdate means the file exists but was modified since hashing.
	RequireUpdate
	// RequireDeletion means the file is gone or cannot be inspected.
	RequireDeletion
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case RequireUpdate:
		return "require-update"
	default:
		return "require-deletion"
	}
}

// Default read retry policy for Load.
const (
	DefaultReadAttempts = 5
	DefaultReadDelay    = 200 * time.Millisecond
)

// Stats summarizes index contents.
type Stats struct {
	Entities       int   `json:"entities"`
	Hashes         int   `json:"hashes"`
	SourceEntities int   `json:"source_entities"`
	CacheEntities  int   `json:"cache_entities"`
	KnownBytes     int64 `json:"known_bytes"`
}

// Index is safe for concurrent use.
type Index struct {
	path  string
	roots Roots
	log   *logging.Logger

	readAttempts int
	readDelay    time.Duration

	mu      sync.RWMutex
	buckets map[string][]*Entity // normalized hash -> entities
	byPath  map[string]*Entity   // logical path -> entity

	// fileMu serializes every write to the index file.
	fileMu sync.Mutex

	// resolveMu admits one ResolveBatch at a time.
	resolveMu sync.Mutex

	// dirty is set when the in-memory state diverged from the file in a way
	// an appended line cannot express.
	dirty atomic.Bool
}

// Option configures an Index.
type Option func(*Index)

// WithReadRetry overrides how often Load retries reading the index file.
func WithReadRetry(attempts int, delay time.Duration) Option {
	return func(x *Index) {
		if attempts > 0 {
			x.readAttempts = attempts
		}
		if delay >= 0 {
			x.readDelay = delay
		}
	}
}

// WithLogger sets the logger. By default the "index" component logger is used.
func WithLogger(l *logging.Logger) Option {
	return func(x *Index) {
		if l != nil {
			x.log = l
		}
	}
}

// New creates an empty index persisted at path. Call Load to read the
// existing file.
func New(path string, roots Roots, opts ...Option) *Index {
	x := &Index{
		path:         path,
		roots:        roots,
		log:          logging.Get("index"),
		readAttempts: DefaultReadAttempts,
		readDelay:    DefaultReadDelay,
		buckets:      make(map[string][]*Entity),
		byPath:       make(map[string]*Entity),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Path returns the index file location.
func (x *Index) Path() string {
	return x.path
}

// Roots returns the roots the index resolves logical paths against.
func (x *Index) Roots() Roots {
	return x.roots
}

// Len returns the number of entities.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byPath)
}

// Dirty reports whether the file needs a full rewrite to match memory.
func (x *Index) Dirty() bool {
	return x.dirty.Load()
}

// Entities returns a copy of every entity, sorted by logical path.
func (x *Index) Entities() []Entity {
	x.mu.RLock()
	out := make([]Entity, 0, len(x.byPath))
	for _, e := range x.byPath {
		out = append(out, *e)
	}
	x.mu.RUnlock()

	sortEntities(out)
	return out
}

// Get returns the entity stored under a logical path without validating it.
func (x *Index) Get(logicalPath string) (Entity, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.byPath[normalizeLogical(logicalPath)]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Stats returns counts over the current contents.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s := Stats{Entities: len(x.byPath), Hashes: len(x.buckets)}
	for _, e := range x.byPath {
		if e.IsCache() {
			s.CacheEntities++
		} else {
			s.SourceEntities++
		}
		if e.Size > 0 {
			s.KnownBytes += e.Size
		}
	}
	return s
}

// Lookup returns a valid entity whose content hashes to hash. Source entities
// are preferred over cache entities. Candidates that turn out stale are
// updated or removed along the way.
func (x *Index) Lookup(hash string) (Entity, bool) {
	want := normalizeHash(hash)
	for _, c := range x.candidates(want, false) {
		if e, ok := x.revalidate(c); ok && e.Hash == want {
			return e, true
		}
	}
	return Entity{}, false
}

// LookupAll returns every entity for hash. With ignoreCache, cache entities
// are excluded. With validate, each candidate is revalidated first and only
// those still matching hash are returned.
func (x *Index) LookupAll(hash string, ignoreCache, validate bool) []Entity {
	want := normalizeHash(hash)
	cands := x.candidates(want, ignoreCache)
	if !validate {
		return cands
	}

	out := make([]Entity, 0, len(cands))
	for _, c := range cands {
		if e, ok := x.revalidate(c); ok && e.Hash == want {
			out = append(out, e)
		}
	}
	return out
}

// candidates snapshots the bucket for hash, source entities first.
func (x *Index) candidates(hash string, ignoreCache bool) []Entity {
	x.mu.RLock()
	bucket := x.buckets[hash]
	out := make([]Entity, 0, len(bucket))
	for _, e := range bucket {
		if ignoreCache && e.IsCache() {
			continue
		}
		out = append(out, *e)
	}
	x.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].IsCache(), out[j].IsCache()
		if ci != cj {
			return !ci
		}
		return out[i].LogicalPath < out[j].LogicalPath
	})
	return out
}

// revalidate validates e and applies the outcome. It returns the current
// entity and whether it is still present.
func (x *Index) revalidate(e Entity) (Entity, bool) {
	switch x.Validate(e) {
	case Valid:
		return e, true
	case RequireUpdate:
		updated, err := x.Update(e)
		if err != nil {
			x.log.Debug("update during lookup failed", "path", e.LogicalPath, "error", err)
			return Entity{}, false
		}
		return updated, true
	default:
		x.Remove(e.Hash, e.LogicalPath)
		return Entity{}, false
	}
}

// Validate compares e with its file. It never fails: anything that prevents
// inspecting the file, or a directory in its place, yields RequireDeletion.
func (x *Index) Validate(e Entity) State {
	path := e.ResolvedPath(x.roots)
	if path == "" {
		return RequireDeletion
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return RequireDeletion
	}
	if info.ModTime().UnixNano() != e.Modified {
		return RequireUpdate
	}
	return Valid
}

// Update re-hashes the file behind e and replaces the stored entity for its
// logical path. When the file has vanished, the entity is removed and an
// error wrapping ErrNotExist is returned.
func (x *Index) Update(e Entity) (Entity, error) {
	path, err := Resolve(e.LogicalPath, x.roots)
	if err != nil {
		x.Remove(e.Hash, e.LogicalPath)
		return Entity{}, err
	}

	fresh, err := describe(path, e.LogicalPath)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			x.Remove(e.Hash, e.LogicalPath)
		}
		return Entity{}, err
	}

	x.mu.Lock()
	if cur, ok := x.byPath[fresh.LogicalPath]; ok && cur.Hash == fresh.Hash {
		fresh.CompressedSize = cur.CompressedSize
	}
	x.put(&fresh)
	x.mu.Unlock()

	x.dirty.Store(true)
	return fresh, nil
}

// Remove deletes the entity with the given hash and logical path. It reports
// whether anything was removed.
func (x *Index) Remove(hash, logicalPath string) bool {
	lp := normalizeLogical(logicalPath)

	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.byPath[lp]
	if !ok || e.Hash != normalizeHash(hash) {
		return false
	}
	x.detach(e)
	x.dirty.Store(true)
	return true
}

// Forget removes the entity at path, or every entity below path when it
// names a directory. Path may be absolute or logical. It returns how many
// entities were removed.
func (x *Index) Forget(path string) int {
	lp, _, err := ToLogical(path, x.roots)
	if err != nil {
		return 0
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if e, ok := x.byPath[lp]; ok {
		x.detach(e)
		x.dirty.Store(true)
		return 1
	}

	prefix := lp + logicalSep
	n := 0
	for p, e := range x.byPath {
		if strings.HasPrefix(p, prefix) {
			x.detach(e)
			n++
		}
	}
	if n > 0 {
		x.dirty.Store(true)
	}
	return n
}

// SetCompressedSize records the transfer-compressed length for every entity
// with hash and returns how many were updated.
func (x *Index) SetCompressedSize(hash string, size int64) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	bucket := x.buckets[normalizeHash(hash)]
	for _, e := range bucket {
		e.CompressedSize = size
	}
	if len(bucket) > 0 {
		x.dirty.Store(true)
	}
	return len(bucket)
}

// Ingest hashes the file at path and records it. Root restricts which tree
// the path must belong to; RootAny accepts either. The new entity is
// appended to the index file.
func (x *Index) Ingest(path string, root Root) (Entity, error) {
	lp, got, err := ToLogical(path, x.roots)
	if err != nil {
		return Entity{}, err
	}
	if root != RootAny && got != root {
		return Entity{}, fmt.Errorf("%w: %s is not under the %s root", ErrOutsideRoots, path, root)
	}

	resolved, err := Resolve(lp, x.roots)
	if err != nil {
		return Entity{}, err
	}
	e, err := describe(resolved, lp)
	if err != nil {
		return Entity{}, err
	}

	x.mu.Lock()
	_, replaced := x.byPath[lp]
	stored := e
	x.put(&stored)
	x.mu.Unlock()

	if replaced {
		x.dirty.Store(true)
		return e, nil
	}
	if err := x.appendEntity(e); err != nil {
		x.log.Warn("failed to append index line", "path", lp, "error", err)
		x.dirty.Store(true)
	}
	return e, nil
}

// ResolveBatch maps each path to its current entity, validating known
// entities and ingesting unknown files. Paths that cannot be resolved map to
// nil. Only one batch runs at a time; the rest wait their turn.
func (x *Index) ResolveBatch(ctx context.Context, paths []string) map[string]*Entity {
	x.resolveMu.Lock()
	defer x.resolveMu.Unlock()

	out := make(map[string]*Entity, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			out[p] = nil
			continue
		}
		out[p] = x.resolveOne(p)
	}
	return out
}

func (x *Index) resolveOne(path string) *Entity {
	lp, _, err := ToLogical(path, x.roots)
	if err != nil {
		x.log.Debug("cannot resolve path", "path", path, "error", err)
		return nil
	}

	if cur, ok := x.Get(lp); ok {
		e, ok := x.revalidate(cur)
		if !ok {
			return nil
		}
		return &e
	}

	e, err := x.Ingest(path, RootAny)
	if err != nil {
		x.log.Debug("cannot ingest path", "path", path, "error", err)
		return nil
	}
	return &e
}

// put stores e, replacing any entity with the same logical path. Callers
// hold x.mu.
func (x *Index) put(e *Entity) {
	if old, ok := x.byPath[e.LogicalPath]; ok {
		x.detach(old)
	}
	x.buckets[e.Hash] = append(x.buckets[e.Hash], e)
	x.byPath[e.LogicalPath] = e
}

// detach removes e from both maps. Callers hold x.mu.
func (x *Index) detach(e *Entity) {
	bucket := x.buckets[e.Hash]
	for i, b := range bucket {
		if b == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(x.buckets, e.Hash)
	} else {
		x.buckets[e.Hash] = bucket
	}
	delete(x.byPath, e.LogicalPath)
}

// describe builds a fresh entity for the file at path. The modification
// marker is read before hashing so a write during hashing leaves a stale
// marker that the next validation catches.
func describe(path, logicalPath string) (Entity, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Entity{}, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return Entity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Entity{}, fmt.Errorf("%w: %s is a directory", ErrNotExist, path)
	}

	hash, err := HashFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entity{}, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return Entity{}, err
	}

	return Entity{
		Hash:           hash,
		LogicalPath:    logicalPath,
		Modified:       info.ModTime().UnixNano(),
		Size:           info.Size(),
		CompressedSize: Unknown,
	}, nil
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool {
		li, lj := strings.ToLower(es[i].LogicalPath), strings.ToLower(es[j].LogicalPath)
		if li != lj {
			return li < lj
		}
		return es[i].LogicalPath < es[j].LogicalPath
	})
}
