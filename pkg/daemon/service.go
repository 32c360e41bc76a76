// Package daemon runs modcache as a long-lived service: it owns the index,
// schedules full scans, keeps the watch streams running, enforces the
// cache quota and records what it did.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/jamesainslie/modcache/pkg/daemon/broadcaster"
	"github.com/jamesainslie/modcache/pkg/daemon/store"
	"github.com/jamesainslie/modcache/pkg/daemon/watcher"
	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/diskusage"
	"github.com/jamesainslie/modcache/pkg/modcache/evict"
	"github.com/jamesainslie/modcache/pkg/modcache/filter"
	"github.com/jamesainslie/modcache/pkg/modcache/halt"
	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
	"github.com/jamesainslie/modcache/pkg/modcache/output"
	"github.com/jamesainslie/modcache/pkg/modcache/scanner"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// VerifyHaltTag is held while an integrity check runs.
const VerifyHaltTag = "integrity-check"

// Options configures a Service.
type Options struct {
	// Config supplies tuning values. Required.
	Config *config.Config

	// Roots and Index must share the same Roots value. Required.
	Roots *Roots
	Index *index.Index

	// Halt defaults to a fresh halt.Service.
	Halt *halt.Service

	// History records runs when set.
	History *store.Store

	// Broadcaster defaults to a fresh broadcaster.
	Broadcaster *broadcaster.Broadcaster

	// Filter defaults to filter.New().
	Filter *filter.Filter

	// Provider defaults to diskusage.Default().
	Provider diskusage.Provider

	// StatusPath, when set, receives a status snapshot after each run.
	StatusPath string

	// DisableWatch keeps the watch streams off. One-shot commands set it.
	DisableWatch bool
}

// stream is one running watch pipeline.
type stream struct {
	root   string
	w      *watcher.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

func (st *stream) stop() {
	st.cancel()
	_ = st.w.Close()
	<-st.done
}

// Service coordinates scanning, watching, eviction and verification.
type Service struct {
	cfg      *config.Config
	roots    *Roots
	idx      *index.Index
	halt     *halt.Service
	history  *store.Store
	bc       *broadcaster.Broadcaster
	filter   *filter.Filter
	provider diskusage.Provider
	maxSize  int64
	status   string
	noWatch  bool
	log      *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}

	watchMu     sync.Mutex
	sourceWatch *stream
	cacheWatch  *stream

	evictMu sync.Mutex

	stateMu   sync.Mutex
	lastScan  time.Time
	lastEvict time.Time
	lastErr   error
}

// NewService creates a Service. Nothing runs until Load and Run or one of
// the one-shot operations is called.
func NewService(opts Options) (*Service, error) {
	if opts.Config == nil || opts.Roots == nil || opts.Index == nil {
		return nil, errors.New("daemon: config, roots and index are required")
	}
	maxSize, err := opts.Config.MaxCacheSizeBytes()
	if err != nil {
		return nil, err
	}
	if opts.Halt == nil {
		opts.Halt = halt.New()
	}
	if opts.Broadcaster == nil {
		opts.Broadcaster = broadcaster.New()
	}
	if opts.Filter == nil {
		opts.Filter = filter.New()
	}
	if opts.Provider == nil {
		opts.Provider = diskusage.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      opts.Config,
		roots:    opts.Roots,
		idx:      opts.Index,
		halt:     opts.Halt,
		history:  opts.History,
		bc:       opts.Broadcaster,
		filter:   opts.Filter,
		provider: opts.Provider,
		maxSize:  maxSize,
		status:   opts.StatusPath,
		noWatch:  opts.DisableWatch,
		log:      logging.Get("daemon"),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Index returns the managed index.
func (s *Service) Index() *index.Index { return s.idx }

// Broadcaster returns the event broadcaster.
func (s *Service) Broadcaster() *broadcaster.Broadcaster { return s.bc }

// Halt pauses reconciliation under tag.
func (s *Service) Halt(tag string) { s.halt.Halt(tag) }

// Resume releases one hold of tag.
func (s *Service) Resume(tag string) { s.halt.Resume(tag) }

// Load reads the index file and prunes expired history.
func (s *Service) Load(ctx context.Context) error {
	res, err := s.idx.Load(ctx)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	if res.Recovered {
		s.log.Warn("index was restored from backup")
	}

	if s.history != nil && s.cfg.History.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.History.RetentionDays)
		if n, err := s.history.Prune(cutoff); err != nil {
			s.log.Warn("failed to prune history", "error", err)
		} else if n > 0 {
			s.log.Info("pruned history", "records", n)
		}
	}
	return nil
}

// Run loads the index, starts the first scan and the eviction schedule,
// and blocks until ctx is cancelled. Watch streams start after the first
// scan that completes.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	s.writeStatus(StatusStarting)
	if err := s.Load(ctx); err != nil {
		if s.status != "" {
			_ = WriteStatusError(s.status, err)
		}
		return err
	}

	s.StartScan()

	interval := s.cfg.Eviction.Interval
	if interval <= 0 {
		interval = config.DefaultEvictionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.writeStatus(StatusReady)
	s.log.Info("daemon running", "source", s.roots.SourceRoot(), "cache", s.roots.CacheRoot(), "evict_every", interval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("daemon stopping")
			return nil
		case <-ticker.C:
			if _, err := s.Evict(ctx, false); err != nil {
				s.log.Error("scheduled eviction failed", "error", err)
			}
		}
	}
}

// Close stops scans and watch streams and persists the index if needed.
// It is safe to call more than once.
func (s *Service) Close() {
	s.cancel()
	s.cancelScan()
	s.stopWatchers()

	if err := s.idx.PersistIfDirty(); err != nil {
		s.log.Error("failed to persist index on shutdown", "error", err)
	}
	s.writeStatus(StatusStopped)
}

// StartScan cancels any running scan, waits for it to exit, and starts a
// new one. The returned channel receives the result.
func (s *Service) StartScan() <-chan *types.ScanResult {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	s.cancelScanLocked()

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	out := make(chan *types.ScanResult, 1)
	s.scanCancel, s.scanDone = cancel, done

	go func() {
		defer close(done)
		defer cancel()

		res, err := scanner.New(scanner.Options{
			Index:       s.idx,
			Filter:      s.filter,
			Halt:        s.halt,
			Workers:     s.cfg.Workers,
			SubdirPause: s.cfg.Scan.SubdirPause,
		}).Scan(ctx)
		if err != nil {
			s.log.Error("scan failed", "error", err)
			s.setErr(err)
		}
		if res != nil {
			s.afterScan(res)
		}
		out <- res
	}()
	return out
}

// Scan runs a full scan and waits for its result.
func (s *Service) Scan(ctx context.Context) (*types.ScanResult, error) {
	ch := s.StartScan()
	select {
	case res := <-ch:
		if res == nil {
			return nil, errors.New("scan failed")
		}
		return res, nil
	case <-ctx.Done():
		s.cancelScan()
		return nil, ctx.Err()
	}
}

func (s *Service) cancelScan() {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()
	s.cancelScanLocked()
}

func (s *Service) cancelScanLocked() {
	if s.scanCancel == nil {
		return
	}
	s.scanCancel()
	<-s.scanDone
	s.scanCancel, s.scanDone = nil, nil
}

func (s *Service) afterScan(res *types.ScanResult) {
	summary := output.ScanSummary(res)
	s.record(store.KindScan, res.ID, res.Started, res.Elapsed, summary, res)
	s.bc.Publish(broadcaster.EventScanCompleted, summary, res)

	if res.Skipped || res.Cancelled {
		return
	}
	s.stateMu.Lock()
	s.lastScan = res.Started
	s.stateMu.Unlock()

	if !s.noWatch && s.ctx.Err() == nil {
		s.ensureWatchers()
	}
	s.writeStatus(StatusReady)
}

// SetSourceRoot switches the source tree. When the new root is available a
// fresh scan starts; otherwise any scan is cancelled and the source watch
// stops until a usable root is set.
func (s *Service) SetSourceRoot(path string) {
	if !s.roots.SetSource(path) {
		return
	}
	s.bc.Publish(broadcaster.EventRootChanged, "source root set to "+path, path)
	s.stopSourceWatch()

	if !s.roots.SourceAvailable() {
		s.log.Warn("source root unavailable, reconciliation suspended", "path", path)
		s.cancelScan()
		return
	}
	s.log.Info("source root changed", "path", path)
	s.StartScan()
}

// SourceRootChanged re-evaluates the current source root after it may have
// appeared or disappeared on disk.
func (s *Service) SourceRootChanged() {
	if !s.roots.SourceAvailable() {
		s.log.Warn("source root unavailable, reconciliation suspended", "path", s.roots.SourceRoot())
		s.cancelScan()
		s.stopSourceWatch()
		return
	}
	s.StartScan()
}

// Lookup returns a valid entity for hash, preferring source files.
func (s *Service) Lookup(hash string) (index.Entity, bool) {
	return s.idx.Lookup(hash)
}

// LookupAll returns every validated entity for hash.
func (s *Service) LookupAll(hash string, ignoreCache bool) []index.Entity {
	return s.idx.LookupAll(hash, ignoreCache, true)
}

// Resolve maps paths to entities, ingesting unknown files, and persists
// the index if anything changed.
func (s *Service) Resolve(ctx context.Context, paths []string) map[string]*index.Entity {
	out := s.idx.ResolveBatch(ctx, paths)
	if err := s.idx.PersistIfDirty(); err != nil {
		s.log.Error("failed to persist index", "error", err)
	}
	return out
}

// Evict runs one quota sweep. Concurrent calls are serialized.
func (s *Service) Evict(ctx context.Context, dryRun bool) (*types.EvictionResult, error) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	res, err := evict.New(evict.Options{
		CacheRoot: s.roots.CacheRoot(),
		MaxSize:   s.maxSize,
		Provider:  s.provider,
		Index:     s.idx,
		Halt:      s.halt,
		DryRun:    dryRun,
	}).Run(ctx)
	if err != nil {
		s.setErr(err)
		return res, err
	}

	if res.Triggered {
		summary := output.EvictionSummary(res)
		s.record(store.KindEvict, res.ID, res.Started, res.Elapsed, summary, res)
		s.bc.Publish(broadcaster.EventEvicted, summary, res)
	}
	if !dryRun {
		s.stateMu.Lock()
		s.lastEvict = res.Started
		s.stateMu.Unlock()
		s.writeStatus("")
	}
	return res, nil
}

// Verify re-hashes every cache entity while holding VerifyHaltTag, so
// reconciliation waits until the check is done.
func (s *Service) Verify(ctx context.Context, onProgress index.VerifyProgress) types.VerifyResult {
	release := s.halt.Acquire(VerifyHaltTag)
	defer release()

	res := s.idx.Verify(ctx, onProgress)
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	summary := output.VerifySummary(&res)
	s.record(store.KindVerify, res.ID, res.Started, res.Elapsed, summary, res)
	s.bc.Publish(broadcaster.EventVerified, summary, &res)
	return res
}

// ensureWatchers starts whichever watch streams are not running.
func (s *Service) ensureWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.cacheWatch == nil && s.roots.CacheAvailable() {
		cacheRoot := s.roots.CacheRoot()
		st, err := s.startStream("cache", cacheRoot, false,
			fsnotify.Create|fsnotify.Remove,
			quietOr(s.cfg.Watch.CacheQuiet, config.DefaultCacheQuiet),
			func(p string) bool {
				return filepath.Dir(p) == cacheRoot && s.filter.IsCacheEntry(filepath.Base(p))
			})
		if err != nil {
			s.log.Error("failed to watch cache root", "path", cacheRoot, "error", err)
		} else {
			s.cacheWatch = st
		}
	}

	source := s.roots.SourceRoot()
	if s.sourceWatch != nil && s.sourceWatch.root != source {
		s.sourceWatch.stop()
		s.sourceWatch = nil
	}
	if s.sourceWatch == nil && s.roots.SourceAvailable() {
		st, err := s.startStream("source", source, true,
			fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename,
			quietOr(s.cfg.Watch.SourceQuiet, config.DefaultSourceQuiet),
			s.sourceMatcher(source))
		if err != nil {
			s.log.Error("failed to watch source root", "path", source, "error", err)
		} else {
			s.sourceWatch = st
		}
	}
}

// sourceMatcher accepts asset files inside a source subdirectory.
func (s *Service) sourceMatcher(root string) func(string) bool {
	return func(p string) bool {
		rel, err := filepath.Rel(root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return false
		}
		if !strings.ContainsRune(rel, filepath.Separator) {
			return false
		}
		return s.filter.MatchSource(rel)
	}
}

func (s *Service) startStream(name, root string, recursive bool, ops fsnotify.Op, quiet time.Duration, match func(string) bool) (*stream, error) {
	buffer := s.cfg.Watch.Buffer
	if buffer <= 0 {
		buffer = config.DefaultWatchBuffer
	}

	w, err := watcher.New(watcher.Options{
		Name:      name,
		Root:      root,
		Recursive: recursive,
		Ops:       ops,
		Match:     match,
		Events:    buffer,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Watch(); err != nil {
		_ = w.Close()
		return nil, err
	}
	rec := &watcher.IndexReconciler{Tree: name, Index: s.idx, OnResult: s.onReconciled}
	d := watcher.NewDebouncer(name, quiet, buffer, s.halt, rec)

	ctx, cancel := context.WithCancel(s.ctx)
	st := &stream{root: root, w: w, cancel: cancel, done: make(chan struct{})}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(ctx, d.In())
	}()
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()
	go func() {
		wg.Wait()
		close(st.done)
	}()

	s.log.Info("watching", "tree", name, "root", root, "directories", w.Watched(), "quiet", quiet)
	return st, nil
}

func (s *Service) onReconciled(res watcher.Result) {
	summary := fmt.Sprintf("%s: %d changes, %d resolved, %d forgotten", res.Tree, res.Changes, res.Resolved, res.Forgotten)
	s.record(store.KindReconcile, "", time.Now(), 0, summary, res)
	s.bc.Publish(broadcaster.EventReconciled, summary, res)
}

func (s *Service) stopSourceWatch() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.sourceWatch != nil {
		s.sourceWatch.stop()
		s.sourceWatch = nil
	}
}

func (s *Service) stopWatchers() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, st := range []**stream{&s.sourceWatch, &s.cacheWatch} {
		if *st != nil {
			(*st).stop()
			*st = nil
		}
	}
}

// Watching returns the roots currently under watch.
func (s *Service) Watching() []string {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	var out []string
	for _, st := range []*stream{s.sourceWatch, s.cacheWatch} {
		if st != nil {
			out = append(out, st.root)
		}
	}
	return out
}

// Status returns a snapshot of the service state.
func (s *Service) Status() StatusFile {
	s.stateMu.Lock()
	st := StatusFile{
		LastScan:  s.lastScan,
		LastEvict: s.lastEvict,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	s.stateMu.Unlock()

	st.Source = s.roots.SourceRoot()
	st.Cache = s.roots.CacheRoot()
	st.Entities = s.idx.Len()
	st.Watching = s.Watching()
	for tag := range s.halt.Holders() {
		st.Halted = append(st.Halted, tag)
	}
	sort.Strings(st.Halted)
	return st
}

// writeStatus publishes a snapshot to the status file. An empty state
// keeps the ready state.
func (s *Service) writeStatus(state string) {
	if s.status == "" {
		return
	}
	st := s.Status()
	st.Status = state
	if state == "" {
		st.Status = StatusReady
	}
	st.PID = os.Getpid()
	if err := WriteStatus(s.status, &st); err != nil {
		s.log.Warn("failed to write status file", "path", s.status, "error", err)
	}
}

func (s *Service) setErr(err error) {
	s.stateMu.Lock()
	s.lastErr = err
	s.stateMu.Unlock()
}

func (s *Service) record(kind store.Kind, id string, started time.Time, elapsed time.Duration, summary string, detail any) {
	if s.history == nil || !s.cfg.History.Enabled {
		return
	}
	rec, err := store.NewRecord(id, kind, started, elapsed, summary, detail)
	if err == nil {
		err = s.history.Put(rec)
	}
	if err != nil {
		s.log.Warn("failed to record history", "kind", kind, "error", err)
	}
}

func quietOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
