package scanner

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// Scan phases reported through ScanProgress.Phase.
const (
	PhaseDiscover = "discover"
	PhaseValidate = "validate"
	PhaseApply    = "apply"
	PhaseIngest   = "ingest"
	PhaseDone     = "done"
)

// candidate is a file found on disk during discovery.
type candidate struct {
	path      string
	root      index.Root
	confirmed atomic.Bool
}

// Scanner runs one full reconciliation. A Scanner is single-use.
type Scanner struct {
	opts Options
	log  *logging.Logger

	// candidates is keyed by lowercased absolute path.
	candidates   map[string]*candidate
	candidatesMu sync.Mutex

	validated atomic.Int64
	ingested  atomic.Int64

	phase        atomic.Value
	currentPath  atomic.Value
	lastProgress atomic.Int64

	errors   []types.ScanError
	errorsMu sync.Mutex

	// beforeWalk, when set, runs as a discovery worker enters a subdirectory.
	beforeWalk func(dir string)
}

// New creates a Scanner with defaults applied as described by
// Options.Validate.
func New(opts Options) *Scanner {
	opts.Validate()
	s := &Scanner{
		opts:       opts,
		log:        logging.Get("scanner"),
		candidates: make(map[string]*candidate),
	}
	s.phase.Store(PhaseDiscover)
	s.currentPath.Store("")
	return s
}

// Scan reconciles the index with both trees and blocks until done.
//
// If either root is not configured or missing, the scan is skipped. If ctx
// is cancelled during discovery or validation, nothing is applied and the
// result is marked Cancelled; cancellation is not an error. Updates,
// removals and ingestion only start once no halt is held.
func (s *Scanner) Scan(ctx context.Context) (*types.ScanResult, error) {
	res := &types.ScanResult{ID: uuid.NewString(), Started: time.Now()}
	defer func() {
		res.Elapsed = time.Since(res.Started)
		res.Errors = s.collectErrors()
	}()

	roots := s.opts.Index.Roots()
	if reason := unavailable(roots); reason != "" {
		s.log.Warn("scan skipped", "reason", reason)
		res.Skipped = true
		return res, nil
	}
	s.log.Info("scan started", "source", roots.SourceRoot(), "cache", roots.CacheRoot(), "workers", s.opts.Workers)

	s.setPhase(PhaseDiscover)
	if err := s.discover(ctx, roots); err != nil {
		if ctx.Err() != nil {
			return s.cancelled(res), nil
		}
		return res, err
	}
	res.Candidates = int64(len(s.candidates))

	s.setPhase(PhaseValidate)
	updates, removals, err := s.validate(ctx)
	res.Validated = s.validated.Load()
	if err != nil {
		return s.cancelled(res), nil
	}

	s.setPhase(PhaseApply)
	if err := s.opts.Halt.Wait(ctx); err != nil {
		return s.cancelled(res), nil
	}
	for _, e := range updates {
		if _, err := s.opts.Index.Update(e); err != nil {
			if errors.Is(err, index.ErrNotExist) {
				res.Removed++
				continue
			}
			s.addError(e.LogicalPath, err)
			continue
		}
		res.Updated++
	}
	for _, e := range removals {
		if s.opts.Index.Remove(e.Hash, e.LogicalPath) {
			res.Removed++
		}
	}
	if err := s.opts.Index.PersistAll(); err != nil {
		s.addError("index", err)
	}

	s.setPhase(PhaseIngest)
	if err := s.opts.Halt.Wait(ctx); err != nil {
		return s.cancelled(res), nil
	}
	added, err := s.ingest(ctx)
	res.Added = added
	if added > 0 {
		if perr := s.opts.Index.PersistAll(); perr != nil {
			s.addError("index", perr)
		}
	}
	if err != nil {
		return s.cancelled(res), nil
	}

	s.setPhase(PhaseDone)
	s.reportProgressForce()
	s.log.Info("scan finished",
		"candidates", res.Candidates,
		"validated", res.Validated,
		"updated", res.Updated,
		"removed", res.Removed,
		"added", res.Added,
		"elapsed", time.Since(res.Started))
	return res, nil
}

func (s *Scanner) cancelled(res *types.ScanResult) *types.ScanResult {
	res.Cancelled = true
	s.log.Info("scan cancelled", "phase", s.phase.Load())
	return res
}

// unavailable returns why the roots cannot be scanned, or "".
func unavailable(roots index.Roots) string {
	for _, r := range []struct{ name, path string }{
		{"source", roots.SourceRoot()},
		{"cache", roots.CacheRoot()},
	} {
		if r.path == "" {
			return r.name + " root not configured"
		}
		info, err := os.Stat(r.path)
		if err != nil || !info.IsDir() {
			return r.name + " root unavailable"
		}
	}
	return ""
}

// validate checks every entity in parallel and sorts the stale ones into
// updates and removals. Entities that are valid, or only need an update,
// confirm their candidate so it is not ingested again.
func (s *Scanner) validate(ctx context.Context) (updates, removals []index.Entity, err error) {
	roots := s.opts.Index.Roots()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, e := range s.opts.Index.Entities() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.opts.Halt.Wait(gctx); err != nil {
				return err
			}
			s.currentPath.Store(e.LogicalPath)

			state := s.opts.Index.Validate(e)
			if state != index.RequireDeletion {
				s.confirm(e.ResolvedPath(roots))
			}

			mu.Lock()
			switch state {
			case index.RequireUpdate:
				updates = append(updates, e)
			case index.RequireDeletion:
				removals = append(removals, e)
			}
			mu.Unlock()

			s.validated.Add(1)
			s.reportProgress()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return updates, removals, nil
}

// ingest hashes every unconfirmed candidate and returns how many were added.
func (s *Scanner) ingest(ctx context.Context) (int64, error) {
	var pending []*candidate
	for _, c := range s.candidates {
		if !c.confirmed.Load() {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}
	s.log.Debug("ingesting new files", "count", len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, c := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := s.opts.Halt.Wait(gctx); err != nil {
				return err
			}
			s.currentPath.Store(c.path)
			if _, err := s.opts.Index.Ingest(c.path, c.root); err != nil {
				s.addError(c.path, err)
				return nil
			}
			s.ingested.Add(1)
			s.reportProgress()
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return s.ingested.Load(), err
}

func (s *Scanner) addCandidate(path string, root index.Root) {
	key := strings.ToLower(path)
	s.candidatesMu.Lock()
	if _, ok := s.candidates[key]; !ok {
		s.candidates[key] = &candidate{path: path, root: root}
	}
	s.candidatesMu.Unlock()
}

func (s *Scanner) confirm(path string) {
	if path == "" {
		return
	}
	s.candidatesMu.Lock()
	c, ok := s.candidates[strings.ToLower(path)]
	s.candidatesMu.Unlock()
	if ok {
		c.confirmed.Store(true)
	}
}

func (s *Scanner) addError(path string, err error) {
	s.log.Debug("scan error", "path", path, "error", err)
	s.errorsMu.Lock()
	s.errors = append(s.errors, types.ScanError{Path: path, Error: err.Error()})
	s.errorsMu.Unlock()
}

func (s *Scanner) collectErrors() []types.ScanError {
	s.errorsMu.Lock()
	defer s.errorsMu.Unlock()
	return append([]types.ScanError(nil), s.errors...)
}

func (s *Scanner) setPhase(phase string) {
	s.phase.Store(phase)
	s.reportProgressForce()
}

// reportProgress calls OnProgress at most every 10ms.
func (s *Scanner) reportProgress() {
	if s.opts.OnProgress == nil {
		return
	}
	now := time.Now().UnixMilli()
	last := s.lastProgress.Load()
	if now-last < 10 {
		return
	}
	if !s.lastProgress.CompareAndSwap(last, now) {
		return
	}
	s.sendProgress()
}

func (s *Scanner) reportProgressForce() {
	if s.opts.OnProgress == nil {
		return
	}
	s.lastProgress.Store(time.Now().UnixMilli())
	s.sendProgress()
}

func (s *Scanner) sendProgress() {
	phase, _ := s.phase.Load().(string)
	current, _ := s.currentPath.Load().(string)

	s.candidatesMu.Lock()
	n := len(s.candidates)
	s.candidatesMu.Unlock()

	s.opts.OnProgress(types.ScanProgress{
		Phase:       phase,
		Candidates:  int64(n),
		Validated:   s.validated.Load(),
		Ingested:    s.ingested.Load(),
		CurrentPath: current,
	})
}
