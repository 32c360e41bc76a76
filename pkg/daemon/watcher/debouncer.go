package watcher

import (
	"context"
	"time"

	"github.com/jamesainslie/modcache/pkg/modcache/logging"
)

// Reconciler applies a batch of changes keyed by path.
type Reconciler interface {
	Reconcile(ctx context.Context, batch map[string]Change)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, batch map[string]Change)

// Reconcile calls f(ctx, batch).
func (f ReconcilerFunc) Reconcile(ctx context.Context, batch map[string]Change) {
	f(ctx, batch)
}

// Idler reports whether reconciliation is paused.
type Idler interface {
	Idle() <-chan struct{}
	Halted() bool
}

// Debouncer collects changes until none have arrived for the quiet period
// and reconciliation is not halted, then delivers them as one batch. Later
// changes to a path replace earlier ones. A change that arrives while a due
// batch waits for the halt to lift restarts the quiet period.
type Debouncer struct {
	name       string
	quiet      time.Duration
	in         chan Change
	halt       Idler
	reconciler Reconciler
	log        *logging.Logger
}

// NewDebouncer creates a Debouncer with an input channel of size buffer.
// A nil halt never pauses.
func NewDebouncer(name string, quiet time.Duration, buffer int, halt Idler, r Reconciler) *Debouncer {
	if buffer < 1 {
		buffer = 1
	}
	return &Debouncer{
		name:       name,
		quiet:      quiet,
		in:         make(chan Change, buffer),
		halt:       halt,
		reconciler: r,
		log:        logging.Get("watcher").With("tree", name),
	}
}

// In returns the channel producers send changes to.
func (d *Debouncer) In() chan<- Change {
	return d.in
}

// Run consumes changes until ctx is cancelled. Pending changes are dropped
// on exit; the next full scan picks them up.
func (d *Debouncer) Run(ctx context.Context) {
	pending := make(map[string]Change)

	timer := time.NewTimer(d.quiet)
	timer.Stop()
	defer timer.Stop()

	var (
		quietC <-chan time.Time
		idleC  <-chan struct{}
	)

	for {
		select {
		case <-ctx.Done():
			if len(pending) > 0 {
				d.log.Debug("dropping pending changes", "count", len(pending))
			}
			return

		case c := <-d.in:
			merge(pending, c)
			timer.Reset(d.quiet)
			quietC = timer.C
			idleC = nil

		case <-quietC:
			quietC = nil
			idleC = d.idle()

		case <-idleC:
			if d.halt != nil && d.halt.Halted() {
				idleC = d.idle()
				continue
			}
			idleC = nil

			batch := pending
			pending = make(map[string]Change)
			d.log.Debug("reconciling changes", "count", len(batch))
			d.reconciler.Reconcile(ctx, batch)
		}
	}
}

// merge records c as the latest change to its path. When c replaces a
// rename whose old side would otherwise be lost, that old path is queued as
// a removal so it is still forgotten.
func merge(pending map[string]Change, c Change) {
	if prev, ok := pending[c.Path]; ok && prev.Kind == Renamed && prev.OldPath != c.OldPath {
		if _, queued := pending[prev.OldPath]; !queued {
			pending[prev.OldPath] = Change{Kind: Removed, Path: prev.OldPath}
		}
	}
	pending[c.Path] = c
}

func (d *Debouncer) idle() <-chan struct{} {
	if d.halt == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.halt.Idle()
}
