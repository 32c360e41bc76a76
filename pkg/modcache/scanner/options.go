// Package scanner performs full reconciliation of the file index against
// the source and cache trees: it discovers candidate files, revalidates
// every known entity, applies updates and removals, and ingests whatever
// is new.
package scanner

import (
	"context"
	"runtime"
	"time"

	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/filter"
	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

// Index is the part of *index.Index the scanner drives.
type Index interface {
	Roots() index.Roots
	Entities() []index.Entity
	Validate(e index.Entity) index.State
	Update(e index.Entity) (index.Entity, error)
	Remove(hash, logicalPath string) bool
	Ingest(path string, root index.Root) (index.Entity, error)
	PersistAll() error
}

// Waiter blocks while reconciliation is paused.
type Waiter interface {
	Wait(ctx context.Context) error
}

type noHalt struct{}

func (noHalt) Wait(ctx context.Context) error { return ctx.Err() }

// Options configures a scan.
type Options struct {
	// Index is the index to reconcile. Required.
	Index Index

	// Filter selects source and cache files. Nil uses filter.New().
	Filter *filter.Filter

	// Halt is consulted before every validated and ingested item.
	// Nil never pauses.
	Halt Waiter

	// Workers bounds the discovery, validation and ingest pools. Zero uses
	// DefaultWorkers.
	Workers int

	// SubdirPause is slept by each discovery worker between source
	// subdirectories so enumeration does not starve other disk users. Zero
	// disables the pause; a negative value uses config.DefaultSubdirPause.
	SubdirPause time.Duration

	// OnProgress is called with throttled progress snapshots. It may be
	// called from multiple goroutines.
	OnProgress func(types.ScanProgress)
}

// DefaultWorkers returns half the logical CPUs, clamped to [2, 8].
func DefaultWorkers() int {
	n := runtime.NumCPU() / 2
	switch {
	case n < 2:
		return 2
	case n > 8:
		return 8
	default:
		return n
	}
}

// Validate fills in a nil Filter and Halt, a non-positive Workers, and a
// negative SubdirPause.
func (o *Options) Validate() {
	if o.Filter == nil {
		o.Filter = filter.New()
	}
	if o.Halt == nil {
		o.Halt = noHalt{}
	}
	if o.Workers < 1 {
		o.Workers = DefaultWorkers()
	}
	if o.SubdirPause < 0 {
		o.SubdirPause = config.DefaultSubdirPause
	}
}
