package watcher

import (
	"context"
	"sort"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
)

// Index is the part of *index.Index a reconciler needs.
type Index interface {
	Forget(path string) int
	ResolveBatch(ctx context.Context, paths []string) map[string]*index.Entity
	PersistAll() error
}

// Result summarizes one reconciled batch.
type Result struct {
	Tree       string `json:"tree"`
	Changes    int    `json:"changes"`
	Forgotten  int    `json:"forgotten"`
	Resolved   int    `json:"resolved"`
	Unresolved int    `json:"unresolved"`
}

// IndexReconciler applies batches to an index: removals and the old side
// of renames are forgotten, everything else is resolved, and the index is
// persisted once per batch.
type IndexReconciler struct {
	Tree  string
	Index Index

	// OnResult, when set, is called after each batch.
	OnResult func(Result)
}

// Reconcile implements Reconciler.
func (r *IndexReconciler) Reconcile(ctx context.Context, batch map[string]Change) {
	log := logging.Get("watcher")
	res := Result{Tree: r.Tree, Changes: len(batch)}

	paths := make([]string, 0, len(batch))
	for p := range batch {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var resolve []string
	for _, p := range paths {
		c := batch[p]
		switch c.Kind {
		case Removed:
			res.Forgotten += r.Index.Forget(c.Path)
		case Renamed:
			res.Forgotten += r.Index.Forget(c.OldPath)
			resolve = append(resolve, c.Path)
		default:
			resolve = append(resolve, c.Path)
		}
	}

	if len(resolve) > 0 {
		for _, e := range r.Index.ResolveBatch(ctx, resolve) {
			if e != nil {
				res.Resolved++
			} else {
				res.Unresolved++
			}
		}
	}

	if err := r.Index.PersistAll(); err != nil {
		log.Error("failed to persist index", "tree", r.Tree, "error", err)
	}

	log.Info("changes reconciled",
		"tree", r.Tree,
		"changes", res.Changes,
		"forgotten", res.Forgotten,
		"resolved", res.Resolved,
		"unresolved", res.Unresolved)

	if r.OnResult != nil {
		r.OnResult(res)
	}
}
