package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modcache/pkg/modcache/halt"
)

type recorder struct {
	mu      sync.Mutex
	batches []map[string]Change
	got     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) Reconcile(_ context.Context, batch map[string]Change) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) wait(t *testing.T) map[string]Change {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[len(r.batches)-1]
}

func runDebouncer(t *testing.T, quiet time.Duration, h Idler, r Reconciler) *Debouncer {
	t.Helper()
	d := NewDebouncer("test", quiet, 16, h, r)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	return d
}

func TestDebouncerCoalesces(t *testing.T) {
	rec := newRecorder()
	d := runDebouncer(t, 50*time.Millisecond, nil, rec)

	d.In() <- Change{Kind: Created, Path: "/a"}
	d.In() <- Change{Kind: Changed, Path: "/a"}
	d.In() <- Change{Kind: Created, Path: "/b"}
	d.In() <- Change{Kind: Removed, Path: "/a"}

	batch := rec.wait(t)
	require.Len(t, batch, 2)
	assert.Equal(t, Removed, batch["/a"].Kind, "last change to a path wins")
	assert.Equal(t, Created, batch["/b"].Kind)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestDebouncerWaitsForQuiet(t *testing.T) {
	rec := newRecorder()
	d := runDebouncer(t, 80*time.Millisecond, nil, rec)

	start := time.Now()
	for range 4 {
		d.In() <- Change{Kind: Changed, Path: "/busy"}
		time.Sleep(40 * time.Millisecond)
	}

	rec.wait(t)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestDebouncerHoldsWhileHalted(t *testing.T) {
	rec := newRecorder()
	h := halt.New()
	h.Halt("combat")
	d := runDebouncer(t, 20*time.Millisecond, h, rec)

	d.In() <- Change{Kind: Created, Path: "/a"}
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, rec.count(), "no reconciliation while halted")

	d.In() <- Change{Kind: Created, Path: "/b"}
	time.Sleep(50 * time.Millisecond)
	h.Resume("combat")

	batch := rec.wait(t)
	assert.Len(t, batch, 2)
}

func TestDebouncerSeparateBatches(t *testing.T) {
	rec := newRecorder()
	d := runDebouncer(t, 20*time.Millisecond, nil, rec)

	d.In() <- Change{Kind: Created, Path: "/a"}
	first := rec.wait(t)
	d.In() <- Change{Kind: Created, Path: "/b"}
	second := rec.wait(t)

	assert.Contains(t, first, "/a")
	assert.NotContains(t, second, "/a")
	assert.Contains(t, second, "/b")
}

func TestMergeKeepsOldSideOfReplacedRename(t *testing.T) {
	pending := map[string]Change{}
	merge(pending, Change{Kind: Renamed, Path: "/b", OldPath: "/a"})
	merge(pending, Change{Kind: Removed, Path: "/b"})

	assert.Equal(t, map[string]Change{
		"/a": {Kind: Removed, Path: "/a"},
		"/b": {Kind: Removed, Path: "/b"},
	}, pending)

	pending = map[string]Change{}
	merge(pending, Change{Kind: Renamed, Path: "/b", OldPath: "/a"})
	merge(pending, Change{Kind: Created, Path: "/a"})
	merge(pending, Change{Kind: Changed, Path: "/b"})
	assert.Equal(t, Created, pending["/a"].Kind, "a later change to the old path wins")

	pending = map[string]Change{}
	merge(pending, Change{Kind: Renamed, Path: "/b", OldPath: "/a"})
	merge(pending, Change{Kind: Renamed, Path: "/b", OldPath: "/a"})
	assert.Len(t, pending, 1, "a repeated rename is not split")
}

func TestReconcilerFunc(t *testing.T) {
	var got int
	ReconcilerFunc(func(_ context.Context, b map[string]Change) { got = len(b) }).
		Reconcile(context.Background(), map[string]Change{"/x": {}})
	assert.Equal(t, 1, got)
}
