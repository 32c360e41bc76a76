package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, opts Options) (*Watcher, <-chan Change) {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Watch())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := make(chan Change, 64)
	go w.Run(ctx, out)
	return w, out
}

// waitFor reads changes until one satisfies ok or the timeout elapses.
func waitFor(t *testing.T, ch <-chan Change, ok func(Change) bool) Change {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-ch:
			if ok(c) {
				return c
			}
		case <-deadline:
			t.Fatal("timed out waiting for change")
			return Change{}
		}
	}
}

func is(kind Kind, path string) func(Change) bool {
	return func(c Change) bool { return c.Kind == kind && c.Path == path }
}

func onlyMdl(path string) bool {
	return strings.HasSuffix(path, ".mdl")
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestNewSizesBuffers(t *testing.T) {
	w, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.Equal(t, DefaultEvents, w.opts.Events)
	assert.Equal(t, DefaultReadBuffer, w.opts.ReadBuffer)
	assert.GreaterOrEqual(t, w.opts.ReadBuffer, 1<<20, "read buffer is several MB")

	sized, err := New(Options{Root: t.TempDir(), Events: 64, ReadBuffer: 8 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sized.Close() })
	assert.Equal(t, 64, sized.opts.Events)
	assert.Equal(t, 8<<20, sized.opts.ReadBuffer)
	require.NoError(t, sized.Watch())
}

func TestWatchTracksSubdirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))

	w, _ := startWatcher(t, Options{Root: root, Recursive: true})
	assert.Equal(t, 3, w.Watched())

	flat, _ := startWatcher(t, Options{Root: root})
	assert.Equal(t, 1, flat.Watched())
}

func TestReportsCreateWriteRemove(t *testing.T) {
	root := t.TempDir()
	_, out := startWatcher(t, Options{Root: root, Recursive: true, Match: onlyMdl})

	path := filepath.Join(root, "a.mdl")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	waitFor(t, out, is(Created, path))

	require.NoError(t, os.WriteFile(path, []byte("xy"), 0o644))
	waitFor(t, out, is(Changed, path))

	require.NoError(t, os.Remove(path))
	waitFor(t, out, is(Removed, path))
}

func TestIgnoresUnmatchedFiles(t *testing.T) {
	root := t.TempDir()
	_, out := startWatcher(t, Options{Root: root, Recursive: true, Match: onlyMdl})

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	marker := filepath.Join(root, "marker.mdl")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	c := waitFor(t, out, func(Change) bool { return true })
	assert.Equal(t, marker, c.Path, "the .txt file must not be reported")
}

func TestNewDirectoryIsWatchedAndEnumerated(t *testing.T) {
	root := t.TempDir()
	w, out := startWatcher(t, Options{Root: root, Recursive: true, Match: onlyMdl})

	dir := filepath.Join(root, "ModA", "chara")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	first := filepath.Join(dir, "first.mdl")
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))
	waitFor(t, out, is(Created, first))

	require.Eventually(t, func() bool { return w.Watched() == 3 }, 5*time.Second, 10*time.Millisecond)

	later := filepath.Join(dir, "later.mdl")
	require.NoError(t, os.WriteFile(later, []byte("y"), 0o644))
	waitFor(t, out, is(Created, later))
}

func TestRenameIsPaired(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.mdl")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	_, out := startWatcher(t, Options{Root: root, Recursive: true, Match: onlyMdl})

	newPath := filepath.Join(root, "new.mdl")
	require.NoError(t, os.Rename(oldPath, newPath))

	c := waitFor(t, out, func(c Change) bool { return c.Kind == Renamed || c.Kind == Removed })
	assert.Equal(t, Renamed, c.Kind)
	assert.Equal(t, newPath, c.Path)
	assert.Equal(t, oldPath, c.OldPath)
}

func TestRenameOutOfTreeIsRemoval(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	oldPath := filepath.Join(root, "old.mdl")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	_, out := startWatcher(t, Options{Root: root, Recursive: true, Match: onlyMdl})

	require.NoError(t, os.Rename(oldPath, filepath.Join(outside, "old.mdl")))
	waitFor(t, out, is(Removed, oldPath))
}

func TestRemovedDirectoryIsReported(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "ModA")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	w, out := startWatcher(t, Options{Root: root, Recursive: true, Match: onlyMdl})

	require.NoError(t, os.RemoveAll(dir))
	waitFor(t, out, is(Removed, dir))
	assert.Equal(t, 1, w.Watched())
}

func TestOpsFilter(t *testing.T) {
	root := t.TempDir()
	_, out := startWatcher(t, Options{Root: root, Ops: fsnotify.Create | fsnotify.Remove})

	path := filepath.Join(root, "a.tex")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	waitFor(t, out, is(Created, path))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("more")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, os.Remove(path))

	c := waitFor(t, out, func(Change) bool { return true })
	assert.Equal(t, Removed, c.Kind, "writes are not reported when not selected")
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestIsSubPath(t *testing.T) {
	sep := string(filepath.Separator)
	assert.True(t, isSubPath("a"+sep+"b", "a"))
	assert.False(t, isSubPath("ab", "a"))
	assert.False(t, isSubPath("a", "a"))
}
