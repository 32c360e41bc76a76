package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modcache/pkg/modcache/index"
)

func TestIndexReconciler(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mods")
	cache := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "ModA"), 0o755))
	require.NoError(t, os.MkdirAll(cache, 0o755))
	idx := index.New(filepath.Join(dir, "index.txt"), index.StaticRoots{Source: source, Cache: cache})

	write := func(name, content string) string {
		p := filepath.Join(source, "ModA", name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	gone := write("gone.mdl", "gone")
	oldName := write("old.mdl", "moved")
	for _, p := range []string{gone, oldName} {
		_, err := idx.Ingest(p, index.RootSource)
		require.NoError(t, err)
	}

	require.NoError(t, os.Remove(gone))
	newName := filepath.Join(source, "ModA", "new.mdl")
	require.NoError(t, os.Rename(oldName, newName))
	created := write("created.mdl", "created")

	var got Result
	r := &IndexReconciler{Tree: "source", Index: idx, OnResult: func(res Result) { got = res }}
	r.Reconcile(context.Background(), map[string]Change{
		gone:    {Kind: Removed, Path: gone},
		newName: {Kind: Renamed, Path: newName, OldPath: oldName},
		created: {Kind: Created, Path: created},
		filepath.Join(source, "ModA", "vanished.mdl"): {Kind: Changed, Path: filepath.Join(source, "ModA", "vanished.mdl")},
	})

	assert.Equal(t, Result{Tree: "source", Changes: 4, Forgotten: 2, Resolved: 2, Unresolved: 1}, got)
	assert.Equal(t, 2, idx.Len())
	_, ok := idx.Get(`{source}\ModA\new.mdl`)
	assert.True(t, ok)

	reloaded := index.New(idx.Path(), idx.Roots())
	_, err := reloaded.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, idx.Entities(), reloaded.Entities())
}

func TestRenameThenRemoveForgetsBothPaths(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mods")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "ModA"), 0o755))
	idx := index.New(filepath.Join(dir, "index.txt"), index.StaticRoots{Source: source, Cache: filepath.Join(dir, "cache")})

	oldPath := filepath.Join(source, "ModA", "old.mdl")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	_, err := idx.Ingest(oldPath, index.RootSource)
	require.NoError(t, err)
	require.NoError(t, os.Remove(oldPath))

	results := make(chan Result, 1)
	rec := &IndexReconciler{Tree: "source", Index: idx, OnResult: func(res Result) { results <- res }}
	d := runDebouncer(t, 20*time.Millisecond, nil, rec)

	newPath := filepath.Join(source, "ModA", "new.mdl")
	d.In() <- Change{Kind: Renamed, Path: newPath, OldPath: oldPath}
	d.In() <- Change{Kind: Removed, Path: newPath}

	select {
	case res := <-results:
		assert.Equal(t, 1, res.Forgotten)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch reconciled")
	}
	assert.Zero(t, idx.Len())
}
