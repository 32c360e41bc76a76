package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoots(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "mods")
	require.NoError(t, os.Mkdir(source, 0o755))

	r := NewRoots(source+string(filepath.Separator), dir)
	assert.Equal(t, source, r.SourceRoot())
	assert.Equal(t, dir, r.CacheRoot())
	assert.True(t, r.SourceAvailable())
	assert.True(t, r.CacheAvailable())

	assert.False(t, r.SetSource(source), "same root is not a change")
	assert.True(t, r.SetSource(filepath.Join(dir, "missing")))
	assert.False(t, r.SourceAvailable())

	empty := NewRoots("", "")
	assert.Empty(t, empty.SourceRoot())
	assert.False(t, empty.SourceAvailable())
	assert.False(t, empty.CacheAvailable())
}
