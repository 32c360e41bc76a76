package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
source_root: /games/mods
cache_root: /var/cache/modcache
max_cache_size: 2GiB
workers: 4
watch:
  source_quiet: 3s
eviction:
  interval: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/games/mods", cfg.SourceRoot)
	assert.Equal(t, "/var/cache/modcache", cfg.CacheRoot())
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3*time.Second, cfg.Watch.SourceQuiet)
	assert.Equal(t, DefaultCacheQuiet, cfg.Watch.CacheQuiet)
	assert.Equal(t, time.Minute, cfg.Eviction.Interval)
	assert.Equal(t, path, cfg.File)

	size, err := cfg.MaxCacheSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, 2*types.GiB, size)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "cache_root: /tmp/c\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxCacheSize, cfg.MaxCacheSize)
	assert.Equal(t, DefaultSubdirPause, cfg.Scan.SubdirPause)
	assert.Equal(t, DefaultWatchBuffer, cfg.Watch.Buffer)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsBadQuota(t *testing.T) {
	_, err := Load(writeConfig(t, "max_cache_size: plenty\n"))
	assert.ErrorIs(t, err, types.ErrInvalidSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MODCACHE_CACHE_ROOT", "/from/env")
	cfg, err := Load(writeConfig(t, "cache_root: /from/file\n"))
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.CacheRoot())
}

func TestLoggingOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n  rotation:\n    max_size: 1MiB\n"))
	require.NoError(t, err)

	opts, err := cfg.LoggingOptions()
	require.NoError(t, err)
	assert.Equal(t, "debug", opts.Level)
	assert.Equal(t, types.MiB, opts.Rotation.MaxSize)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/mods")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "mods"), got)

	got, err = ExpandPath("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", got)
}
